// Package session tracks where each credential holder is in the listing
// workflow, so the server can reject steps taken out of order.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when no state exists for a key.
var ErrNotFound = errors.New("workflow state not found")

// State is the workflow position of one credential holder.
type State struct {
	Key         string    `json:"key"`
	Step        Step      `json:"step"`
	Marketplace string    `json:"marketplace,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists workflow states.
type Store interface {
	// Get retrieves the state for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*State, error)

	// Put creates or replaces a state.
	Put(ctx context.Context, state *State) error

	// Delete removes the state for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}
