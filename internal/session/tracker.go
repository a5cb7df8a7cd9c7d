package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// lockStripes bounds the mutexes a tracker holds, however many distinct
// credentials it sees.
const lockStripes = 64

// Tracker enforces step ordering per credential on top of a Store.
type Tracker struct {
	store Store
	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

// NewTracker creates a tracker backed by store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Do checks that action is legal for the holder of token, runs fn, and
// records the new step only if fn succeeds. Requests from the same holder
// are serialized.
func (t *Tracker) Do(ctx context.Context, token, marketplace string, action Action, fn func() error) error {
	key := keyFor(token)
	mu := t.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	current, err := t.current(ctx, key)
	if err != nil {
		return err
	}

	next, err := Next(current.Step, action)
	if err != nil {
		return err
	}
	if action != ActionRecognize && current.Marketplace != marketplace {
		return fmt.Errorf("%w: flow started on marketplace %q, not %q",
			ErrIllegalTransition, current.Marketplace, marketplace)
	}

	if err := fn(); err != nil {
		return err
	}

	return t.store.Put(ctx, &State{
		Key:         key,
		Step:        next,
		Marketplace: marketplace,
		UpdatedAt:   t.now(),
	})
}

// lockFor returns the mutex serializing requests for key. Holders that
// share a stripe also wait on each other.
func (t *Tracker) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &t.locks[h.Sum32()%lockStripes]
}

func (t *Tracker) current(ctx context.Context, key string) (*State, error) {
	st, err := t.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return &State{Key: key, Step: StepStart}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow state: %w", err)
	}
	return st, nil
}
