// Package artifact persists uploaded files for the lifetime of the process.
//
// Files are write-once: every Put lands under a fresh, collision-resistant
// key and is never read back or removed on its own. The whole store is reaped
// in one go by Teardown when the process shuts down.
package artifact

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"
)

var (
	// ErrClosed is returned by Put after Teardown has run.
	ErrClosed = errors.New("artifact store is torn down")

	// ErrTooLarge is returned when an upload exceeds the configured size limit.
	ErrTooLarge = errors.New("upload exceeds size limit")
)

// Stored describes one persisted upload.
type Stored struct {
	Key          string `json:"key"`
	Location     string `json:"location"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
}

// Store persists upload streams until Teardown.
type Store interface {
	// Put writes r under a newly generated key derived from originalName.
	Put(ctx context.Context, r io.Reader, originalName string) (Stored, error)

	// Count returns the number of uploads persisted so far.
	Count() int64

	// Backend names the storage kind ("local", "s3").
	Backend() string

	// Teardown removes everything the store has written. It is safe to call
	// more than once and does not fail when the data is already gone.
	Teardown(ctx context.Context) error
}

// Option configures a store.
type Option func(*options)

type options struct {
	maxBytes int64
	now      func() time.Time
}

// WithMaxBytes caps the size of a single upload. Zero means unlimited.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithClock overrides the time source used for key generation.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewKey builds a storage key of the form <epoch-millis>-<random-base36><ext>,
// keeping the extension of originalName.
func NewKey(now time.Time, originalName string) string {
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), randomBase36(), filepath.Ext(filepath.Base(originalName)))
}

func randomBase36() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return strconv.FormatUint(binary.BigEndian.Uint64(b[:]), 36)
}

// limitedCopy copies r into w, failing with ErrTooLarge once more than max
// bytes have been seen. A zero max copies everything.
func limitedCopy(w io.Writer, r io.Reader, max int64) (int64, error) {
	if max <= 0 {
		return io.Copy(w, r)
	}
	n, err := io.Copy(w, io.LimitReader(r, max+1))
	if err != nil {
		return n, err
	}
	if n > max {
		return n, ErrTooLarge
	}
	return n, nil
}
