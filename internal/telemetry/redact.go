package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const redacted = "[redacted]"

// Redactor is a slog handler that masks registered values (passwords,
// storage keys, bearer tokens) wherever they appear in a record.
type Redactor struct {
	inner slog.Handler
	set   *secretSet
}

type secretSet struct {
	mu     sync.RWMutex
	values map[string]struct{}
}

func (s *secretSet) list() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.values))
	for v := range s.values {
		out = append(out, v)
	}
	return out
}

// NewRedactor wraps inner.
func NewRedactor(inner slog.Handler) *Redactor {
	return &Redactor{inner: inner, set: &secretSet{values: make(map[string]struct{})}}
}

// Add registers values to mask. Empty values are ignored. Loggers derived
// with With share the registered values.
func (r *Redactor) Add(values ...string) {
	r.set.mu.Lock()
	defer r.set.mu.Unlock()
	for _, v := range values {
		if v != "" {
			r.set.values[v] = struct{}{}
		}
	}
}

func (r *Redactor) Enabled(ctx context.Context, level slog.Level) bool {
	return r.inner.Enabled(ctx, level)
}

func (r *Redactor) Handle(ctx context.Context, record slog.Record) error {
	secrets := r.set.list()
	if len(secrets) == 0 {
		return r.inner.Handle(ctx, record)
	}

	out := slog.NewRecord(record.Time, record.Level, scrub(record.Message, secrets), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(scrubAttr(a, secrets))
		return true
	})
	return r.inner.Handle(ctx, out)
}

func (r *Redactor) WithAttrs(attrs []slog.Attr) slog.Handler {
	secrets := r.set.list()
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = scrubAttr(a, secrets)
	}
	return &Redactor{inner: r.inner.WithAttrs(scrubbed), set: r.set}
}

func (r *Redactor) WithGroup(name string) slog.Handler {
	return &Redactor{inner: r.inner.WithGroup(name), set: r.set}
}

func scrub(s string, secrets []string) string {
	for _, secret := range secrets {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

func scrubAttr(a slog.Attr, secrets []string) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, scrub(v.String(), secrets))
	case slog.KindGroup:
		group := v.Group()
		out := make([]any, len(group))
		for i, g := range group {
			out[i] = scrubAttr(g, secrets)
		}
		return slog.Group(a.Key, out...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, scrub(err.Error(), secrets))
		}
	}
	return a
}
