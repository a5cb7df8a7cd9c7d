package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func stateOf(t *testing.T, tr *Tracker, token string) *State {
	t.Helper()
	st, err := tr.current(context.Background(), keyFor(token))
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return st
}

func TestTrackerHappyPath(t *testing.T) {
	tr := NewTracker(NewMemoryStore(0))
	ctx := context.Background()
	noop := func() error { return nil }

	for _, a := range []Action{ActionRecognize, ActionAspects, ActionPublish} {
		if err := tr.Do(ctx, "tok", "ebay", a, noop); err != nil {
			t.Fatalf("%s: unexpected error: %v", a, err)
		}
	}

	st := stateOf(t, tr, "tok")
	if st.Step != StepPublished {
		t.Errorf("step = %q, want %q", st.Step, StepPublished)
	}
	if st.Marketplace != "ebay" {
		t.Errorf("marketplace = %q, want ebay", st.Marketplace)
	}
}

func TestTrackerRejectsPublishBeforeRecognize(t *testing.T) {
	tr := NewTracker(NewMemoryStore(0))
	called := false

	err := tr.Do(context.Background(), "tok", "ebay", ActionPublish, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	if called {
		t.Error("fn ran for an illegal transition")
	}
}

func TestTrackerFailedActionDoesNotAdvance(t *testing.T) {
	tr := NewTracker(NewMemoryStore(0))
	ctx := context.Background()
	boom := errors.New("disk full")

	if err := tr.Do(ctx, "tok", "ebay", ActionRecognize, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	st := stateOf(t, tr, "tok")
	if st.Step != StepStart {
		t.Errorf("step = %q, want %q", st.Step, StepStart)
	}
}

func TestTrackerMarketplaceMismatch(t *testing.T) {
	tr := NewTracker(NewMemoryStore(0))
	ctx := context.Background()
	noop := func() error { return nil }

	if err := tr.Do(ctx, "tok", "ebay", ActionRecognize, noop); err != nil {
		t.Fatalf("recognize: %v", err)
	}
	err := tr.Do(ctx, "tok", "amazon", ActionAspects, noop)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	if !strings.Contains(err.Error(), "amazon") {
		t.Errorf("error %q does not name the marketplace", err)
	}
}

func TestTrackerHoldersAreIndependent(t *testing.T) {
	tr := NewTracker(NewMemoryStore(0))
	ctx := context.Background()
	noop := func() error { return nil }

	if err := tr.Do(ctx, "alice", "ebay", ActionRecognize, noop); err != nil {
		t.Fatalf("alice recognize: %v", err)
	}
	if err := tr.Do(ctx, "bob", "ebay", ActionAspects, noop); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("bob aspects err = %v, want ErrIllegalTransition", err)
	}
}

func TestTrackerForgottenHolderStartsOver(t *testing.T) {
	tr := NewTracker(NewMemoryStore(0))
	ctx := context.Background()
	noop := func() error { return nil }

	_ = tr.Do(ctx, "tok", "ebay", ActionRecognize, noop)
	if err := tr.store.Delete(ctx, keyFor("tok")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	st := stateOf(t, tr, "tok")
	if st.Step != StepStart {
		t.Errorf("step = %q, want %q", st.Step, StepStart)
	}
}

func TestKeyForHidesToken(t *testing.T) {
	k := keyFor("mock-jwt-token-123")
	if strings.Contains(k, "mock-jwt") {
		t.Errorf("key %q leaks the token", k)
	}
	if k != keyFor("mock-jwt-token-123") {
		t.Error("key is not deterministic")
	}
	if !strings.HasPrefix(k, "flow_") {
		t.Errorf("key %q lacks prefix", k)
	}
}

func TestTrackerLocksAreBounded(t *testing.T) {
	tr := NewTracker(NewMemoryStore(0))
	ctx := context.Background()
	noop := func() error { return nil }

	for i := 0; i < 500; i++ {
		token := fmt.Sprintf("token-%d", i)
		if err := tr.Do(ctx, token, "ebay", ActionRecognize, noop); err != nil {
			t.Fatalf("%s: %v", token, err)
		}
	}
	if len(tr.locks) != lockStripes {
		t.Errorf("locks = %d, want %d", len(tr.locks), lockStripes)
	}
	if tr.lockFor(keyFor("token-1")) != tr.lockFor(keyFor("token-1")) {
		t.Error("same holder mapped to different locks")
	}
}

func TestTrackerSerializesOneHolder(t *testing.T) {
	tr := NewTracker(NewMemoryStore(0))
	ctx := context.Background()

	var mu sync.Mutex
	running, maxRunning := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Do(ctx, "tok", "ebay", ActionRecognize, func() error {
				mu.Lock()
				running++
				maxRunning = max(maxRunning, running)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxRunning != 1 {
		t.Errorf("max concurrent steps for one holder = %d, want 1", maxRunning)
	}
}
