package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"botconvo/internal/engine"
	"botconvo/pkg/types"
)

var testRef = types.CheckpointRef{CheckpointDir: "/ck", ModelDir: "/models", RunName: "run1"}

type fakeSession struct{ engine.Handle }

// fakeEngine records lifecycle calls and enforces the one-live-session rule.
type fakeEngine struct {
	mu        sync.Mutex
	loads     int
	resets    int
	live      int
	maxLive   int
	failLoad  func(n int) error // n is the 1-based load number
	resetErr  error
	respectCx bool
	released  map[string]bool
}

func (f *fakeEngine) Load(ctx context.Context, ref types.CheckpointRef) (engine.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.respectCx {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if f.failLoad != nil {
		if err := f.failLoad(f.loads); err != nil {
			return nil, err
		}
	}
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return &fakeSession{engine.NewHandle(ref)}, nil
}

func (f *fakeEngine) Reset(s engine.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return f.resetErr
	}
	if f.released == nil {
		f.released = map[string]bool{}
	}
	if f.released[s.ID()] {
		return errors.New("double release")
	}
	f.released[s.ID()] = true
	f.resets++
	f.live--
	return nil
}

func (f *fakeEngine) Generate(ctx context.Context, s engine.Session, r engine.Request) ([]string, error) {
	return nil, errors.New("not used")
}

func (f *fakeEngine) counts() (loads, resets, maxLive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.resets, f.maxLive
}

func newStarted(t *testing.T, f *fakeEngine, threshold int) *Manager {
	t.Helper()
	m := NewWithConfig(ManagerConfig{Engine: f, Checkpoint: testRef, RecycleThreshold: threshold})
	if err := m.Start(testCtx(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	return m
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
