package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"botconvo/internal/engine"
	"botconvo/internal/httpapi"
	"botconvo/internal/manager"
	"botconvo/internal/sampler"
	"botconvo/internal/server"
	"botconvo/pkg/types"
)

var testRef = types.CheckpointRef{CheckpointDir: "/srv/checkpoint", ModelDir: "/srv/models", RunName: "run1"}

type fakeSession struct{ engine.Handle }

// fakeEngine returns prefix + "#<i>" + i bangs for candidate i, so the last
// candidate is always the longest.
type fakeEngine struct {
	mu       sync.Mutex
	loads    int
	resets   int
	failLoad func(n int) error
	prefixes []string
}

func (f *fakeEngine) Load(ctx context.Context, ref types.CheckpointRef) (engine.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.failLoad != nil {
		if err := f.failLoad(f.loads); err != nil {
			return nil, err
		}
	}
	return &fakeSession{engine.NewHandle(ref)}, nil
}

func (f *fakeEngine) Reset(s engine.Session) error {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Generate(ctx context.Context, s engine.Session, r engine.Request) ([]string, error) {
	f.mu.Lock()
	f.prefixes = append(f.prefixes, r.Params.PromptPrefix)
	f.mu.Unlock()
	out := make([]string, r.BatchSize)
	for i := range out {
		out[i] = r.Params.PromptPrefix + "#" + strconv.Itoa(i) + strings.Repeat("!", i)
	}
	return out, nil
}

func (f *fakeEngine) counts() (loads, resets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.resets
}

type stack struct {
	gen    *httptest.Server
	admin  *httptest.Server
	mgr    *manager.Manager
	events *manager.MemoryPublisher
	fatal  chan error
}

// newStack wires manager, request server and both HTTP listeners around eng.
func newStack(t *testing.T, eng engine.Engine, threshold int) *stack {
	t.Helper()
	events := manager.NewMemoryPublisher()
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Engine:           eng,
		Checkpoint:       testRef,
		RecycleThreshold: threshold,
		Publisher:        events,
	})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	fatal := make(chan error, 1)
	svc := server.New(server.Config{
		Sessions: mgr,
		Engine:   eng,
		Random:   sampler.NewSource(1),
		OnFatal:  func(err error) { fatal <- err },
	})
	gen := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(gen.Close)
	admin := httptest.NewServer(httpapi.NewAdminMux(svc))
	t.Cleanup(admin.Close)
	return &stack{gen: gen, admin: admin, mgr: mgr, events: events, fatal: fatal}
}

func ask(t *testing.T, base, prompt string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, base+"/", nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if prompt != "" {
		req.Header.Set("prompt", prompt)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func status(t *testing.T, base string) types.StatusResponse {
	t.Helper()
	resp, err := http.Get(base + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var st types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("status json: %v", err)
	}
	return st
}
