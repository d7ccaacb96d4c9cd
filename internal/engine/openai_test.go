package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"botconvo/pkg/types"
)

// fakeCompletions is a minimal OpenAI-compatible server that, like
// llama-server, serves one choice per call and rejects n>1.
type fakeCompletions struct {
	mu      sync.Mutex
	last    completionRequest
	auth    string
	replies []string
	calls   int
	empty   bool
	status  int
}

func (f *fakeCompletions) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"run1","object":"model"}]}`))
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&f.last); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if f.last.N > 1 {
			http.Error(w, `{"error":{"code":400,"message":"Only one completion choice is allowed"}}`, http.StatusBadRequest)
			return
		}
		var out completionResponse
		if !f.empty && len(f.replies) > 0 {
			out.Choices = []completionChoice{{Index: 0, Text: f.replies[f.calls%len(f.replies)]}}
		}
		f.calls++
		_ = json.NewEncoder(w).Encode(out)
	})
	return mux
}

var testRef = types.CheckpointRef{CheckpointDir: "/ck", ModelDir: "/m", RunName: "run1"}

func TestOpenAI_LoadGenerateReset(t *testing.T) {
	fake := &fakeCompletions{replies: []string{"first", "second<|endoftext|>tail"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	e := NewOpenAI(Options{URL: srv.URL + "/", APIKey: "k"})
	s, err := e.Load(context.Background(), testRef)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Ref() != testRef || s.ID() == "" {
		t.Fatalf("unexpected session: id=%q ref=%+v", s.ID(), s.Ref())
	}
	req := Request{
		Params:    types.GenerationParams{LengthTokens: 42, Temperature: 0.65, PromptPrefix: "<|startoftext|>hi"},
		BatchSize: 2,
		Truncate:  "<|endoftext|>",
	}
	texts, err := e.Generate(context.Background(), s, req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := []string{"<|startoftext|>hifirst", "<|startoftext|>hisecond"}
	if len(texts) != 2 || texts[0] != want[0] || texts[1] != want[1] {
		t.Fatalf("texts=%q want %q", texts, want)
	}
	fake.mu.Lock()
	got := fake.last
	auth := fake.auth
	calls := fake.calls
	fake.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected one call per sample, got %d", calls)
	}
	if got.Model != "run1" || got.MaxTokens != 42 || got.N != 1 || got.Temperature != 0.65 || got.Prompt != "<|startoftext|>hi" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.Stop) != 1 || got.Stop[0] != "<|endoftext|>" {
		t.Fatalf("unexpected stop: %v", got.Stop)
	}
	if auth != "Bearer k" {
		t.Fatalf("authorization=%q", auth)
	}

	if err := e.Reset(s); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := e.Generate(context.Background(), s, req); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased after reset, got %v", err)
	}
}

func TestOpenAI_LoadFailures(t *testing.T) {
	fake := &fakeCompletions{status: http.StatusInternalServerError}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	if _, err := NewOpenAI(Options{URL: srv.URL}).Load(context.Background(), testRef); err == nil {
		t.Fatalf("expected health failure")
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	_, err := NewOpenAI(Options{URL: url}).Load(context.Background(), testRef)
	if !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable for unreachable server, got %v", err)
	}
}

func TestOpenAI_GenerateHTTPError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	e := NewOpenAI(Options{URL: srv.URL})
	s, err := e.Load(context.Background(), testRef)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := e.Generate(context.Background(), s, Request{BatchSize: 5}); err == nil {
		t.Fatalf("expected http error")
	}
}

type otherSession struct{ Handle }

func TestOpenAI_ForeignSession(t *testing.T) {
	e := NewOpenAI(Options{URL: "http://127.0.0.1:1"})
	s := otherSession{NewHandle(testRef)}
	if err := e.Reset(s); err == nil {
		t.Fatalf("expected error for foreign session")
	}
	if _, err := e.Generate(context.Background(), s, Request{}); err == nil {
		t.Fatalf("expected error for foreign session")
	}
}

func TestOpenAI_GenerateOneChoicePerCall(t *testing.T) {
	fake := &fakeCompletions{replies: []string{" a", " bb", " ccc", " dddd", " e"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	e := NewOpenAI(Options{URL: srv.URL})
	s, err := e.Load(context.Background(), testRef)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	texts, err := e.Generate(context.Background(), s, Request{
		Params:    types.GenerationParams{LengthTokens: 30, Temperature: 0.7, PromptPrefix: "<|startoftext|>"},
		BatchSize: 5,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := []string{"<|startoftext|> a", "<|startoftext|> bb", "<|startoftext|> ccc", "<|startoftext|> dddd", "<|startoftext|> e"}
	if len(texts) != len(want) {
		t.Fatalf("texts=%q", texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("texts[%d]=%q want %q", i, texts[i], want[i])
		}
	}
}

func TestOpenAI_GenerateNoChoices(t *testing.T) {
	fake := &fakeCompletions{empty: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	e := NewOpenAI(Options{URL: srv.URL})
	s, err := e.Load(context.Background(), testRef)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := e.Generate(context.Background(), s, Request{BatchSize: 5}); err == nil {
		t.Fatalf("expected error when the server returns no choices")
	}
}
