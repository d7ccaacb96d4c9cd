// Package engine defines the generation backend seen by the session manager and
// the request server, plus the concrete backends: an in-process llama.cpp
// runtime (built with -tags=llama), an OpenAI-compatible completion server, and
// a llama-server subprocess started per session and stopped on release.
//
// Backends are not assumed safe for concurrent Generate calls on one session;
// callers serialize access.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"botconvo/pkg/types"
)

// Backend kinds accepted by New.
const (
	KindLlama  = "llama"
	KindOpenAI = "openai"
	KindSpawn  = "spawn"
)

// Engine loads, releases and runs model sessions.
type Engine interface {
	// Load synchronously loads the weights identified by ref.
	Load(ctx context.Context, ref types.CheckpointRef) (Session, error)
	// Reset releases every resource held by s. s must not be used afterwards.
	Reset(s Session) error
	// Generate returns req.BatchSize texts in generation order.
	Generate(ctx context.Context, s Session, req Request) ([]string, error)
}

// Session is an opaque loaded model instance.
type Session interface {
	ID() string
	Ref() types.CheckpointRef
	LoadedAt() time.Time
}

// Request is one batched generation call.
type Request struct {
	Params types.GenerationParams
	// Number of candidates to produce.
	BatchSize int
	// Each candidate is cut at the first occurrence of this marker.
	Truncate string
}

// Handle carries the identity every backend session shares. Backends embed it.
type Handle struct {
	runID    string
	ref      types.CheckpointRef
	loadedAt time.Time
}

// NewHandle stamps a fresh run id for a session loaded from ref.
func NewHandle(ref types.CheckpointRef) Handle {
	return Handle{runID: uuid.NewString(), ref: ref, loadedAt: time.Now()}
}

func (h Handle) ID() string               { return h.runID }
func (h Handle) Ref() types.CheckpointRef { return h.ref }
func (h Handle) LoadedAt() time.Time      { return h.loadedAt }

// Options selects and configures a backend.
type Options struct {
	Kind string
	// OpenAI-compatible backend
	URL     string
	APIKey  string
	Timeout time.Duration
	// llama.cpp backend; the context size and threads also apply to spawned servers
	LlamaCtx     int
	LlamaThreads int
	// spawned llama-server backend
	ServerBin    string
	ServerHost   string
	ServerArgs   []string
	ReadyTimeout time.Duration

	Logger zerolog.Logger
}

// New constructs the backend named by opts.Kind. An empty kind selects llama.
func New(opts Options) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", KindLlama:
		return NewLlama(opts), nil
	case KindOpenAI:
		if strings.TrimSpace(opts.URL) == "" {
			return nil, fmt.Errorf("engine %s: url is required", KindOpenAI)
		}
		return NewOpenAI(opts), nil
	case KindSpawn:
		if strings.TrimSpace(opts.ServerBin) == "" {
			return nil, fmt.Errorf("engine %s: server binary is required", KindSpawn)
		}
		return NewSpawn(opts), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", opts.Kind)
	}
}

// Truncate cuts text at the first occurrence of marker. An empty marker keeps text whole.
func Truncate(text, marker string) string {
	if marker == "" {
		return text
	}
	if i := strings.Index(text, marker); i >= 0 {
		return text[:i]
	}
	return text
}
