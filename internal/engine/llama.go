//go:build llama

package engine

import (
	"context"
	"errors"
	"runtime"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	"botconvo/internal/registry"
	"botconvo/pkg/types"
)

const defaultLlamaCtx = 1024

// LlamaBuilt reports whether this binary carries the in-process llama runtime.
func LlamaBuilt() bool { return true }

// llamaEngine runs go-llama.cpp in-process.
type llamaEngine struct {
	ctxSize int
	threads int
	log     zerolog.Logger
}

func NewLlama(opts Options) Engine {
	return &llamaEngine{
		ctxSize: zn(opts.LlamaCtx, defaultLlamaCtx),
		threads: zn(opts.LlamaThreads, runtime.NumCPU()),
		log:     opts.Logger.With().Str("engine", KindLlama).Logger(),
	}
}

// llamaSession owns the loaded model.
type llamaSession struct {
	Handle
	weights string
	model   *llama.LLama
}

func (e *llamaEngine) Load(ctx context.Context, ref types.CheckpointRef) (Session, error) {
	weights, err := registry.ResolveWeights(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := llama.New(weights, llama.SetContext(e.ctxSize))
	if err != nil {
		return nil, err
	}
	s := &llamaSession{Handle: NewHandle(ref), weights: weights, model: m}
	e.log.Debug().Str("run_id", s.ID()).Str("weights", weights).Msg("model loaded")
	return s, nil
}

func (e *llamaEngine) Reset(s Session) error {
	ls, ok := s.(*llamaSession)
	if !ok {
		return foreignSession(s)
	}
	if ls.model != nil {
		ls.model.Free()
		ls.model = nil
	}
	return nil
}

// Generate samples BatchSize completions one after another; go-llama.cpp has no
// batched sampling entry point.
func (e *llamaEngine) Generate(ctx context.Context, s Session, r Request) ([]string, error) {
	ls, ok := s.(*llamaSession)
	if !ok {
		return nil, foreignSession(s)
	}
	if ls.model == nil {
		return nil, ErrReleased
	}
	if r.BatchSize <= 0 {
		return nil, errors.New("batch size must be positive")
	}
	opts := []llama.PredictOption{
		llama.SetTokens(max(1, r.Params.LengthTokens)),
		llama.SetThreads(e.threads),
		llama.SetTemperature(float32(r.Params.Temperature)),
		llama.SetSeed(-1),
	}
	if r.Truncate != "" {
		opts = append(opts, llama.SetStopWords(r.Truncate))
	}
	texts := make([]string, 0, r.BatchSize)
	for i := 0; i < r.BatchSize; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := ls.model.Predict(r.Params.PromptPrefix, opts...)
		if err != nil {
			return nil, err
		}
		texts = append(texts, Truncate(r.Params.PromptPrefix+out, r.Truncate))
	}
	return texts, nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
