//go:build !llama

package engine

// No-CGO stand-in for the llama backend, compiled when the 'llama' build tag is
// NOT set. It still resolves the checkpoint so configuration errors surface
// first, then refuses to load.

import (
	"context"

	"botconvo/internal/registry"
	"botconvo/pkg/types"
)

const llamaMissing = "llama support not built (missing 'llama' build tag)"

// LlamaBuilt reports whether this binary carries the in-process llama runtime.
func LlamaBuilt() bool { return false }

type llamaEngine struct{}

func NewLlama(opts Options) Engine { return &llamaEngine{} }

func (e *llamaEngine) Load(ctx context.Context, ref types.CheckpointRef) (Session, error) {
	if _, err := registry.ResolveWeights(ref); err != nil {
		return nil, err
	}
	return nil, ErrDependencyUnavailable(llamaMissing)
}

func (e *llamaEngine) Reset(s Session) error { return ErrDependencyUnavailable(llamaMissing) }

func (e *llamaEngine) Generate(ctx context.Context, s Session, r Request) ([]string, error) {
	return nil, ErrDependencyUnavailable(llamaMissing)
}
