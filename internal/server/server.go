// Package server orchestrates one generation request end to end: session
// bookkeeping, parameter sampling, batched generation and candidate selection.
package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"botconvo/internal/engine"
	"botconvo/internal/manager"
	"botconvo/internal/sampler"
	"botconvo/internal/selector"
	"botconvo/pkg/types"
)

// DefaultCandidates is the batch size when Config.Candidates is unset.
const DefaultCandidates = 5

// Request is the transport-independent form of an inbound request.
type Request struct {
	// Prompt seeds generation; empty means no prompt.
	Prompt string
}

// Sessions is the part of the session manager the server drives.
type Sessions interface {
	OnRequestStart(ctx context.Context) (engine.Session, error)
	Ready() bool
	Status() types.StatusResponse
}

// Config wires a Server.
type Config struct {
	Sessions   Sessions
	Engine     engine.Engine
	Random     sampler.RandomSource
	Candidates int
	// OnFatal is called once, with the SessionLoadError, when the session
	// cannot be rebuilt. The server refuses every request afterwards.
	OnFatal func(error)
}

// Server handles generation requests strictly one at a time: the engine is not
// safe for concurrent generation on one session and only one session exists.
type Server struct {
	sessions Sessions
	engine   engine.Engine
	rng      sampler.RandomSource
	k        int
	slot     *semaphore.Weighted
	onFatal  func(error)
	fatalOne sync.Once
}

func New(cfg Config) *Server {
	s := &Server{
		sessions: cfg.Sessions,
		engine:   cfg.Engine,
		rng:      cfg.Random,
		k:        cfg.Candidates,
		slot:     semaphore.NewWeighted(1),
		onFatal:  cfg.OnFatal,
	}
	if s.k <= 0 {
		s.k = DefaultCandidates
	}
	if s.rng == nil {
		s.rng = sampler.NewSource(0)
	}
	return s
}

// Handle serves one request and returns the selected text. Requests arriving
// while another one (or a recycle) is in progress wait their turn; a request
// whose context ends while waiting returns the context error untouched.
func (s *Server) Handle(ctx context.Context, req Request) ([]byte, error) {
	if err := s.slot.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.slot.Release(1)

	sess, err := s.sessions.OnRequestStart(ctx)
	if err != nil {
		if manager.IsSessionLoad(err) {
			s.fatal(err)
		}
		return nil, err
	}
	params := sampler.Derive(req.Prompt, s.rng)

	// Generation that has begun runs to completion; only an explicit request
	// deadline may cut it short.
	genCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		genCtx = context.WithoutCancel(ctx)
	}
	start := time.Now()
	texts, err := s.engine.Generate(genCtx, sess, engine.Request{
		Params:    params,
		BatchSize: s.k,
		Truncate:  sampler.EndOfText,
	})
	generationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		generationsTotal.WithLabelValues("error").Inc()
		if genCtx.Err() != nil {
			return nil, genCtx.Err()
		}
		return nil, GenerationError{RunID: sess.ID(), Err: err}
	}
	text, err := selector.Pick(texts, s.k)
	if err != nil {
		generationsTotal.WithLabelValues("bad_batch").Inc()
		return nil, err
	}
	generationsTotal.WithLabelValues("ok").Inc()
	return []byte(text), nil
}

// Ready reports whether requests can currently be served.
func (s *Server) Ready() bool { return s.sessions.Ready() }

// Status exposes the session snapshot.
func (s *Server) Status() types.StatusResponse { return s.sessions.Status() }

func (s *Server) fatal(err error) {
	s.fatalOne.Do(func() {
		if s.onFatal != nil {
			s.onFatal(err)
		}
	})
}
