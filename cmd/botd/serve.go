package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"botconvo/internal/config"
	"botconvo/internal/engine"
	"botconvo/internal/httpapi"
	"botconvo/internal/manager"
	"botconvo/internal/sampler"
	"botconvo/internal/server"
	"botconvo/pkg/types"
)

const shutdownTimeout = 5 * time.Second

// runServe loads the session and serves until a signal arrives, a listener
// fails or the session cannot be rebuilt. The last two are returned as errors.
func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(engine.Options{
		Kind:         cfg.Engine,
		URL:          cfg.EngineURL,
		APIKey:       cfg.EngineAPIKey,
		LlamaCtx:     cfg.LlamaCtx,
		LlamaThreads: cfg.LlamaThreads,
		ServerBin:    cfg.LlamaServerBin,
		ServerArgs:   cfg.LlamaServerArgs,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	if cfg.Engine == engine.KindLlama && !engine.LlamaBuilt() {
		log.Warn().Msg("built without -tags=llama; the llama engine cannot load sessions")
	}

	ref := types.CheckpointRef{CheckpointDir: cfg.CheckpointDir, ModelDir: cfg.ModelDir, RunName: cfg.RunName}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Engine:           eng,
		Checkpoint:       ref,
		RecycleThreshold: cfg.RecycleThreshold,
		Logger:           log,
	})
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Error().Err(err).Msg("release session")
		}
	}()

	fatal := make(chan error, 1)
	svc := server.New(server.Config{
		Sessions:   mgr,
		Engine:     eng,
		Random:     sampler.NewSource(cfg.Seed),
		Candidates: cfg.Candidates,
		OnFatal:    func(err error) { fatal <- err },
	})

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetRequestTimeoutSeconds(cfg.RequestTimeoutSeconds)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins)

	servers := []*http.Server{{
		Addr:              cfg.ListenAddr(),
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.AdminAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           httpapi.NewAdminMux(svc),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	listenErr := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			log.Info().Str("addr", s.Addr).Str("run", cfg.RunName).Str("engine", cfg.Engine).Msg("botd listening")
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				listenErr <- err
			}
		}(s)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-fatal:
		log.Error().Err(runErr).Msg("session could not be rebuilt; exiting")
	case runErr = <-listenErr:
		log.Error().Err(runErr).Msg("listener failed")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Str("addr", s.Addr).Msg("graceful shutdown error")
		}
	}
	return runErr
}
