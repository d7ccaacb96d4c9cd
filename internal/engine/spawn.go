package engine

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"botconvo/internal/registry"
	"botconvo/pkg/types"
)

const (
	defaultReadyTimeout = 60 * time.Second
	stopGrace           = 2 * time.Second
	stderrTail          = 4096
)

// spawnEngine runs one llama-server process per session. Releasing the session
// stops the process, so a recycle returns every byte the server held.
type spawnEngine struct {
	bin          string
	host         string
	ctxSize      int
	threads      int
	extraArgs    []string
	readyTimeout time.Duration
	api          *openAIEngine
	log          zerolog.Logger
}

// NewSpawn constructs a subprocess-backed engine.
func NewSpawn(opts Options) Engine {
	host := strings.TrimSpace(opts.ServerHost)
	if host == "" {
		host = "127.0.0.1"
	}
	rt := opts.ReadyTimeout
	if rt <= 0 {
		rt = defaultReadyTimeout
	}
	return &spawnEngine{
		bin:          opts.ServerBin,
		host:         host,
		ctxSize:      opts.LlamaCtx,
		threads:      opts.LlamaThreads,
		extraArgs:    append([]string(nil), opts.ServerArgs...),
		readyTimeout: rt,
		api:          newOpenAIEngine(opts, KindSpawn),
		log:          opts.Logger.With().Str("engine", KindSpawn).Logger(),
	}
}

type spawnSession struct {
	openAISession
	cmd    *exec.Cmd
	exited chan struct{}
	// waitErr is valid once exited is closed.
	waitErr  error
	stopOnce sync.Once
}

// lockedBuffer collects the tail of the server's stderr for diagnostics.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) tail() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return strings.TrimSpace(s)
}

func (e *spawnEngine) Load(ctx context.Context, ref types.CheckpointRef) (Session, error) {
	weights, err := registry.ResolveWeights(ref)
	if err != nil {
		return nil, err
	}
	port, err := pickFreePort(e.host)
	if err != nil {
		return nil, err
	}
	baseURL := "http://" + net.JoinHostPort(e.host, strconv.Itoa(port))

	args := []string{"-m", weights, "--host", e.host, "--port", strconv.Itoa(port)}
	if e.ctxSize > 0 {
		args = append(args, "-c", strconv.Itoa(e.ctxSize))
	}
	if e.threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.threads))
	}
	args = append(args, e.extraArgs...)

	cmd := exec.Command(e.bin, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, ErrDependencyUnavailable(fmt.Sprintf("start %s: %v", e.bin, err))
	}
	s := &spawnSession{
		openAISession: openAISession{Handle: NewHandle(ref), model: ref.RunName, baseURL: baseURL},
		cmd:           cmd,
		exited:        make(chan struct{}),
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()
	e.log.Info().Str("run_id", s.ID()).Int("pid", cmd.Process.Pid).Str("url", baseURL).Str("weights", weights).Msg("server started")

	if err := e.waitReady(ctx, s); err != nil {
		e.stop(s)
		if t := stderr.tail(); t != "" {
			err = fmt.Errorf("%w; stderr tail: %s", err, t)
		}
		return nil, err
	}
	e.log.Info().Str("run_id", s.ID()).Int("pid", cmd.Process.Pid).Msg("server ready")
	return s, nil
}

// waitReady polls /v1/models until it answers, the process exits, ctx ends or
// the ready timeout elapses.
func (e *spawnEngine) waitReady(ctx context.Context, s *spawnSession) error {
	ctx, cancel := context.WithTimeout(ctx, e.readyTimeout)
	defer cancel()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		pctx, pcancel := context.WithTimeout(ctx, time.Second)
		err := e.api.probe(pctx, s.baseURL)
		pcancel()
		if err == nil {
			return nil
		}
		select {
		case <-s.exited:
			if s.waitErr != nil {
				return fmt.Errorf("llama-server exited early: %w", s.waitErr)
			}
			return fmt.Errorf("llama-server exited before ready")
		case <-ctx.Done():
			return fmt.Errorf("llama-server not ready at %s: %w", s.baseURL, ctx.Err())
		case <-tick.C:
		}
	}
}

// Reset stops the session's server: SIGTERM, then SIGKILL after a grace period.
func (e *spawnEngine) Reset(s Session) error {
	sess, ok := s.(*spawnSession)
	if !ok {
		return foreignSession(s)
	}
	e.stop(sess)
	return nil
}

func (e *spawnEngine) stop(s *spawnSession) {
	s.stopOnce.Do(func() {
		s.released.Store(true)
		_ = s.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-s.exited:
		case <-time.After(stopGrace):
			_ = s.cmd.Process.Kill()
			<-s.exited
		}
		e.log.Info().Str("run_id", s.ID()).Int("pid", s.cmd.Process.Pid).Msg("server stopped")
	})
}

func (e *spawnEngine) Generate(ctx context.Context, s Session, r Request) ([]string, error) {
	sess, ok := s.(*spawnSession)
	if !ok {
		return nil, foreignSession(s)
	}
	select {
	case <-sess.exited:
		if !sess.released.Load() {
			return nil, fmt.Errorf("llama-server exited: %v", sess.waitErr)
		}
	default:
	}
	return e.api.complete(ctx, &sess.openAISession, r)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
