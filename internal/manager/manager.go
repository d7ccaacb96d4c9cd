package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"botconvo/internal/engine"
	"botconvo/pkg/types"
)

// Manager owns the one live session of the process and rebuilds it after a
// fixed number of served requests.
type Manager struct {
	// opMu is the session critical section: Start, OnRequestStart and Close
	// run one at a time, so counting, recycling and releasing never interleave.
	opMu sync.Mutex

	// mu guards the fields below for concurrent readers (Status, Ready).
	mu        sync.RWMutex
	state     State
	sess      engine.Session
	served    int
	loads     uint64
	recycles  uint64
	lastErr   string
	fatal     error
	startTime time.Time
	publisher EventPublisher

	engine    engine.Engine
	ref       types.CheckpointRef
	threshold int
	log       zerolog.Logger
}

// Start loads the initial session. It is a no-op when a session is already live.
func (m *Manager) Start(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.terminalErr(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.startTime.IsZero() {
		m.startTime = time.Now()
	}
	live := m.sess != nil
	m.mu.Unlock()
	if live {
		return nil
	}
	return m.load(ctx, "start", StateLoading)
}

// OnRequestStart counts one served request and returns the session to serve it
// with. When the count reaches the recycle threshold the current session is
// released, the count is zeroed and a new session is loaded before returning.
// A failed rebuild is terminal and reported as SessionLoadError.
func (m *Manager) OnRequestStart(ctx context.Context) (engine.Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.terminalErr(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		return nil, ErrNotStarted
	}
	m.served++
	n := m.served
	sess := m.sess
	m.mu.Unlock()
	sessionServed.Set(float64(n))

	if n < m.threshold {
		return sess, nil
	}
	if err := m.recycle(ctx, sess, n); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess, nil
}

// recycle releases old and loads its replacement. The caller holds opMu.
func (m *Manager) recycle(ctx context.Context, old engine.Session, served int) error {
	m.setState(StateRecycling)
	m.log.Info().Str("event", "session_recycle").Str("run_id", old.ID()).Int("served", served).Msg("recycling session")
	m.publish("session_recycle", old.ID(), map[string]any{"served": served})

	if err := m.engine.Reset(old); err != nil {
		// the old session may still hold resources; loading another would break the one-session rule
		return m.fail(SessionLoadError{RunName: m.ref.RunName, Op: "reset", Err: err})
	}
	m.mu.Lock()
	m.sess = nil
	m.served = 0
	m.recycles++
	m.mu.Unlock()
	sessionRecyclesTotal.Inc()
	sessionServed.Set(0)

	// The reload must finish even if the request that triggered it goes away.
	return m.load(context.WithoutCancel(ctx), "recycle", StateRecycling)
}

// load builds a new session from the stored checkpoint. The caller holds opMu.
func (m *Manager) load(ctx context.Context, op string, during State) error {
	m.setState(during)
	start := time.Now()
	m.log.Info().Str("event", "session_load_start").Str("op", op).Str("run", m.ref.RunName).Msg("loading session")
	m.publish("session_load_start", "", map[string]any{"op": op})

	sess, err := m.engine.Load(ctx, m.ref)
	dur := time.Since(start)
	sessionLoadDuration.Observe(dur.Seconds())
	if err == nil && sess == nil {
		err = engine.ErrDependencyUnavailable("engine returned no session")
	}
	if err != nil {
		sessionLoadsTotal.WithLabelValues("error").Inc()
		return m.fail(SessionLoadError{RunName: m.ref.RunName, Op: op, Err: err})
	}
	sessionLoadsTotal.WithLabelValues("ok").Inc()

	m.mu.Lock()
	m.sess = sess
	m.state = StateReady
	m.loads++
	m.lastErr = ""
	m.mu.Unlock()
	m.log.Info().Str("event", "session_load_ready").Str("op", op).Str("run_id", sess.ID()).Dur("dur", dur).Msg("session ready")
	m.publish("session_load_ready", sess.ID(), map[string]any{"op": op, "dur_ms": int(dur / time.Millisecond)})
	return nil
}

// fail records err as terminal and returns it.
func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.state = StateFailed
	m.fatal = err
	m.lastErr = err.Error()
	m.mu.Unlock()
	m.log.Error().Str("event", "session_load_error").Err(err).Msg("session unavailable")
	m.publish("session_load_error", "", map[string]any{"error": err.Error()})
	return err
}

// Close releases the live session. Later calls to Start and OnRequestStart
// return ErrClosed (or the terminal load error, if one occurred).
func (m *Manager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	if m.state != StateFailed {
		m.state = StateClosed
	}
	m.mu.Unlock()
	if sess == nil {
		return nil
	}
	m.publish("session_close", sess.ID(), nil)
	return m.engine.Reset(sess)
}

func (m *Manager) terminalErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fatal != nil {
		return m.fatal
	}
	if m.state == StateClosed {
		return ErrClosed
	}
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
