package manager

import (
	"time"

	"botconvo/pkg/types"
)

// Ready reports whether a session is loaded and the manager has not failed.
// A recycle in progress counts as ready: requests wait, they are not refused.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch m.state {
	case StateReady:
		return m.sess != nil
	case StateRecycling:
		return true
	default:
		return false
	}
}

// Status builds a read-only snapshot for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		State:            string(m.state),
		Checkpoint:       m.ref,
		ServedCount:      m.served,
		RecycleThreshold: m.threshold,
		LoadsTotal:       m.loads,
		RecyclesTotal:    m.recycles,
		LastError:        m.lastErr,
		ServerTimeUnix:   now.Unix(),
	}
	if m.sess != nil {
		resp.RunID = m.sess.ID()
		resp.LoadedAtUnix = m.sess.LoadedAt().Unix()
	}
	if !m.startTime.IsZero() {
		resp.UptimeSeconds = int64(now.Sub(m.startTime) / time.Second)
	}
	return resp
}
