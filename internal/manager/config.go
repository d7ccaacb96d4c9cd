package manager

import (
	"github.com/rs/zerolog"

	"botconvo/internal/engine"
	"botconvo/pkg/types"
)

// DefaultRecycleThreshold is the number of served requests after which the
// session is rebuilt when ManagerConfig.RecycleThreshold is unset.
const DefaultRecycleThreshold = 30

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Engine           engine.Engine
	Checkpoint       types.CheckpointRef
	RecycleThreshold int
	Publisher        EventPublisher
	Logger           zerolog.Logger
}

// New constructs a Manager with default recycle policy.
func New(eng engine.Engine, ref types.CheckpointRef) *Manager {
	return NewWithConfig(ManagerConfig{Engine: eng, Checkpoint: ref})
}

// NewWithConfig constructs a Manager from ManagerConfig. The session is not
// loaded until Start.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		engine:    cfg.Engine,
		ref:       cfg.Checkpoint,
		threshold: cfg.RecycleThreshold,
		publisher: cfg.Publisher,
		log:       cfg.Logger.With().Str("component", "session").Logger(),
		state:     StateIdle,
	}
	if m.threshold <= 0 {
		m.threshold = DefaultRecycleThreshold
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	return m
}
