package manager

// State represents the lifecycle state of the managed session.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateRecycling State = "recycling"
	StateFailed    State = "failed"
	StateClosed    State = "closed"
)
