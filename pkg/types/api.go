package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: session load failed
	Error string `json:"error" example:"session load failed"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// StatusResponse is returned by GET /status on the admin listener.
type StatusResponse struct {
	// Session lifecycle state (loading, ready, recycling, failed, closed).
	// example: ready
	State string `json:"state" example:"ready"`
	// Identifier of the live session; changes on every load.
	// example: 2f1c7d6e-8a7b-4c1e-9f5e-4d0c1b2a3e4f
	RunID string `json:"run_id,omitempty" example:"2f1c7d6e-8a7b-4c1e-9f5e-4d0c1b2a3e4f"`
	// Checkpoint the session is loaded from.
	Checkpoint CheckpointRef `json:"checkpoint"`
	// Requests served since the last (re)load.
	// example: 12
	ServedCount int `json:"served_count" example:"12"`
	// Served requests after which the session is rebuilt.
	// example: 30
	RecycleThreshold int `json:"recycle_threshold" example:"30"`
	// Total number of session loads, including the initial one.
	// example: 3
	LoadsTotal uint64 `json:"loads_total" example:"3"`
	// Total number of recycles performed.
	// example: 2
	RecyclesTotal uint64 `json:"recycles_total" example:"2"`
	// Unix seconds of the last successful load.
	// example: 1700000000
	LoadedAtUnix int64 `json:"loaded_at_unix,omitempty" example:"1700000000"`
	// Last error observed by the session manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
