// Package manager owns the single resident model session and its recycle policy.
//
//   - manager.go: Manager type, Start/OnRequestStart/Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: lifecycle State values.
//   - errors.go: SessionLoadError and lifecycle errors (IsSessionLoad).
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: Prometheus collectors for loads and recycles.
//   - status_report.go: Status/Ready reporting.
//
// The process serves exactly one model through one session. Every session
// transition (initial load, recycle, close) runs inside one critical section so
// no caller ever observes a half torn down session, and a new session is only
// loaded after the previous one has been released.
package manager
