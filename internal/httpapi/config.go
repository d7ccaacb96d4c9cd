package httpapi

import "time"

// requestTimeout bounds each generation request. Zero means no additional
// timeout beyond server/connection timeouts.
var requestTimeout time.Duration

// SetRequestTimeoutSeconds sets the generation timeout in seconds (0 disables).
func SetRequestTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	requestTimeout = time.Duration(sec) * time.Second
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
)

// SetCORSOptions configures CORS behavior for the generation listener. The
// generation contract is GET with a custom "prompt" header, so those are the
// only method and header allowed.
func SetCORSOptions(enabled bool, origins []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
}
