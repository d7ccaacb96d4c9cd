package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer. Nil disables request logs.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("BOTD_LOG_REQUESTS"))

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logGenerate writes the end-of-request line. LevelError logs failures only,
// LevelInfo every request, LevelDebug adds the prompt.
func logGenerate(r *http.Request, lvl LogLevel, prompt string, status int, dur time.Duration, err error) {
	if zlog == nil || lvl == LevelOff {
		return
	}
	if lvl == LevelError && err == nil {
		return
	}
	ev := zlog.Info()
	if err != nil {
		ev = zlog.Error().Err(err)
	}
	ev = ev.Str("path", r.URL.Path).Int("status", status).Dur("dur", dur)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if lvl >= LevelDebug {
		ev = ev.Str("prompt", prompt)
	}
	ev.Msg("generate end")
}
