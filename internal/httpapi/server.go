package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botconvo/internal/server"
	"botconvo/pkg/types"
)

// PromptHeader carries the optional generation prompt.
const PromptHeader = "prompt"

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Handle(ctx context.Context, req server.Request) ([]byte, error)
	Ready() bool
	Status() types.StatusResponse
}

// NewMux returns the generation handler: GET on any path generates, any other
// method is answered 405 by the router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: []string{http.MethodGet},
			AllowedHeaders: []string{PromptHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/*", generateHandler(svc))
	return r
}

// generateHandler godoc
// @Summary      Generate text
// @Description  Returns the longest of several sampled continuations of the prompt. Any path is accepted.
// @Produce      plain
// @Param        prompt  header    string  false  "Prompt text"
// @Success      200     {string}  string  "Selected sample"
// @Failure      500     {object}  types.ErrorResponse
// @Failure      502     {object}  types.ErrorResponse
// @Failure      503     {object}  types.ErrorResponse
// @Failure      504     {object}  types.ErrorResponse
// @Router       / [get]
func generateHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prompt := r.Header.Get(PromptHeader)
		lvl := requestLogLevel(r)
		start := time.Now()

		// Shutdown or a departed client stops a request still queued for the
		// slot; a request already generating finishes unless request_timeout is set.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if requestTimeout > 0 {
			var cancelTimeout context.CancelFunc
			ctx, cancelTimeout = context.WithTimeout(ctx, requestTimeout)
			defer cancelTimeout()
		}

		body, err := svc.Handle(ctx, server.Request{Prompt: prompt})
		if err != nil {
			// Client went away or the process is stopping: nobody to answer.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status, reason := statusFor(err)
			incRefused(reason)
			writeJSONError(w, status, err.Error())
			logGenerate(r, lvl, prompt, status, time.Since(start), err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		logGenerate(r, lvl, prompt, http.StatusOK, time.Since(start), nil)
	}
}

// statusFor maps a service error to a status code and a metrics reason.
func statusFor(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	var he HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode() {
		case http.StatusServiceUnavailable:
			return he.StatusCode(), "session_unavailable"
		case http.StatusBadGateway:
			return he.StatusCode(), "generation"
		default:
			return he.StatusCode(), "internal"
		}
	}
	return http.StatusInternalServerError, "internal"
}

// NewAdminMux returns the operator endpoints, served on their own listener so
// they never collide with the catch-all generation route.
func NewAdminMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", healthzHandler)
	r.Get("/readyz", readyzHandler(svc))
	r.Get("/status", statusHandler(svc))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

// healthzHandler godoc
// @Summary  Liveness probe
// @Produce  plain
// @Success  200  {string}  string  "ok"
// @Router   /healthz [get]
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readyzHandler godoc
// @Summary  Readiness probe
// @Produce  plain
// @Success  200  {string}  string  "ready"
// @Failure  503  {string}  string  "loading"
// @Router   /readyz [get]
func readyzHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	}
}

// statusHandler godoc
// @Summary  Session status
// @Produce  json
// @Success  200  {object}  types.StatusResponse
// @Router   /status [get]
func statusHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}
