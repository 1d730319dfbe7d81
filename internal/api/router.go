package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/mediaforge/internal/api/middleware"
	"github.com/kiranshivaraju/mediaforge/internal/api/response"
)

// ComposeDependencies holds the handlers and middleware of the compose server.
type ComposeDependencies struct {
	RateLimit *mw.RateLimit

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Leave it off unless a proxy sets those headers.
	TrustProxyHeaders bool

	HealthHandler      http.HandlerFunc
	PromptHandler      http.HandlerFunc
	HistoryHandler     http.HandlerFunc
	ViewHandler        http.HandlerFunc
	QueueHandler       http.HandlerFunc
	InterruptHandler   http.HandlerFunc
	SystemStatsHandler http.HandlerFunc
}

// TTSDependencies holds the handlers and middleware of the TTS server.
type TTSDependencies struct {
	RateLimit         *mw.RateLimit
	TrustProxyHeaders bool

	HealthHandler http.HandlerFunc
	TTSHandler    http.HandlerFunc
	VoicesHandler http.HandlerFunc
}

// NewComposeRouter builds the Chi router for the composition API.
func NewComposeRouter(deps ComposeDependencies) http.Handler {
	r := newBaseRouter(deps.TrustProxyHeaders)

	r.Get("/health", orNotImplemented(deps.HealthHandler))
	r.Get("/history/{promptID}", orNotImplemented(deps.HistoryHandler))
	r.Get("/view", orNotImplemented(deps.ViewHandler))
	r.Head("/view", orNotImplemented(deps.ViewHandler))
	r.Get("/queue", orNotImplemented(deps.QueueHandler))
	r.Get("/system_stats", orNotImplemented(deps.SystemStatsHandler))
	r.Post("/interrupt", orNotImplemented(deps.InterruptHandler))

	// Submissions are the only expensive call.
	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		r.Post("/prompt", orNotImplemented(deps.PromptHandler))
	})

	return r
}

// NewTTSRouter builds the Chi router for the speech API.
func NewTTSRouter(deps TTSDependencies) http.Handler {
	r := newBaseRouter(deps.TrustProxyHeaders)

	r.Get("/health", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/voices", orNotImplemented(deps.VoicesHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		r.Post("/api/v1/tts", orNotImplemented(deps.TTSHandler))
	})

	return r
}

func newBaseRouter(trustProxyHeaders bool) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	if trustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "not found", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "not implemented", "endpoint not yet implemented")
	}
}
