// Package httpapi exposes the room lifecycle operations over HTTP. The
// routing layer is deliberately thin: handlers extract a typed credential,
// resolve it once, and delegate to the lifecycle controller.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/lifecycle"
	"github.com/vanish-chat/vanish/internal/metrics"
)

// Config holds HTTP-surface settings.
type Config struct {
	CookieSecure   bool          // set Secure on auth cookies
	RequestTimeout time.Duration // per-request deadline
	EnableDebug    bool          // mount the unauthenticated room inspection route
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CookieSecure:   false,
		RequestTimeout: 5 * time.Second,
	}
}

// Server holds the handler dependencies.
type Server struct {
	ctrl     *lifecycle.Controller
	auth     *auth.Resolver
	realtime http.Handler // optional WebSocket fanout endpoint
	config   Config
}

// New creates the HTTP surface. realtime may be nil when the fanout gateway
// is not mounted.
func New(ctrl *lifecycle.Controller, resolver *auth.Resolver, realtime http.Handler, config Config) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Server{ctrl: ctrl, auth: resolver, realtime: realtime, config: config}
}

// Router builds the chi router for all public operations.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// The realtime endpoint holds its connection open, so the request
		// timeout applies only to the plain request/response operations.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.config.RequestTimeout))

			r.Post("/room/create", s.handleCreateRoom)
			r.Post("/room/join", s.handleJoinRoom)
			r.Post("/room/enter", s.handleEnterRoom)
			r.Get("/room/ttl", s.handleReadTTL)
			r.Delete("/room", s.handleDestroyRoom)
			r.Post("/messages", s.handlePostMessage)
			r.Get("/messages", s.handleListMessages)

			// Raw-state dump for local troubleshooting. The snapshot includes
			// membership tokens, so the route is off unless explicitly enabled.
			if s.config.EnableDebug {
				r.Get("/debug/room/{roomID}", s.handleInspectRoom)
			}
		})

		if s.realtime != nil {
			r.Get("/realtime", s.realtime.ServeHTTP)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

// setAuthCookie establishes the membership token on the client. HttpOnly and
// SameSite=Strict keep the capability out of scripts and cross-site requests.
func (s *Server) setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
