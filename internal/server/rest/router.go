package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the status API.
//
// Route layout:
//
//	GET /healthz          : liveness and status snapshot (no authentication)
//	GET /api/v1/files     : tracked files and scanned line counts
//	GET /api/v1/events    : recent journalled events
//	GET /api/v1/stream    : live events over WebSocket (when configured)
//
// When jwtCfg is nil the /api routes are served without authentication.
func NewRouter(srv *Server, jwtCfg *JWTConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if jwtCfg != nil && jwtCfg.PublicKey != nil {
			r.Use(JWTMiddleware(*jwtCfg))
		}

		r.Get("/files", srv.handleGetFiles)
		r.Get("/events", srv.handleGetEvents)
		if srv.stream != nil {
			r.Handle("/stream", srv.stream)
		}
	})

	return r
}
