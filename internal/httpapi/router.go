// Package httpapi is the chi-routed HTTP binding of the passive sync
// server: it translates each of the four Server methods into an endpoint,
// authenticates the caller's client key, and rate-limits per client.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/auth"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/syncserver"
)

// Server holds the dependencies every handler needs.
type Server struct {
	Core            *syncserver.Server
	AuthConfig      auth.Config
	RateLimitConfig RateLimitInfo
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// errorResponse is a standardized error body with a correlation ID for
// cross-referencing against server logs.
type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeJSON(w, code, errorResponse{
		Error:         message,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Routes builds the router: unauthenticated health check, then every
// /v1/* sync endpoint behind client-key bearer auth and per-client rate
// limiting.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "X-Client-Key", "Content-Type", "X-Correlation-ID"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.AuthConfig))
		r.Use(RateLimitMiddleware(s.RateLimitConfig))

		r.Post("/v1/versions", s.AddVersion)
		r.Get("/v1/versions/child/{parent}", s.GetChildVersion)
		r.Post("/v1/snapshots/{version}", s.AddSnapshot)
		r.Get("/v1/snapshot", s.GetSnapshot)
	})

	log.Info().Msg("sync server routes registered")
	return r
}
