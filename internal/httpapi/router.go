package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/herbtrace/herbtrace/internal/anchor"
	"github.com/herbtrace/herbtrace/internal/auth"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	DB              *pgxpool.Pool
	Anchors         *anchor.Queue
	RateLimitConfig RateLimitInfo
}

// errorBody is the JSON error envelope. Kind lets clients distinguish
// validation failures (not worth retrying verbatim) from storage
// failures (worth retrying on a later trigger).
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes a typed JSON error response
func writeError(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	log.Debug().
		Int("status", code).
		Str("kind", kind).
		Str("path", r.URL.Path).
		Str("correlationId", GetCorrelationID(r.Context())).
		Msg(msg)
	writeJSON(w, code, errorBody{Error: msg, Kind: kind})
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Routes creates the HTTP router with all ingest endpoints
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)

	// Health check (unauthenticated)
	r.Get("/health", s.Health)

	// Ingest endpoints require device authentication
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))
		r.Use(RateLimitMiddleware(s.RateLimitConfig))

		r.Post("/collections", s.CreateCollection)
		r.Get("/collections", s.ListCollections)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
