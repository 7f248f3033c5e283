package auth

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const CtxCollectorID ctxKey = "collector"

// JWTCfg holds JWT authentication configuration
type JWTCfg struct {
	HS256Secret string // HMAC secret for HS256 tokens
	DevMode     bool   // Allow X-Debug-Collector header (DANGEROUS: only for local dev)
}

// Middleware creates HTTP middleware for device JWT authentication.
// Supports two modes:
// 1. Production: Bearer token with JWT validation, collector id in the sub claim
// 2. Development: X-Debug-Collector header (ONLY when DevMode=true)
func Middleware(cfg JWTCfg) func(http.Handler) http.Handler {
	if cfg.DevMode {
		log.Warn().Msg("SECURITY WARNING: DevMode enabled - X-Debug-Collector header will bypass JWT authentication")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}

			collector := ""

			// Development mode: accept X-Debug-Collector ONLY if DevMode is enabled and no token present
			if cfg.DevMode && tok == "" {
				collector = r.Header.Get("X-Debug-Collector")
				if collector != "" {
					log.Debug().Str("collector", collector).Msg("using X-Debug-Collector header (dev mode)")
				}
			}

			// Validate JWT token if present
			if tok != "" {
				claims := jwt.MapClaims{}
				t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
					// Verify signing method
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(cfg.HS256Secret), nil
				})

				if err != nil || !t.Valid {
					log.Warn().Err(err).Msg("jwt validation failed")
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}

				// Extract collector id from the subject claim
				if s, ok := claims["sub"].(string); ok {
					collector = s
				}
			}

			// Require a collector identity (either from JWT or debug header)
			if collector == "" {
				log.Warn().Msg("missing collector identity (no JWT sub or X-Debug-Collector header)")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// Add collector id to request context
			ctx := context.WithValue(r.Context(), CtxCollectorID, collector)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CollectorID extracts the authenticated collector id from request context
// Returns empty string if not authenticated (should never happen after middleware)
func CollectorID(ctx context.Context) string {
	if v := ctx.Value(CtxCollectorID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
