// Package auth authenticates replicas to the sync server. Each replica
// holds a single client key (a uuid) and presents it as the subject claim
// of an HS256 bearer token signed with the server's configured secret.
// There is exactly one issuer (this server) and no upstream IdP to
// federate with, so there is no JWKS/RS256 multi-issuer path here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const ctxClientKey ctxKey = "clientKey"

// Config holds the HS256 signing secret shared between this server and
// every replica it serves, plus a dev-mode escape hatch for local testing.
type Config struct {
	// HS256Secret signs and verifies client-key bearer tokens.
	HS256Secret string
	// DevMode allows the X-Debug-Client-Key header to stand in for a
	// signed token; never enable this outside local development.
	DevMode bool
}

// IssueToken mints a bearer token whose subject is clientKey, for replicas
// enrolling for the first time or refreshing an expired token.
func IssueToken(cfg Config, clientKey uuid.UUID, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": clientKey.String(),
		"iss": "taskchampion-sync-server",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(cfg.HS256Secret))
	if err != nil {
		return "", fmt.Errorf("sign client token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies tokenString and returns the client key it was
// issued to.
func ValidateToken(tokenString string, cfg Config) (uuid.UUID, error) {
	if tokenString == "" {
		return uuid.Nil, errors.New("token is empty")
	}

	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.HS256Secret), nil
	})
	if err != nil || !t.Valid {
		return uuid.Nil, fmt.Errorf("jwt validation failed: %w", err)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return uuid.Nil, errors.New("missing or invalid sub claim")
	}
	clientKey, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sub claim is not a client key: %w", err)
	}
	return clientKey, nil
}

// Middleware extracts and verifies the bearer token's client key, storing
// it in the request context for downstream handlers.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.DevMode {
		log.Warn().Msg("SECURITY WARNING: DevMode enabled - X-Debug-Client-Key header will bypass token validation")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}

			var clientKey uuid.UUID
			if cfg.DevMode && tok == "" {
				if debug := r.Header.Get("X-Debug-Client-Key"); debug != "" {
					parsed, err := uuid.Parse(debug)
					if err != nil {
						http.Error(w, "invalid X-Debug-Client-Key", http.StatusUnauthorized)
						return
					}
					clientKey = parsed
				}
			}

			if clientKey == uuid.Nil {
				if tok == "" {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				parsed, err := ValidateToken(tok, cfg)
				if err != nil {
					log.Warn().Err(err).Msg("client token validation failed")
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				clientKey = parsed
			}

			ctx := context.WithValue(r.Context(), ctxClientKey, clientKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientKey extracts the authenticated client key from request context.
// Returns uuid.Nil if unauthenticated (should never happen after
// Middleware has run).
func ClientKey(ctx context.Context) uuid.UUID {
	if v := ctx.Value(ctxClientKey); v != nil {
		if k, ok := v.(uuid.UUID); ok {
			return k
		}
	}
	return uuid.Nil
}
