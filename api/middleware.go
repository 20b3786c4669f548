/*
middleware.go - Request logging and actor resolution

ACTOR RESOLUTION:
  Every ledger call needs an ActorContext. It is resolved once per request
  and stored on the request context; handlers never read headers directly.

  With a JWT secret configured:
    Authorization: Bearer <HS256 token>
    claims: sub (or user_id) -> ActorContext.UserID, role -> ActorContext.Role
    A present but invalid token is rejected with 401.

  Without a secret (development, tests):
    X-Actor-ID / X-Actor-Role headers are trusted as-is.

  RequireActor guards the whole /api group, so a request with neither a
  token nor headers never reaches a handler.
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/warp/tuition-ledger/ledger"
)

type ctxKey int

const actorKey ctxKey = iota

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// ActorFrom returns the actor resolved for the request, if any.
func ActorFrom(ctx context.Context) (ledger.ActorContext, bool) {
	actor, ok := ctx.Value(actorKey).(ledger.ActorContext)
	return actor, ok && actor.UserID != ""
}

func withActor(ctx context.Context, actor ledger.ActorContext) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// Authenticate resolves the actor from a bearer token when secret is set,
// otherwise from the X-Actor-* headers.
func Authenticate(secret string) func(http.Handler) http.Handler {
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				if id := strings.TrimSpace(r.Header.Get(HeaderActorID)); id != "" {
					r = r.WithContext(withActor(r.Context(), ledger.ActorContext{
						UserID: id,
						Role:   strings.TrimSpace(r.Header.Get(HeaderActorRole)),
					}))
				}
				next.ServeHTTP(w, r)
				return
			}

			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			if authz == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				writeError(w, http.StatusUnauthorized, "Invalid authorization header", nil)
				return
			}
			actor, err := parseActorToken(strings.TrimSpace(authz[7:]), secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}

func parseActorToken(raw, secret string) (ledger.ActorContext, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return ledger.ActorContext{}, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return ledger.ActorContext{}, jwt.ErrTokenMalformed
	}

	actor := ledger.ActorContext{Role: strClaim(claims, "role")}
	switch {
	case strClaim(claims, "sub") != "":
		actor.UserID = strClaim(claims, "sub")
	case strClaim(claims, "user_id") != "":
		actor.UserID = strClaim(claims, "user_id")
	default:
		return ledger.ActorContext{}, jwt.ErrTokenMalformed
	}
	return actor, nil
}

func strClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// RequireActor rejects unauthenticated requests.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ActorFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request through zap.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				}
				if ww.Status() >= http.StatusInternalServerError {
					logger.Error("request", fields...)
					return
				}
				logger.Info("request", fields...)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
