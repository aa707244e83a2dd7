package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/fieldbook/fieldbook-sync/api/responses"
	pkgauth "github.com/fieldbook/fieldbook-sync/pkg/auth"
	"github.com/fieldbook/fieldbook-sync/pkg/config"
	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

type contextKey string

const (
	ctxAgentID  contextKey = "agent_id"
	ctxRegionID contextKey = "region_id"
)

// WithAgentID returns a context carrying the agent id.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxAgentID, id)
}

// WithRegionID returns a context carrying the agent's region.
func WithRegionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRegionID, id)
}

// AgentID returns the authenticated agent id from the request context.
func AgentID(ctx context.Context) string {
	id, _ := ctx.Value(ctxAgentID).(string)
	return id
}

// RegionID returns the authenticated agent's region from the request context.
func RegionID(ctx context.Context) string {
	id, _ := ctx.Value(ctxRegionID).(string)
	return id
}

// Auth validates a bearer token and seeds the request context with the
// agent's identity and region.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithAgentID(r.Context(), claims.AgentID.String())
			ctx = WithRegionID(ctx, claims.RegionID)

			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"agent_id":  claims.AgentID.String(),
					"region_id": claims.RegionID,
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
