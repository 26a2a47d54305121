package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

type contextKey string

const (
	ctxActor  contextKey = "actor"
	ctxTenant contextKey = "tenant_id"

	actorHeader  = "X-Actor-Id"
	tenantHeader = "X-Tenant-Id"
	defaultActor = "api"
)

// ActorFromContext returns the caller identity recorded as initiated_by.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return defaultActor
	}
	if v, ok := ctx.Value(ctxActor).(string); ok && v != "" {
		return v
	}
	return defaultActor
}

// TenantFromContext returns the X-Tenant-Id header value, if any.
func TenantFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxTenant).(string); ok {
		return v
	}
	return ""
}

func WithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxTenant, tenantID)
}

// Caller copies the upstream gateway's actor and tenant headers into the
// request context. Auth overrides them when bearer tokens are enabled.
func Caller(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
				ctx = WithActor(ctx, actor)
				if logg != nil {
					ctx = logg.WithActor(ctx, actor)
				}
			}
			if tenant := strings.TrimSpace(r.Header.Get(tenantHeader)); tenant != "" {
				ctx = WithTenant(ctx, tenant)
				if logg != nil {
					ctx = logg.WithTenantID(ctx, tenant)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
