package middleware

import (
	"net/http"
	"strings"

	"github.com/Cdineshreddy12/Wrapper-sub013/api/responses"
	pkgAuth "github.com/Cdineshreddy12/Wrapper-sub013/pkg/auth"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

// Auth validates a bearer token and replaces the caller headers with its
// claims. A tenant-scoped token rejects requests that name another tenant in
// X-Tenant-Id. When no secret is configured the middleware is a no-op.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseServiceToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithActor(r.Context(), claims.Actor)
			fields := map[string]any{"actor": claims.Actor, "token_id": claims.ID}
			if claims.TenantID != nil {
				tenant := claims.TenantID.String()
				if header := TenantFromContext(ctx); header != "" && !strings.EqualFold(header, tenant) {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token is not valid for this tenant"))
					return
				}
				ctx = WithTenant(ctx, tenant)
				fields["tenant_id"] = tenant
			}
			if logg != nil {
				ctx = logg.WithFields(ctx, fields)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
