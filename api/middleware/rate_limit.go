package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Cdineshreddy12/Wrapper-sub013/api/responses"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

// RateLimiter is the fixed-window counter surface of pkg/redis.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// TenantRateLimit caps requests per tenant per window. Requests without a
// tenant header share one anonymous bucket. Redis failures let the request
// through so a cache outage never blocks ledger writes.
func TenantRateLimit(limiter RateLimiter, limit int64, window time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 || window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tenant := TenantFromContext(ctx)
			if tenant == "" {
				tenant = "anonymous"
			}
			allowed, count, err := limiter.FixedWindowAllow(ctx, "tenant:"+tenant, limit, window)
			if err != nil {
				if logg != nil {
					logg.Warn(ctx, "rate limit check failed: "+err.Error())
				}
				next.ServeHTTP(w, r)
				return
			}
			remaining := limit - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
