package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Cdineshreddy12/Wrapper-sub013/api/controllers"
	"github.com/Cdineshreddy12/Wrapper-sub013/api/middleware"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/allocations"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/campaigns"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/credits"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/expiry"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/redis"
)

// Params carries everything the HTTP surface dispatches to. Gatherer may be
// nil, in which case /metrics is not mounted.
type Params struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             controllers.Pinger
	Redis          *redis.Client
	Gatherer       prometheus.Gatherer
	Credits        credits.Service
	Allocations    allocations.Service
	Campaigns      campaigns.Service
	Expiry         expiry.Service
	Reconciliation controllers.FlagService
	Payments       controllers.PaymentHandler
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.Caller(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": p.DB,
			"redis":    redisPinger(p.Redis),
		}))
	})
	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.TenantRateLimit(rateLimiter(p.Redis), cfg.HTTP.RateLimit, cfg.HTTP.RateLimitWindow, logg))
		r.Use(middleware.Idempotency(idempotencyStore(p.Redis), cfg.Eventing.RequestIdempotencyTTL, logg))

		r.Route("/tenants/{tenantId}", func(r chi.Router) {
			r.Route("/entities/{entityId}", func(r chi.Router) {
				r.Get("/balance", controllers.CreditsGetBalance(p.Credits, logg))
				r.Get("/transactions", controllers.CreditsHistory(p.Credits, logg))
				r.Get("/allocations", controllers.AllocationsList(p.Allocations, logg))
			})
			r.Post("/expire", controllers.ExpiryExpireTenant(p.Expiry, logg))
		})

		r.Route("/credits", func(r chi.Router) {
			r.Post("/consume", controllers.CreditsConsume(p.Credits, logg))
			r.Post("/purchases", controllers.CreditsPurchase(p.Credits, logg))
			r.Post("/transfers", controllers.CreditsTransfer(p.Credits, logg))
		})

		r.Route("/allocations", func(r chi.Router) {
			r.Post("/", controllers.AllocationsCreate(p.Allocations, logg))
			r.Get("/{allocationId}", controllers.AllocationsGet(p.Allocations, logg))
			r.Post("/{allocationId}/consume", controllers.AllocationsConsume(p.Allocations, logg))
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", controllers.CampaignsCreate(p.Campaigns, logg))
			r.Get("/{campaignId}", controllers.CampaignsGet(p.Campaigns, logg))
			r.Post("/{campaignId}/distribute", controllers.CampaignsDistribute(p.Campaigns, logg))
			r.Post("/{campaignId}/extend", controllers.CampaignsExtendExpiry(p.Expiry, logg))
		})

		r.Post("/expiry/run", controllers.ExpiryRun(p.Expiry, logg))

		r.Route("/reconciliation/flags", func(r chi.Router) {
			r.Get("/", controllers.ReconciliationListFlags(p.Reconciliation, logg))
			r.Post("/{flagId}/resolve", controllers.ReconciliationResolveFlag(p.Reconciliation, logg))
		})

		r.Post("/webhooks/payments", controllers.PaymentWebhook(p.Payments, logg))
	})

	return r
}

// The helpers below keep a nil *redis.Client from becoming a non-nil
// interface holding a nil pointer.

func redisPinger(c *redis.Client) controllers.Pinger {
	if c == nil {
		return nil
	}
	return c
}

func rateLimiter(c *redis.Client) middleware.RateLimiter {
	if c == nil {
		return nil
	}
	return c
}

func idempotencyStore(c *redis.Client) redis.IdempotencyStore {
	if c == nil {
		return nil
	}
	return c
}
