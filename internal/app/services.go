// Package app assembles the credit engines from configuration and shared
// clients. Both cmd/api and cmd/cron-worker build the same graph.
package app

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/allocations"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/campaigns"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/credits"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/expiry"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/reconciliation"
	paymentwebhook "github.com/Cdineshreddy12/Wrapper-sub013/internal/webhooks/payments"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/cache"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/payments"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/redis"
)

const defaultWebhookGuardTTL = 2 * time.Minute

// Services is the wired engine graph.
type Services struct {
	Credits        credits.Service
	Allocations    allocations.Service
	Campaigns      campaigns.Service
	Expiry         expiry.Service
	Reconciliation *reconciliation.Service
	Ledger         ledger.Service
	Directory      *campaigns.CachedDirectory
	Breaker        *credits.BreakerConfirmer
	Payments       *paymentwebhook.Service
	Outbox         *outbox.Repository
	Metrics        *metrics.CreditMetrics
}

type Params struct {
	Config     *config.Config
	DB         *db.Client
	Redis      *redis.Client
	Logger     *logger.Logger
	Registerer prometheus.Registerer
}

func Build(params Params) (*Services, error) {
	switch {
	case params.Config == nil:
		return nil, fmt.Errorf("config required")
	case params.DB == nil:
		return nil, fmt.Errorf("db client required")
	case params.Redis == nil:
		return nil, fmt.Errorf("redis client required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	conn := params.DB.DB()
	logg := params.Logger

	creditMetrics := metrics.NewCreditMetrics(params.Registerer)
	balances := balance.NewStore(conn)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	outboxRepo := outbox.NewRepository(conn)
	events := outbox.NewService(outboxRepo, logg)

	flags, err := reconciliation.NewService(reconciliation.ServiceParams{
		Repository: reconciliation.NewRepository(conn),
		Balances:   balances,
		Ledger:     ledgerSvc,
		Logger:     logg,
		Metrics:    creditMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation service: %w", err)
	}

	var confirmer credits.PaymentConfirmer
	var breaker *credits.BreakerConfirmer
	if cfg.Payments.Enabled() {
		client, err := payments.NewClient(cfg.Payments.ConfirmationURL,
			payments.WithAPIKey(cfg.Payments.APIKey),
			payments.WithTimeout(cfg.Payments.Timeout),
		)
		if err != nil {
			return nil, fmt.Errorf("payments client: %w", err)
		}
		breaker = credits.NewBreakerConfirmer(client, cfg.Payments, logg)
		confirmer = breaker
	}

	creditSvc, err := credits.NewService(credits.ServiceParams{
		Tx:                  params.DB,
		Balances:            balances,
		Ledger:              ledgerSvc,
		Outbox:              events,
		Payments:            confirmer,
		Flagger:             flags,
		Logger:              logg,
		Metrics:             creditMetrics,
		LowBalanceThreshold: cfg.Credits.LowBalanceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("credits service: %w", err)
	}

	allocationRepo := allocations.NewRepository(conn)
	allocationSvc, err := allocations.NewService(allocations.ServiceParams{
		Tx:         params.DB,
		Repository: allocationRepo,
		Balances:   balances,
		Ledger:     ledgerSvc,
		Outbox:     events,
		Flagger:    flags,
		Logger:     logg,
		Metrics:    creditMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("allocations service: %w", err)
	}

	tenantCache, err := cache.NewJSON[models.Tenant](params.Redis, "tenants", cfg.Credits.TenantCacheTTL)
	if err != nil {
		return nil, err
	}
	activeCache, err := cache.NewJSON[[]uuid.UUID](params.Redis, "tenants_active", cfg.Credits.TenantCacheTTL)
	if err != nil {
		return nil, err
	}
	directory, err := campaigns.NewCachedDirectory(campaigns.NewTenantDirectory(conn), tenantCache, activeCache, logg)
	if err != nil {
		return nil, err
	}

	campaignRepo := campaigns.NewRepository(conn)
	campaignSvc, err := campaigns.NewService(campaigns.ServiceParams{
		Tx:          params.DB,
		Repository:  campaignRepo,
		Directory:   directory,
		Allocations: allocationRepo,
		Granter:     campaigns.DefaultStrategyChain(creditSvc, allocationSvc, logg),
		Outbox:      events,
		Logger:      logg,
		Metrics:     creditMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("campaigns service: %w", err)
	}

	expirySvc, err := expiry.NewService(expiry.ServiceParams{
		Tx:          params.DB,
		Allocations: allocationRepo,
		Sweeper:     allocationSvc,
		Balances:    balances,
		Ledger:      ledgerSvc,
		Outbox:      events,
		Campaigns:   campaignRepo,
		Logger:      logg,
		Metrics:     creditMetrics,
		BatchSize:   cfg.Credits.SweepBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("expiry service: %w", err)
	}

	guardTTL := cfg.Payments.WebhookGuardTTL
	if guardTTL <= 0 {
		guardTTL = defaultWebhookGuardTTL
	}
	guard, err := paymentwebhook.NewInFlightGuard(params.Redis, guardTTL, "payment_webhook")
	if err != nil {
		return nil, fmt.Errorf("payment webhook guard: %w", err)
	}
	paymentSvc, err := paymentwebhook.NewService(paymentwebhook.ServiceParams{
		Credits: creditSvc,
		Guard:   guard,
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payment webhook service: %w", err)
	}

	return &Services{
		Credits:        creditSvc,
		Allocations:    allocationSvc,
		Campaigns:      campaignSvc,
		Expiry:         expirySvc,
		Reconciliation: flags,
		Ledger:         ledgerSvc,
		Directory:      directory,
		Breaker:        breaker,
		Payments:       paymentSvc,
		Outbox:         outboxRepo,
		Metrics:        creditMetrics,
	}, nil
}
