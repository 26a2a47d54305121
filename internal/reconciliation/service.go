package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
)

// Flagger records a detected invariant violation. Implementations write
// outside any caller transaction so the flag survives the aborted operation.
type Flagger interface {
	Flag(ctx context.Context, input FlagInput) error
}

// FlagInput describes the record that failed its invariant.
type FlagInput struct {
	TenantID     uuid.UUID
	ResourceType enums.ReconciliationResource
	ResourceID   uuid.UUID
	Detail       string
}

type accountTotals interface {
	AccountTotal(ctx context.Context, tenantID, entityID uuid.UUID) (int64, error)
}

// CheckReport summarises an account reconciliation pass.
type CheckReport struct {
	Checked int
	Flagged int
}

type ServiceParams struct {
	Repository Repository
	Balances   balance.Store
	Ledger     accountTotals
	Logger     *logger.Logger
	Metrics    *metrics.CreditMetrics
	Now        func() time.Time
}

type Service struct {
	repo     Repository
	balances balance.Store
	ledger   accountTotals
	logg     *logger.Logger
	metrics  *metrics.CreditMetrics
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("reconciliation repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     params.Repository,
		balances: params.Balances,
		ledger:   params.Ledger,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// Flag stores an open flag unless one is already open for the resource.
func (s *Service) Flag(ctx context.Context, input FlagInput) error {
	if input.ResourceID == uuid.Nil || !input.ResourceType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "reconciliation flag requires a resource")
	}
	existing, err := s.repo.FindOpen(ctx, input.ResourceType, input.ResourceID)
	if err != nil {
		return fmt.Errorf("lookup open flag: %w", err)
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":     input.TenantID.String(),
		"resource_type": input.ResourceType,
		"resource_id":   input.ResourceID.String(),
		"detail":        input.Detail,
	})
	if existing != nil {
		s.logg.Info(logCtx, "reconciliation flag already open")
		return nil
	}
	flag := &models.ReconciliationFlag{
		TenantID:     input.TenantID,
		ResourceType: input.ResourceType,
		ResourceID:   input.ResourceID,
		Detail:       input.Detail,
	}
	if err := s.repo.Create(ctx, flag); err != nil {
		return fmt.Errorf("create reconciliation flag: %w", err)
	}
	s.metrics.IncReconciliationFlag()
	s.logg.Warn(logCtx, "record flagged for reconciliation")
	return nil
}

// CheckAccounts compares the ledger total of every account touched since the
// given time with its stored balance and flags any that disagree.
func (s *Service) CheckAccounts(ctx context.Context, since time.Time, limit int) (CheckReport, error) {
	var report CheckReport
	if s.balances == nil || s.ledger == nil {
		return report, fmt.Errorf("account check requires balance store and ledger")
	}
	accounts, err := s.balances.ListUpdatedSince(ctx, since, limit)
	if err != nil {
		return report, err
	}
	for _, account := range accounts {
		total, err := s.ledger.AccountTotal(ctx, account.TenantID, account.EntityID)
		if err != nil {
			return report, fmt.Errorf("sum ledger for account %s: %w", account.ID, err)
		}
		report.Checked++
		stored := account.AvailableCredits + account.ReservedCredits
		if total == stored {
			continue
		}
		report.Flagged++
		if err := s.Flag(ctx, FlagInput{
			TenantID:     account.TenantID,
			ResourceType: enums.ReconciliationResourceAccount,
			ResourceID:   account.ID,
			Detail:       fmt.Sprintf("ledger total %d does not match stored balance %d", total, stored),
		}); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *Service) ListOpen(ctx context.Context, limit int) ([]models.ReconciliationFlag, error) {
	return s.repo.ListOpen(ctx, limit)
}

func (s *Service) Resolve(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "flag id is required")
	}
	return s.repo.Resolve(ctx, id, s.now().UTC())
}
