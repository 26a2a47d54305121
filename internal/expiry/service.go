package expiry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/allocations"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox/payloads"
)

// Sweep reasons.
const (
	ReasonExpired = "expired"
	opFreeExpire  = "credits.free.expire"
)

const (
	defaultBatchSize = 500
	// forcedSweepAttempts bounds how often a forced sweep reloads a row that
	// a concurrent writer keeps changing.
	forcedSweepAttempts = 3
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type allocationSweeper interface {
	Sweep(ctx context.Context, tx *gorm.DB, allocation models.CreditAllocation, reason string, force bool) (bool, error)
}

// CampaignCloser moves a distributed campaign to expired once none of its
// allocations remain active.
type CampaignCloser interface {
	CloseIfDrained(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (bool, error)
}

// Failure is one row the processor could not sweep.
type Failure struct {
	ID    uuid.UUID `json:"id"`
	Error string    `json:"error"`
}

// Report summarises a sweep. One failing row never aborts the batch.
type Report struct {
	ProcessedCount int       `json:"processed_count"`
	Failures       []Failure `json:"failures"`
}

func (r *Report) fail(id uuid.UUID, err error) {
	r.Failures = append(r.Failures, Failure{ID: id, Error: err.Error()})
}

// ExtendInput pushes expiry forward on a campaign's active allocations,
// optionally limited to one tenant.
type ExtendInput struct {
	CampaignID     uuid.UUID
	TenantID       *uuid.UUID
	AdditionalDays int
}

type Service interface {
	ProcessExpiries(ctx context.Context, creditTypes ...enums.CreditType) (Report, error)
	ExpireAllForTenant(ctx context.Context, tenantID uuid.UUID, reason string) (Report, error)
	ExtendExpiry(ctx context.Context, input ExtendInput) (int64, error)
	NotifyExpiring(ctx context.Context, within time.Duration) (int, error)
}

type ServiceParams struct {
	Tx          txRunner
	Allocations allocations.Repository
	Sweeper     allocationSweeper
	Balances    balance.Store
	Ledger      ledger.Service
	Outbox      outboxPublisher
	Campaigns   CampaignCloser
	Logger      *logger.Logger
	Metrics     *metrics.CreditMetrics
	BatchSize   int
	Now         func() time.Time
}

type service struct {
	tx          txRunner
	allocations allocations.Repository
	sweeper     allocationSweeper
	balances    balance.Store
	ledger      ledger.Service
	outbox      outboxPublisher
	campaigns   CampaignCloser
	logg        *logger.Logger
	metrics     *metrics.CreditMetrics
	batchSize   int
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Allocations == nil || params.Sweeper == nil:
		return nil, fmt.Errorf("allocation repository and sweeper required")
	case params.Balances == nil:
		return nil, fmt.Errorf("balance store required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:          params.Tx,
		allocations: params.Allocations,
		sweeper:     params.Sweeper,
		balances:    params.Balances,
		ledger:      params.Ledger,
		outbox:      params.Outbox,
		campaigns:   params.Campaigns,
		logg:        params.Logger,
		metrics:     params.Metrics,
		batchSize:   batch,
		now:         now,
	}, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// ProcessExpiries sweeps allocations and free sub-balances whose expiry has
// passed. With no credit types every category is swept; free sub-balances
// are only included when CreditTypeFree is requested or the filter is empty.
func (s *service) ProcessExpiries(ctx context.Context, creditTypes ...enums.CreditType) (Report, error) {
	for _, ct := range creditTypes {
		if !ct.IsValid() {
			return Report{}, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid credit type %q", ct)
		}
	}
	now := s.clock()
	report := Report{Failures: []Failure{}}

	if err := s.expireAllocations(ctx, now, creditTypes, &report); err != nil {
		return report, err
	}
	if includesFree(creditTypes) {
		if err := s.expireFreeBalances(ctx, now, &report); err != nil {
			return report, err
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"processed": report.ProcessedCount,
		"failures":  len(report.Failures),
	})
	if len(report.Failures) > 0 {
		s.logg.Warn(logCtx, "expiry sweep finished with failures")
	} else {
		s.logg.Info(logCtx, "expiry sweep finished")
	}
	return report, nil
}

// expireAllocations pages through every expired allocation. The cursor moves
// past rows that fail, so a stuck row never hides the ones behind it.
func (s *service) expireAllocations(ctx context.Context, now time.Time, creditTypes []enums.CreditType, report *Report) error {
	var after allocations.ExpiryCursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := s.allocations.ListExpired(ctx, now, creditTypes, after, s.batchSize)
		if err != nil {
			return err
		}
		for _, row := range rows {
			swept, err := s.sweepAllocation(ctx, row, ReasonExpired, false)
			switch {
			case err != nil:
				report.fail(row.ID, err)
			case swept:
				report.ProcessedCount++
			}
		}
		if len(rows) < s.batchSize {
			return nil
		}
		after = allocations.ExpiryCursorOf(rows[len(rows)-1])
	}
}

func (s *service) expireFreeBalances(ctx context.Context, now time.Time, report *Report) error {
	var after balance.ExpiryCursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		accounts, err := s.balances.ListFreeExpired(ctx, now, after, s.batchSize)
		if err != nil {
			return err
		}
		for _, account := range accounts {
			swept, err := s.sweepFree(ctx, account, ReasonExpired, false)
			switch {
			case err != nil:
				report.fail(account.ID, err)
			case swept:
				report.ProcessedCount++
			}
		}
		if len(accounts) < s.batchSize {
			return nil
		}
		last := accounts[len(accounts)-1]
		after = balance.ExpiryCursor{ID: last.ID}
		if last.FreeCreditsExpiresAt != nil {
			after.ExpiresAt = *last.FreeCreditsExpiresAt
		}
	}
}

// ExpireAllForTenant force-sweeps every active allocation and free
// sub-balance of the tenant regardless of expiry.
func (s *service) ExpireAllForTenant(ctx context.Context, tenantID uuid.UUID, reason string) (Report, error) {
	if tenantID == uuid.Nil {
		return Report{}, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Report{}, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	report := Report{Failures: []Failure{}}

	rows, err := s.allocations.ListActiveForTenant(ctx, tenantID)
	if err != nil {
		return report, err
	}
	for _, row := range rows {
		swept, err := s.forceSweepAllocation(ctx, row, reason)
		if err != nil {
			report.fail(row.ID, err)
			continue
		}
		if swept {
			report.ProcessedCount++
		}
	}

	accounts, err := s.balances.ListAccounts(ctx, tenantID)
	if err != nil {
		return report, err
	}
	for _, account := range accounts {
		if account.FreeCredits <= 0 {
			continue
		}
		swept, err := s.forceSweepFree(ctx, account, reason)
		if err != nil {
			report.fail(account.ID, err)
			continue
		}
		if swept {
			report.ProcessedCount++
		}
	}

	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"tenant_id": tenantID.String(),
		"reason":    reason,
		"processed": report.ProcessedCount,
		"failures":  len(report.Failures),
	}), "tenant credits force-expired")
	return report, nil
}

// ExtendExpiry only touches allocations that are still active, so a swept
// row is never resurrected.
func (s *service) ExtendExpiry(ctx context.Context, input ExtendInput) (int64, error) {
	if input.CampaignID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "campaign id is required")
	}
	if input.AdditionalDays <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "additional days must be positive")
	}
	by := time.Duration(input.AdditionalDays) * 24 * time.Hour
	extended, err := s.allocations.ExtendExpiry(ctx, input.CampaignID, input.TenantID, by)
	if err != nil {
		return extended, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"campaign_id":     input.CampaignID.String(),
		"additional_days": input.AdditionalDays,
		"extended":        extended,
	}), "allocation expiry extended")
	return extended, nil
}

// forceSweepAllocation sweeps whatever the allocation holds now. A consume
// that lands after the listing makes the snapshot stale, so the row is
// reloaded and swept again. A row that went inactive meanwhile counts as
// already swept; one that keeps changing is reported as a failure.
func (s *service) forceSweepAllocation(ctx context.Context, row models.CreditAllocation, reason string) (bool, error) {
	for attempt := 0; attempt < forcedSweepAttempts; attempt++ {
		if attempt > 0 {
			current, err := s.allocations.FindByID(ctx, row.ID)
			if err != nil {
				return false, err
			}
			if current == nil || !current.IsActive {
				return false, nil
			}
			row = *current
		}
		swept, err := s.sweepAllocation(ctx, row, reason, true)
		if err != nil || swept {
			return swept, err
		}
	}
	return false, pkgerrors.Newf(pkgerrors.CodeStateConflict,
		"allocation still changing after %d forced sweep attempts", forcedSweepAttempts)
}

// forceSweepFree is forceSweepAllocation for an account's free sub-balance.
func (s *service) forceSweepFree(ctx context.Context, account models.CreditAccount, reason string) (bool, error) {
	key := balance.Key{TenantID: account.TenantID, EntityID: account.EntityID}
	for attempt := 0; attempt < forcedSweepAttempts; attempt++ {
		if attempt > 0 {
			snap, err := s.balances.GetBalance(ctx, key)
			if err != nil {
				return false, err
			}
			if snap.FreeCredits <= 0 {
				return false, nil
			}
			account.FreeCredits = snap.FreeCredits
		}
		swept, err := s.sweepFree(ctx, account, reason, true)
		if err != nil || swept {
			return swept, err
		}
	}
	return false, pkgerrors.Newf(pkgerrors.CodeStateConflict,
		"free balance still changing after %d forced sweep attempts", forcedSweepAttempts)
}

func (s *service) sweepAllocation(ctx context.Context, row models.CreditAllocation, reason string, force bool) (bool, error) {
	var swept bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		swept, err = s.sweeper.Sweep(ctx, tx, row, reason, force)
		if err != nil || !swept || row.CampaignID == nil || s.campaigns == nil {
			return err
		}
		closed, err := s.campaigns.CloseIfDrained(ctx, tx, *row.CampaignID)
		if err != nil {
			return err
		}
		if closed {
			s.logg.Info(s.logg.WithField(ctx, "campaign_id", row.CampaignID.String()), "campaign expired")
		}
		return nil
	})
	return swept, err
}

// sweepFree zeroes an account's free sub-balance if it still holds the
// amount read by the scan.
func (s *service) sweepFree(ctx context.Context, account models.CreditAccount, reason string, force bool) (bool, error) {
	key := balance.Key{TenantID: account.TenantID, EntityID: account.EntityID}
	var swept bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.clock()
		mut, applied, err := s.balances.WithTx(tx).SweepFree(ctx, key, account.FreeCredits, now, force)
		if err != nil || !applied {
			return err
		}
		amount := mut.Previous - mut.New
		if _, err := s.ledger.Record(ctx, tx, ledger.Entry{
			TenantID:        key.TenantID,
			EntityID:        key.EntityID,
			Scope:           enums.LedgerScopeAccount,
			Type:            enums.TransactionExpiry,
			CreditType:      enums.CreditTypeFree,
			Amount:          -amount,
			PreviousBalance: mut.Previous,
			NewBalance:      mut.New,
			OperationCode:   opFreeExpire,
			InitiatedBy:     "system",
		}); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAllocationExpired,
			AggregateType: enums.AggregateCreditAccount,
			AggregateID:   mut.AccountID,
			Actor:         &outbox.ActorRef{InitiatedBy: "system", TenantID: key.TenantID},
			Data: payloads.AllocationExpiredEvent{
				TenantID:     key.TenantID,
				EntityID:     key.EntityID,
				CreditType:   enums.CreditTypeFree,
				SweptCredits: amount,
				Reason:       reason,
				ExpiredAt:    now,
			},
		}); err != nil {
			return err
		}
		s.metrics.AddExpired("free", amount)
		swept = true
		return nil
	})
	return swept, err
}

func includesFree(creditTypes []enums.CreditType) bool {
	if len(creditTypes) == 0 {
		return true
	}
	for _, ct := range creditTypes {
		if ct == enums.CreditTypeFree {
			return true
		}
	}
	return false
}
