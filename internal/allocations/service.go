package allocations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/reconciliation"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/types"
)

// Reasons reported with OK=false.
const (
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonAllocationInactive  = "allocation_inactive"
	ReasonAllocationExpired   = "allocation_expired"
)

// SweepReasonSuperseded marks an expired allocation closed because a new
// allocation was opened for the same scope.
const SweepReasonSuperseded = "superseded"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service manages allocations: sub-ledgers carved out of an account for one
// consuming application.
type Service interface {
	Allocate(ctx context.Context, input AllocateInput) (AllocateResult, error)
	ConsumeFromAllocation(ctx context.Context, input ConsumeInput) (ConsumeResult, error)
	ListAllocations(ctx context.Context, tenantID, entityID uuid.UUID) ([]models.CreditAllocation, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CreditAllocation, error)
	Sweep(ctx context.Context, tx *gorm.DB, allocation models.CreditAllocation, reason string, force bool) (bool, error)
	VerifyActive(ctx context.Context, batchSize int) (VerifyReport, error)
}

// AllocateInput moves Amount from the source account into the allocation
// identified by (tenant, source, application, credit type, campaign).
type AllocateInput struct {
	TenantID          uuid.UUID
	SourceEntityID    uuid.UUID
	TargetApplication string
	Amount            int64
	CreditType        enums.CreditType
	Purpose           string
	CampaignID        *uuid.UUID
	ExpiresAt         *time.Time
	AutoReplenish     bool
	InitiatedBy       string
}

type AllocateResult struct {
	OK                bool       `json:"ok"`
	Reason            string     `json:"reason,omitempty"`
	Shortfall         int64      `json:"shortfall,omitempty"`
	AllocationID      *uuid.UUID `json:"allocation_id,omitempty"`
	Created           bool       `json:"created"`
	SourceBalance     int64      `json:"source_balance"`
	AllocationBalance int64      `json:"allocation_balance"`
}

type ConsumeInput struct {
	AllocationID  uuid.UUID
	Amount        int64
	OperationCode string
	InitiatedBy   string
	Metadata      types.OperationMetadata
}

type ConsumeResult struct {
	OK            bool       `json:"ok"`
	Reason        string     `json:"reason,omitempty"`
	Shortfall     int64      `json:"shortfall,omitempty"`
	Available     int64      `json:"available"`
	Replenished   int64      `json:"replenished,omitempty"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
}

type ServiceParams struct {
	Tx         txRunner
	Repository Repository
	Balances   balance.Store
	Ledger     ledger.Service
	Outbox     outboxPublisher
	Flagger    reconciliation.Flagger
	Logger     *logger.Logger
	Metrics    *metrics.CreditMetrics
	Now        func() time.Time
}

type service struct {
	tx       txRunner
	repo     Repository
	balances balance.Store
	ledger   ledger.Service
	outbox   outboxPublisher
	flagger  reconciliation.Flagger
	logg     *logger.Logger
	metrics  *metrics.CreditMetrics
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("allocation repository required")
	case params.Balances == nil:
		return nil, fmt.Errorf("balance store required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:       params.Tx,
		repo:     params.Repository,
		balances: params.Balances,
		ledger:   params.Ledger,
		outbox:   params.Outbox,
		flagger:  params.Flagger,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// ScopeKey is the identity top-ups are merged on.
func ScopeKey(tenantID, sourceEntityID uuid.UUID, application string, creditType enums.CreditType, campaignID *uuid.UUID) string {
	campaign := "-"
	if campaignID != nil {
		campaign = campaignID.String()
	}
	return strings.Join([]string{
		tenantID.String(),
		sourceEntityID.String(),
		strings.ToLower(strings.TrimSpace(application)),
		string(creditType),
		campaign,
	}, "|")
}

func (s *service) ListAllocations(ctx context.Context, tenantID, entityID uuid.UUID) ([]models.CreditAllocation, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	return s.repo.ListActive(ctx, tenantID, entityID)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.CreditAllocation, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation id is required")
	}
	allocation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if allocation == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "allocation not found")
	}
	return allocation, nil
}

// checkBalanced reloads the allocation inside tx and fails with a consistency
// error if allocated != used + available. The row is returned either way.
func (s *service) checkBalanced(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.CreditAllocation, error) {
	allocation, err := s.repo.WithTx(tx).FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if allocation == nil {
		return nil, fmt.Errorf("credit allocation %s vanished", id)
	}
	if !allocation.Balanced() {
		return allocation, pkgerrors.Newf(pkgerrors.CodeConsistency,
			"allocation %s out of balance: allocated=%d used=%d available=%d",
			allocation.ID, allocation.AllocatedCredits, allocation.UsedCredits, allocation.AvailableCredits).
			WithDetails(map[string]any{"tenant_id": allocation.TenantID.String()})
	}
	return allocation, nil
}

// flagIfInconsistent records a reconciliation flag for consistency errors.
// It runs after the failed transaction has rolled back.
func (s *service) flagIfInconsistent(ctx context.Context, tenantID, allocationID uuid.UUID, err error) {
	if s.flagger == nil || !pkgerrors.IsCode(err, pkgerrors.CodeConsistency) {
		return
	}
	flagErr := s.flagger.Flag(ctx, reconciliation.FlagInput{
		TenantID:     tenantID,
		ResourceType: enums.ReconciliationResourceAllocation,
		ResourceID:   allocationID,
		Detail:       err.Error(),
	})
	if flagErr != nil {
		s.logg.Error(s.logg.WithField(ctx, "allocation_id", allocationID.String()), "failed to record reconciliation flag", flagErr)
	}
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}
