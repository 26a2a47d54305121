package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/reconciliation"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/types"
)

// Result reasons returned with OK=false.
const (
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonTransferRolledBack  = "transfer_rolled_back"
)

const (
	defaultHistoryLimit        = 50
	defaultLowBalanceThreshold = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the account-level credit engine: consumption, purchases and
// transfers.
type Service interface {
	Consume(ctx context.Context, input ConsumeInput) (ConsumeResult, error)
	AddCredits(ctx context.Context, input AddCreditsInput) (AddCreditsResult, error)
	Transfer(ctx context.Context, input TransferInput) (TransferResult, error)
	GetBalance(ctx context.Context, tenantID, entityID uuid.UUID) (balance.Snapshot, error)
	History(ctx context.Context, tenantID, entityID uuid.UUID, limit int) ([]models.CreditTransaction, error)
}

// ConsumeInput describes one metered operation.
type ConsumeInput struct {
	TenantID      uuid.UUID
	EntityID      uuid.UUID
	OperationCode string
	CreditCost    int64
	InitiatedBy   string
	Metadata      types.OperationMetadata
}

// ConsumeResult is returned for both outcomes; insufficient balance is not an error.
type ConsumeResult struct {
	OK            bool       `json:"ok"`
	Balance       int64      `json:"balance"`
	Reason        string     `json:"reason,omitempty"`
	Shortfall     int64      `json:"shortfall,omitempty"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
}

// AddCreditsInput describes a purchase or grant.
type AddCreditsInput struct {
	TenantID       uuid.UUID
	EntityID       uuid.UUID
	Amount         int64
	Source         enums.CreditSource
	CreditType     enums.CreditType
	IdempotencyKey string
	ExpiresAt      *time.Time
	InitiatedBy    string
	Metadata       types.OperationMetadata
}

// AddCreditsResult reports the balance after the credit. Replayed is set when
// the idempotency key had already been applied.
type AddCreditsResult struct {
	OK            bool      `json:"ok"`
	Balance       int64     `json:"balance"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Replayed      bool      `json:"replayed"`
}

// TransferInput moves credits between two entities of one tenant.
type TransferInput struct {
	TenantID     uuid.UUID
	FromEntityID uuid.UUID
	ToEntityID   uuid.UUID
	Amount       int64
	InitiatedBy  string
}

// TransferResult is all-or-nothing from the caller's point of view.
type TransferResult struct {
	OK          bool      `json:"ok"`
	TransferID  uuid.UUID `json:"transfer_id"`
	Reason      string    `json:"reason,omitempty"`
	FromBalance int64     `json:"from_balance"`
	ToBalance   int64     `json:"to_balance"`
	Shortfall   int64     `json:"shortfall,omitempty"`
}

type ServiceParams struct {
	Tx                  txRunner
	Balances            balance.Store
	Ledger              ledger.Service
	Outbox              outboxPublisher
	Payments            PaymentConfirmer
	Flagger             reconciliation.Flagger
	Logger              *logger.Logger
	Metrics             *metrics.CreditMetrics
	LowBalanceThreshold int64
	Now                 func() time.Time
}

type service struct {
	tx           txRunner
	balances     balance.Store
	ledger       ledger.Service
	outbox       outboxPublisher
	payments     PaymentConfirmer
	flagger      reconciliation.Flagger
	logg         *logger.Logger
	metrics      *metrics.CreditMetrics
	lowThreshold int64
	now          func() time.Time
}

// NewService builds the credit engine. Payments may be nil, in which case
// gateway sources are applied without confirmation. Flagger may be nil; a
// transfer that cannot be reversed is then only logged.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Balances == nil {
		return nil, fmt.Errorf("balance store required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	threshold := params.LowBalanceThreshold
	if threshold <= 0 {
		threshold = defaultLowBalanceThreshold
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:           params.Tx,
		balances:     params.Balances,
		ledger:       params.Ledger,
		outbox:       params.Outbox,
		payments:     params.Payments,
		flagger:      params.Flagger,
		logg:         params.Logger,
		metrics:      params.Metrics,
		lowThreshold: threshold,
		now:          now,
	}, nil
}

func (s *service) GetBalance(ctx context.Context, tenantID, entityID uuid.UUID) (balance.Snapshot, error) {
	key := balance.Key{TenantID: tenantID, EntityID: entityID}
	if err := key.Validate(); err != nil {
		return balance.Snapshot{}, err
	}
	return s.balances.GetBalance(ctx, key)
}

func (s *service) History(ctx context.Context, tenantID, entityID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.ledger.History(ctx, tenantID, entityID, limit)
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}
