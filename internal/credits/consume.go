package credits

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox/payloads"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/types"
)

// debit describes one account-scope debit and the ledger row it produces.
type debit struct {
	key           balance.Key
	amount        int64
	txType        enums.TransactionType
	operationCode string
	referenceID   *uuid.UUID
	initiatedBy   string
	metadata      types.OperationMetadata
}

// debitOutcome is the result of applyDebit. When applied is false the
// balance is the untouched current balance.
type debitOutcome struct {
	applied       bool
	balance       int64
	transactionID uuid.UUID
}

// applyDebit runs the conditional decrement and, if it took effect, records
// the ledger row and low-balance event in the same transaction.
func (s *service) applyDebit(ctx context.Context, tx *gorm.DB, d debit) (debitOutcome, error) {
	mut, applied, err := s.balances.WithTx(tx).Debit(ctx, d.key, d.amount, s.clock())
	if err != nil {
		return debitOutcome{}, err
	}
	if !applied {
		return debitOutcome{balance: mut.New}, nil
	}

	transactionID, err := s.recordDebit(ctx, tx, d, mut)
	if err != nil {
		return debitOutcome{}, err
	}

	if mut.Previous >= s.lowThreshold && mut.New < s.lowThreshold {
		err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditsLowBalance,
			AggregateType: enums.AggregateCreditAccount,
			AggregateID:   mut.AccountID,
			Actor:         &outbox.ActorRef{InitiatedBy: d.initiatedBy, TenantID: d.key.TenantID},
			Data: payloads.LowBalanceEvent{
				TenantID:  d.key.TenantID,
				EntityID:  d.key.EntityID,
				Balance:   mut.New,
				Threshold: s.lowThreshold,
			},
		})
		if err != nil {
			return debitOutcome{}, err
		}
	}

	return debitOutcome{applied: true, balance: mut.New, transactionID: transactionID}, nil
}

// recordDebit writes one ledger row per credit type the debit drew from. Free
// credits are consumed first, so a mixed debit yields a free row followed by
// a paid row and the returned id is the paid one.
func (s *service) recordDebit(ctx context.Context, tx *gorm.DB, d debit, mut balance.Mutation) (uuid.UUID, error) {
	parts := []struct {
		creditType enums.CreditType
		amount     int64
	}{
		{enums.CreditTypeFree, mut.FreeUsed},
		{enums.CreditTypePaid, d.amount - mut.FreeUsed},
	}

	var lastID uuid.UUID
	running := mut.Previous
	for _, part := range parts {
		if part.amount <= 0 {
			continue
		}
		row, err := s.ledger.Record(ctx, tx, ledger.Entry{
			TenantID:        d.key.TenantID,
			EntityID:        d.key.EntityID,
			Scope:           enums.LedgerScopeAccount,
			Type:            d.txType,
			CreditType:      part.creditType,
			Amount:          -part.amount,
			PreviousBalance: running,
			NewBalance:      running - part.amount,
			OperationCode:   d.operationCode,
			ReferenceID:     d.referenceID,
			InitiatedBy:     d.initiatedBy,
			Metadata:        d.metadata,
		})
		if err != nil {
			return uuid.Nil, err
		}
		running -= part.amount
		lastID = row.ID
	}
	return lastID, nil
}

func (s *service) Consume(ctx context.Context, input ConsumeInput) (ConsumeResult, error) {
	key := balance.Key{TenantID: input.TenantID, EntityID: input.EntityID}
	if err := key.Validate(); err != nil {
		return ConsumeResult{}, err
	}
	if input.CreditCost <= 0 {
		return ConsumeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "credit cost must be positive")
	}
	operation := strings.TrimSpace(input.OperationCode)
	if operation == "" {
		return ConsumeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "operation code is required")
	}
	if err := input.Metadata.Validate(); err != nil {
		return ConsumeResult{}, err
	}

	var outcome debitOutcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		outcome, err = s.applyDebit(ctx, tx, debit{
			key:           key,
			amount:        input.CreditCost,
			txType:        enums.TransactionConsumption,
			operationCode: operation,
			initiatedBy:   actorOrSystem(input.InitiatedBy),
			metadata:      input.Metadata,
		})
		return err
	})
	if err != nil {
		s.metrics.Observe("consume", metrics.OutcomeFailed, 0)
		return ConsumeResult{}, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":      key.TenantID.String(),
		"entity_id":      key.EntityID.String(),
		"operation_code": operation,
		"credit_cost":    input.CreditCost,
		"balance":        outcome.balance,
	})
	if !outcome.applied {
		s.metrics.Observe("consume", metrics.OutcomeInsufficient, 0)
		s.logg.Info(logCtx, "credit consumption rejected: insufficient credits")
		return ConsumeResult{
			OK:        false,
			Balance:   outcome.balance,
			Reason:    ReasonInsufficientCredits,
			Shortfall: input.CreditCost - outcome.balance,
		}, nil
	}

	s.metrics.Observe("consume", metrics.OutcomeSuccess, input.CreditCost)
	s.logg.Info(logCtx, "credits consumed")
	txID := outcome.transactionID
	return ConsumeResult{OK: true, Balance: outcome.balance, TransactionID: &txID}, nil
}
