package credits

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/reconciliation"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox/payloads"
)

const (
	opTransfer             = "credits.transfer"
	opTransferCompensation = "credits.transfer.compensation"
)

// Transfer debits from and credits to in two steps. If the credit step fails
// the debit is reversed with an adjustment row referencing the transfer.
func (s *service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	from := balance.Key{TenantID: input.TenantID, EntityID: input.FromEntityID}
	to := balance.Key{TenantID: input.TenantID, EntityID: input.ToEntityID}
	if err := from.Validate(); err != nil {
		return TransferResult{}, err
	}
	if err := to.Validate(); err != nil {
		return TransferResult{}, err
	}
	if from.EntityID == to.EntityID {
		return TransferResult{}, pkgerrors.New(pkgerrors.CodeValidation, "cannot transfer to the same entity")
	}
	if input.Amount <= 0 {
		return TransferResult{}, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be positive")
	}

	actor := actorOrSystem(input.InitiatedBy)
	transferID := uuid.New()
	result := TransferResult{TransferID: transferID}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":      input.TenantID.String(),
		"from_entity_id": from.EntityID.String(),
		"to_entity_id":   to.EntityID.String(),
		"amount":         input.Amount,
		"transfer_id":    transferID.String(),
	})

	var debited debitOutcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		debited, err = s.applyDebit(ctx, tx, debit{
			key:           from,
			amount:        input.Amount,
			txType:        enums.TransactionTransferOut,
			operationCode: opTransfer,
			referenceID:   &transferID,
			initiatedBy:   actor,
		})
		return err
	})
	if err != nil {
		s.metrics.Observe("transfer", metrics.OutcomeFailed, 0)
		return TransferResult{}, err
	}
	if !debited.applied {
		s.metrics.Observe("transfer", metrics.OutcomeInsufficient, 0)
		s.logg.Info(logCtx, "transfer rejected: insufficient credits")
		toSnap, err := s.balances.GetBalance(ctx, to)
		if err != nil {
			return TransferResult{}, err
		}
		result.Reason = ReasonInsufficientCredits
		result.FromBalance = debited.balance
		result.ToBalance = toSnap.AvailableCredits
		result.Shortfall = input.Amount - debited.balance
		return result, nil
	}

	var toBalance int64
	creditErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		mut, _, err := s.applyCredit(ctx, tx, credit{
			key:           to,
			amount:        input.Amount,
			txType:        enums.TransactionTransferIn,
			creditType:    enums.CreditTypePaid,
			source:        enums.SourceTransfer,
			operationCode: opTransfer,
			referenceID:   &transferID,
			initiatedBy:   actor,
		})
		if err != nil {
			return err
		}
		toBalance = mut.New
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditsTransferred,
			AggregateType: enums.AggregateTransfer,
			AggregateID:   transferID,
			Actor:         &outbox.ActorRef{InitiatedBy: actor, TenantID: input.TenantID},
			Data: payloads.CreditsTransferredEvent{
				TransferID:   transferID,
				TenantID:     input.TenantID,
				FromEntityID: from.EntityID,
				ToEntityID:   to.EntityID,
				Amount:       input.Amount,
			},
		})
	})
	if creditErr == nil {
		s.metrics.Observe("transfer", metrics.OutcomeSuccess, input.Amount)
		s.logg.Info(logCtx, "credits transferred")
		result.OK = true
		result.FromBalance = debited.balance
		result.ToBalance = toBalance
		return result, nil
	}

	s.logg.Error(logCtx, "transfer credit step failed; compensating", creditErr)
	restored, err := s.compensate(ctx, from, input.Amount, transferID, actor)
	if err != nil {
		s.metrics.Observe("transfer", metrics.OutcomeFailed, 0)
		s.logg.Error(logCtx, "transfer compensation failed", err)
		s.flagUnreversedTransfer(logCtx, input, transferID, creditErr, err)
		return TransferResult{}, pkgerrors.Wrap(pkgerrors.CodeConsistency, err,
			fmt.Sprintf("transfer %s: credit failed (%v) and compensation failed", transferID, creditErr))
	}
	s.metrics.Observe("transfer", metrics.OutcomeFailed, 0)
	s.logg.Warn(logCtx, "transfer rolled back")

	toSnap, err := s.balances.GetBalance(ctx, to)
	if err != nil {
		return TransferResult{}, err
	}
	result.Reason = ReasonTransferRolledBack
	result.FromBalance = restored
	result.ToBalance = toSnap.AvailableCredits
	return result, nil
}

func (s *service) compensate(ctx context.Context, from balance.Key, amount int64, transferID uuid.UUID, actor string) (int64, error) {
	var restored int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		mut, _, err := s.applyCredit(ctx, tx, credit{
			key:           from,
			amount:        amount,
			txType:        enums.TransactionAdjustment,
			creditType:    enums.CreditTypePaid,
			source:        enums.SourceTransfer,
			operationCode: opTransferCompensation,
			referenceID:   &transferID,
			initiatedBy:   actor,
		})
		restored = mut.New
		return err
	})
	return restored, err
}

// flagUnreversedTransfer records a debit that left the source account with no
// matching credit anywhere. The ledger still sums to the balance, so the
// account check cannot find it; the flag is the only trace.
func (s *service) flagUnreversedTransfer(ctx context.Context, input TransferInput, transferID uuid.UUID, creditErr, compensateErr error) {
	if s.flagger == nil {
		return
	}
	err := s.flagger.Flag(context.WithoutCancel(ctx), reconciliation.FlagInput{
		TenantID:     input.TenantID,
		ResourceType: enums.ReconciliationResourceTransfer,
		ResourceID:   transferID,
		Detail: fmt.Sprintf("transfer_out of %d from entity %s not reversed (to entity %s): credit: %v; compensation: %v",
			input.Amount, input.FromEntityID, input.ToEntityID, creditErr, compensateErr),
	})
	if err != nil {
		s.logg.Error(ctx, "failed to record reconciliation flag", err)
	}
}
