package allocations

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
)

const opReplenish = "credits.allocation.replenish"

// ConsumeFromAllocation moves Amount from available to used on one
// allocation. The source account is not touched unless the allocation
// auto-replenishes and is short.
func (s *service) ConsumeFromAllocation(ctx context.Context, input ConsumeInput) (ConsumeResult, error) {
	if input.AllocationID == uuid.Nil {
		return ConsumeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "allocation id is required")
	}
	if input.Amount <= 0 {
		return ConsumeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	operation := strings.TrimSpace(input.OperationCode)
	if operation == "" {
		return ConsumeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "operation code is required")
	}
	if err := input.Metadata.Validate(); err != nil {
		return ConsumeResult{}, err
	}
	input.OperationCode = operation
	input.InitiatedBy = actorOrSystem(input.InitiatedBy)

	var (
		result   ConsumeResult
		tenantID uuid.UUID
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, tenantID, err = s.consume(ctx, tx, input)
		return err
	})
	if err != nil {
		s.flagIfInconsistent(ctx, tenantID, input.AllocationID, err)
		s.metrics.Observe("allocation_consume", metrics.OutcomeFailed, 0)
		return ConsumeResult{}, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"allocation_id":  input.AllocationID.String(),
		"operation_code": operation,
		"amount":         input.Amount,
		"available":      result.Available,
	})
	if !result.OK {
		s.metrics.Observe("allocation_consume", metrics.OutcomeInsufficient, 0)
		s.logg.Info(s.logg.WithField(logCtx, "reason", result.Reason), "allocation consumption rejected")
		return result, nil
	}
	s.metrics.Observe("allocation_consume", metrics.OutcomeSuccess, input.Amount)
	s.logg.Info(logCtx, "allocation credits consumed")
	return result, nil
}

func (s *service) consume(ctx context.Context, tx *gorm.DB, in ConsumeInput) (ConsumeResult, uuid.UUID, error) {
	now := s.clock()
	repo := s.repo.WithTx(tx)

	ok, err := repo.Consume(ctx, in.AllocationID, in.Amount, now)
	if err != nil {
		return ConsumeResult{}, uuid.Nil, err
	}

	var replenished int64
	if !ok {
		current, err := repo.FindByID(ctx, in.AllocationID)
		if err != nil {
			return ConsumeResult{}, uuid.Nil, err
		}
		if current == nil {
			return ConsumeResult{}, uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "allocation not found")
		}
		switch {
		case !current.IsActive:
			return ConsumeResult{Reason: ReasonAllocationInactive}, current.TenantID, nil
		case current.ExpiredAt(now):
			return ConsumeResult{Reason: ReasonAllocationExpired, Available: current.AvailableCredits}, current.TenantID, nil
		}

		shortfall := in.Amount - current.AvailableCredits
		insufficient := ConsumeResult{
			Reason:    ReasonInsufficientCredits,
			Shortfall: shortfall,
			Available: current.AvailableCredits,
		}
		if !current.AutoReplenish {
			return insufficient, current.TenantID, nil
		}
		topped, err := s.replenish(ctx, tx, *current, shortfall, in.InitiatedBy)
		if err != nil || !topped {
			return insufficient, current.TenantID, err
		}
		replenished = shortfall
		ok, err = repo.Consume(ctx, in.AllocationID, in.Amount, now)
		if err != nil {
			return ConsumeResult{}, current.TenantID, err
		}
		if !ok {
			return ConsumeResult{}, current.TenantID, pkgerrors.New(pkgerrors.CodeConflict, "allocation changed during replenishment; retry")
		}
	}

	allocation, err := s.checkBalanced(ctx, tx, in.AllocationID)
	if err != nil {
		tenantID := uuid.Nil
		if allocation != nil {
			tenantID = allocation.TenantID
		}
		return ConsumeResult{}, tenantID, err
	}

	row, err := s.ledger.Record(ctx, tx, ledger.Entry{
		TenantID:        allocation.TenantID,
		EntityID:        allocation.SourceEntityID,
		AllocationID:    &allocation.ID,
		Scope:           enums.LedgerScopeAllocation,
		Type:            enums.TransactionConsumption,
		CreditType:      allocation.CreditType,
		Amount:          -in.Amount,
		PreviousBalance: allocation.AvailableCredits + in.Amount,
		NewBalance:      allocation.AvailableCredits,
		OperationCode:   in.OperationCode,
		InitiatedBy:     in.InitiatedBy,
		Metadata:        in.Metadata,
	})
	if err != nil {
		return ConsumeResult{}, allocation.TenantID, err
	}
	txID := row.ID
	return ConsumeResult{
		OK:            true,
		Available:     allocation.AvailableCredits,
		Replenished:   replenished,
		TransactionID: &txID,
	}, allocation.TenantID, nil
}

// replenish debits the source account by amount and tops the allocation up
// with it. false means the source could not cover the amount.
func (s *service) replenish(ctx context.Context, tx *gorm.DB, allocation models.CreditAllocation, amount int64, actor string) (bool, error) {
	now := s.clock()
	key := balance.Key{TenantID: allocation.TenantID, EntityID: allocation.SourceEntityID}
	mut, applied, err := s.balances.WithTx(tx).Debit(ctx, key, amount, now)
	if err != nil || !applied {
		return false, err
	}
	ok, err := s.repo.WithTx(tx).TopUp(ctx, allocation.ID, amount, nil, now)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "allocation closed during replenishment; retry")
	}
	topped, err := s.repo.WithTx(tx).FindByID(ctx, allocation.ID)
	if err != nil {
		return false, err
	}
	if topped == nil {
		return false, pkgerrors.New(pkgerrors.CodeNotFound, "allocation not found")
	}

	if _, err := s.ledger.Record(ctx, tx, ledger.Entry{
		TenantID:        allocation.TenantID,
		EntityID:        allocation.SourceEntityID,
		Scope:           enums.LedgerScopeAccount,
		Type:            enums.TransactionAllocation,
		CreditType:      allocation.CreditType,
		Amount:          -amount,
		PreviousBalance: mut.Previous,
		NewBalance:      mut.New,
		OperationCode:   opReplenish,
		ReferenceID:     &allocation.ID,
		InitiatedBy:     actor,
	}); err != nil {
		return false, err
	}
	if _, err := s.ledger.Record(ctx, tx, ledger.Entry{
		TenantID:        allocation.TenantID,
		EntityID:        allocation.SourceEntityID,
		AllocationID:    &allocation.ID,
		Scope:           enums.LedgerScopeAllocation,
		Type:            enums.TransactionAllocation,
		CreditType:      allocation.CreditType,
		Amount:          amount,
		PreviousBalance: topped.AvailableCredits - amount,
		NewBalance:      topped.AvailableCredits,
		OperationCode:   opReplenish,
		InitiatedBy:     actor,
	}); err != nil {
		return false, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"allocation_id": allocation.ID.String(),
		"replenished":   amount,
	}), "allocation auto-replenished from source account")
	return true, nil
}
