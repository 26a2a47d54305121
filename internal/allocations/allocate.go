package allocations

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
)

const opAllocate = "credits.allocate"

func (in AllocateInput) normalize() (AllocateInput, error) {
	key := balance.Key{TenantID: in.TenantID, EntityID: in.SourceEntityID}
	if err := key.Validate(); err != nil {
		return in, err
	}
	in.TargetApplication = strings.ToLower(strings.TrimSpace(in.TargetApplication))
	if in.TargetApplication == "" {
		return in, pkgerrors.New(pkgerrors.CodeValidation, "target application is required")
	}
	if in.Amount <= 0 {
		return in, pkgerrors.New(pkgerrors.CodeValidation, "allocation amount must be positive")
	}
	if in.CreditType == "" {
		in.CreditType = enums.CreditTypePaid
	}
	if !in.CreditType.IsValid() {
		return in, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid credit type %q", in.CreditType)
	}
	if in.CampaignID != nil && *in.CampaignID == uuid.Nil {
		in.CampaignID = nil
	}
	if in.ExpiresAt != nil {
		expires := in.ExpiresAt.UTC()
		in.ExpiresAt = &expires
	}
	in.InitiatedBy = actorOrSystem(in.InitiatedBy)
	return in, nil
}

// Allocate debits the source account and credits the scope's allocation in
// one transaction. An insufficient source yields OK=false and writes nothing.
func (s *service) Allocate(ctx context.Context, input AllocateInput) (AllocateResult, error) {
	in, err := input.normalize()
	if err != nil {
		return AllocateResult{}, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":          in.TenantID.String(),
		"source_entity_id":   in.SourceEntityID.String(),
		"target_application": in.TargetApplication,
		"amount":             in.Amount,
	})

	var result AllocateResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.allocate(ctx, tx, in)
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			err = pkgerrors.Wrap(pkgerrors.CodeConflict, err, "allocation scope changed concurrently; retry")
		}
		if result.AllocationID != nil {
			s.flagIfInconsistent(ctx, in.TenantID, *result.AllocationID, err)
		}
		s.metrics.Observe("allocate", metrics.OutcomeFailed, 0)
		return AllocateResult{}, err
	}
	if !result.OK {
		s.metrics.Observe("allocate", metrics.OutcomeInsufficient, 0)
		s.logg.Info(logCtx, "allocation rejected: insufficient credits")
		return result, nil
	}

	s.metrics.Observe("allocate", metrics.OutcomeSuccess, in.Amount)
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"allocation_id": result.AllocationID.String(),
		"created":       result.Created,
	}), "credits allocated")
	return result, nil
}

func (s *service) allocate(ctx context.Context, tx *gorm.DB, in AllocateInput) (AllocateResult, error) {
	now := s.clock()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return AllocateResult{}, pkgerrors.New(pkgerrors.CodeValidation, "allocation expiry must be in the future")
	}
	key := balance.Key{TenantID: in.TenantID, EntityID: in.SourceEntityID}

	mut, applied, err := s.balances.WithTx(tx).Debit(ctx, key, in.Amount, now)
	if err != nil {
		return AllocateResult{}, err
	}
	if !applied {
		return AllocateResult{
			Reason:        ReasonInsufficientCredits,
			Shortfall:     in.Amount - mut.New,
			SourceBalance: mut.New,
		}, nil
	}

	repo := s.repo.WithTx(tx)
	scopeKey := ScopeKey(in.TenantID, in.SourceEntityID, in.TargetApplication, in.CreditType, in.CampaignID)
	existing, err := repo.FindActiveByScope(ctx, scopeKey)
	if err != nil {
		return AllocateResult{}, err
	}
	if existing != nil && existing.ExpiredAt(now) {
		if _, err := s.Sweep(ctx, tx, *existing, SweepReasonSuperseded, false); err != nil {
			return AllocateResult{}, err
		}
		existing = nil
	}

	result := AllocateResult{OK: true, SourceBalance: mut.New}
	var allocationID uuid.UUID
	if existing != nil {
		allocationID = existing.ID
		ok, err := repo.TopUp(ctx, existing.ID, in.Amount, in.ExpiresAt, now)
		if err != nil {
			return AllocateResult{}, err
		}
		if !ok {
			return AllocateResult{}, pkgerrors.New(pkgerrors.CodeConflict, "allocation closed while topping up; retry")
		}
	} else {
		row := &models.CreditAllocation{
			TenantID:          in.TenantID,
			SourceEntityID:    in.SourceEntityID,
			TargetApplication: in.TargetApplication,
			CreditType:        in.CreditType,
			AllocatedCredits:  in.Amount,
			AvailableCredits:  in.Amount,
			CampaignID:        in.CampaignID,
			ExpiresAt:         in.ExpiresAt,
			AutoReplenish:     in.AutoReplenish,
			IsActive:          true,
			ScopeKey:          scopeKey,
			Purpose:           strings.TrimSpace(in.Purpose),
		}
		if err := repo.Create(ctx, row); err != nil {
			return AllocateResult{}, err
		}
		allocationID = row.ID
		result.Created = true
	}
	result.AllocationID = &allocationID

	allocation, err := s.checkBalanced(ctx, tx, allocationID)
	if err != nil {
		return result, err
	}
	result.AllocationBalance = allocation.AvailableCredits

	if _, err := s.ledger.Record(ctx, tx, ledger.Entry{
		TenantID:        in.TenantID,
		EntityID:        in.SourceEntityID,
		Scope:           enums.LedgerScopeAccount,
		Type:            enums.TransactionAllocation,
		CreditType:      in.CreditType,
		Amount:          -in.Amount,
		PreviousBalance: mut.Previous,
		NewBalance:      mut.New,
		OperationCode:   opAllocate,
		ReferenceID:     &allocationID,
		InitiatedBy:     in.InitiatedBy,
	}); err != nil {
		return result, err
	}
	if _, err := s.ledger.Record(ctx, tx, ledger.Entry{
		TenantID:        in.TenantID,
		EntityID:        in.SourceEntityID,
		AllocationID:    &allocationID,
		Scope:           enums.LedgerScopeAllocation,
		Type:            enums.TransactionAllocation,
		CreditType:      in.CreditType,
		Amount:          in.Amount,
		PreviousBalance: allocation.AvailableCredits - in.Amount,
		NewBalance:      allocation.AvailableCredits,
		OperationCode:   opAllocate,
		InitiatedBy:     in.InitiatedBy,
	}); err != nil {
		return result, err
	}
	return result, nil
}
