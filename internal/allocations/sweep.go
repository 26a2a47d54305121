package allocations

import (
	"context"

	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox/payloads"
)

const opExpire = "credits.allocation.expire"

// Sweep closes allocation inside tx: available drops to zero, the row goes
// inactive, and an expiry ledger row plus allocation_expired event are
// written. The update only lands if the row still matches the snapshot and,
// unless force is set, is still expired at the moment of the write. false
// means another writer got there first and nothing changed.
func (s *service) Sweep(ctx context.Context, tx *gorm.DB, allocation models.CreditAllocation, reason string, force bool) (bool, error) {
	now := s.clock()
	ok, err := s.repo.WithTx(tx).Expire(ctx, allocation.ID, allocation.AvailableCredits, now, force)
	if err != nil || !ok {
		return false, err
	}

	swept := allocation.AvailableCredits
	if swept > 0 {
		if _, err := s.ledger.Record(ctx, tx, ledger.Entry{
			TenantID:        allocation.TenantID,
			EntityID:        allocation.SourceEntityID,
			AllocationID:    &allocation.ID,
			Scope:           enums.LedgerScopeAllocation,
			Type:            enums.TransactionExpiry,
			CreditType:      allocation.CreditType,
			Amount:          -swept,
			PreviousBalance: swept,
			NewBalance:      0,
			OperationCode:   opExpire,
			ReferenceID:     allocation.CampaignID,
			InitiatedBy:     "system",
		}); err != nil {
			return false, err
		}
	}

	allocationID := allocation.ID
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAllocationExpired,
		AggregateType: enums.AggregateCreditAllocation,
		AggregateID:   allocation.ID,
		Actor:         &outbox.ActorRef{InitiatedBy: "system", TenantID: allocation.TenantID},
		Data: payloads.AllocationExpiredEvent{
			AllocationID: &allocationID,
			TenantID:     allocation.TenantID,
			EntityID:     allocation.SourceEntityID,
			CreditType:   allocation.CreditType,
			SweptCredits: swept,
			Reason:       reason,
			ExpiredAt:    now,
		},
	})
	if err != nil {
		return false, err
	}

	s.metrics.AddExpired("allocation", swept)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"allocation_id": allocation.ID.String(),
		"tenant_id":     allocation.TenantID.String(),
		"swept":         swept,
		"reason":        reason,
	}), "allocation swept")
	return true, nil
}
