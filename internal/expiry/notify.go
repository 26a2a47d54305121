package expiry

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox/payloads"
)

// NotifyExpiring queues one allocation_expiring event per active allocation
// that lapses within the window. An allocation is only ever warned once.
func (s *service) NotifyExpiring(ctx context.Context, within time.Duration) (int, error) {
	if within <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "warning window must be positive")
	}
	now := s.clock()
	rows, err := s.allocations.ListExpiringBetween(ctx, now, now.Add(within), s.batchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, row := range rows {
		var written bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			written, err = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventAllocationExpiring,
				AggregateType: enums.AggregateCreditAllocation,
				AggregateID:   row.ID,
				Actor:         &outbox.ActorRef{InitiatedBy: "system", TenantID: row.TenantID},
				Data: payloads.AllocationExpiringEvent{
					AllocationID:      row.ID,
					TenantID:          row.TenantID,
					SourceEntityID:    row.SourceEntityID,
					TargetApplication: row.TargetApplication,
					AvailableCredits:  row.AvailableCredits,
					ExpiresAt:         *row.ExpiresAt,
					CampaignID:        row.CampaignID,
				},
			})
			return err
		})
		if err != nil {
			return queued, err
		}
		if written {
			queued++
		}
	}
	if queued > 0 {
		s.logg.Info(s.logg.WithField(ctx, "queued", queued), "expiring allocation warnings queued")
	}
	return queued, nil
}
