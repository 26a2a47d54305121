package allocations

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/reconciliation"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
)

const defaultVerifyBatch = 200

// VerifyReport summarises a VerifyActive pass.
type VerifyReport struct {
	Checked int
	Flagged int
}

// VerifyActive walks every active allocation and flags rows whose counters
// disagree with each other or with their allocation-scope ledger sum.
func (s *service) VerifyActive(ctx context.Context, batchSize int) (VerifyReport, error) {
	if batchSize <= 0 {
		batchSize = defaultVerifyBatch
	}
	var (
		report VerifyReport
		cursor uuid.UUID
	)
	for {
		rows, err := s.repo.ListActiveBatch(ctx, cursor, batchSize)
		if err != nil {
			return report, err
		}
		for _, row := range rows {
			report.Checked++
			detail := ""
			if !row.Balanced() {
				detail = fmt.Sprintf("allocated=%d used=%d available=%d", row.AllocatedCredits, row.UsedCredits, row.AvailableCredits)
			} else {
				total, err := s.ledger.AllocationTotal(ctx, row.ID)
				if err != nil {
					return report, err
				}
				if total != row.AvailableCredits {
					detail = fmt.Sprintf("ledger sum %d != available %d", total, row.AvailableCredits)
				}
			}
			if detail == "" || s.flagger == nil {
				continue
			}
			if err := s.flagger.Flag(ctx, reconciliation.FlagInput{
				TenantID:     row.TenantID,
				ResourceType: enums.ReconciliationResourceAllocation,
				ResourceID:   row.ID,
				Detail:       detail,
			}); err != nil {
				return report, err
			}
			report.Flagged++
		}
		if len(rows) < batchSize {
			return report, nil
		}
		cursor = rows[len(rows)-1].ID
	}
}
