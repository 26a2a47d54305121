package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/allocations"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/reconciliation"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

const (
	defaultReconcileLookback = 24 * time.Hour
	defaultReconcileBatch    = 500
)

type accountChecker interface {
	CheckAccounts(ctx context.Context, since time.Time, limit int) (reconciliation.CheckReport, error)
}

type allocationVerifier interface {
	VerifyActive(ctx context.Context, batchSize int) (allocations.VerifyReport, error)
}

type ReconciliationJobParams struct {
	Logger      *logger.Logger
	Accounts    accountChecker
	Allocations allocationVerifier
	Lookback    time.Duration
	BatchSize   int
}

// NewReconciliationJob compares recently touched accounts and every active
// allocation against their ledger sums and flags drift. It never corrects
// balances.
func NewReconciliationJob(params ReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Accounts == nil || params.Allocations == nil {
		return nil, fmt.Errorf("account checker and allocation verifier required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &reconciliationJob{
		logg:        params.Logger,
		accounts:    params.Accounts,
		allocations: params.Allocations,
		lookback:    lookback,
		batch:       batch,
		now:         time.Now,
	}, nil
}

type reconciliationJob struct {
	logg        *logger.Logger
	accounts    accountChecker
	allocations allocationVerifier
	lookback    time.Duration
	batch       int
	now         func() time.Time
}

func (j *reconciliationJob) Name() string { return "ledger-reconciliation" }

func (j *reconciliationJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	accountReport, accountErr := j.accounts.CheckAccounts(ctx, since, j.batch)
	allocationReport, allocationErr := j.allocations.VerifyActive(ctx, j.batch)

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"since":               since,
		"accounts_checked":    accountReport.Checked,
		"accounts_flagged":    accountReport.Flagged,
		"allocations_checked": allocationReport.Checked,
		"allocations_flagged": allocationReport.Flagged,
	}), "ledger reconciliation complete")

	if accountErr != nil {
		accountErr = fmt.Errorf("check accounts: %w", accountErr)
	}
	if allocationErr != nil {
		allocationErr = fmt.Errorf("verify allocations: %w", allocationErr)
	}
	return multierr.Combine(accountErr, allocationErr)
}
