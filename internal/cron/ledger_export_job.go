package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/redis/go-redis/v9"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

const (
	defaultExportBatchSize   = 500
	defaultExportSettleDelay = time.Minute
	defaultExportMaxBatches  = 20
)

type ledgerPager interface {
	Page(ctx context.Context, cursor ledger.Cursor, until time.Time, limit int) ([]models.CreditTransaction, ledger.Cursor, error)
}

type rowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type cursorStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type LedgerExportJobParams struct {
	Logger    *logger.Logger
	Ledger    ledgerPager
	Inserter  rowInserter
	Table     string
	Cursors   cursorStore
	CursorKey string
	BatchSize int
	// SettleDelay keeps the export behind rows whose transactions may still
	// be committing with an earlier created_at.
	SettleDelay time.Duration
	MaxBatches  int
}

// NewLedgerExportJob streams new ledger rows to BigQuery. The cursor only
// advances after a batch is accepted, so a failed run re-sends the same rows
// and BigQuery drops the duplicates by insert id.
func NewLedgerExportJob(params LedgerExportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Inserter == nil {
		return nil, fmt.Errorf("bigquery inserter required")
	}
	if params.Table == "" {
		return nil, fmt.Errorf("export table required")
	}
	if params.Cursors == nil || params.CursorKey == "" {
		return nil, fmt.Errorf("cursor store and key required")
	}
	job := &ledgerExportJob{
		logg:       params.Logger,
		ledger:     params.Ledger,
		inserter:   params.Inserter,
		table:      params.Table,
		cursors:    params.Cursors,
		cursorKey:  params.CursorKey,
		batchSize:  params.BatchSize,
		settle:     params.SettleDelay,
		maxBatches: params.MaxBatches,
		now:        time.Now,
	}
	if job.batchSize <= 0 {
		job.batchSize = defaultExportBatchSize
	}
	if job.settle <= 0 {
		job.settle = defaultExportSettleDelay
	}
	if job.maxBatches <= 0 {
		job.maxBatches = defaultExportMaxBatches
	}
	return job, nil
}

type ledgerExportJob struct {
	logg       *logger.Logger
	ledger     ledgerPager
	inserter   rowInserter
	table      string
	cursors    cursorStore
	cursorKey  string
	batchSize  int
	settle     time.Duration
	maxBatches int
	now        func() time.Time
}

func (j *ledgerExportJob) Name() string { return "ledger-export" }

func (j *ledgerExportJob) Run(ctx context.Context) error {
	cursor, err := j.loadCursor(ctx)
	if err != nil {
		return err
	}
	until := j.now().Add(-j.settle)

	exported := 0
	for batch := 0; batch < j.maxBatches; batch++ {
		rows, next, err := j.ledger.Page(ctx, cursor, until, j.batchSize)
		if err != nil {
			return fmt.Errorf("read ledger page: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		savers := make([]any, 0, len(rows))
		for _, row := range rows {
			savers = append(savers, ledgerExportRow{tx: row})
		}
		if err := j.inserter.InsertRows(ctx, j.table, savers); err != nil {
			return fmt.Errorf("insert %d ledger rows: %w", len(rows), err)
		}
		if err := j.cursors.Set(ctx, j.cursorKey, next.String(), 0); err != nil {
			return fmt.Errorf("save export cursor: %w", err)
		}
		cursor = next
		exported += len(rows)

		if len(rows) < j.batchSize {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"exported": exported,
		"cursor":   cursor.String(),
		"table":    j.table,
	}), "ledger export complete")
	return nil
}

func (j *ledgerExportJob) loadCursor(ctx context.Context) (ledger.Cursor, error) {
	raw, err := j.cursors.Get(ctx, j.cursorKey)
	if errors.Is(err, redis.Nil) {
		return ledger.Cursor{}, nil
	}
	if err != nil {
		return ledger.Cursor{}, fmt.Errorf("load export cursor: %w", err)
	}
	return ledger.ParseCursor(raw)
}

type ledgerExportRow struct {
	tx models.CreditTransaction
}

// Save implements bigquery.ValueSaver with the ledger id as insert id.
func (r ledgerExportRow) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"id":               r.tx.ID.String(),
		"tenant_id":        r.tx.TenantID.String(),
		"entity_id":        r.tx.EntityID.String(),
		"allocation_id":    nil,
		"scope":            string(r.tx.Scope),
		"transaction_type": string(r.tx.TransactionType),
		"credit_type":      string(r.tx.CreditType),
		"amount":           r.tx.Amount,
		"previous_balance": r.tx.PreviousBalance,
		"new_balance":      r.tx.NewBalance,
		"operation_code":   r.tx.OperationCode,
		"source":           r.tx.Source,
		"reference_id":     nil,
		"initiated_by":     r.tx.InitiatedBy,
		"metadata":         nil,
		"created_at":       r.tx.CreatedAt.UTC(),
	}
	if r.tx.AllocationID != nil {
		row["allocation_id"] = r.tx.AllocationID.String()
	}
	if r.tx.ReferenceID != nil {
		row["reference_id"] = r.tx.ReferenceID.String()
	}
	if len(r.tx.Metadata) > 0 {
		row["metadata"] = string(r.tx.Metadata)
	}
	return row, r.tx.ID.String(), nil
}
