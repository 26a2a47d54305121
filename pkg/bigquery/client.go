// Package bigquery streams ledger rows into the analytics warehouse.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

const setupTimeout = 15 * time.Second

var errNotInitialized = errors.New("bigquery client not initialized")

// LedgerSchema mirrors credit_transactions. Amounts are whole credits.
var LedgerSchema = bigquery.Schema{
	{Name: "id", Type: bigquery.StringFieldType, Required: true},
	{Name: "tenant_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "entity_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "allocation_id", Type: bigquery.StringFieldType},
	{Name: "scope", Type: bigquery.StringFieldType, Required: true},
	{Name: "transaction_type", Type: bigquery.StringFieldType, Required: true},
	{Name: "credit_type", Type: bigquery.StringFieldType},
	{Name: "amount", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "previous_balance", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "new_balance", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "operation_code", Type: bigquery.StringFieldType},
	{Name: "source", Type: bigquery.StringFieldType},
	{Name: "reference_id", Type: bigquery.StringFieldType},
	{Name: "initiated_by", Type: bigquery.StringFieldType},
	{Name: "metadata", Type: bigquery.JSONFieldType},
	{Name: "created_at", Type: bigquery.TimestampFieldType, Required: true},
}

// Client owns one dataset and the ledger export table inside it.
type Client struct {
	bq    *bigquery.Client
	ds    *bigquery.Dataset
	table string
}

// NewClient connects and makes sure the ledger table exists, creating it
// partitioned by day on created_at when it does not. The dataset itself must
// already exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	dataset := strings.TrimSpace(cfg.Dataset)
	table := strings.TrimSpace(cfg.LedgerTable)
	switch {
	case project == "":
		return nil, errors.New("gcp project id is required")
	case dataset == "":
		return nil, errors.New("bigquery dataset is required")
	case table == "":
		return nil, errors.New("bigquery ledger table is required")
	}

	bq, err := bigquery.NewClient(ctx, project, credentialOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{bq: bq, ds: bq.Dataset(dataset), table: table}

	created, err := c.ensureLedgerTable(ctx)
	if err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset":       dataset,
			"table":         table,
			"table_created": created,
		}), "bigquery client initialized")
	}
	return c, nil
}

// credentialOptions prefers inline JSON over a key file; neither means ADC.
func credentialOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// LedgerTable is the table export rows are written to.
func (c *Client) LedgerTable() string {
	if c == nil {
		return ""
	}
	return c.table
}

func ledgerTableMetadata() *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		Description: "Append-only credit ledger exported from credit_transactions",
		Schema:      LedgerSchema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "created_at",
		},
		Clustering: &bigquery.Clustering{Fields: []string{"tenant_id", "entity_id"}},
	}
}

func (c *Client) ensureLedgerTable(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	if _, err := c.ds.Metadata(ctx); err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return false, fmt.Errorf("dataset %q does not exist", c.ds.DatasetID)
		}
		return false, fmt.Errorf("checking dataset %q: %w", c.ds.DatasetID, err)
	}

	ref := c.ds.Table(c.table)
	_, err := ref.Metadata(ctx)
	if err == nil {
		return false, nil
	}
	if httpStatus(err) != http.StatusNotFound {
		return false, fmt.Errorf("checking table %q: %w", c.table, err)
	}
	if err := ref.Create(ctx, ledgerTableMetadata()); err != nil && httpStatus(err) != http.StatusConflict {
		return false, fmt.Errorf("creating table %q: %w", c.table, err)
	}
	return true, nil
}

// Ping checks that the ledger table is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.bq == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()
	_, err := c.ds.Table(c.table).Metadata(ctx)
	return err
}

// InsertRows streams rows into table. Rows implementing bigquery.ValueSaver
// carry their own insert ids so a resent batch is deduplicated. A partial
// failure is reported as *RowErrors.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.bq == nil {
		return errNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errors.New("bigquery table name is required")
	}
	if len(rows) == 0 {
		return nil
	}
	err := c.ds.Table(table).Inserter().Put(ctx, rows)
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		return newRowErrors(len(rows), multi)
	}
	return err
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

// RowErrors summarizes a partially rejected insert.
type RowErrors struct {
	Total  int
	Failed map[int]string
}

func newRowErrors(total int, multi bigquery.PutMultiError) *RowErrors {
	re := &RowErrors{Total: total, Failed: make(map[int]string, len(multi))}
	for _, rowErr := range multi {
		msgs := make([]string, 0, len(rowErr.Errors))
		for _, e := range rowErr.Errors {
			msgs = append(msgs, e.Error())
		}
		re.Failed[rowErr.RowIndex] = strings.Join(msgs, "; ")
	}
	return re
}

func (e *RowErrors) Error() string {
	first := -1
	for idx := range e.Failed {
		if first == -1 || idx < first {
			first = idx
		}
	}
	return fmt.Sprintf("bigquery rejected %d of %d rows (first: row %d: %s)", len(e.Failed), e.Total, first, e.Failed[first])
}

func httpStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
