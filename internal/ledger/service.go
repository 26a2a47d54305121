package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	dbtypes "github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/types"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/types"
)

// Service records and reads the append-only credit ledger.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.CreditTransaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.CreditTransaction, error)
	History(ctx context.Context, tenantID, entityID uuid.UUID, limit int) ([]models.CreditTransaction, error)
	AllocationHistory(ctx context.Context, allocationID uuid.UUID) ([]models.CreditTransaction, error)
	AccountTotal(ctx context.Context, tenantID, entityID uuid.UUID) (int64, error)
	AllocationTotal(ctx context.Context, allocationID uuid.UUID) (int64, error)
	CountAllocationEntries(ctx context.Context, allocationID uuid.UUID, txType enums.TransactionType) (int64, error)
	Page(ctx context.Context, cursor Cursor, until time.Time, limit int) ([]models.CreditTransaction, Cursor, error)
}

// Cursor is a position in the global ledger order. The zero value starts
// from the first row.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// String encodes the cursor for storage outside the database.
func (c Cursor) String() string {
	if c.CreatedAt.IsZero() {
		return ""
	}
	return c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
}

// ParseCursor reverses Cursor.String. An empty string is the zero cursor.
func ParseCursor(raw string) (Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Cursor{}, nil
	}
	at, id, ok := strings.Cut(raw, "|")
	if !ok {
		return Cursor{}, fmt.Errorf("malformed ledger cursor %q", raw)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Cursor{}, fmt.Errorf("parse ledger cursor time: %w", err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return Cursor{}, fmt.Errorf("parse ledger cursor id: %w", err)
	}
	return Cursor{CreatedAt: createdAt, ID: parsedID}, nil
}

type service struct {
	repo Repository
}

// Entry captures one balance mutation. Amount is signed: positive credits,
// negative debits. Previous and New must come from the same locked update
// that produced the mutation.
type Entry struct {
	TenantID        uuid.UUID
	EntityID        uuid.UUID
	AllocationID    *uuid.UUID
	Scope           enums.LedgerScope
	Type            enums.TransactionType
	CreditType      enums.CreditType
	Amount          int64
	PreviousBalance int64
	NewBalance      int64
	OperationCode   string
	Source          string
	IdempotencyKey  string
	ReferenceID     *uuid.UUID
	InitiatedBy     string
	Metadata        types.OperationMetadata
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (e Entry) validate() error {
	if e.TenantID == uuid.Nil || e.EntityID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant and entity ids are required")
	}
	if !e.Scope.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid ledger scope %q", e.Scope)
	}
	if e.Scope == enums.LedgerScopeAllocation && (e.AllocationID == nil || *e.AllocationID == uuid.Nil) {
		return pkgerrors.New(pkgerrors.CodeValidation, "allocation entries require an allocation id")
	}
	if !e.Type.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid transaction type %q", e.Type)
	}
	if !e.CreditType.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid credit type %q", e.CreditType)
	}
	if e.Amount == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger amount must be non-zero")
	}
	if strings.TrimSpace(e.InitiatedBy) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "initiated_by is required")
	}
	if e.NewBalance-e.PreviousBalance != e.Amount {
		return pkgerrors.Newf(pkgerrors.CodeConsistency,
			"ledger amount %d does not match balance change %d -> %d", e.Amount, e.PreviousBalance, e.NewBalance)
	}
	if e.NewBalance < 0 {
		return pkgerrors.Newf(pkgerrors.CodeConsistency, "ledger balance would be negative (%d)", e.NewBalance)
	}
	return e.Metadata.Validate()
}

// Record inserts the entry inside tx so it commits or rolls back with the
// balance write it describes.
func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.CreditTransaction, error) {
	if err := entry.validate(); err != nil {
		return nil, err
	}

	row := &models.CreditTransaction{
		TenantID:        entry.TenantID,
		EntityID:        entry.EntityID,
		AllocationID:    entry.AllocationID,
		Scope:           entry.Scope,
		TransactionType: entry.Type,
		CreditType:      entry.CreditType,
		Amount:          entry.Amount,
		PreviousBalance: entry.PreviousBalance,
		NewBalance:      entry.NewBalance,
		OperationCode:   entry.OperationCode,
		Source:          entry.Source,
		ReferenceID:     entry.ReferenceID,
		InitiatedBy:     entry.InitiatedBy,
	}
	if key := strings.TrimSpace(entry.IdempotencyKey); key != "" {
		row.IdempotencyKey = &key
	}
	if !entry.Metadata.IsZero() {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid metadata")
		}
		row.Metadata = dbtypes.JSONB(raw)
	}

	if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *service) FindByIdempotencyKey(ctx context.Context, key string) (*models.CreditTransaction, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	return s.repo.FindByIdempotencyKey(ctx, key)
}

func (s *service) History(ctx context.Context, tenantID, entityID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	if tenantID == uuid.Nil || entityID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant and entity ids are required")
	}
	return s.repo.ListForAccount(ctx, tenantID, entityID, limit)
}

func (s *service) AllocationHistory(ctx context.Context, allocationID uuid.UUID) ([]models.CreditTransaction, error) {
	if allocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation id is required")
	}
	return s.repo.ListForAllocation(ctx, allocationID)
}

func (s *service) AccountTotal(ctx context.Context, tenantID, entityID uuid.UUID) (int64, error) {
	return s.repo.SumAccount(ctx, tenantID, entityID)
}

func (s *service) AllocationTotal(ctx context.Context, allocationID uuid.UUID) (int64, error) {
	return s.repo.SumAllocation(ctx, allocationID)
}

func (s *service) CountAllocationEntries(ctx context.Context, allocationID uuid.UUID, txType enums.TransactionType) (int64, error) {
	return s.repo.CountForAllocation(ctx, allocationID, txType)
}

// Page returns up to limit rows after cursor and the cursor of the last row
// returned. With no rows the input cursor comes back unchanged.
func (s *service) Page(ctx context.Context, cursor Cursor, until time.Time, limit int) ([]models.CreditTransaction, Cursor, error) {
	rows, err := s.repo.ListAfter(ctx, cursor, until, limit)
	if err != nil {
		return nil, cursor, err
	}
	if len(rows) == 0 {
		return rows, cursor, nil
	}
	last := rows[len(rows)-1]
	return rows, Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}
