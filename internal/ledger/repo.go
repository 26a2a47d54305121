package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
)

// Repository manages persistence for credit transactions. Rows are only ever
// inserted; nothing here updates or deletes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.CreditTransaction) error
	FindByIdempotencyKey(ctx context.Context, key string) (*models.CreditTransaction, error)
	ListForAccount(ctx context.Context, tenantID, entityID uuid.UUID, limit int) ([]models.CreditTransaction, error)
	ListForAllocation(ctx context.Context, allocationID uuid.UUID) ([]models.CreditTransaction, error)
	SumAccount(ctx context.Context, tenantID, entityID uuid.UUID) (int64, error)
	SumAllocation(ctx context.Context, allocationID uuid.UUID) (int64, error)
	CountForAllocation(ctx context.Context, allocationID uuid.UUID, txType enums.TransactionType) (int64, error)
	ListAfter(ctx context.Context, cursor Cursor, until time.Time, limit int) ([]models.CreditTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.CreditTransaction, error) {
	var entry models.CreditTransaction
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListForAccount(ctx context.Context, tenantID, entityID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	var entries []models.CreditTransaction
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_id = ? AND scope = ?", tenantID, entityID, enums.LedgerScopeAccount).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListForAllocation(ctx context.Context, allocationID uuid.UUID) ([]models.CreditTransaction, error) {
	var entries []models.CreditTransaction
	if err := r.db.WithContext(ctx).
		Where("allocation_id = ? AND scope = ?", allocationID, enums.LedgerScopeAllocation).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) SumAccount(ctx context.Context, tenantID, entityID uuid.UUID) (int64, error) {
	return r.sum(ctx, r.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Where("tenant_id = ? AND entity_id = ? AND scope = ?", tenantID, entityID, enums.LedgerScopeAccount))
}

func (r *repository) SumAllocation(ctx context.Context, allocationID uuid.UUID) (int64, error) {
	return r.sum(ctx, r.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Where("allocation_id = ? AND scope = ?", allocationID, enums.LedgerScopeAllocation))
}

func (r *repository) sum(_ context.Context, query *gorm.DB) (int64, error) {
	var total int64
	if err := query.Select("COALESCE(SUM(amount), 0)").Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum ledger amounts: %w", err)
	}
	return total, nil
}

func (r *repository) CountForAllocation(ctx context.Context, allocationID uuid.UUID, txType enums.TransactionType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Where("allocation_id = ? AND scope = ? AND transaction_type = ?", allocationID, enums.LedgerScopeAllocation, txType).
		Count(&count).Error
	return count, err
}

// ListAfter pages the whole ledger in (created_at, id) order, starting after
// cursor and stopping at until.
func (r *repository) ListAfter(ctx context.Context, cursor Cursor, until time.Time, limit int) ([]models.CreditTransaction, error) {
	var entries []models.CreditTransaction
	query := r.db.WithContext(ctx).Where("created_at <= ?", until)
	if !cursor.CreatedAt.IsZero() {
		query = query.Where("created_at > ? OR (created_at = ? AND id > ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	query = query.Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list ledger page: %w", err)
	}
	return entries, nil
}
