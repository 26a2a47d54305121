package allocations

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

// Repository persists credit allocations. Every balance-changing method is a
// conditional UPDATE whose RowsAffected tells the caller whether it won.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, allocation *models.CreditAllocation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CreditAllocation, error)
	FindActiveByScope(ctx context.Context, scopeKey string) (*models.CreditAllocation, error)
	FindForCampaign(ctx context.Context, campaignID, tenantID uuid.UUID) (*models.CreditAllocation, error)
	TopUp(ctx context.Context, id uuid.UUID, amount int64, expiresAt *time.Time, now time.Time) (bool, error)
	Consume(ctx context.Context, id uuid.UUID, amount int64, now time.Time) (bool, error)
	Expire(ctx context.Context, id uuid.UUID, expected int64, now time.Time, force bool) (bool, error)
	ExtendExpiry(ctx context.Context, campaignID uuid.UUID, tenantID *uuid.UUID, by time.Duration) (int64, error)
	ListActive(ctx context.Context, tenantID, entityID uuid.UUID) ([]models.CreditAllocation, error)
	ListActiveForTenant(ctx context.Context, tenantID uuid.UUID) ([]models.CreditAllocation, error)
	ListExpired(ctx context.Context, now time.Time, creditTypes []enums.CreditType, after ExpiryCursor, limit int) ([]models.CreditAllocation, error)
	ListExpiringBetween(ctx context.Context, from, until time.Time, limit int) ([]models.CreditAllocation, error)
	ListActiveBatch(ctx context.Context, afterID uuid.UUID, limit int) ([]models.CreditAllocation, error)
	CountActiveForCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error)
}

// ExpiryCursor is a position in (expires_at, id) order. The zero value starts
// at the beginning.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        uuid.UUID
}

// ExpiryCursorOf returns the cursor just past row.
func ExpiryCursorOf(row models.CreditAllocation) ExpiryCursor {
	c := ExpiryCursor{ID: row.ID}
	if row.ExpiresAt != nil {
		c.ExpiresAt = *row.ExpiresAt
	}
	return c
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an allocation repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, allocation *models.CreditAllocation) error {
	return r.db.WithContext(ctx).Create(allocation).Error
}

func (r *repository) take(query *gorm.DB) (*models.CreditAllocation, error) {
	var allocation models.CreditAllocation
	err := query.Take(&allocation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credit allocation: %w", err)
	}
	return &allocation, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CreditAllocation, error) {
	return r.take(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindActiveByScope(ctx context.Context, scopeKey string) (*models.CreditAllocation, error) {
	return r.take(r.db.WithContext(ctx).Where("scope_key = ? AND is_active = ?", scopeKey, true))
}

// FindForCampaign returns the tenant's allocation for the campaign whether or
// not it is still active, preferring a live row.
func (r *repository) FindForCampaign(ctx context.Context, campaignID, tenantID uuid.UUID) (*models.CreditAllocation, error) {
	return r.take(r.db.WithContext(ctx).
		Where("campaign_id = ? AND tenant_id = ?", campaignID, tenantID).
		Order("is_active DESC").
		Order("created_at DESC"))
}

func (r *repository) active(ctx context.Context, id uuid.UUID, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.CreditAllocation{}).
		Where("id = ? AND is_active = ?", id, true).
		Where("expires_at IS NULL OR expires_at > ?", now)
}

// TopUp adds amount to a live allocation. A later expiresAt extends the row;
// an earlier one is ignored.
func (r *repository) TopUp(ctx context.Context, id uuid.UUID, amount int64, expiresAt *time.Time, now time.Time) (bool, error) {
	updates := map[string]any{
		"allocated_credits": gorm.Expr("allocated_credits + ?", amount),
		"available_credits": gorm.Expr("available_credits + ?", amount),
		"updated_at":        now,
	}
	if expiresAt != nil {
		updates["expires_at"] = gorm.Expr(
			"CASE WHEN expires_at IS NOT NULL AND expires_at < ? THEN ? ELSE expires_at END",
			*expiresAt, *expiresAt,
		)
	}
	res := r.active(ctx, id, now).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("top up credit allocation: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Consume(ctx context.Context, id uuid.UUID, amount int64, now time.Time) (bool, error) {
	res := r.active(ctx, id, now).
		Where("available_credits >= ?", amount).
		Updates(map[string]any{
			"available_credits": gorm.Expr("available_credits - ?", amount),
			"used_credits":      gorm.Expr("used_credits + ?", amount),
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("consume credit allocation: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Expire deactivates the allocation if it is still active, still holds
// expected credits and, unless forced, is still past its expiry at now.
func (r *repository) Expire(ctx context.Context, id uuid.UUID, expected int64, now time.Time, force bool) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.CreditAllocation{}).
		Where("id = ? AND is_active = ? AND available_credits = ?", id, true, expected)
	if !force {
		query = query.Where("expires_at IS NOT NULL AND expires_at <= ?", now)
	}
	res := query.Updates(map[string]any{
		"is_active":         false,
		"available_credits": 0,
		"updated_at":        now,
	})
	if res.Error != nil {
		return false, fmt.Errorf("expire credit allocation: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// extendAttempts bounds the reload-and-retry loop when an extension races
// another write to expires_at.
const extendAttempts = 3

// ExtendExpiry pushes every active allocation of the campaign forward by by.
// Each row is extended relative to the expiry stored at write time.
func (r *repository) ExtendExpiry(ctx context.Context, campaignID uuid.UUID, tenantID *uuid.UUID, by time.Duration) (int64, error) {
	var rows []models.CreditAllocation
	query := r.db.WithContext(ctx).
		Where("campaign_id = ? AND is_active = ? AND expires_at IS NOT NULL", campaignID, true)
	if tenantID != nil {
		query = query.Where("tenant_id = ?", *tenantID)
	}
	if err := query.Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("list campaign allocations: %w", err)
	}

	var extended int64
	for _, row := range rows {
		ok, err := r.extendRow(ctx, row, by)
		for attempt := 1; err == nil && !ok && attempt < extendAttempts; attempt++ {
			current, findErr := r.FindByID(ctx, row.ID)
			if findErr != nil {
				return extended, findErr
			}
			if current == nil || !current.IsActive || current.ExpiresAt == nil {
				break
			}
			ok, err = r.extendRow(ctx, *current, by)
		}
		if err != nil {
			return extended, err
		}
		if ok {
			extended++
		}
	}
	return extended, nil
}

// extendRow moves expires_at forward from the value in row. The write only
// lands while the stored expiry still equals that value.
func (r *repository) extendRow(ctx context.Context, row models.CreditAllocation, by time.Duration) (bool, error) {
	next := row.ExpiresAt.Add(by).UTC()
	res := r.db.WithContext(ctx).
		Model(&models.CreditAllocation{}).
		Where("id = ? AND is_active = ? AND expires_at = ?", row.ID, true, *row.ExpiresAt).
		Updates(map[string]any{"expires_at": next})
	if res.Error != nil {
		return false, fmt.Errorf("extend credit allocation: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListActive(ctx context.Context, tenantID, entityID uuid.UUID) ([]models.CreditAllocation, error) {
	var rows []models.CreditAllocation
	query := r.db.WithContext(ctx).Where("tenant_id = ? AND is_active = ?", tenantID, true)
	if entityID != uuid.Nil {
		query = query.Where("source_entity_id = ?", entityID)
	}
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list credit allocations: %w", err)
	}
	return rows, nil
}

func (r *repository) ListActiveForTenant(ctx context.Context, tenantID uuid.UUID) ([]models.CreditAllocation, error) {
	return r.ListActive(ctx, tenantID, uuid.Nil)
}

// ListExpired pages active allocations whose expiry has passed, in
// (expires_at, id) order starting after the cursor.
func (r *repository) ListExpired(ctx context.Context, now time.Time, creditTypes []enums.CreditType, after ExpiryCursor, limit int) ([]models.CreditAllocation, error) {
	var rows []models.CreditAllocation
	query := r.db.WithContext(ctx).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now)
	if len(creditTypes) > 0 {
		query = query.Where("credit_type IN ?", creditTypes)
	}
	if !after.ExpiresAt.IsZero() {
		query = query.Where("expires_at > ? OR (expires_at = ? AND id > ?)", after.ExpiresAt, after.ExpiresAt, after.ID)
	}
	query = query.Order("expires_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list expired allocations: %w", err)
	}
	return rows, nil
}

func (r *repository) ListExpiringBetween(ctx context.Context, from, until time.Time, limit int) ([]models.CreditAllocation, error) {
	var rows []models.CreditAllocation
	query := r.db.WithContext(ctx).
		Where("is_active = ? AND available_credits > 0", true).
		Where("expires_at > ? AND expires_at <= ?", from, until).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list expiring allocations: %w", err)
	}
	return rows, nil
}

// ListActiveBatch pages through active allocations in id order.
func (r *repository) ListActiveBatch(ctx context.Context, afterID uuid.UUID, limit int) ([]models.CreditAllocation, error) {
	var rows []models.CreditAllocation
	query := r.db.WithContext(ctx).Where("is_active = ?", true)
	if afterID != uuid.Nil {
		query = query.Where("id > ?", afterID)
	}
	query = query.Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("page active allocations: %w", err)
	}
	return rows, nil
}

func (r *repository) CountActiveForCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditAllocation{}).
		Where("campaign_id = ? AND is_active = ?", campaignID, true).
		Count(&count).Error
	return count, err
}
