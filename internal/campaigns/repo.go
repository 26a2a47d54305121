package campaigns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	dbtypes "github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/types"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
)

// Repository persists campaigns. Status changes are compare-and-set on the
// current status.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, campaign *models.Campaign) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	SetTargets(ctx context.Context, id uuid.UUID, targets []uuid.UUID) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.CampaignStatus) (bool, error)
	RecordCounts(ctx context.Context, id uuid.UUID, distributed, failed int) error
	ListByStatus(ctx context.Context, status enums.CampaignStatus, updatedBefore time.Time, limit int) ([]models.Campaign, error)
	CloseIfDrained(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, campaign *models.Campaign) error {
	return r.db.WithContext(ctx).Create(campaign).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	return &campaign, nil
}

// SetTargets freezes the resolved tenant list so a resumed run computes the
// same shares. It only writes when no targets are stored yet.
func (r *repository) SetTargets(ctx context.Context, id uuid.UUID, targets []uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ? AND (target_tenant_ids IS NULL OR target_tenant_ids = ?)", id, dbtypes.UUIDArray{}).
		Update("target_tenant_ids", dbtypes.UUIDArray(targets)).Error
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.CampaignStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, fmt.Errorf("transition campaign %s -> %s: %w", from, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) RecordCounts(ctx context.Context, id uuid.UUID, distributed, failed int) error {
	return r.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"distributed_count": distributed,
			"failed_count":      failed,
		}).Error
}

func (r *repository) ListByStatus(ctx context.Context, status enums.CampaignStatus, updatedBefore time.Time, limit int) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	query := r.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", status, updatedBefore).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

// CloseIfDrained expires a distributed campaign once none of its allocations
// remain active.
func (r *repository) CloseIfDrained(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (bool, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	res := db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, enums.CampaignStatusDistributed).
		Where("NOT EXISTS (SELECT 1 FROM credit_allocations a WHERE a.campaign_id = ? AND a.is_active = ?)", campaignID, true).
		Update("status", enums.CampaignStatusExpired)
	if res.Error != nil {
		return false, fmt.Errorf("close campaign: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
