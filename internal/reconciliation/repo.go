package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
)

// Repository persists reconciliation flags.
type Repository interface {
	Create(ctx context.Context, flag *models.ReconciliationFlag) error
	FindOpen(ctx context.Context, resourceType enums.ReconciliationResource, resourceID uuid.UUID) (*models.ReconciliationFlag, error)
	ListOpen(ctx context.Context, limit int) ([]models.ReconciliationFlag, error)
	Resolve(ctx context.Context, id uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, flag *models.ReconciliationFlag) error {
	return r.db.WithContext(ctx).Create(flag).Error
}

func (r *repository) FindOpen(ctx context.Context, resourceType enums.ReconciliationResource, resourceID uuid.UUID) (*models.ReconciliationFlag, error) {
	var flag models.ReconciliationFlag
	err := r.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ? AND status = ?", resourceType, resourceID, enums.ReconciliationStatusOpen).
		Take(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

func (r *repository) ListOpen(ctx context.Context, limit int) ([]models.ReconciliationFlag, error) {
	var flags []models.ReconciliationFlag
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.ReconciliationStatusOpen).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return flags, query.Find(&flags).Error
}

func (r *repository) Resolve(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.ReconciliationFlag{}).
		Where("id = ? AND status = ?", id, enums.ReconciliationStatusOpen).
		Updates(map[string]any{
			"status":      enums.ReconciliationStatusResolved,
			"resolved_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "open reconciliation flag not found")
	}
	return nil
}
