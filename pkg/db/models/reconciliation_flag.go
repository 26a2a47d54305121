package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
)

// ReconciliationFlag marks a record whose invariants failed and which needs a
// human to reconcile it.
type ReconciliationFlag struct {
	ID           uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey"`
	TenantID     uuid.UUID                    `gorm:"column:tenant_id;type:uuid;not null;index"`
	ResourceType enums.ReconciliationResource `gorm:"column:resource_type;type:text;not null"`
	ResourceID   uuid.UUID                    `gorm:"column:resource_id;type:uuid;not null"`
	Detail       string                       `gorm:"column:detail;type:text;not null"`
	Status       enums.ReconciliationStatus   `gorm:"column:status;type:text;not null"`
	CreatedAt    time.Time                    `gorm:"column:created_at;autoCreateTime"`
	ResolvedAt   *time.Time                   `gorm:"column:resolved_at"`
}

func (ReconciliationFlag) TableName() string { return "reconciliation_flags" }

func (f *ReconciliationFlag) BeforeCreate(*gorm.DB) error {
	ensureID(&f.ID)
	if f.Status == "" {
		f.Status = enums.ReconciliationStatusOpen
	}
	return nil
}
