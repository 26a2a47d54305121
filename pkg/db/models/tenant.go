package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the read model of billing customers owned by the tenant service.
type Tenant struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name         string    `gorm:"column:name;type:text;not null"`
	RootEntityID uuid.UUID `gorm:"column:root_entity_id;type:uuid;not null"`
	IsActive     bool      `gorm:"column:is_active;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Tenant) TableName() string { return "tenants" }
