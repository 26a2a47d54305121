package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
)

// CreditAllocation earmarks credits from a source entity for one application.
// ScopeKey is unique among active rows so top-ups land on a single row.
type CreditAllocation struct {
	ID                uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	TenantID          uuid.UUID        `gorm:"column:tenant_id;type:uuid;not null;index"`
	SourceEntityID    uuid.UUID        `gorm:"column:source_entity_id;type:uuid;not null"`
	TargetApplication string           `gorm:"column:target_application;type:text;not null"`
	CreditType        enums.CreditType `gorm:"column:credit_type;type:text;not null"`
	AllocatedCredits  int64            `gorm:"column:allocated_credits;not null;default:0"`
	UsedCredits       int64            `gorm:"column:used_credits;not null;default:0"`
	AvailableCredits  int64            `gorm:"column:available_credits;not null;default:0"`
	CampaignID        *uuid.UUID       `gorm:"column:campaign_id;type:uuid;index"`
	ExpiresAt         *time.Time       `gorm:"column:expires_at;index"`
	AutoReplenish     bool             `gorm:"column:auto_replenish;not null;default:false"`
	IsActive          bool             `gorm:"column:is_active;not null;default:true"`
	ScopeKey          string           `gorm:"column:scope_key;type:text;not null;uniqueIndex:ux_credit_allocations_active_scope,where:is_active = true"`
	Purpose           string           `gorm:"column:purpose;type:text"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (CreditAllocation) TableName() string { return "credit_allocations" }

func (a *CreditAllocation) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// Balanced reports whether used + available still equals allocated. Swept
// rows are exempt since the sweep zeroes available without touching used.
func (a CreditAllocation) Balanced() bool {
	if !a.IsActive {
		return a.AvailableCredits == 0
	}
	return a.UsedCredits+a.AvailableCredits == a.AllocatedCredits
}

// ExpiredAt reports whether the allocation is past its expiry at now.
func (a CreditAllocation) ExpiredAt(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}
