package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreditAccount is the balance held by one entity of a tenant. FreeCredits is
// the expiring portion of AvailableCredits and is spent first.
type CreditAccount struct {
	ID                   uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TenantID             uuid.UUID  `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_credit_accounts_tenant_entity,priority:1"`
	EntityID             uuid.UUID  `gorm:"column:entity_id;type:uuid;not null;uniqueIndex:ux_credit_accounts_tenant_entity,priority:2"`
	AvailableCredits     int64      `gorm:"column:available_credits;not null;default:0"`
	ReservedCredits      int64      `gorm:"column:reserved_credits;not null;default:0"`
	FreeCredits          int64      `gorm:"column:free_credits;not null;default:0"`
	FreeCreditsExpiresAt *time.Time `gorm:"column:free_credits_expires_at"`
	IsActive             bool       `gorm:"column:is_active;not null;default:true"`
	LastUpdatedAt        time.Time  `gorm:"column:last_updated_at;not null"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (CreditAccount) TableName() string { return "credit_accounts" }

func (a *CreditAccount) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	if a.LastUpdatedAt.IsZero() {
		a.LastUpdatedAt = time.Now().UTC()
	}
	return nil
}
