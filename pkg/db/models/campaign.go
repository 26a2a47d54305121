package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/types"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
)

// Campaign is an operator-defined bulk distribution of credits.
type Campaign struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	Name               string                   `gorm:"column:campaign_name;type:text;not null"`
	CreditType         enums.CreditType         `gorm:"column:credit_type;type:text;not null"`
	TotalCredits       int64                    `gorm:"column:total_credits;not null"`
	DistributionMethod enums.DistributionMethod `gorm:"column:distribution_method;type:text;not null"`
	TargetTenantIDs    dbtypes.UUIDArray        `gorm:"column:target_tenant_ids"`
	TargetAllTenants   bool                     `gorm:"column:target_all_tenants;not null;default:false"`
	Weights            dbtypes.DecimalMap       `gorm:"column:weights"`
	CustomShares       dbtypes.Int64Map         `gorm:"column:custom_shares"`
	TargetApplication  string                   `gorm:"column:target_application;type:text;not null"`
	ExpiresAt          *time.Time               `gorm:"column:expires_at"`
	Status             enums.CampaignStatus     `gorm:"column:status;type:text;not null;index"`
	DistributedCount   int                      `gorm:"column:distributed_count;not null;default:0"`
	FailedCount        int                      `gorm:"column:failed_count;not null;default:0"`
	CreatedBy          string                   `gorm:"column:created_by;type:text;not null"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (Campaign) TableName() string { return "credit_campaigns" }

func (c *Campaign) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
