package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/types"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
)

// CreditTransaction is one immutable ledger row. Scope tells whether the
// balances describe the entity account or an allocation.
type CreditTransaction struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	TenantID        uuid.UUID             `gorm:"column:tenant_id;type:uuid;not null;index:ix_credit_transactions_account,priority:1"`
	EntityID        uuid.UUID             `gorm:"column:entity_id;type:uuid;not null;index:ix_credit_transactions_account,priority:2"`
	AllocationID    *uuid.UUID            `gorm:"column:allocation_id;type:uuid;index"`
	Scope           enums.LedgerScope     `gorm:"column:scope;type:text;not null"`
	TransactionType enums.TransactionType `gorm:"column:transaction_type;type:text;not null"`
	CreditType      enums.CreditType      `gorm:"column:credit_type;type:text;not null"`
	Amount          int64                 `gorm:"column:amount;not null"`
	PreviousBalance int64                 `gorm:"column:previous_balance;not null"`
	NewBalance      int64                 `gorm:"column:new_balance;not null"`
	OperationCode   string                `gorm:"column:operation_code;type:text"`
	Source          string                `gorm:"column:source;type:text"`
	IdempotencyKey  *string               `gorm:"column:idempotency_key;type:text;uniqueIndex:ux_credit_transactions_idempotency_key"`
	ReferenceID     *uuid.UUID            `gorm:"column:reference_id;type:uuid;index"`
	InitiatedBy     string                `gorm:"column:initiated_by;type:text;not null"`
	Metadata        dbtypes.JSONB         `gorm:"column:metadata"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (t *CreditTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
