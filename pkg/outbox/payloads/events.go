package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
)

// CreditsAddedEvent is emitted after a purchase or grant is applied.
type CreditsAddedEvent struct {
	TransactionID uuid.UUID          `json:"transaction_id"`
	TenantID      uuid.UUID          `json:"tenant_id"`
	EntityID      uuid.UUID          `json:"entity_id"`
	Amount        int64              `json:"amount"`
	Balance       int64              `json:"balance"`
	Source        enums.CreditSource `json:"source"`
	CreditType    enums.CreditType   `json:"credit_type"`
}

// LowBalanceEvent fires when a debit takes an account under the threshold.
type LowBalanceEvent struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	EntityID  uuid.UUID `json:"entity_id"`
	Balance   int64     `json:"balance"`
	Threshold int64     `json:"threshold"`
}

// CreditsTransferredEvent records a completed entity-to-entity transfer.
type CreditsTransferredEvent struct {
	TransferID   uuid.UUID `json:"transfer_id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	FromEntityID uuid.UUID `json:"from_entity_id"`
	ToEntityID   uuid.UUID `json:"to_entity_id"`
	Amount       int64     `json:"amount"`
}

// AllocationExpiringEvent warns that an allocation is about to lapse.
type AllocationExpiringEvent struct {
	AllocationID      uuid.UUID  `json:"allocation_id"`
	TenantID          uuid.UUID  `json:"tenant_id"`
	SourceEntityID    uuid.UUID  `json:"source_entity_id"`
	TargetApplication string     `json:"target_application"`
	AvailableCredits  int64      `json:"available_credits"`
	ExpiresAt         time.Time  `json:"expires_at"`
	CampaignID        *uuid.UUID `json:"campaign_id,omitempty"`
}

// AllocationExpiredEvent reports a swept allocation or free sub-balance.
type AllocationExpiredEvent struct {
	AllocationID *uuid.UUID       `json:"allocation_id,omitempty"`
	TenantID     uuid.UUID        `json:"tenant_id"`
	EntityID     uuid.UUID        `json:"entity_id"`
	CreditType   enums.CreditType `json:"credit_type"`
	SweptCredits int64            `json:"swept_credits"`
	Reason       string           `json:"reason"`
	ExpiredAt    time.Time        `json:"expired_at"`
}

// CampaignDistributedEvent summarises one distribution run.
type CampaignDistributedEvent struct {
	CampaignID       uuid.UUID `json:"campaign_id"`
	TotalCredits     int64     `json:"total_credits"`
	DistributedCount int       `json:"distributed_count"`
	FailedCount      int       `json:"failed_count"`
}
