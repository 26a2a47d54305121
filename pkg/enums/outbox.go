package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateCreditAccount    OutboxAggregateType = "credit_account"
	AggregateCreditAllocation OutboxAggregateType = "credit_allocation"
	AggregateCampaign         OutboxAggregateType = "campaign"
	AggregateTransfer         OutboxAggregateType = "transfer"
)

func (a OutboxAggregateType) IsValid() bool {
	switch a {
	case AggregateCreditAccount, AggregateCreditAllocation, AggregateCampaign, AggregateTransfer:
		return true
	}
	return false
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	a := OutboxAggregateType(value)
	if !a.IsValid() {
		return "", fmt.Errorf("invalid aggregate type %q", value)
	}
	return a, nil
}

// OutboxEventType is the stable name subscribers filter on. Renaming one is a
// breaking change for every consumer.
type OutboxEventType string

const (
	EventCreditsAdded        OutboxEventType = "credits_added"
	EventCreditsLowBalance   OutboxEventType = "credits_low_balance"
	EventCreditsTransferred  OutboxEventType = "credits_transferred"
	EventAllocationExpiring  OutboxEventType = "allocation_expiring"
	EventAllocationExpired   OutboxEventType = "allocation_expired"
	EventCampaignDistributed OutboxEventType = "campaign_distributed"
)

func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventCreditsAdded, EventCreditsLowBalance, EventCreditsTransferred,
		EventAllocationExpiring, EventAllocationExpired, EventCampaignDistributed:
		return true
	}
	return false
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	e := OutboxEventType(value)
	if !e.IsValid() {
		return "", fmt.Errorf("invalid event type %q", value)
	}
	return e, nil
}
