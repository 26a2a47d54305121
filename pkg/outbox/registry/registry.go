// Package registry routes outbox rows to Pub/Sub topics and decodes their
// typed payloads before publishing.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox/payloads"
)

// ErrUnknownEventType is wrapped by Resolve when no descriptor exists for a
// row's event type.
var ErrUnknownEventType = errors.New("unknown event type")

// EventDescriptor says which aggregate an event type belongs to, where it is
// published and how its payload decodes.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		newPayload:    func() any { return new(T) },
	}
}

// ResolvedEvent is a validated outbox row. Payload is a pointer to the
// event's payload struct.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never be published as stored. The
// publisher dead-letters it on the first attempt.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// NewEventRegistry wires every event type to a topic. Balance changes go to
// the credits topic; anything a person should be told about goes to the
// notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	credits, notify := cfg.CreditsTopic, cfg.NotificationTopic
	switch {
	case credits == "":
		return nil, errors.New("credits topic is required")
	case notify == "":
		return nil, errors.New("notification topic is required")
	}

	descriptors := []EventDescriptor{
		describe[payloads.CreditsAddedEvent](enums.EventCreditsAdded, enums.AggregateCreditAccount, credits),
		describe[payloads.CreditsTransferredEvent](enums.EventCreditsTransferred, enums.AggregateTransfer, credits),
		describe[payloads.CampaignDistributedEvent](enums.EventCampaignDistributed, enums.AggregateCampaign, credits),
		describe[payloads.LowBalanceEvent](enums.EventCreditsLowBalance, enums.AggregateCreditAccount, notify),
		describe[payloads.AllocationExpiringEvent](enums.EventAllocationExpiring, enums.AggregateCreditAllocation, notify),
		describe[payloads.AllocationExpiredEvent](enums.EventAllocationExpired, enums.AggregateCreditAllocation, notify),
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, d := range descriptors {
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Topics lists the distinct topics the registry routes to, sorted.
func (r *EventRegistry) Topics() []string {
	set := map[string]struct{}{}
	for _, d := range r.entries {
		set[d.Topic] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is a NonRetryableError; retrying cannot fix a stored row.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("%w: %s", ErrUnknownEventType, event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, nonRetryable("aggregate mismatch: %s belongs to %s, row has %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if envelope.Version < 1 || envelope.Version > outbox.EnvelopeVersion {
		return nil, nonRetryable("unsupported envelope version %d", envelope.Version)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("payload missing for %s", event.EventType)
	}

	payload := desc.newPayload()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, nonRetryable("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
