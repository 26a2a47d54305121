package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is stamped on every envelope written by Emit. Subscribers
// should reject versions they do not know.
const EnvelopeVersion = 1

// ActorRef identifies who triggered the ledger mutation behind the event.
type ActorRef struct {
	InitiatedBy string    `json:"initiatedBy"`
	TenantID    uuid.UUID `json:"tenantId"`
}

// PayloadEnvelope is the JSON document stored in outbox_events.payload and
// shipped verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// TenantID returns the acting tenant, or uuid.Nil for system events.
func (e PayloadEnvelope) TenantID() uuid.UUID {
	if e.Actor == nil {
		return uuid.Nil
	}
	return e.Actor.TenantID
}

func newEnvelope(event DomainEvent) (PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: occurred.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}, nil
}
