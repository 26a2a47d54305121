package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
)

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// buildMessage carries the stored envelope as-is. Attributes let subscribers
// filter by event type or tenant without decoding the body.
func buildMessage(event models.OutboxEvent, envelope outbox.PayloadEnvelope) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if tenant := envelope.TenantID(); tenant != uuid.Nil {
		attrs["tenant_id"] = tenant.String()
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

func gcpPublisherFactory(client pubSubClient) publisherFactory {
	return func(topic string) publisher {
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		return gcpPublisher{p}
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return gcpResult{g.p.Publish(ctx, msg)}
}

type gcpResult struct {
	r *gcppubsub.PublishResult
}

func (g gcpResult) Get(ctx context.Context) (string, error) {
	if g.r == nil {
		return "", errors.New("publish result is nil")
	}
	return g.r.Get(ctx)
}

// idleBackoff doubles the wait after each failed batch up to max, and
// returns to the base interval once a batch goes through.
type idleBackoff struct {
	base, max, current time.Duration
}

func newIdleBackoff(base, max time.Duration) *idleBackoff {
	return &idleBackoff{base: base, max: max, current: base}
}

func (b *idleBackoff) idle() time.Duration {
	b.current = b.base
	return jitter(b.base)
}

func (b *idleBackoff) fail() time.Duration {
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return jitter(b.current)
}

func (b *idleBackoff) reset() { b.current = b.base }

// jitter adds up to a quarter of d so replicas do not poll in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/4+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
