package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	dbtypes "github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/types"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox/payloads"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox/registry"
)

func creditsAddedEvent(t *testing.T, label string, attempts int) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventCreditsAdded,
		AggregateType: enums.AggregateCreditAccount,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, label),
		AttemptCount:  attempts,
	}
}

func creditsTopicResolution() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "credits-topic", AggregateType: enums.AggregateCreditAccount},
		Envelope:   outbox.PayloadEnvelope{OccurredAt: time.Now()},
		Payload:    &payloads.CreditsAddedEvent{},
	}
}

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	first, second := creditsAddedEvent(t, "event-one", 0), creditsAddedEvent(t, "event-two", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	promRegistry := prometheus.NewRegistry()
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: creditsTopicResolution()}, &fakeDLQRepo{}, nil)
	service.metrics = metrics.NewOutboxMetrics(promRegistry)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, repo.published)
	assert.Equal(t, map[string]float64{
		metrics.PublishRetry:     1,
		metrics.PublishPublished: 1,
	}, publishCounts(t, promRegistry))
}

func TestServiceProcessBatchReportsIdleWhenEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestServiceProcessBatchAbortsOnStorageError(t *testing.T) {
	repo := &fakeRepo{
		events:     []models.OutboxEvent{creditsAddedEvent(t, "x", 0)},
		publishErr: errors.New("connection reset"),
	}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: creditsTopicResolution()}, &fakeDLQRepo{}, nil)

	_, err := service.processBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func TestPublishResolvedRoutesToDescriptorTopicWithTenant(t *testing.T) {
	tenantID := uuid.New()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventAllocationExpiring,
		AggregateType: enums.AggregateCreditAllocation,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "expiring"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "notification-topic",
			AggregateType: enums.AggregateCreditAllocation,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    event.ID.String(),
			OccurredAt: time.Now(),
			Actor:      &outbox.ActorRef{InitiatedBy: "system", TenantID: tenantID},
		},
		Payload: &payloads.AllocationExpiringEvent{},
	}
	reg := &fakeRegistry{resolved: resolved}
	service := newTestService(t, repo, pub, reg, &fakeDLQRepo{}, nil)
	var topics []string
	service.publisherFactory = func(topic string) publisher {
		topics = append(topics, topic)
		return pub
	}

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, []string{"notification-topic"}, topics)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, tenantID.String(), pub.sent[0].Attributes["tenant_id"])
	assert.Equal(t, string(enums.EventAllocationExpiring), pub.sent[0].Attributes["event_type"])
	assert.Equal(t, []uuid.UUID{event.ID}, repo.published)
}

func TestServiceProcessBatchDeadLettersUnknownTopic(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventCreditsTransferred,
		AggregateType: enums.AggregateTransfer,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "no-topic"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "missing"},
		Envelope:   outbox.PayloadEnvelope{EventID: event.ID.String(), OccurredAt: time.Now()},
		Payload:    &payloads.CreditsTransferredEvent{},
	}
	dlqRepo := &fakeDLQRepo{}
	promRegistry := prometheus.NewRegistry()
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: resolved}, dlqRepo, nil)
	service.metrics = metrics.NewOutboxMetrics(promRegistry)
	service.publisherFactory = func(string) publisher { return nil }

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlqRepo.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlqRepo.entries[0].ErrorReason)
	assert.Empty(t, repo.published)

	assert.Equal(t, map[string]float64{metrics.PublishDeadLettered: 1}, publishCounts(t, promRegistry))
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := creditsAddedEvent(t, "nonretryable", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlqRepo := &fakeDLQRepo{}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	service := newTestService(t, repo, &fakePublisher{}, reg, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, dlqRepo.entries, 1)

	entry := dlqRepo.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.Equal(t, []byte(event.Payload), []byte(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "invalid payload", *entry.ErrorMessage)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestServiceProcessBatchTagsUnknownEventType(t *testing.T) {
	event := creditsAddedEvent(t, "unknown", 0)
	event.EventType = "credits_refunded"
	dlqRepo := &fakeDLQRepo{}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(fmt.Errorf("%w: credits_refunded", registry.ErrUnknownEventType))}
	service := newTestService(t, &fakeRepo{events: []models.OutboxEvent{event}}, &fakePublisher{}, reg, dlqRepo, nil)

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlqRepo.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonUnknownEvent, dlqRepo.entries[0].ErrorReason)
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := creditsAddedEvent(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: creditsTopicResolution()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, dlqRepo.entries, 1)

	entry := dlqRepo.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, entry.ErrorReason)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "max publish attempts reached")
	assert.Empty(t, repo.failed)
}

func TestBuildMessageAttributes(t *testing.T) {
	tenantID := uuid.New()
	event := creditsAddedEvent(t, "attrs", 0)
	event.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := buildMessage(event, outbox.PayloadEnvelope{
		EventID: "evt-1",
		Actor:   &outbox.ActorRef{InitiatedBy: "svc", TenantID: tenantID},
	})
	assert.Equal(t, []byte(event.Payload), msg.Data)
	assert.Equal(t, map[string]string{
		"event_id":       "evt-1",
		"event_type":     string(enums.EventCreditsAdded),
		"aggregate_type": string(enums.AggregateCreditAccount),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     "2026-03-01T12:00:00Z",
		"tenant_id":      tenantID.String(),
	}, msg.Attributes)

	system := buildMessage(event, outbox.PayloadEnvelope{EventID: "evt-2"})
	assert.NotContains(t, system.Attributes, "tenant_id")
}

func TestIdleBackoffGrowsAndResets(t *testing.T) {
	b := newIdleBackoff(100*time.Millisecond, 350*time.Millisecond)

	within := func(d, base time.Duration) {
		t.Helper()
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/4)
	}
	within(b.fail(), 200*time.Millisecond)
	within(b.fail(), 350*time.Millisecond)
	within(b.fail(), 350*time.Millisecond)

	b.reset()
	within(b.fail(), 200*time.Millisecond)
	within(b.idle(), 100*time.Millisecond)
}

func TestSleepCtxStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), 0))
}

func publishCounts(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "credits_outbox_publish_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" {
					out[lp.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return out
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, registry registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         registry,
		PublisherFactory: func(_ string) publisher { return pub },
		DLQRepository:    dlq,
	})
	require.NoError(t, err)
	return service
}

func mustEnvelopePayload(tb testing.TB, eventID string) dbtypes.JSONB {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	require.NoError(tb, err)
	return dbtypes.JSONB(payload)
}

type fakeRepo struct {
	events     []models.OutboxEvent
	published  []uuid.UUID
	failed     []uuid.UUID
	terminal   []uuid.UUID
	publishErr error
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results []publishResult
	sent    []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
