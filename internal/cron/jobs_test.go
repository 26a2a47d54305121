package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/allocations"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/campaigns"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/expiry"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/reconciliation"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

type fakeProcessor struct {
	report expiry.Report
	err    error
}

func (f fakeProcessor) ProcessExpiries(context.Context, ...enums.CreditType) (expiry.Report, error) {
	return f.report, f.err
}

func TestExpiryJobReportsRowFailures(t *testing.T) {
	job, err := NewExpiryJob(ExpiryJobParams{Logger: logger.Nop(), Processor: fakeProcessor{
		report: expiry.Report{ProcessedCount: 3},
	}})
	require.NoError(t, err)
	assert.NoError(t, job.Run(context.Background()))

	failedID := uuid.New()
	job, err = NewExpiryJob(ExpiryJobParams{Logger: logger.Nop(), Processor: fakeProcessor{
		report: expiry.Report{ProcessedCount: 1, Failures: []expiry.Failure{{ID: failedID, Error: "locked"}}},
	}})
	require.NoError(t, err)
	runErr := job.Run(context.Background())
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), failedID.String())
}

type fakeNotifier struct {
	window time.Duration
}

func (f *fakeNotifier) NotifyExpiring(_ context.Context, within time.Duration) (int, error) {
	f.window = within
	return 2, nil
}

func TestExpiryWarningJobUsesDefaultWindow(t *testing.T) {
	notifier := &fakeNotifier{}
	job, err := NewExpiryWarningJob(ExpiryWarningJobParams{Logger: logger.Nop(), Notifier: notifier})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, defaultWarningWindow, notifier.window)
}

type fakeResumer struct {
	stalled     []models.Campaign
	failFor     uuid.UUID
	distributed []uuid.UUID
}

func (f *fakeResumer) ListStalled(context.Context, time.Duration, int) ([]models.Campaign, error) {
	return f.stalled, nil
}

func (f *fakeResumer) Distribute(_ context.Context, id uuid.UUID) (campaigns.DistributionResult, error) {
	f.distributed = append(f.distributed, id)
	if id == f.failFor {
		return campaigns.DistributionResult{}, errors.New("tenant directory down")
	}
	return campaigns.DistributionResult{CampaignID: id, DistributedCount: 1}, nil
}

func TestCampaignResumeJobContinuesPastFailures(t *testing.T) {
	broken, healthy := uuid.New(), uuid.New()
	resumer := &fakeResumer{
		stalled: []models.Campaign{{ID: broken}, {ID: healthy}},
		failFor: broken,
	}
	job, err := NewCampaignResumeJob(CampaignResumeJobParams{Logger: logger.Nop(), Campaigns: resumer})
	require.NoError(t, err)

	runErr := job.Run(context.Background())
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), broken.String())
	assert.Equal(t, []uuid.UUID{broken, healthy}, resumer.distributed)
}

type fakeChecker struct {
	since time.Time
	err   error
}

func (f *fakeChecker) CheckAccounts(_ context.Context, since time.Time, _ int) (reconciliation.CheckReport, error) {
	f.since = since
	return reconciliation.CheckReport{Checked: 4, Flagged: 1}, f.err
}

type fakeVerifier struct {
	calls int
	err   error
}

func (f *fakeVerifier) VerifyActive(context.Context, int) (allocations.VerifyReport, error) {
	f.calls++
	return allocations.VerifyReport{Checked: 2}, f.err
}

func TestReconciliationJobRunsBothChecks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	checker := &fakeChecker{err: errors.New("accounts unavailable")}
	verifier := &fakeVerifier{err: errors.New("allocations unavailable")}
	jobIface, err := NewReconciliationJob(ReconciliationJobParams{
		Logger:      logger.Nop(),
		Accounts:    checker,
		Allocations: verifier,
	})
	require.NoError(t, err)
	job := jobIface.(*reconciliationJob)
	job.now = func() time.Time { return now }

	runErr := job.Run(context.Background())
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "accounts unavailable")
	assert.Contains(t, runErr.Error(), "allocations unavailable")
	assert.Equal(t, 1, verifier.calls, "allocation check still runs after account check fails")
	assert.Equal(t, now.Add(-defaultReconcileLookback), checker.since)
}

func TestJobConstructorsRequireDependencies(t *testing.T) {
	_, err := NewExpiryJob(ExpiryJobParams{Logger: logger.Nop()})
	assert.Error(t, err)
	_, err = NewExpiryWarningJob(ExpiryWarningJobParams{})
	assert.Error(t, err)
	_, err = NewCampaignResumeJob(CampaignResumeJobParams{Logger: logger.Nop()})
	assert.Error(t, err)
	_, err = NewReconciliationJob(ReconciliationJobParams{Logger: logger.Nop(), Accounts: &fakeChecker{}})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop()})
	assert.Error(t, err)
}
