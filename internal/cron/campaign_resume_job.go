package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/campaigns"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

const (
	defaultStallAfter  = 15 * time.Minute
	defaultResumeLimit = 20
)

type campaignResumer interface {
	ListStalled(ctx context.Context, olderThan time.Duration, limit int) ([]models.Campaign, error)
	Distribute(ctx context.Context, campaignID uuid.UUID) (campaigns.DistributionResult, error)
}

type CampaignResumeJobParams struct {
	Logger     *logger.Logger
	Campaigns  campaignResumer
	StallAfter time.Duration
	Limit      int
}

// NewCampaignResumeJob re-runs distributions left in distributing, which only
// happens when a worker died mid-run.
func NewCampaignResumeJob(params CampaignResumeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Campaigns == nil {
		return nil, fmt.Errorf("campaign service required")
	}
	stallAfter := params.StallAfter
	if stallAfter <= 0 {
		stallAfter = defaultStallAfter
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultResumeLimit
	}
	return &campaignResumeJob{
		logg:       params.Logger,
		campaigns:  params.Campaigns,
		stallAfter: stallAfter,
		limit:      limit,
	}, nil
}

type campaignResumeJob struct {
	logg       *logger.Logger
	campaigns  campaignResumer
	stallAfter time.Duration
	limit      int
}

func (j *campaignResumeJob) Name() string { return "campaign-resume" }

func (j *campaignResumeJob) Run(ctx context.Context) error {
	stalled, err := j.campaigns.ListStalled(ctx, j.stallAfter, j.limit)
	if err != nil {
		return fmt.Errorf("list stalled campaigns: %w", err)
	}
	var errs error
	for _, campaign := range stalled {
		result, err := j.campaigns.Distribute(ctx, campaign.ID)
		logCtx := j.logg.WithField(ctx, "campaign_id", campaign.ID.String())
		if err != nil {
			j.logg.Error(logCtx, "campaign resume failed", err)
			errs = multierr.Append(errs, fmt.Errorf("campaign %s: %w", campaign.ID, err))
			continue
		}
		j.logg.Info(j.logg.WithFields(logCtx, map[string]any{
			"distributed": result.DistributedCount,
			"failed":      result.FailedCount,
		}), "campaign resumed")
	}
	return errs
}
