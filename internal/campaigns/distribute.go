package campaigns

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox/payloads"
)

// Distribute grants every target tenant its share. One tenant failing never
// stops the rest. Running it again on a distributing or distributed campaign
// resumes: a tenant that ever held the campaign allocation is reported as
// distributed without a second grant, even after that allocation expired,
// and account grants replay through their idempotency key.
func (s *service) Distribute(ctx context.Context, campaignID uuid.UUID) (DistributionResult, error) {
	campaign, err := s.Get(ctx, campaignID)
	if err != nil {
		return DistributionResult{}, err
	}
	logCtx := s.logg.WithField(ctx, "campaign_id", campaignID.String())

	switch campaign.Status {
	case enums.CampaignStatusDraft:
		moved, err := s.repo.TransitionStatus(ctx, campaignID, enums.CampaignStatusDraft, enums.CampaignStatusDistributing)
		if err != nil {
			return DistributionResult{}, err
		}
		if !moved {
			s.logg.Info(logCtx, "campaign already picked up; resuming")
		}
	case enums.CampaignStatusDistributing, enums.CampaignStatusDistributed:
		s.logg.Info(s.logg.WithField(logCtx, "status", campaign.Status), "resuming campaign distribution")
	default:
		return DistributionResult{}, pkgerrors.Newf(pkgerrors.CodeStateConflict, "campaign is %s", campaign.Status)
	}

	targets, err := s.resolveTargets(ctx, *campaign)
	if err != nil {
		return DistributionResult{}, err
	}
	weights, custom, err := shareInputs(*campaign)
	if err != nil {
		return DistributionResult{}, err
	}
	shares, err := ComputeShares(ShareInput{
		Method:  campaign.DistributionMethod,
		Total:   campaign.TotalCredits,
		Tenants: targets,
		Weights: weights,
		Custom:  custom,
	})
	if err != nil {
		return DistributionResult{}, err
	}

	result := DistributionResult{CampaignID: campaignID, PerTenant: make([]TenantResult, 0, len(shares))}
	for _, share := range shares {
		outcome := s.distributeOne(ctx, *campaign, share)
		switch outcome.Status {
		case TenantDistributed:
			result.DistributedCount++
		case TenantFailed:
			result.FailedCount++
		}
		result.PerTenant = append(result.PerTenant, outcome)
	}

	if err := s.finish(ctx, *campaign, result); err != nil {
		return result, err
	}
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"distributed": result.DistributedCount,
		"failed":      result.FailedCount,
	}), "campaign distributed")
	return result, nil
}

// resolveTargets returns the frozen target list, resolving and storing the
// active tenant set on the first run of an all-tenants campaign.
func (s *service) resolveTargets(ctx context.Context, campaign models.Campaign) ([]uuid.UUID, error) {
	if len(campaign.TargetTenantIDs) > 0 {
		return campaign.TargetTenantIDs.Sorted(), nil
	}
	if !campaign.TargetAllTenants {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "campaign has no target tenants")
	}
	ids, err := s.directory.ActiveTenantIDs(ctx)
	if err != nil {
		return nil, err
	}
	ids = sortedUnique(ids)
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no active tenants to target")
	}
	if err := s.repo.SetTargets(ctx, campaign.ID, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *service) distributeOne(ctx context.Context, campaign models.Campaign, share Share) TenantResult {
	result := TenantResult{TenantID: share.TenantID, Amount: share.Amount}
	if share.Amount == 0 {
		result.Status = TenantSkipped
		return result
	}
	fail := func(err error) TenantResult {
		result.Status = TenantFailed
		result.Error = err.Error()
		s.metrics.Observe("campaign_grant", metrics.OutcomeFailed, 0)
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"campaign_id": campaign.ID.String(),
			"tenant_id":   share.TenantID.String(),
		}), "campaign grant failed", err)
		return result
	}

	existing, err := s.allocations.FindForCampaign(ctx, campaign.ID, share.TenantID)
	if err != nil {
		return fail(err)
	}
	if existing != nil {
		result.Status = TenantDistributed
		result.Strategy = StrategyApplicationAllocation
		result.AllocationID = &existing.ID
		result.Resumed = true
		return result
	}

	tenant, err := s.directory.Tenant(ctx, share.TenantID)
	if err != nil {
		return fail(err)
	}
	if tenant == nil || !tenant.IsActive {
		return fail(pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found or inactive"))
	}

	outcome, err := s.granter.Grant(ctx, GrantRequest{
		Campaign: campaign,
		TenantID: tenant.ID,
		EntityID: tenant.RootEntityID,
		Amount:   share.Amount,
	})
	if err != nil {
		return fail(err)
	}
	s.metrics.Observe("campaign_grant", metrics.OutcomeSuccess, share.Amount)
	result.Status = TenantDistributed
	result.Strategy = outcome.Strategy
	result.AllocationID = outcome.AllocationID
	return result
}

// finish stores the counts and, on the first completed run, flips the
// campaign to distributed and queues campaign_distributed in the same
// transaction.
func (s *service) finish(ctx context.Context, campaign models.Campaign, result DistributionResult) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.RecordCounts(ctx, campaign.ID, result.DistributedCount, result.FailedCount); err != nil {
			return err
		}
		moved, err := repo.TransitionStatus(ctx, campaign.ID, enums.CampaignStatusDistributing, enums.CampaignStatusDistributed)
		if err != nil || !moved {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCampaignDistributed,
			AggregateType: enums.AggregateCampaign,
			AggregateID:   campaign.ID,
			Actor:         &outbox.ActorRef{InitiatedBy: campaign.CreatedBy},
			Data: payloads.CampaignDistributedEvent{
				CampaignID:       campaign.ID,
				TotalCredits:     campaign.TotalCredits,
				DistributedCount: result.DistributedCount,
				FailedCount:      result.FailedCount,
			},
		})
	})
}
