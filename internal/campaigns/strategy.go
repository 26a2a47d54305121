package campaigns

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/allocations"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/credits"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

// Strategy names reported per tenant.
const (
	StrategyApplicationAllocation = "application_allocation"
	StrategyAccountGrant          = "account_grant"
)

// GrantRequest is one tenant's share of a campaign.
type GrantRequest struct {
	Campaign models.Campaign
	TenantID uuid.UUID
	EntityID uuid.UUID
	Amount   int64
}

// GrantOutcome names the strategy that delivered the share.
type GrantOutcome struct {
	Strategy     string
	AllocationID *uuid.UUID
}

// Strategy delivers a share one way.
type Strategy interface {
	Name() string
	Grant(ctx context.Context, req GrantRequest) (GrantOutcome, error)
}

type creditGranter interface {
	AddCredits(ctx context.Context, input credits.AddCreditsInput) (credits.AddCreditsResult, error)
}

type allocator interface {
	Allocate(ctx context.Context, input allocations.AllocateInput) (allocations.AllocateResult, error)
}

func grantKey(campaignID, tenantID uuid.UUID) string {
	return fmt.Sprintf("campaign:%s:%s", campaignID, tenantID)
}

// grantCredits reports replayed when the share already landed on an
// earlier run.
func grantCredits(ctx context.Context, granter creditGranter, req GrantRequest) (replayed bool, err error) {
	res, err := granter.AddCredits(ctx, credits.AddCreditsInput{
		TenantID:       req.TenantID,
		EntityID:       req.EntityID,
		Amount:         req.Amount,
		Source:         enums.SourceCampaignGrant,
		CreditType:     req.Campaign.CreditType,
		IdempotencyKey: grantKey(req.Campaign.ID, req.TenantID),
		ExpiresAt:      req.Campaign.ExpiresAt,
		InitiatedBy:    req.Campaign.CreatedBy,
	})
	return res.Replayed, err
}

// applicationAllocation grants the share to the tenant's root entity and
// moves it into a campaign-tagged allocation for the target application.
type applicationAllocation struct {
	granter   creditGranter
	allocator allocator
}

func (s applicationAllocation) Name() string { return StrategyApplicationAllocation }

// A replayed grant means an earlier run stopped between granting and
// allocating. The credits stay on the account: the root balance may by now
// hold the tenant's own purchases, so it is never debited a second time.
func (s applicationAllocation) Grant(ctx context.Context, req GrantRequest) (GrantOutcome, error) {
	replayed, err := grantCredits(ctx, s.granter, req)
	if err != nil {
		return GrantOutcome{}, err
	}
	if replayed {
		return GrantOutcome{Strategy: StrategyAccountGrant}, nil
	}
	campaignID := req.Campaign.ID
	res, err := s.allocator.Allocate(ctx, allocations.AllocateInput{
		TenantID:          req.TenantID,
		SourceEntityID:    req.EntityID,
		TargetApplication: req.Campaign.TargetApplication,
		Amount:            req.Amount,
		CreditType:        req.Campaign.CreditType,
		Purpose:           "campaign: " + req.Campaign.Name,
		CampaignID:        &campaignID,
		ExpiresAt:         req.Campaign.ExpiresAt,
		InitiatedBy:       req.Campaign.CreatedBy,
	})
	if err != nil {
		return GrantOutcome{}, err
	}
	if !res.OK {
		return GrantOutcome{}, fmt.Errorf("allocate campaign share: %s (shortfall %d)", res.Reason, res.Shortfall)
	}
	return GrantOutcome{Strategy: s.Name(), AllocationID: res.AllocationID}, nil
}

// accountGrant leaves the share on the tenant's root account. The shared
// idempotency key makes it a no-op replay when the allocation strategy
// already granted the credits before failing to allocate them.
type accountGrant struct {
	granter creditGranter
}

func (s accountGrant) Name() string { return StrategyAccountGrant }

func (s accountGrant) Grant(ctx context.Context, req GrantRequest) (GrantOutcome, error) {
	if _, err := grantCredits(ctx, s.granter, req); err != nil {
		return GrantOutcome{}, err
	}
	return GrantOutcome{Strategy: s.Name()}, nil
}

// StrategyChain tries strategies in order and returns the first success.
type StrategyChain struct {
	strategies []Strategy
	logg       *logger.Logger
}

func NewStrategyChain(logg *logger.Logger, strategies ...Strategy) *StrategyChain {
	if logg == nil {
		logg = logger.Nop()
	}
	return &StrategyChain{strategies: strategies, logg: logg}
}

// DefaultStrategyChain prefers an application allocation and degrades to a
// plain account grant.
func DefaultStrategyChain(granter creditGranter, alloc allocator, logg *logger.Logger) *StrategyChain {
	return NewStrategyChain(logg,
		applicationAllocation{granter: granter, allocator: alloc},
		accountGrant{granter: granter},
	)
}

func (c *StrategyChain) Grant(ctx context.Context, req GrantRequest) (GrantOutcome, error) {
	if len(c.strategies) == 0 {
		return GrantOutcome{}, fmt.Errorf("no grant strategies configured")
	}
	var errs error
	for i, strategy := range c.strategies {
		outcome, err := strategy.Grant(ctx, req)
		if err == nil {
			return outcome, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
		if i+1 < len(c.strategies) {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"campaign_id": req.Campaign.ID.String(),
				"tenant_id":   req.TenantID.String(),
				"strategy":    strategy.Name(),
				"fallback":    c.strategies[i+1].Name(),
				"error":       err.Error(),
			}), "campaign.strategy.degraded")
		}
	}
	return GrantOutcome{}, errs
}
