package campaigns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	dbtypes "github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/types"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
)

// Per-tenant distribution statuses.
const (
	TenantDistributed = "distributed"
	TenantFailed      = "failed"
	TenantSkipped     = "skipped"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type granter interface {
	Grant(ctx context.Context, req GrantRequest) (GrantOutcome, error)
}

type campaignAllocations interface {
	FindForCampaign(ctx context.Context, campaignID, tenantID uuid.UUID) (*models.CreditAllocation, error)
}

type Service interface {
	CreateCampaign(ctx context.Context, input CreateCampaignInput) (*models.Campaign, error)
	Distribute(ctx context.Context, campaignID uuid.UUID) (DistributionResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	ListStalled(ctx context.Context, olderThan time.Duration, limit int) ([]models.Campaign, error)
}

// CreateCampaignInput describes a new draft campaign. Either TargetTenantIDs
// or TargetAllTenants selects the audience; custom campaigns without an
// explicit list target the tenants named in CustomShares.
type CreateCampaignInput struct {
	Name               string
	CreditType         enums.CreditType
	TotalCredits       int64
	DistributionMethod enums.DistributionMethod
	TargetTenantIDs    []uuid.UUID
	TargetAllTenants   bool
	Weights            map[uuid.UUID]decimal.Decimal
	CustomShares       map[uuid.UUID]int64
	TargetApplication  string
	ExpiresAt          *time.Time
	CreatedBy          string
}

// TenantResult is the outcome for one target tenant.
type TenantResult struct {
	TenantID     uuid.UUID  `json:"tenant_id"`
	Amount       int64      `json:"amount"`
	Status       string     `json:"status"`
	Strategy     string     `json:"strategy,omitempty"`
	AllocationID *uuid.UUID `json:"allocation_id,omitempty"`
	Resumed      bool       `json:"resumed,omitempty"`
	Error        string     `json:"error,omitempty"`
}

type DistributionResult struct {
	CampaignID       uuid.UUID      `json:"campaign_id"`
	DistributedCount int            `json:"distributed_count"`
	FailedCount      int            `json:"failed_count"`
	PerTenant        []TenantResult `json:"per_tenant"`
}

type ServiceParams struct {
	Tx          txRunner
	Repository  Repository
	Directory   TenantDirectory
	Allocations campaignAllocations
	Granter     granter
	Outbox      outboxPublisher
	Logger      *logger.Logger
	Metrics     *metrics.CreditMetrics
	Now         func() time.Time
}

type service struct {
	tx          txRunner
	repo        Repository
	directory   TenantDirectory
	allocations campaignAllocations
	granter     granter
	outbox      outboxPublisher
	logg        *logger.Logger
	metrics     *metrics.CreditMetrics
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("campaign repository required")
	case params.Directory == nil:
		return nil, fmt.Errorf("tenant directory required")
	case params.Allocations == nil:
		return nil, fmt.Errorf("allocation repository required")
	case params.Granter == nil:
		return nil, fmt.Errorf("grant strategy required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:          params.Tx,
		repo:        params.Repository,
		directory:   params.Directory,
		allocations: params.Allocations,
		granter:     params.Granter,
		outbox:      params.Outbox,
		logg:        params.Logger,
		metrics:     params.Metrics,
		now:         now,
	}, nil
}

func (s *service) CreateCampaign(ctx context.Context, input CreateCampaignInput) (*models.Campaign, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "campaign name is required")
	}
	if !input.CreditType.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid credit type %q", input.CreditType)
	}
	if input.TotalCredits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total credits must be positive")
	}
	if !input.DistributionMethod.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid distribution method %q", input.DistributionMethod)
	}
	application := strings.ToLower(strings.TrimSpace(input.TargetApplication))
	if application == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target application is required")
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "campaign expiry must be in the future")
	}

	targets := sortedUnique(input.TargetTenantIDs)
	if input.TargetAllTenants {
		targets = nil
	} else if len(targets) == 0 && input.DistributionMethod == enums.DistributionCustom {
		for id := range input.CustomShares {
			targets = append(targets, id)
		}
		targets = sortedUnique(targets)
	}
	if !input.TargetAllTenants && len(targets) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "campaign needs target tenants or target_all_tenants")
	}

	switch input.DistributionMethod {
	case enums.DistributionProportional:
		if len(input.Weights) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "proportional distribution requires weights")
		}
	case enums.DistributionCustom:
		if len(input.CustomShares) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "custom distribution requires shares")
		}
	}
	if len(targets) > 0 {
		if _, err := ComputeShares(ShareInput{
			Method:  input.DistributionMethod,
			Total:   input.TotalCredits,
			Tenants: targets,
			Weights: input.Weights,
			Custom:  input.CustomShares,
		}); err != nil {
			return nil, err
		}
	}

	campaign := &models.Campaign{
		Name:               name,
		CreditType:         input.CreditType,
		TotalCredits:       input.TotalCredits,
		DistributionMethod: input.DistributionMethod,
		TargetTenantIDs:    dbtypes.UUIDArray(targets),
		TargetAllTenants:   input.TargetAllTenants,
		TargetApplication:  application,
		Status:             enums.CampaignStatusDraft,
		CreatedBy:          actorOrSystem(input.CreatedBy),
	}
	if input.ExpiresAt != nil {
		expires := input.ExpiresAt.UTC()
		campaign.ExpiresAt = &expires
	}
	if len(input.Weights) > 0 {
		campaign.Weights = make(dbtypes.DecimalMap, len(input.Weights))
		for id, w := range input.Weights {
			campaign.Weights[id.String()] = w
		}
	}
	if len(input.CustomShares) > 0 {
		campaign.CustomShares = make(dbtypes.Int64Map, len(input.CustomShares))
		for id, amount := range input.CustomShares {
			campaign.CustomShares[id.String()] = amount
		}
	}
	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"campaign_id":         campaign.ID.String(),
		"total_credits":       campaign.TotalCredits,
		"distribution_method": campaign.DistributionMethod,
		"target_count":        len(targets),
		"target_all_tenants":  campaign.TargetAllTenants,
	}), "campaign created")
	return campaign, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "campaign id is required")
	}
	campaign, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "campaign not found")
	}
	return campaign, nil
}

// ListStalled returns campaigns stuck in distributing for longer than
// olderThan, typically after a crash mid-run.
func (s *service) ListStalled(ctx context.Context, olderThan time.Duration, limit int) ([]models.Campaign, error) {
	return s.repo.ListByStatus(ctx, enums.CampaignStatusDistributing, s.now().UTC().Add(-olderThan), limit)
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "system"
	}
	return actor
}

func shareInputs(campaign models.Campaign) (map[uuid.UUID]decimal.Decimal, map[uuid.UUID]int64, error) {
	weights := make(map[uuid.UUID]decimal.Decimal, len(campaign.Weights))
	for raw, w := range campaign.Weights {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("campaign %s: bad weight key %q", campaign.ID, raw)
		}
		weights[id] = w
	}
	custom := make(map[uuid.UUID]int64, len(campaign.CustomShares))
	for raw, amount := range campaign.CustomShares {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("campaign %s: bad share key %q", campaign.ID, raw)
		}
		custom[id] = amount
	}
	return weights, custom, nil
}
