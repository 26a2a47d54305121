package campaigns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/allocations"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/credits"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/dbtest"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
)

type fixture struct {
	conn        *gorm.DB
	balances    balance.Store
	ledger      ledger.Service
	credits     credits.Service
	allocations allocations.Service
	repo        Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.New(t)
	balances := balance.NewStore(conn)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	events := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	creditSvc, err := credits.NewService(credits.ServiceParams{
		Tx:       db.Wrap(conn),
		Balances: balances,
		Ledger:   ledgerSvc,
		Outbox:   events,
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)
	allocSvc, err := allocations.NewService(allocations.ServiceParams{
		Tx:         db.Wrap(conn),
		Repository: allocations.NewRepository(conn),
		Balances:   balances,
		Ledger:     ledgerSvc,
		Outbox:     events,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	return fixture{
		conn:        conn,
		balances:    balances,
		ledger:      ledgerSvc,
		credits:     creditSvc,
		allocations: allocSvc,
		repo:        NewRepository(conn),
	}
}

func (f fixture) service(t *testing.T, chain granter) Service {
	t.Helper()
	if chain == nil {
		chain = DefaultStrategyChain(f.credits, f.allocations, logger.Nop())
	}
	svc, err := NewService(ServiceParams{
		Tx:          db.Wrap(f.conn),
		Repository:  f.repo,
		Directory:   NewTenantDirectory(f.conn),
		Allocations: allocations.NewRepository(f.conn),
		Granter:     chain,
		Outbox:      outbox.NewService(outbox.NewRepository(f.conn), logger.Nop()),
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)
	return svc
}

func (f fixture) seedTenants(t *testing.T, n int, active bool) []models.Tenant {
	t.Helper()
	tenants := make([]models.Tenant, n)
	for i := range tenants {
		tenants[i] = models.Tenant{
			ID:           uuid.New(),
			Name:         "tenant",
			RootEntityID: uuid.New(),
			IsActive:     active,
		}
	}
	require.NoError(t, f.conn.Create(&tenants).Error)
	return tenants
}

func (f fixture) rootBalance(t *testing.T, tenant models.Tenant) int64 {
	t.Helper()
	snap, err := f.balances.GetBalance(context.Background(), balance.Key{TenantID: tenant.ID, EntityID: tenant.RootEntityID})
	require.NoError(t, err)
	return snap.AvailableCredits
}

func (f fixture) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func tenantIDs(tenants []models.Tenant) []uuid.UUID {
	ids := make([]uuid.UUID, len(tenants))
	for i, tenant := range tenants {
		ids[i] = tenant.ID
	}
	return ids
}

func equalCampaign(ids []uuid.UUID, total int64) CreateCampaignInput {
	return CreateCampaignInput{
		Name:               "spring promo",
		CreditType:         enums.CreditTypePromotional,
		TotalCredits:       total,
		DistributionMethod: enums.DistributionEqual,
		TargetTenantIDs:    ids,
		TargetApplication:  "CRM",
		CreatedBy:          "ops@example.com",
	}
}

func TestDistributeEqualCampaign(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	tenants := f.seedTenants(t, 4, true)

	campaign, err := svc.CreateCampaign(ctx, equalCampaign(tenantIDs(tenants), 1000))
	require.NoError(t, err)
	assert.Equal(t, enums.CampaignStatusDraft, campaign.Status)
	assert.Equal(t, "crm", campaign.TargetApplication)

	result, err := svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, result.DistributedCount)
	assert.Zero(t, result.FailedCount)

	for _, tr := range result.PerTenant {
		assert.Equal(t, TenantDistributed, tr.Status)
		assert.Equal(t, int64(250), tr.Amount)
		assert.Equal(t, StrategyApplicationAllocation, tr.Strategy)
		require.NotNil(t, tr.AllocationID)

		row, err := f.allocations.Get(ctx, *tr.AllocationID)
		require.NoError(t, err)
		assert.Equal(t, int64(250), row.AvailableCredits)
		require.NotNil(t, row.CampaignID)
		assert.Equal(t, campaign.ID, *row.CampaignID)
		assert.Equal(t, tr.TenantID, row.TenantID)
	}
	for _, tenant := range tenants {
		assert.Zero(t, f.rootBalance(t, tenant), "campaign credits move into the allocation")
		total, err := f.ledger.AccountTotal(ctx, tenant.ID, tenant.RootEntityID)
		require.NoError(t, err)
		assert.Zero(t, total)
	}

	stored, err := svc.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CampaignStatusDistributed, stored.Status)
	assert.Equal(t, 4, stored.DistributedCount)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventCampaignDistributed))
}

func TestDistributeResumeDoesNotGrantTwice(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	tenants := f.seedTenants(t, 3, true)

	campaign, err := svc.CreateCampaign(ctx, equalCampaign(tenantIDs(tenants), 900))
	require.NoError(t, err)
	_, err = svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)

	again, err := svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, again.DistributedCount)
	for _, tr := range again.PerTenant {
		assert.True(t, tr.Resumed)
	}

	var allocationsCount int64
	require.NoError(t, f.conn.Model(&models.CreditAllocation{}).Where("campaign_id = ?", campaign.ID).Count(&allocationsCount).Error)
	assert.Equal(t, int64(3), allocationsCount)

	var grants int64
	require.NoError(t, f.conn.Model(&models.CreditTransaction{}).
		Where("transaction_type = ?", enums.TransactionPurchase).
		Count(&grants).Error)
	assert.Equal(t, int64(3), grants)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventCampaignDistributed))
}

func TestDistributeContinuesPastFailedTenant(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	tenants := f.seedTenants(t, 2, true)
	inactive := f.seedTenants(t, 1, false)
	missing := uuid.New()

	ids := append(tenantIDs(tenants), inactive[0].ID, missing)
	campaign, err := svc.CreateCampaign(ctx, equalCampaign(ids, 400))
	require.NoError(t, err)

	result, err := svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DistributedCount)
	assert.Equal(t, 2, result.FailedCount)

	byTenant := make(map[uuid.UUID]TenantResult, len(result.PerTenant))
	for _, tr := range result.PerTenant {
		byTenant[tr.TenantID] = tr
	}
	assert.Equal(t, TenantFailed, byTenant[missing].Status)
	assert.NotEmpty(t, byTenant[missing].Error)
	assert.Equal(t, TenantFailed, byTenant[inactive[0].ID].Status)
	for _, tenant := range tenants {
		assert.Equal(t, TenantDistributed, byTenant[tenant.ID].Status)
	}

	stored, err := svc.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.FailedCount)
	assert.Equal(t, enums.CampaignStatusDistributed, stored.Status)
}

type failingStrategy struct{}

func (failingStrategy) Name() string { return "broken" }

func (failingStrategy) Grant(context.Context, GrantRequest) (GrantOutcome, error) {
	return GrantOutcome{}, errors.New("allocation subsystem unavailable")
}

type rejectingAllocator struct{}

func (rejectingAllocator) Allocate(context.Context, allocations.AllocateInput) (allocations.AllocateResult, error) {
	return allocations.AllocateResult{OK: false, Reason: allocations.ReasonInsufficientCredits, Shortfall: 1}, nil
}

func TestDistributeDegradesToAccountGrant(t *testing.T) {
	f := newFixture(t)
	chain := NewStrategyChain(logger.Nop(), failingStrategy{}, accountGrant{granter: f.credits})
	svc := f.service(t, chain)
	ctx := context.Background()
	tenants := f.seedTenants(t, 2, true)

	campaign, err := svc.CreateCampaign(ctx, equalCampaign(tenantIDs(tenants), 500))
	require.NoError(t, err)
	result, err := svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DistributedCount)

	for _, tr := range result.PerTenant {
		assert.Equal(t, StrategyAccountGrant, tr.Strategy)
		assert.Nil(t, tr.AllocationID)
	}
	for _, tenant := range tenants {
		assert.Equal(t, int64(250), f.rootBalance(t, tenant))
	}
}

func TestAccountGrantReplaysPartialAllocationGrant(t *testing.T) {
	f := newFixture(t)
	chain := NewStrategyChain(logger.Nop(),
		applicationAllocation{granter: f.credits, allocator: rejectingAllocator{}},
		accountGrant{granter: f.credits},
	)
	svc := f.service(t, chain)
	ctx := context.Background()
	tenants := f.seedTenants(t, 1, true)

	campaign, err := svc.CreateCampaign(ctx, equalCampaign(tenantIDs(tenants), 300))
	require.NoError(t, err)
	result, err := svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, result.PerTenant, 1)
	assert.Equal(t, StrategyAccountGrant, result.PerTenant[0].Strategy)
	assert.Equal(t, int64(300), f.rootBalance(t, tenants[0]), "fallback must replay the grant, not repeat it")
}

type countingAllocator struct{ calls int }

func (c *countingAllocator) Allocate(context.Context, allocations.AllocateInput) (allocations.AllocateResult, error) {
	c.calls++
	id := uuid.New()
	return allocations.AllocateResult{OK: true, AllocationID: &id}, nil
}

func TestDistributeRerunAfterSweepKeepsTenantCredits(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	tenants := f.seedTenants(t, 2, true)

	campaign, err := svc.CreateCampaign(ctx, equalCampaign(tenantIDs(tenants), 200))
	require.NoError(t, err)
	first, err := svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)

	var swept uuid.UUID
	for _, tr := range first.PerTenant {
		if tr.TenantID == tenants[0].ID {
			require.NotNil(t, tr.AllocationID)
			swept = *tr.AllocationID
		}
	}
	ok, err := allocations.NewRepository(f.conn).Expire(ctx, swept, 100, time.Now().UTC(), true)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.credits.AddCredits(ctx, credits.AddCreditsInput{
		TenantID:       tenants[0].ID,
		EntityID:       tenants[0].RootEntityID,
		Amount:         500,
		Source:         enums.SourcePaymentGateway,
		IdempotencyKey: "pay_after_sweep",
	})
	require.NoError(t, err)

	again, err := svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.DistributedCount)
	for _, tr := range again.PerTenant {
		assert.True(t, tr.Resumed, "tenant %s", tr.TenantID)
	}
	assert.Equal(t, int64(500), f.rootBalance(t, tenants[0]), "purchased credits stay on the account")

	var live int64
	require.NoError(t, f.conn.Model(&models.CreditAllocation{}).
		Where("campaign_id = ? AND is_active = ?", campaign.ID, true).
		Count(&live).Error)
	assert.Equal(t, int64(1), live)
}

func TestApplicationAllocationSkipsAllocateOnReplayedGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.seedTenants(t, 1, true)[0]
	campaign, err := f.service(t, nil).CreateCampaign(ctx, equalCampaign([]uuid.UUID{tenant.ID}, 300))
	require.NoError(t, err)

	alloc := &countingAllocator{}
	strategy := applicationAllocation{granter: f.credits, allocator: alloc}
	req := GrantRequest{Campaign: *campaign, TenantID: tenant.ID, EntityID: tenant.RootEntityID, Amount: 300}

	outcome, err := strategy.Grant(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StrategyApplicationAllocation, outcome.Strategy)
	assert.Equal(t, 1, alloc.calls)

	outcome, err = strategy.Grant(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StrategyAccountGrant, outcome.Strategy)
	assert.Nil(t, outcome.AllocationID)
	assert.Equal(t, 1, alloc.calls, "a replayed grant is never allocated again")
	assert.Equal(t, int64(300), f.rootBalance(t, tenant))
}

func TestStrategyChainAggregatesErrors(t *testing.T) {
	chain := NewStrategyChain(logger.Nop(), failingStrategy{}, failingStrategy{})
	_, err := chain.Grant(context.Background(), GrantRequest{TenantID: uuid.New(), Amount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: allocation subsystem unavailable")

	_, err = NewStrategyChain(nil).Grant(context.Background(), GrantRequest{})
	assert.Error(t, err)
}

func TestDistributeAllTenantsFreezesTargets(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	tenants := f.seedTenants(t, 3, true)
	f.seedTenants(t, 1, false)

	campaign, err := svc.CreateCampaign(ctx, CreateCampaignInput{
		Name:               "everyone",
		CreditType:         enums.CreditTypeBonus,
		TotalCredits:       300,
		DistributionMethod: enums.DistributionEqual,
		TargetAllTenants:   true,
		TargetApplication:  "crm",
	})
	require.NoError(t, err)
	assert.Equal(t, "system", campaign.CreatedBy)

	result, err := svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.DistributedCount)

	stored, err := svc.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, tenantIDs(tenants), []uuid.UUID(stored.TargetTenantIDs))

	// A tenant joining later does not change the frozen audience.
	f.seedTenants(t, 1, true)
	again, err := svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Len(t, again.PerTenant, 3)
}

func TestDistributeRejectsExpiredCampaign(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	tenants := f.seedTenants(t, 1, true)

	campaign, err := svc.CreateCampaign(ctx, equalCampaign(tenantIDs(tenants), 10))
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
		Update("status", enums.CampaignStatusExpired).Error)

	_, err = svc.Distribute(ctx, campaign.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = svc.Distribute(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCloseIfDrained(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	tenants := f.seedTenants(t, 2, true)

	campaign, err := svc.CreateCampaign(ctx, equalCampaign(tenantIDs(tenants), 200))
	require.NoError(t, err)
	_, err = svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)

	closed, err := f.repo.CloseIfDrained(ctx, nil, campaign.ID)
	require.NoError(t, err)
	assert.False(t, closed, "active allocations keep the campaign open")

	require.NoError(t, f.conn.Model(&models.CreditAllocation{}).
		Where("campaign_id = ?", campaign.ID).
		Update("is_active", false).Error)
	closed, err = f.repo.CloseIfDrained(ctx, nil, campaign.ID)
	require.NoError(t, err)
	assert.True(t, closed)

	stored, err := svc.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CampaignStatusExpired, stored.Status)
}

func TestCreateCampaignValidation(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	target := []uuid.UUID{uuid.New()}
	past := time.Now().Add(-time.Hour)

	tests := map[string]CreateCampaignInput{
		"missing name":    {CreditType: enums.CreditTypeBonus, TotalCredits: 10, DistributionMethod: enums.DistributionEqual, TargetTenantIDs: target, TargetApplication: "crm"},
		"zero total":      {Name: "x", CreditType: enums.CreditTypeBonus, DistributionMethod: enums.DistributionEqual, TargetTenantIDs: target, TargetApplication: "crm"},
		"bad method":      {Name: "x", CreditType: enums.CreditTypeBonus, TotalCredits: 10, DistributionMethod: "random", TargetTenantIDs: target, TargetApplication: "crm"},
		"no targets":      {Name: "x", CreditType: enums.CreditTypeBonus, TotalCredits: 10, DistributionMethod: enums.DistributionEqual, TargetApplication: "crm"},
		"no application":  {Name: "x", CreditType: enums.CreditTypeBonus, TotalCredits: 10, DistributionMethod: enums.DistributionEqual, TargetTenantIDs: target},
		"past expiry":     {Name: "x", CreditType: enums.CreditTypeBonus, TotalCredits: 10, DistributionMethod: enums.DistributionEqual, TargetTenantIDs: target, TargetApplication: "crm", ExpiresAt: &past},
		"no weights":      {Name: "x", CreditType: enums.CreditTypeBonus, TotalCredits: 10, DistributionMethod: enums.DistributionProportional, TargetTenantIDs: target, TargetApplication: "crm"},
		"custom mismatch": {Name: "x", CreditType: enums.CreditTypeBonus, TotalCredits: 10, DistributionMethod: enums.DistributionCustom, CustomShares: map[uuid.UUID]int64{target[0]: 9}, TargetApplication: "crm"},
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateCampaign(ctx, input)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestCustomCampaignTargetsShareholders(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	tenants := f.seedTenants(t, 2, true)

	campaign, err := svc.CreateCampaign(ctx, CreateCampaignInput{
		Name:               "partners",
		CreditType:         enums.CreditTypeBonus,
		TotalCredits:       100,
		DistributionMethod: enums.DistributionCustom,
		CustomShares:       map[uuid.UUID]int64{tenants[0].ID: 80, tenants[1].ID: 20},
		TargetApplication:  "crm",
	})
	require.NoError(t, err)
	assert.Len(t, campaign.TargetTenantIDs, 2)

	result, err := svc.Distribute(ctx, campaign.ID)
	require.NoError(t, err)
	got := map[uuid.UUID]int64{}
	for _, tr := range result.PerTenant {
		got[tr.TenantID] = tr.Amount
	}
	assert.Equal(t, map[uuid.UUID]int64{tenants[0].ID: 80, tenants[1].ID: 20}, got)
}

func TestListStalled(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	tenants := f.seedTenants(t, 1, true)

	campaign, err := svc.CreateCampaign(ctx, equalCampaign(tenantIDs(tenants), 10))
	require.NoError(t, err)
	moved, err := f.repo.TransitionStatus(ctx, campaign.ID, enums.CampaignStatusDraft, enums.CampaignStatusDistributing)
	require.NoError(t, err)
	require.True(t, moved)

	stalled, err := svc.ListStalled(ctx, -time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, campaign.ID, stalled[0].ID)

	stalled, err = svc.ListStalled(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, stalled)
}
