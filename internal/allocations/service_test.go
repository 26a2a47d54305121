package allocations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/reconciliation"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/dbtest"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	conn     *gorm.DB
	balances balance.Store
	ledger   ledger.Service
	flags    *reconciliation.Service
	clock    *clock
	svc      Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.New(t)
	balances := balance.NewStore(conn)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	flags, err := reconciliation.NewService(reconciliation.ServiceParams{
		Repository: reconciliation.NewRepository(conn),
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	clk := &clock{now: time.Now().UTC()}
	svc, err := NewService(ServiceParams{
		Tx:         db.Wrap(conn),
		Repository: NewRepository(conn),
		Balances:   balances,
		Ledger:     ledgerSvc,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Flagger:    flags,
		Logger:     logger.Nop(),
		Now:        clk.Now,
	})
	require.NoError(t, err)
	return fixture{conn: conn, balances: balances, ledger: ledgerSvc, flags: flags, clock: clk, svc: svc}
}

// fund credits an account together with its purchase ledger row.
func (f fixture) fund(t *testing.T, key balance.Key, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		mut, err := f.balances.WithTx(tx).Credit(ctx, key, amount, nil, f.clock.Now())
		if err != nil {
			return err
		}
		_, err = f.ledger.Record(ctx, tx, ledger.Entry{
			TenantID:        key.TenantID,
			EntityID:        key.EntityID,
			Scope:           enums.LedgerScopeAccount,
			Type:            enums.TransactionPurchase,
			CreditType:      enums.CreditTypePaid,
			Amount:          amount,
			PreviousBalance: mut.Previous,
			NewBalance:      mut.New,
			InitiatedBy:     "test",
		})
		return err
	}))
}

func (f fixture) available(t *testing.T, key balance.Key) int64 {
	t.Helper()
	snap, err := f.balances.GetBalance(context.Background(), key)
	require.NoError(t, err)
	return snap.AvailableCredits
}

func (f fixture) assertAccountLedger(t *testing.T, key balance.Key) {
	t.Helper()
	total, err := f.ledger.AccountTotal(context.Background(), key.TenantID, key.EntityID)
	require.NoError(t, err)
	assert.Equal(t, f.available(t, key), total)
}

func (f fixture) assertAllocationLedger(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	row, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	total, err := f.ledger.AllocationTotal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, row.AvailableCredits, total)
	assert.True(t, row.Balanced())
}

func TestAllocateDebitsSourceAndTopsUpScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := balance.Key{TenantID: uuid.New(), EntityID: uuid.New()}
	f.fund(t, key, 1000)

	first, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "CRM", Amount: 300,
	})
	require.NoError(t, err)
	require.True(t, first.OK)
	assert.True(t, first.Created)
	assert.Equal(t, int64(700), first.SourceBalance)
	assert.Equal(t, int64(300), first.AllocationBalance)

	second, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "crm", Amount: 200,
	})
	require.NoError(t, err)
	require.True(t, second.OK)
	assert.False(t, second.Created)
	assert.Equal(t, *first.AllocationID, *second.AllocationID)
	assert.Equal(t, int64(500), second.AllocationBalance)

	other, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "hr", Amount: 100,
	})
	require.NoError(t, err)
	assert.NotEqual(t, *first.AllocationID, *other.AllocationID)

	assert.Equal(t, int64(400), f.available(t, key))
	f.assertAccountLedger(t, key)
	f.assertAllocationLedger(t, *first.AllocationID)

	active, err := f.svc.ListAllocations(ctx, key.TenantID, key.EntityID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestAllocateInsufficientWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := balance.Key{TenantID: uuid.New(), EntityID: uuid.New()}
	f.fund(t, key, 100)

	res, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "crm", Amount: 150,
	})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonInsufficientCredits, res.Reason)
	assert.Equal(t, int64(50), res.Shortfall)
	assert.Equal(t, int64(100), f.available(t, key))

	var count int64
	require.NoError(t, f.conn.Model(&models.CreditAllocation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAllocateValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := f.clock.Now().Add(-time.Minute)
	tests := []AllocateInput{
		{TenantID: uuid.New(), SourceEntityID: uuid.New(), TargetApplication: "", Amount: 10},
		{TenantID: uuid.New(), SourceEntityID: uuid.New(), TargetApplication: "crm", Amount: 0},
		{TenantID: uuid.New(), SourceEntityID: uuid.New(), TargetApplication: "crm", Amount: 10, CreditType: "gold"},
		{TenantID: uuid.New(), SourceEntityID: uuid.New(), TargetApplication: "crm", Amount: 10, ExpiresAt: &past},
	}
	for _, in := range tests {
		_, err := f.svc.Allocate(ctx, in)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "input %+v", in)
	}
}

func TestAllocateSweepsExpiredScopeBeforeOpeningNewRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := balance.Key{TenantID: uuid.New(), EntityID: uuid.New()}
	f.fund(t, key, 500)
	expires := f.clock.Now().Add(time.Hour)

	first, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "crm", Amount: 100, ExpiresAt: &expires,
	})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	second, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "crm", Amount: 50,
	})
	require.NoError(t, err)
	require.True(t, second.OK)
	assert.True(t, second.Created)
	assert.NotEqual(t, *first.AllocationID, *second.AllocationID)

	old, err := f.svc.Get(ctx, *first.AllocationID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Zero(t, old.AvailableCredits)

	expiries, err := f.ledger.CountAllocationEntries(ctx, old.ID, enums.TransactionExpiry)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expiries)
	f.assertAllocationLedger(t, old.ID)
	f.assertAllocationLedger(t, *second.AllocationID)
	f.assertAccountLedger(t, key)
}

func TestConsumeFromAllocationLeavesSourceUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := balance.Key{TenantID: uuid.New(), EntityID: uuid.New()}
	f.fund(t, key, 100)

	alloc, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "crm", Amount: 100,
	})
	require.NoError(t, err)
	require.Zero(t, f.available(t, key))

	res, err := f.svc.ConsumeFromAllocation(ctx, ConsumeInput{AllocationID: *alloc.AllocationID, Amount: 60, OperationCode: "crm.lead"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, int64(40), res.Available)

	res, err = f.svc.ConsumeFromAllocation(ctx, ConsumeInput{AllocationID: *alloc.AllocationID, Amount: 50, OperationCode: "crm.lead"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonInsufficientCredits, res.Reason)
	assert.Equal(t, int64(10), res.Shortfall)

	row, err := f.svc.Get(ctx, *alloc.AllocationID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), row.UsedCredits)
	assert.Zero(t, f.available(t, key))
	f.assertAllocationLedger(t, row.ID)

	_, err = f.svc.ConsumeFromAllocation(ctx, ConsumeInput{AllocationID: uuid.New(), Amount: 1, OperationCode: "crm.lead"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestConsumeFromAllocationConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := balance.Key{TenantID: uuid.New(), EntityID: uuid.New()}
	f.fund(t, key, 30)
	alloc, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "hr", Amount: 30,
	})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ConsumeFromAllocation(ctx, ConsumeInput{AllocationID: *alloc.AllocationID, Amount: 30, OperationCode: "hr.payslip"})
			assert.NoError(t, err)
			if res.OK {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	f.assertAllocationLedger(t, *alloc.AllocationID)
}

func TestConsumeFromExpiredAllocationIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := balance.Key{TenantID: uuid.New(), EntityID: uuid.New()}
	f.fund(t, key, 50)
	expires := f.clock.Now().Add(time.Hour)
	alloc, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "crm", Amount: 50, ExpiresAt: &expires,
	})
	require.NoError(t, err)

	f.clock.Advance(90 * time.Minute)
	res, err := f.svc.ConsumeFromAllocation(ctx, ConsumeInput{AllocationID: *alloc.AllocationID, Amount: 10, OperationCode: "crm.lead"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonAllocationExpired, res.Reason)
}

func TestAutoReplenishTopsUpFromSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := balance.Key{TenantID: uuid.New(), EntityID: uuid.New()}
	f.fund(t, key, 100)
	alloc, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "crm", Amount: 20, AutoReplenish: true,
	})
	require.NoError(t, err)

	res, err := f.svc.ConsumeFromAllocation(ctx, ConsumeInput{AllocationID: *alloc.AllocationID, Amount: 50, OperationCode: "crm.bulk"})
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, int64(30), res.Replenished)
	assert.Zero(t, res.Available)
	assert.Equal(t, int64(50), f.available(t, key))

	res, err = f.svc.ConsumeFromAllocation(ctx, ConsumeInput{AllocationID: *alloc.AllocationID, Amount: 80, OperationCode: "crm.bulk"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, int64(80), res.Shortfall)
	assert.Equal(t, int64(50), f.available(t, key))

	f.assertAccountLedger(t, key)
	f.assertAllocationLedger(t, *alloc.AllocationID)
}

func TestConsumeOnCorruptedAllocationFlagsAndAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := balance.Key{TenantID: uuid.New(), EntityID: uuid.New()}
	f.fund(t, key, 100)
	alloc, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "crm", Amount: 100,
	})
	require.NoError(t, err)

	require.NoError(t, f.conn.Model(&models.CreditAllocation{}).
		Where("id = ?", *alloc.AllocationID).
		Update("used_credits", 7).Error)

	_, err = f.svc.ConsumeFromAllocation(ctx, ConsumeInput{AllocationID: *alloc.AllocationID, Amount: 10, OperationCode: "crm.lead"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConsistency))

	row, err := f.svc.Get(ctx, *alloc.AllocationID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), row.AvailableCredits, "aborted consume must not persist")

	open, err := f.flags.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, row.ID, open[0].ResourceID)
	assert.Equal(t, key.TenantID, open[0].TenantID)
}

func TestVerifyActiveFlagsLedgerDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := balance.Key{TenantID: uuid.New(), EntityID: uuid.New()}
	f.fund(t, key, 300)
	good, err := f.svc.Allocate(ctx, AllocateInput{TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "crm", Amount: 100})
	require.NoError(t, err)
	bad, err := f.svc.Allocate(ctx, AllocateInput{TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "hr", Amount: 100})
	require.NoError(t, err)

	require.NoError(t, f.conn.Model(&models.CreditAllocation{}).
		Where("id = ?", *bad.AllocationID).
		Updates(map[string]any{"allocated_credits": 120, "available_credits": 120}).Error)

	report, err := f.svc.VerifyActive(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Flagged)

	open, err := f.flags.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, *bad.AllocationID, open[0].ResourceID)
	assert.NotEqual(t, *good.AllocationID, open[0].ResourceID)
}

func TestScopeKeyDistinguishesCampaigns(t *testing.T) {
	tenant, entity := uuid.New(), uuid.New()
	campaign := uuid.New()
	plain := ScopeKey(tenant, entity, " CRM ", enums.CreditTypeSeasonal, nil)
	tagged := ScopeKey(tenant, entity, "crm", enums.CreditTypeSeasonal, &campaign)
	assert.NotEqual(t, plain, tagged)
	assert.Equal(t, plain, ScopeKey(tenant, entity, "crm", enums.CreditTypeSeasonal, nil))
}

func TestExtendExpiryAppliesToCurrentExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := balance.Key{TenantID: uuid.New(), EntityID: uuid.New()}
	f.fund(t, key, 100)
	campaignID := uuid.New()
	expires := f.clock.Now().Add(time.Hour)

	res, err := f.svc.Allocate(ctx, AllocateInput{
		TenantID: key.TenantID, SourceEntityID: key.EntityID, TargetApplication: "crm",
		Amount: 100, CampaignID: &campaignID, ExpiresAt: &expires,
	})
	require.NoError(t, err)
	require.True(t, res.OK)

	repo := NewRepository(f.conn).(*repository)
	stale, err := repo.FindByID(ctx, *res.AllocationID)
	require.NoError(t, err)

	moved := expires.Add(48 * time.Hour).UTC()
	require.NoError(t, f.conn.Model(&models.CreditAllocation{}).
		Where("id = ?", stale.ID).
		Update("expires_at", moved).Error)

	ok, err := repo.extendRow(ctx, *stale, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "an extension computed from a stale expiry must not land")

	row, err := repo.FindByID(ctx, stale.ID)
	require.NoError(t, err)
	require.NotNil(t, row.ExpiresAt)
	assert.True(t, row.ExpiresAt.Equal(moved), "expiry was %s", row.ExpiresAt)

	extended, err := repo.ExtendExpiry(ctx, campaignID, nil, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), extended)

	row, err = repo.FindByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.True(t, row.ExpiresAt.Equal(moved.Add(24*time.Hour)), "expiry was %s", row.ExpiresAt)
}
