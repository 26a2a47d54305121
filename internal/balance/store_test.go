package balance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/dbtest"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
)

func newKey() Key {
	return Key{TenantID: uuid.New(), EntityID: uuid.New()}
}

func TestGetBalanceMissingAccountReturnsZeroSnapshot(t *testing.T) {
	store := NewStore(dbtest.New(t))
	key := newKey()

	snap, err := store.GetBalance(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Zero(t, snap.AvailableCredits)
	assert.Equal(t, key.TenantID, snap.TenantID)
}

func TestCreditCreatesAccountLazily(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()
	key := newKey()
	now := time.Now().UTC()

	first, err := store.Credit(ctx, key, 500, nil, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Previous)
	assert.Equal(t, int64(500), first.New)

	second, err := store.Credit(ctx, key, 250, nil, now)
	require.NoError(t, err)
	assert.Equal(t, first.AccountID, second.AccountID)
	assert.Equal(t, int64(500), second.Previous)
	assert.Equal(t, int64(750), second.New)

	snap, err := store.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.True(t, snap.IsActive)
	assert.Equal(t, int64(750), snap.Total())
}

func TestDebitGuardsAgainstOverdraft(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()
	key := newKey()
	now := time.Now().UTC()

	_, applied, err := store.Debit(ctx, key, 10, now)
	require.NoError(t, err)
	assert.False(t, applied, "missing account cannot be debited")

	_, err = store.Credit(ctx, key, 100, nil, now)
	require.NoError(t, err)

	mutation, applied, err := store.Debit(ctx, key, 40, now)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, int64(100), mutation.Previous)
	assert.Equal(t, int64(60), mutation.New)

	mutation, applied, err = store.Debit(ctx, key, 61, now)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(60), mutation.New)

	_, _, err = store.Debit(ctx, key, 0, now)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDebitConcurrentExactlyOneWinner(t *testing.T) {
	conn := dbtest.New(t)
	store := NewStore(conn)
	ctx := context.Background()
	key := newKey()

	_, err := store.Credit(ctx, key, 100, nil, time.Now().UTC())
	require.NoError(t, err)

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txErr := conn.Transaction(func(tx *gorm.DB) error {
				_, applied, err := store.WithTx(tx).Debit(ctx, key, 100, time.Now().UTC())
				if err != nil {
					return err
				}
				if applied {
					mu.Lock()
					winners++
					mu.Unlock()
				}
				return nil
			})
			assert.NoError(t, txErr)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	snap, err := store.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, snap.AvailableCredits)
}

func TestDebitInactiveAccountIsStateConflict(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()
	key := newKey()

	_, err := store.Credit(ctx, key, 100, nil, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.SetActive(ctx, key, false))

	_, _, err = store.Debit(ctx, key, 10, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = store.Credit(ctx, key, 10, nil, time.Now().UTC())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	err = store.SetActive(ctx, newKey(), false)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestFreeCreditsAreSpentFirstAndSweptOnce(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()
	key := newKey()
	now := time.Now().UTC()
	expired := now.Add(-time.Hour)

	_, err := store.Credit(ctx, key, 300, nil, now)
	require.NoError(t, err)
	_, err = store.Credit(ctx, key, 100, &FreeGrant{ExpiresAt: &expired}, now)
	require.NoError(t, err)

	_, applied, err := store.Debit(ctx, key, 30, now)
	require.NoError(t, err)
	require.True(t, applied)

	snap, err := store.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(370), snap.AvailableCredits)
	assert.Equal(t, int64(70), snap.FreeCredits)

	candidates, err := store.ListFreeExpired(ctx, now, ExpiryCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	_, applied, err = store.SweepFree(ctx, key, 100, now, false)
	require.NoError(t, err)
	assert.False(t, applied, "stale snapshot must not sweep")

	mutation, applied, err := store.SweepFree(ctx, key, 70, now, false)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, int64(370), mutation.Previous)
	assert.Equal(t, int64(300), mutation.New)

	_, applied, err = store.SweepFree(ctx, key, 70, now, false)
	require.NoError(t, err)
	assert.False(t, applied)

	candidates, err = store.ListFreeExpired(ctx, now, ExpiryCursor{}, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSweepFreeRespectsExtendedExpiryUnlessForced(t *testing.T) {
	store := NewStore(dbtest.New(t))
	ctx := context.Background()
	key := newKey()
	now := time.Now().UTC()
	future := now.Add(48 * time.Hour)

	_, err := store.Credit(ctx, key, 50, &FreeGrant{ExpiresAt: &future}, now)
	require.NoError(t, err)

	_, applied, err := store.SweepFree(ctx, key, 50, now, false)
	require.NoError(t, err)
	assert.False(t, applied)

	mutation, applied, err := store.SweepFree(ctx, key, 50, now, true)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Zero(t, mutation.New)
}
