package campaigns

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/cache"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/dbtest"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/redis"
)

type countingDirectory struct {
	next   TenantDirectory
	active int
	single int
}

func (d *countingDirectory) ActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	d.active++
	return d.next.ActiveTenantIDs(ctx)
}

func (d *countingDirectory) Tenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	d.single++
	return d.next.Tenant(ctx, id)
}

func newCachedDirectory(t *testing.T, next TenantDirectory) (*CachedDirectory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	client := redis.NewFromUniversal(raw)

	tenants, err := cache.NewJSON[models.Tenant](client, "tenants", time.Minute)
	require.NoError(t, err)
	active, err := cache.NewJSON[[]uuid.UUID](client, "tenants_active", time.Minute)
	require.NoError(t, err)
	dir, err := NewCachedDirectory(next, tenants, active, logger.Nop())
	require.NoError(t, err)
	return dir, mr
}

func TestCachedDirectoryServesFromRedis(t *testing.T) {
	conn := dbtest.New(t)
	tenant := models.Tenant{ID: uuid.New(), Name: "acme", RootEntityID: uuid.New(), IsActive: true}
	require.NoError(t, conn.Create(&tenant).Error)

	counting := &countingDirectory{next: NewTenantDirectory(conn)}
	dir, _ := newCachedDirectory(t, counting)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ids, err := dir.ActiveTenantIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{tenant.ID}, ids)

		loaded, err := dir.Tenant(ctx, tenant.ID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, tenant.RootEntityID, loaded.RootEntityID)
	}
	assert.Equal(t, 1, counting.active)
	assert.Equal(t, 1, counting.single)

	require.NoError(t, dir.Invalidate(ctx, tenant.ID))
	_, err := dir.Tenant(ctx, tenant.ID)
	require.NoError(t, err)
	_, err = dir.ActiveTenantIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counting.active)
	assert.Equal(t, 2, counting.single)
}

func TestCachedDirectoryFallsThroughWhenRedisIsDown(t *testing.T) {
	conn := dbtest.New(t)
	tenant := models.Tenant{ID: uuid.New(), Name: "acme", RootEntityID: uuid.New(), IsActive: true}
	require.NoError(t, conn.Create(&tenant).Error)

	dir, mr := newCachedDirectory(t, NewTenantDirectory(conn))
	mr.Close()

	loaded, err := dir.Tenant(context.Background(), tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, tenant.ID, loaded.ID)

	missing, err := dir.Tenant(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
