package campaigns

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/cache"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

// TenantDirectory resolves campaign targets against the tenant read model.
type TenantDirectory interface {
	ActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error)
	Tenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

type gormDirectory struct {
	db *gorm.DB
}

// NewTenantDirectory reads tenants straight from the database.
func NewTenantDirectory(db *gorm.DB) TenantDirectory {
	return &gormDirectory{db: db}
}

func (d *gormDirectory) ActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := d.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("is_active = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return ids, nil
}

func (d *gormDirectory) Tenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := d.db.WithContext(ctx).Where("id = ?", id).Take(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	return &tenant, nil
}

const activeTenantsKey = "active"

// CachedDirectory fronts a TenantDirectory with the Redis JSON cache. Cache
// failures are logged and fall through to the wrapped directory.
type CachedDirectory struct {
	next    TenantDirectory
	tenants *cache.JSON[models.Tenant]
	active  *cache.JSON[[]uuid.UUID]
	logg    *logger.Logger
}

func NewCachedDirectory(next TenantDirectory, tenants *cache.JSON[models.Tenant], active *cache.JSON[[]uuid.UUID], logg *logger.Logger) (*CachedDirectory, error) {
	if next == nil || tenants == nil || active == nil {
		return nil, fmt.Errorf("directory and caches required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &CachedDirectory{next: next, tenants: tenants, active: active, logg: logg}, nil
}

func (c *CachedDirectory) ActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := c.active.Get(ctx, activeTenantsKey)
	if err == nil {
		return ids, nil
	}
	c.logMiss(ctx, "tenants:active", err)

	ids, err = c.next.ActiveTenantIDs(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.active.Set(ctx, activeTenantsKey, ids); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "tenant cache write failed")
	}
	return ids, nil
}

func (c *CachedDirectory) Tenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	tenant, err := c.tenants.Get(ctx, id.String())
	if err == nil {
		return &tenant, nil
	}
	c.logMiss(ctx, id.String(), err)

	loaded, err := c.next.Tenant(ctx, id)
	if err != nil || loaded == nil {
		return loaded, err
	}
	if err := c.tenants.Set(ctx, id.String(), *loaded); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "tenant cache write failed")
	}
	return loaded, nil
}

// Invalidate drops cached entries for the given tenants and the active list.
func (c *CachedDirectory) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	if err := c.tenants.Invalidate(ctx, keys...); err != nil {
		return err
	}
	return c.active.Invalidate(ctx, activeTenantsKey)
}

func (c *CachedDirectory) logMiss(ctx context.Context, key string, err error) {
	if errors.Is(err, cache.ErrMiss) {
		return
	}
	c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()}), "tenant cache read failed")
}
