package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
)

// Key identifies one credit account.
type Key struct {
	TenantID uuid.UUID
	EntityID uuid.UUID
}

func (k Key) Validate() error {
	if k.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if k.EntityID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "entity id is required")
	}
	return nil
}

// Snapshot is a point-in-time read of an account. Missing accounts yield a
// zero snapshot with Exists=false.
type Snapshot struct {
	TenantID             uuid.UUID  `json:"tenant_id"`
	EntityID             uuid.UUID  `json:"entity_id"`
	AvailableCredits     int64      `json:"available_credits"`
	ReservedCredits      int64      `json:"reserved_credits"`
	FreeCredits          int64      `json:"free_credits"`
	FreeCreditsExpiresAt *time.Time `json:"free_credits_expires_at,omitempty"`
	IsActive             bool       `json:"is_active"`
	Exists               bool       `json:"exists"`
	LastUpdatedAt        *time.Time `json:"last_updated_at,omitempty"`
}

// Total is what the ledger must sum to for this account.
func (s Snapshot) Total() int64 {
	return s.AvailableCredits + s.ReservedCredits
}

// Mutation carries the balance before and after one conditional update,
// both read under the row lock taken by that update.
type Mutation struct {
	AccountID uuid.UUID
	Previous  int64
	New       int64
	// FreeUsed is the part of a debit taken from the free sub-balance.
	FreeUsed int64
}

// FreeGrant marks credited units as part of the expiring free sub-balance.
type FreeGrant struct {
	ExpiresAt *time.Time
}

// ExpiryCursor is a position in (free_credits_expires_at, id) order. The zero
// value starts at the beginning.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        uuid.UUID
}

// Store is the only component allowed to touch credit_accounts.
type Store interface {
	WithTx(tx *gorm.DB) Store
	GetBalance(ctx context.Context, key Key) (Snapshot, error)
	EnsureAccount(ctx context.Context, key Key) error
	Debit(ctx context.Context, key Key, amount int64, now time.Time) (Mutation, bool, error)
	Credit(ctx context.Context, key Key, amount int64, grant *FreeGrant, now time.Time) (Mutation, error)
	SweepFree(ctx context.Context, key Key, expected int64, now time.Time, force bool) (Mutation, bool, error)
	SetActive(ctx context.Context, key Key, active bool) error
	ListFreeExpired(ctx context.Context, now time.Time, after ExpiryCursor, limit int) ([]models.CreditAccount, error)
	ListAccounts(ctx context.Context, tenantID uuid.UUID) ([]models.CreditAccount, error)
	ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]models.CreditAccount, error)
}

type store struct {
	db *gorm.DB
}

// NewStore returns a balance store bound to the provided database.
func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}

func (s *store) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &store{db: tx}
}

func (s *store) accounts(ctx context.Context, key Key) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.CreditAccount{}).
		Where("tenant_id = ? AND entity_id = ?", key.TenantID, key.EntityID)
}

// lockForUpdate reads the account under a row lock so the free sub-balance
// seen here is the one the following update decrements.
func (s *store) lockForUpdate(ctx context.Context, key Key) (*models.CreditAccount, error) {
	var account models.CreditAccount
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("tenant_id = ? AND entity_id = ?", key.TenantID, key.EntityID).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock credit account: %w", err)
	}
	return &account, nil
}

func (s *store) load(ctx context.Context, key Key) (*models.CreditAccount, error) {
	var account models.CreditAccount
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_id = ?", key.TenantID, key.EntityID).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credit account: %w", err)
	}
	return &account, nil
}

func (s *store) GetBalance(ctx context.Context, key Key) (Snapshot, error) {
	snap := Snapshot{TenantID: key.TenantID, EntityID: key.EntityID}
	account, err := s.load(ctx, key)
	if err != nil || account == nil {
		return snap, err
	}
	updated := account.LastUpdatedAt
	snap.AvailableCredits = account.AvailableCredits
	snap.ReservedCredits = account.ReservedCredits
	snap.FreeCredits = account.FreeCredits
	snap.FreeCreditsExpiresAt = account.FreeCreditsExpiresAt
	snap.IsActive = account.IsActive
	snap.Exists = true
	snap.LastUpdatedAt = &updated
	return snap, nil
}

func (s *store) EnsureAccount(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	account := models.CreditAccount{
		TenantID: key.TenantID,
		EntityID: key.EntityID,
		IsActive: true,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "entity_id"}},
			DoNothing: true,
		}).
		Create(&account).Error
}

// Debit decrements the account only when it holds at least amount. When the
// guard fails the returned mutation reports the untouched balance and
// applied is false. Inactive accounts yield a state conflict.
func (s *store) Debit(ctx context.Context, key Key, amount int64, now time.Time) (Mutation, bool, error) {
	if amount <= 0 {
		return Mutation{}, false, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}

	prior, err := s.lockForUpdate(ctx, key)
	if err != nil {
		return Mutation{}, false, err
	}
	if prior == nil {
		return Mutation{}, false, nil
	}

	res := s.accounts(ctx, key).
		Where("is_active = ? AND available_credits >= ?", true, amount).
		Updates(map[string]any{
			"available_credits": gorm.Expr("available_credits - ?", amount),
			"free_credits":      gorm.Expr("CASE WHEN free_credits > ? THEN free_credits - ? ELSE 0 END", amount, amount),
			"last_updated_at":   now,
		})
	if res.Error != nil {
		return Mutation{}, false, fmt.Errorf("debit credit account: %w", res.Error)
	}

	account, err := s.load(ctx, key)
	if err != nil {
		return Mutation{}, false, err
	}
	if res.RowsAffected == 0 {
		if account == nil {
			return Mutation{}, false, nil
		}
		if !account.IsActive {
			return Mutation{}, false, pkgerrors.New(pkgerrors.CodeStateConflict, "credit account is inactive")
		}
		return Mutation{AccountID: account.ID, Previous: account.AvailableCredits, New: account.AvailableCredits}, false, nil
	}
	if account == nil {
		return Mutation{}, false, fmt.Errorf("credit account vanished after debit")
	}
	return Mutation{
		AccountID: account.ID,
		Previous:  account.AvailableCredits + amount,
		New:       account.AvailableCredits,
		FreeUsed:  min(prior.FreeCredits, amount),
	}, true, nil
}

// Credit increments the account, creating it on first use.
func (s *store) Credit(ctx context.Context, key Key, amount int64, grant *FreeGrant, now time.Time) (Mutation, error) {
	if amount <= 0 {
		return Mutation{}, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	if err := s.EnsureAccount(ctx, key); err != nil {
		return Mutation{}, fmt.Errorf("ensure credit account: %w", err)
	}

	updates := map[string]any{
		"available_credits": gorm.Expr("available_credits + ?", amount),
		"last_updated_at":   now,
	}
	if grant != nil {
		updates["free_credits"] = gorm.Expr("free_credits + ?", amount)
		if grant.ExpiresAt != nil {
			updates["free_credits_expires_at"] = gorm.Expr(
				"CASE WHEN free_credits_expires_at IS NULL OR free_credits_expires_at < ? THEN ? ELSE free_credits_expires_at END",
				*grant.ExpiresAt, *grant.ExpiresAt,
			)
		}
	}

	res := s.accounts(ctx, key).Where("is_active = ?", true).Updates(updates)
	if res.Error != nil {
		return Mutation{}, fmt.Errorf("credit credit account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Mutation{}, pkgerrors.New(pkgerrors.CodeStateConflict, "credit account is inactive")
	}

	account, err := s.load(ctx, key)
	if err != nil {
		return Mutation{}, err
	}
	if account == nil {
		return Mutation{}, fmt.Errorf("credit account vanished after credit")
	}
	return Mutation{
		AccountID: account.ID,
		Previous:  account.AvailableCredits - amount,
		New:       account.AvailableCredits,
	}, nil
}

// SweepFree zeroes the free sub-balance if it still equals expected and,
// unless forced, is still past its expiry at now. applied=false means a
// concurrent consume, grant or extension won and nothing changed.
func (s *store) SweepFree(ctx context.Context, key Key, expected int64, now time.Time, force bool) (Mutation, bool, error) {
	if expected <= 0 {
		return Mutation{}, false, nil
	}

	query := s.accounts(ctx, key).Where("free_credits = ?", expected)
	if !force {
		query = query.Where("free_credits_expires_at IS NOT NULL AND free_credits_expires_at <= ?", now)
	}
	res := query.Updates(map[string]any{
		"available_credits":       gorm.Expr("available_credits - free_credits"),
		"free_credits":            0,
		"free_credits_expires_at": nil,
		"last_updated_at":         now,
	})
	if res.Error != nil {
		return Mutation{}, false, fmt.Errorf("sweep free credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Mutation{}, false, nil
	}

	account, err := s.load(ctx, key)
	if err != nil {
		return Mutation{}, false, err
	}
	if account == nil {
		return Mutation{}, false, fmt.Errorf("credit account vanished after sweep")
	}
	return Mutation{
		AccountID: account.ID,
		Previous:  account.AvailableCredits + expected,
		New:       account.AvailableCredits,
	}, true, nil
}

func (s *store) SetActive(ctx context.Context, key Key, active bool) error {
	res := s.accounts(ctx, key).Updates(map[string]any{"is_active": active})
	if res.Error != nil {
		return fmt.Errorf("update credit account state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
	}
	return nil
}

func (s *store) ListFreeExpired(ctx context.Context, now time.Time, after ExpiryCursor, limit int) ([]models.CreditAccount, error) {
	var accounts []models.CreditAccount
	query := s.db.WithContext(ctx).
		Where("free_credits > 0 AND free_credits_expires_at IS NOT NULL AND free_credits_expires_at <= ?", now)
	if !after.ExpiresAt.IsZero() {
		query = query.Where("free_credits_expires_at > ? OR (free_credits_expires_at = ? AND id > ?)",
			after.ExpiresAt, after.ExpiresAt, after.ID)
	}
	query = query.Order("free_credits_expires_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list expired free balances: %w", err)
	}
	return accounts, nil
}

func (s *store) ListAccounts(ctx context.Context, tenantID uuid.UUID) ([]models.CreditAccount, error) {
	var accounts []models.CreditAccount
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list credit accounts: %w", err)
	}
	return accounts, nil
}

// ListUpdatedSince returns accounts touched at or after since, oldest first.
func (s *store) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]models.CreditAccount, error) {
	var accounts []models.CreditAccount
	query := s.db.WithContext(ctx).
		Where("last_updated_at >= ?", since).
		Order("last_updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list recently updated accounts: %w", err)
	}
	return accounts, nil
}
