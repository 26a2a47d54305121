package credits

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/balance"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/ledger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox/payloads"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/payments"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/types"
)

// Postgres reports the index name, SQLite the column.
var idempotencyConstraints = []string{
	"ux_credit_transactions_idempotency_key",
	"credit_transactions.idempotency_key",
}

func isIdempotencyConflict(err error) bool {
	for _, name := range idempotencyConstraints {
		if db.IsUniqueViolation(err, name) {
			return true
		}
	}
	return false
}

// credit describes one account-scope credit and its ledger row.
type credit struct {
	key            balance.Key
	amount         int64
	txType         enums.TransactionType
	creditType     enums.CreditType
	source         enums.CreditSource
	idempotencyKey string
	expiresAt      *time.Time
	operationCode  string
	referenceID    *uuid.UUID
	initiatedBy    string
	metadata       types.OperationMetadata
}

func (s *service) applyCredit(ctx context.Context, tx *gorm.DB, c credit) (balance.Mutation, *models.CreditTransaction, error) {
	var grant *balance.FreeGrant
	if c.creditType.TracksSubBalance() {
		grant = &balance.FreeGrant{ExpiresAt: c.expiresAt}
	}
	mut, err := s.balances.WithTx(tx).Credit(ctx, c.key, c.amount, grant, s.clock())
	if err != nil {
		return balance.Mutation{}, nil, err
	}
	row, err := s.ledger.Record(ctx, tx, ledger.Entry{
		TenantID:        c.key.TenantID,
		EntityID:        c.key.EntityID,
		Scope:           enums.LedgerScopeAccount,
		Type:            c.txType,
		CreditType:      c.creditType,
		Amount:          c.amount,
		PreviousBalance: mut.Previous,
		NewBalance:      mut.New,
		OperationCode:   c.operationCode,
		Source:          string(c.source),
		IdempotencyKey:  c.idempotencyKey,
		ReferenceID:     c.referenceID,
		InitiatedBy:     c.initiatedBy,
		Metadata:        c.metadata,
	})
	if err != nil {
		return balance.Mutation{}, nil, err
	}
	return mut, row, nil
}

func (in AddCreditsInput) normalize() (AddCreditsInput, error) {
	key := balance.Key{TenantID: in.TenantID, EntityID: in.EntityID}
	if err := key.Validate(); err != nil {
		return in, err
	}
	if in.Amount <= 0 {
		return in, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	if !in.Source.IsValid() {
		return in, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid credit source %q", in.Source)
	}
	if in.CreditType == "" {
		in.CreditType = enums.CreditTypePaid
	}
	if !in.CreditType.IsValid() {
		return in, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid credit type %q", in.CreditType)
	}
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.Source.RequiresConfirmation() && in.IdempotencyKey == "" {
		return in, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required for gateway credits")
	}
	if in.ExpiresAt != nil {
		expires := in.ExpiresAt.UTC()
		in.ExpiresAt = &expires
	}
	in.InitiatedBy = actorOrSystem(in.InitiatedBy)
	return in, in.Metadata.Validate()
}

// AddCredits applies a purchase or grant at most once per idempotency key.
func (s *service) AddCredits(ctx context.Context, input AddCreditsInput) (AddCreditsResult, error) {
	in, err := input.normalize()
	if err != nil {
		return AddCreditsResult{}, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":       in.TenantID.String(),
		"entity_id":       in.EntityID.String(),
		"amount":          in.Amount,
		"source":          in.Source,
		"idempotency_key": in.IdempotencyKey,
	})

	if in.IdempotencyKey != "" {
		prior, err := s.ledger.FindByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return AddCreditsResult{}, err
		}
		if prior != nil {
			return s.replay(logCtx, prior, in)
		}
	}

	if in.Source.RequiresConfirmation() && s.payments != nil {
		err := s.payments.Confirm(ctx, payments.Confirmation{
			Reference: in.IdempotencyKey,
			TenantID:  in.TenantID,
			Amount:    in.Amount,
		})
		if err != nil {
			s.metrics.Observe("add_credits", metrics.OutcomeFailed, 0)
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm payment")
			}
			s.logg.Warn(logCtx, "payment confirmation failed; nothing credited")
			return AddCreditsResult{}, err
		}
	}

	key := balance.Key{TenantID: in.TenantID, EntityID: in.EntityID}
	var (
		mut balance.Mutation
		row *models.CreditTransaction
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		mut, row, err = s.applyCredit(ctx, tx, credit{
			key:            key,
			amount:         in.Amount,
			txType:         enums.TransactionPurchase,
			creditType:     in.CreditType,
			source:         in.Source,
			idempotencyKey: in.IdempotencyKey,
			expiresAt:      in.ExpiresAt,
			initiatedBy:    in.InitiatedBy,
			metadata:       in.Metadata,
		})
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCreditsAdded,
			AggregateType: enums.AggregateCreditAccount,
			AggregateID:   mut.AccountID,
			Actor:         &outbox.ActorRef{InitiatedBy: in.InitiatedBy, TenantID: in.TenantID},
			Data: payloads.CreditsAddedEvent{
				TransactionID: row.ID,
				TenantID:      in.TenantID,
				EntityID:      in.EntityID,
				Amount:        in.Amount,
				Balance:       mut.New,
				Source:        in.Source,
				CreditType:    in.CreditType,
			},
		})
	})
	if err != nil {
		if in.IdempotencyKey != "" && isIdempotencyConflict(err) {
			prior, lookupErr := s.ledger.FindByIdempotencyKey(ctx, in.IdempotencyKey)
			if lookupErr != nil {
				return AddCreditsResult{}, errors.Join(err, lookupErr)
			}
			if prior != nil {
				return s.replay(logCtx, prior, in)
			}
		}
		s.metrics.Observe("add_credits", metrics.OutcomeFailed, 0)
		return AddCreditsResult{}, err
	}

	s.metrics.Observe("add_credits", metrics.OutcomeSuccess, in.Amount)
	s.logg.Info(s.logg.WithField(logCtx, "balance", mut.New), "credits added")
	return AddCreditsResult{OK: true, Balance: mut.New, TransactionID: row.ID}, nil
}

// replay returns the stored outcome of an already-applied key. A key reused
// for a different account or amount is rejected.
func (s *service) replay(ctx context.Context, prior *models.CreditTransaction, in AddCreditsInput) (AddCreditsResult, error) {
	if prior.TenantID != in.TenantID || prior.EntityID != in.EntityID || prior.Amount != in.Amount {
		s.metrics.Observe("add_credits", metrics.OutcomeFailed, 0)
		return AddCreditsResult{}, pkgerrors.New(pkgerrors.CodeIdempotency,
			"idempotency key already applied with a different request").
			WithDetails(map[string]any{
				"idempotency_key": in.IdempotencyKey,
				"applied_amount":  prior.Amount,
			})
	}
	s.metrics.Observe("add_credits", metrics.OutcomeReplayed, 0)
	s.logg.Info(ctx, "idempotency key already applied; returning prior result")
	return AddCreditsResult{
		OK:            true,
		Balance:       prior.NewBalance,
		TransactionID: prior.ID,
		Replayed:      true,
	}, nil
}
