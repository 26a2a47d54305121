// Package paymentwebhook applies confirmed gateway payments as purchases.
package paymentwebhook

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/credits"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/types"
)

const actorPaymentGateway = "payment_gateway"

type creditAdder interface {
	AddCredits(ctx context.Context, input credits.AddCreditsInput) (credits.AddCreditsResult, error)
}

type guard interface {
	Acquire(ctx context.Context, reference string) (bool, error)
	Release(ctx context.Context, reference string) error
}

// Event is the normalized payment notification. PaymentReference doubles as
// the purchase idempotency key.
type Event struct {
	TenantID         uuid.UUID
	EntityID         uuid.UUID
	PaymentReference string
	CreditAmount     int64
	Currency         enums.Currency
}

type ServiceParams struct {
	Credits creditAdder
	Guard   guard
	Logger  *logger.Logger
}

type Service struct {
	credits creditAdder
	guard   guard
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Credits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit service required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "in-flight guard required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{credits: params.Credits, guard: params.Guard, logg: params.Logger}, nil
}

// HandlePayment credits the account once per payment reference. A repeated
// delivery returns the original result with Replayed set.
func (s *Service) HandlePayment(ctx context.Context, event Event) (credits.AddCreditsResult, error) {
	reference := strings.TrimSpace(event.PaymentReference)
	if reference == "" {
		return credits.AddCreditsResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payment_reference is required")
	}
	if !event.Currency.IsValid() {
		return credits.AddCreditsResult{}, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported currency %q", event.Currency)
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"payment_reference": reference,
		"tenant_id":         event.TenantID.String(),
		"entity_id":         event.EntityID.String(),
	})

	acquired, err := s.guard.Acquire(ctx, reference)
	if err != nil {
		return credits.AddCreditsResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment guard unavailable")
	}
	if !acquired {
		return credits.AddCreditsResult{}, pkgerrors.New(pkgerrors.CodeConflict, "payment is already being applied")
	}
	defer func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), reference); err != nil {
			s.logg.Warn(ctx, "payment guard release failed: "+err.Error())
		}
	}()

	result, err := s.credits.AddCredits(ctx, credits.AddCreditsInput{
		TenantID:       event.TenantID,
		EntityID:       event.EntityID,
		Amount:         event.CreditAmount,
		Source:         enums.SourcePaymentGateway,
		CreditType:     enums.CreditTypePaid,
		IdempotencyKey: reference,
		InitiatedBy:    actorPaymentGateway,
		Metadata: types.OperationMetadata{
			Kind: types.MetadataGeneric,
			Generic: &types.GenericMetadata{
				Reference: reference,
				Labels:    map[string]string{"currency": event.Currency.String()},
			},
		},
	})
	if err != nil {
		return credits.AddCreditsResult{}, err
	}
	if result.Replayed {
		s.logg.Info(ctx, "payment webhook replayed")
	} else {
		s.logg.Info(ctx, "payment webhook applied")
	}
	return result, nil
}
