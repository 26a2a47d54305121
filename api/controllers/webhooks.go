package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Cdineshreddy12/Wrapper-sub013/api/responses"
	"github.com/Cdineshreddy12/Wrapper-sub013/api/validators"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/credits"
	paymentwebhook "github.com/Cdineshreddy12/Wrapper-sub013/internal/webhooks/payments"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

// PaymentHandler applies one normalized gateway notification.
type PaymentHandler interface {
	HandlePayment(ctx context.Context, event paymentwebhook.Event) (credits.AddCreditsResult, error)
}

type paymentWebhookRequest struct {
	TenantID         string `json:"tenant_id" validate:"required,uuid"`
	EntityID         string `json:"entity_id" validate:"required,uuid"`
	PaymentReference string `json:"payment_reference" validate:"required,max=255"`
	CreditAmount     int64  `json:"credit_amount" validate:"gt=0"`
	Currency         string `json:"currency" validate:"required,currency"`
}

func PaymentWebhook(svc PaymentHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload paymentWebhookRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		currency, err := enums.ParseCurrency(payload.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency"))
			return
		}

		result, err := svc.HandlePayment(r.Context(), paymentwebhook.Event{
			TenantID:         uuid.MustParse(payload.TenantID),
			EntityID:         uuid.MustParse(payload.EntityID),
			PaymentReference: strings.TrimSpace(payload.PaymentReference),
			CreditAmount:     payload.CreditAmount,
			Currency:         currency,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
