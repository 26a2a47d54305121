package controllers

import (
	"net/http"
	"strings"

	"github.com/Cdineshreddy12/Wrapper-sub013/api/responses"
	"github.com/Cdineshreddy12/Wrapper-sub013/api/validators"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/expiry"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

type expireTenantRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// ExpiryRun triggers an on-demand sweep. ?credit_type=a,b narrows it.
func ExpiryRun(svc expiry.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creditTypes []enums.CreditType
		if raw := strings.TrimSpace(r.URL.Query().Get("credit_type")); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				ct, err := enums.ParseCreditType(strings.TrimSpace(part))
				if err != nil {
					responses.WriteError(r.Context(), logg, w,
						pkgerrors.New(pkgerrors.CodeValidation, "invalid credit_type").WithDetails(map[string]any{"value": part}))
					return
				}
				creditTypes = append(creditTypes, ct)
			}
		}
		report, err := svc.ProcessExpiries(r.Context(), creditTypes...)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func ExpiryExpireTenant(svc expiry.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := validators.ParsePathUUID(r, "tenantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload expireTenantRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.ExpireAllForTenant(r.Context(), tenantID, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}
