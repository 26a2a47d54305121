package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Cdineshreddy12/Wrapper-sub013/api/responses"
	"github.com/Cdineshreddy12/Wrapper-sub013/api/validators"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

// FlagService is the read/resolve side of reconciliation.
type FlagService interface {
	ListOpen(ctx context.Context, limit int) ([]models.ReconciliationFlag, error)
	Resolve(ctx context.Context, id uuid.UUID) error
}

func ReconciliationListFlags(svc FlagService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListOpen(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]flagResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, flagResponseFromModel(row))
		}
		responses.WriteList(w, out, limit)
	}
}

func ReconciliationResolveFlag(svc FlagService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flagID, err := validators.ParsePathUUID(r, "flagId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Resolve(r.Context(), flagID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": flagID, "status": enums.ReconciliationStatusResolved})
	}
}

type flagResponse struct {
	ID           uuid.UUID                    `json:"id"`
	TenantID     uuid.UUID                    `json:"tenant_id"`
	ResourceType enums.ReconciliationResource `json:"resource_type"`
	ResourceID   uuid.UUID                    `json:"resource_id"`
	Detail       string                       `json:"detail"`
	Status       enums.ReconciliationStatus   `json:"status"`
	CreatedAt    time.Time                    `json:"created_at"`
	ResolvedAt   *time.Time                   `json:"resolved_at,omitempty"`
}

func flagResponseFromModel(m models.ReconciliationFlag) flagResponse {
	return flagResponse{
		ID:           m.ID,
		TenantID:     m.TenantID,
		ResourceType: m.ResourceType,
		ResourceID:   m.ResourceID,
		Detail:       m.Detail,
		Status:       m.Status,
		CreatedAt:    m.CreatedAt,
		ResolvedAt:   m.ResolvedAt,
	}
}
