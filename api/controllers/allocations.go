package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Cdineshreddy12/Wrapper-sub013/api/middleware"
	"github.com/Cdineshreddy12/Wrapper-sub013/api/responses"
	"github.com/Cdineshreddy12/Wrapper-sub013/api/validators"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/allocations"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

type allocateRequest struct {
	TenantID          string     `json:"tenant_id" validate:"required,uuid"`
	SourceEntityID    string     `json:"source_entity_id" validate:"required,uuid"`
	TargetApplication string     `json:"target_application" validate:"required,max=64"`
	Amount            int64      `json:"amount" validate:"gt=0"`
	CreditType        string     `json:"credit_type"`
	Purpose           string     `json:"purpose" validate:"max=255"`
	CampaignID        string     `json:"campaign_id" validate:"omitempty,uuid"`
	ExpiresAt         *time.Time `json:"expires_at"`
	AutoReplenish     bool       `json:"auto_replenish"`
}

type allocationConsumeRequest struct {
	Amount        int64           `json:"amount" validate:"gt=0"`
	OperationCode string          `json:"operation_code" validate:"required,max=128"`
	Metadata      json.RawMessage `json:"metadata"`
}

func (r allocateRequest) toInput(actor string) (allocations.AllocateInput, error) {
	var creditType enums.CreditType
	if raw := strings.TrimSpace(r.CreditType); raw != "" {
		parsed, err := enums.ParseCreditType(raw)
		if err != nil {
			return allocations.AllocateInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid credit_type")
		}
		creditType = parsed
	}
	input := allocations.AllocateInput{
		TenantID:          uuid.MustParse(r.TenantID),
		SourceEntityID:    uuid.MustParse(r.SourceEntityID),
		TargetApplication: r.TargetApplication,
		Amount:            r.Amount,
		CreditType:        creditType,
		Purpose:           strings.TrimSpace(r.Purpose),
		ExpiresAt:         r.ExpiresAt,
		AutoReplenish:     r.AutoReplenish,
		InitiatedBy:       actor,
	}
	if r.CampaignID != "" {
		id := uuid.MustParse(r.CampaignID)
		input.CampaignID = &id
	}
	return input, nil
}

func AllocationsCreate(svc allocations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload allocateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Allocate(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.OK {
			responses.WriteError(r.Context(), logg, w, insufficient(result.Reason, result.SourceBalance, result.Shortfall))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// AllocationsConsume debits an allocation. Inactive or expired allocations
// are a state conflict; a short allocation is reported like a short account.
func AllocationsConsume(svc allocations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allocationID, err := validators.ParsePathUUID(r, "allocationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload allocationConsumeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		meta, err := parseMetadata(payload.Metadata)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ConsumeFromAllocation(r.Context(), allocations.ConsumeInput{
			AllocationID:  allocationID,
			Amount:        payload.Amount,
			OperationCode: strings.TrimSpace(payload.OperationCode),
			InitiatedBy:   middleware.ActorFromContext(r.Context()),
			Metadata:      meta,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		switch {
		case result.OK:
			responses.WriteSuccess(w, result)
		case result.Reason == allocations.ReasonInsufficientCredits:
			responses.WriteError(r.Context(), logg, w, insufficient(result.Reason, result.Available, result.Shortfall))
		default:
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeStateConflict, "allocation cannot be consumed").WithDetails(map[string]any{"reason": result.Reason}))
		}
	}
}

// AllocationsList returns the active allocations funded by one entity.
func AllocationsList(svc allocations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, entityID, err := accountPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListAllocations(r.Context(), tenantID, entityID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]allocationResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, allocationResponseFromModel(row))
		}
		responses.WriteList(w, out, len(out))
	}
}

func AllocationsGet(svc allocations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allocationID, err := validators.ParsePathUUID(r, "allocationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Get(r.Context(), allocationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, allocationResponseFromModel(*row))
	}
}

type allocationResponse struct {
	ID                uuid.UUID        `json:"id"`
	TenantID          uuid.UUID        `json:"tenant_id"`
	SourceEntityID    uuid.UUID        `json:"source_entity_id"`
	TargetApplication string           `json:"target_application"`
	CreditType        enums.CreditType `json:"credit_type"`
	AllocatedCredits  int64            `json:"allocated_credits"`
	UsedCredits       int64            `json:"used_credits"`
	AvailableCredits  int64            `json:"available_credits"`
	CampaignID        *uuid.UUID       `json:"campaign_id,omitempty"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
	AutoReplenish     bool             `json:"auto_replenish"`
	IsActive          bool             `json:"is_active"`
	Purpose           string           `json:"purpose,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func allocationResponseFromModel(m models.CreditAllocation) allocationResponse {
	return allocationResponse{
		ID:                m.ID,
		TenantID:          m.TenantID,
		SourceEntityID:    m.SourceEntityID,
		TargetApplication: m.TargetApplication,
		CreditType:        m.CreditType,
		AllocatedCredits:  m.AllocatedCredits,
		UsedCredits:       m.UsedCredits,
		AvailableCredits:  m.AvailableCredits,
		CampaignID:        m.CampaignID,
		ExpiresAt:         m.ExpiresAt,
		AutoReplenish:     m.AutoReplenish,
		IsActive:          m.IsActive,
		Purpose:           m.Purpose,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
