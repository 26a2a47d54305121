package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Cdineshreddy12/Wrapper-sub013/api/middleware"
	"github.com/Cdineshreddy12/Wrapper-sub013/api/responses"
	"github.com/Cdineshreddy12/Wrapper-sub013/api/validators"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/campaigns"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/expiry"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

type campaignCreateRequest struct {
	Name               string                     `json:"name" validate:"required,max=255"`
	CreditType         string                     `json:"credit_type" validate:"required,credit_type"`
	TotalCredits       int64                      `json:"total_credits" validate:"gt=0"`
	DistributionMethod string                     `json:"distribution_method" validate:"required,distribution_method"`
	TargetTenantIDs    []string                   `json:"target_tenant_ids" validate:"omitempty,dive,uuid"`
	TargetAllTenants   bool                       `json:"target_all_tenants"`
	Weights            map[string]decimal.Decimal `json:"weights"`
	CustomShares       map[string]int64           `json:"custom_shares"`
	TargetApplication  string                     `json:"target_application" validate:"required,max=64"`
	ExpiresAt          *time.Time                 `json:"expires_at"`
}

type campaignExtendRequest struct {
	TenantID       string `json:"tenant_id" validate:"omitempty,uuid"`
	AdditionalDays int    `json:"additional_days" validate:"gt=0,max=3650"`
}

func (r campaignCreateRequest) toInput(actor string) (campaigns.CreateCampaignInput, error) {
	creditType, err := enums.ParseCreditType(strings.TrimSpace(r.CreditType))
	if err != nil {
		return campaigns.CreateCampaignInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid credit_type")
	}
	method, err := enums.ParseDistributionMethod(strings.TrimSpace(r.DistributionMethod))
	if err != nil {
		return campaigns.CreateCampaignInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid distribution_method")
	}

	input := campaigns.CreateCampaignInput{
		Name:               r.Name,
		CreditType:         creditType,
		TotalCredits:       r.TotalCredits,
		DistributionMethod: method,
		TargetAllTenants:   r.TargetAllTenants,
		TargetApplication:  r.TargetApplication,
		ExpiresAt:          r.ExpiresAt,
		CreatedBy:          actor,
	}
	for _, raw := range r.TargetTenantIDs {
		input.TargetTenantIDs = append(input.TargetTenantIDs, uuid.MustParse(raw))
	}
	if len(r.Weights) > 0 {
		input.Weights = make(map[uuid.UUID]decimal.Decimal, len(r.Weights))
		for raw, weight := range r.Weights {
			id, err := uuid.Parse(raw)
			if err != nil {
				return campaigns.CreateCampaignInput{}, pkgerrors.New(pkgerrors.CodeValidation, "weights must be keyed by tenant id")
			}
			input.Weights[id] = weight
		}
	}
	if len(r.CustomShares) > 0 {
		input.CustomShares = make(map[uuid.UUID]int64, len(r.CustomShares))
		for raw, amount := range r.CustomShares {
			id, err := uuid.Parse(raw)
			if err != nil {
				return campaigns.CreateCampaignInput{}, pkgerrors.New(pkgerrors.CodeValidation, "custom_shares must be keyed by tenant id")
			}
			input.CustomShares[id] = amount
		}
	}
	return input, nil
}

func CampaignsCreate(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload campaignCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		created, err := svc.CreateCampaign(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, campaignResponseFromModel(created))
	}
}

func CampaignsGet(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := validators.ParsePathUUID(r, "campaignId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		campaign, err := svc.Get(r.Context(), campaignID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, campaignResponseFromModel(campaign))
	}
}

// CampaignsDistribute runs, or resumes, a distribution. Per-tenant failures
// are part of the result body, not an error status.
func CampaignsDistribute(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := validators.ParsePathUUID(r, "campaignId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Distribute(r.Context(), campaignID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func CampaignsExtendExpiry(svc expiry.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := validators.ParsePathUUID(r, "campaignId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload campaignExtendRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := expiry.ExtendInput{CampaignID: campaignID, AdditionalDays: payload.AdditionalDays}
		if payload.TenantID != "" {
			tenantID := uuid.MustParse(payload.TenantID)
			input.TenantID = &tenantID
		}
		extended, err := svc.ExtendExpiry(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"campaign_id": campaignID,
			"extended":    extended,
		})
	}
}

type campaignResponse struct {
	ID                 uuid.UUID                  `json:"id"`
	Name               string                     `json:"name"`
	CreditType         enums.CreditType           `json:"credit_type"`
	TotalCredits       int64                      `json:"total_credits"`
	DistributionMethod enums.DistributionMethod   `json:"distribution_method"`
	TargetTenantIDs    []uuid.UUID                `json:"target_tenant_ids"`
	TargetAllTenants   bool                       `json:"target_all_tenants"`
	Weights            map[string]decimal.Decimal `json:"weights,omitempty"`
	CustomShares       map[string]int64           `json:"custom_shares,omitempty"`
	TargetApplication  string                     `json:"target_application"`
	ExpiresAt          *time.Time                 `json:"expires_at,omitempty"`
	Status             enums.CampaignStatus       `json:"status"`
	DistributedCount   int                        `json:"distributed_count"`
	FailedCount        int                        `json:"failed_count"`
	CreatedBy          string                     `json:"created_by"`
	CreatedAt          time.Time                  `json:"created_at"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

func campaignResponseFromModel(m *models.Campaign) campaignResponse {
	targets := []uuid.UUID(m.TargetTenantIDs)
	if targets == nil {
		targets = []uuid.UUID{}
	}
	return campaignResponse{
		ID:                 m.ID,
		Name:               m.Name,
		CreditType:         m.CreditType,
		TotalCredits:       m.TotalCredits,
		DistributionMethod: m.DistributionMethod,
		TargetTenantIDs:    targets,
		TargetAllTenants:   m.TargetAllTenants,
		Weights:            m.Weights,
		CustomShares:       m.CustomShares,
		TargetApplication:  m.TargetApplication,
		ExpiresAt:          m.ExpiresAt,
		Status:             m.Status,
		DistributedCount:   m.DistributedCount,
		FailedCount:        m.FailedCount,
		CreatedBy:          m.CreatedBy,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
