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
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/credits"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db/models"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/types"
)

type consumeRequest struct {
	TenantID      string          `json:"tenant_id" validate:"required,uuid"`
	EntityID      string          `json:"entity_id" validate:"required,uuid"`
	OperationCode string          `json:"operation_code" validate:"required,max=128"`
	CreditCost    int64           `json:"credit_cost" validate:"gt=0"`
	Metadata      json.RawMessage `json:"metadata"`
}

type purchaseRequest struct {
	TenantID       string          `json:"tenant_id" validate:"required,uuid"`
	EntityID       string          `json:"entity_id" validate:"required,uuid"`
	Amount         int64           `json:"amount" validate:"gt=0"`
	Source         string          `json:"source" validate:"required,credit_source"`
	CreditType     string          `json:"credit_type" validate:"omitempty,credit_type"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,max=255"`
	ExpiresAt      *time.Time      `json:"expires_at"`
	Metadata       json.RawMessage `json:"metadata"`
}

type transferRequest struct {
	TenantID     string `json:"tenant_id" validate:"required,uuid"`
	FromEntityID string `json:"from_entity_id" validate:"required,uuid"`
	ToEntityID   string `json:"to_entity_id" validate:"required,uuid"`
	Amount       int64  `json:"amount" validate:"gt=0"`
}

func parseMetadata(raw json.RawMessage) (types.OperationMetadata, error) {
	meta, err := types.ParseOperationMetadata(raw)
	if err != nil {
		return types.OperationMetadata{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid metadata")
	}
	return meta, nil
}

func (r consumeRequest) toInput(actor string) (credits.ConsumeInput, error) {
	meta, err := parseMetadata(r.Metadata)
	if err != nil {
		return credits.ConsumeInput{}, err
	}
	return credits.ConsumeInput{
		TenantID:      uuid.MustParse(r.TenantID),
		EntityID:      uuid.MustParse(r.EntityID),
		OperationCode: strings.TrimSpace(r.OperationCode),
		CreditCost:    r.CreditCost,
		InitiatedBy:   actor,
		Metadata:      meta,
	}, nil
}

func (r purchaseRequest) toInput(actor string) (credits.AddCreditsInput, error) {
	source, err := enums.ParseCreditSource(strings.TrimSpace(r.Source))
	if err != nil {
		return credits.AddCreditsInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid source")
	}
	creditType := enums.CreditTypePaid
	if raw := strings.TrimSpace(r.CreditType); raw != "" {
		creditType, err = enums.ParseCreditType(raw)
		if err != nil {
			return credits.AddCreditsInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid credit_type")
		}
	}
	meta, err := parseMetadata(r.Metadata)
	if err != nil {
		return credits.AddCreditsInput{}, err
	}
	return credits.AddCreditsInput{
		TenantID:       uuid.MustParse(r.TenantID),
		EntityID:       uuid.MustParse(r.EntityID),
		Amount:         r.Amount,
		Source:         source,
		CreditType:     creditType,
		IdempotencyKey: strings.TrimSpace(r.IdempotencyKey),
		ExpiresAt:      r.ExpiresAt,
		InitiatedBy:    actor,
		Metadata:       meta,
	}, nil
}

// CreditsGetBalance returns the account snapshot. Missing accounts report zero.
func CreditsGetBalance(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, entityID, err := accountPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.GetBalance(r.Context(), tenantID, entityID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

// CreditsHistory lists the newest ledger rows of one account.
func CreditsHistory(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, entityID, err := accountPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.History(r.Context(), tenantID, entityID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]transactionResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, transactionResponseFromModel(row))
		}
		responses.WriteList(w, out, limit)
	}
}

func CreditsConsume(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload consumeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Consume(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.OK {
			responses.WriteError(r.Context(), logg, w, insufficient(result.Reason, result.Balance, result.Shortfall))
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CreditsPurchase applies an operator-initiated credit addition. Gateway
// payments arrive through PaymentWebhook instead.
func CreditsPurchase(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload purchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeAddCredits(w, r, svc, input, logg)
	}
}

func CreditsTransfer(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload transferRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Transfer(r.Context(), credits.TransferInput{
			TenantID:     uuid.MustParse(payload.TenantID),
			FromEntityID: uuid.MustParse(payload.FromEntityID),
			ToEntityID:   uuid.MustParse(payload.ToEntityID),
			Amount:       payload.Amount,
			InitiatedBy:  middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		switch {
		case result.OK:
			responses.WriteSuccessStatus(w, http.StatusCreated, result)
		case result.Reason == credits.ReasonInsufficientCredits:
			responses.WriteError(r.Context(), logg, w, insufficient(result.Reason, result.FromBalance, result.Shortfall))
		default:
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeConflict, "transfer was rolled back").WithDetails(result))
		}
	}
}

func writeAddCredits(w http.ResponseWriter, r *http.Request, svc credits.Service, input credits.AddCreditsInput, logg *logger.Logger) {
	result, err := svc.AddCredits(r.Context(), input)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	if result.Replayed {
		responses.WriteSuccess(w, result)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusCreated, result)
}

func insufficient(reason string, balance, shortfall int64) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits").WithDetails(map[string]any{
		"reason":    reason,
		"balance":   balance,
		"shortfall": shortfall,
	})
}

func accountPath(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := validators.ParsePathUUID(r, "tenantId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	entityID, err := validators.ParsePathUUID(r, "entityId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, entityID, nil
}

type transactionResponse struct {
	ID              uuid.UUID             `json:"id"`
	TenantID        uuid.UUID             `json:"tenant_id"`
	EntityID        uuid.UUID             `json:"entity_id"`
	AllocationID    *uuid.UUID            `json:"allocation_id,omitempty"`
	Scope           enums.LedgerScope     `json:"scope"`
	TransactionType enums.TransactionType `json:"transaction_type"`
	CreditType      enums.CreditType      `json:"credit_type"`
	Amount          int64                 `json:"amount"`
	PreviousBalance int64                 `json:"previous_balance"`
	NewBalance      int64                 `json:"new_balance"`
	OperationCode   string                `json:"operation_code,omitempty"`
	Source          string                `json:"source,omitempty"`
	ReferenceID     *uuid.UUID            `json:"reference_id,omitempty"`
	InitiatedBy     string                `json:"initiated_by"`
	Metadata        json.RawMessage       `json:"metadata,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

func transactionResponseFromModel(m models.CreditTransaction) transactionResponse {
	out := transactionResponse{
		ID:              m.ID,
		TenantID:        m.TenantID,
		EntityID:        m.EntityID,
		AllocationID:    m.AllocationID,
		Scope:           m.Scope,
		TransactionType: m.TransactionType,
		CreditType:      m.CreditType,
		Amount:          m.Amount,
		PreviousBalance: m.PreviousBalance,
		NewBalance:      m.NewBalance,
		OperationCode:   m.OperationCode,
		Source:          m.Source,
		ReferenceID:     m.ReferenceID,
		InitiatedBy:     m.InitiatedBy,
		CreatedAt:       m.CreatedAt,
	}
	if len(m.Metadata) > 0 {
		out.Metadata = json.RawMessage(m.Metadata)
	}
	return out
}
