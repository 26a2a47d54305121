package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
)

type consumeBody struct {
	EntityID string `json:"entity_id" validate:"required,uuid"`
	Amount   int64  `json:"amount" validate:"gt=0"`
}

func TestDecodeJSONBody(t *testing.T) {
	id := uuid.NewString()

	var ok consumeBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"entity_id":"`+id+`","amount":5}`))
	require.NoError(t, DecodeJSONBody(req, &ok))
	assert.Equal(t, int64(5), ok.Amount)

	var unknown consumeBody
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"entity_id":"`+id+`","amount":5,"extra":1}`))
	err := DecodeJSONBody(req, &unknown)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	var invalid consumeBody
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"entity_id":"nope","amount":0}`))
	err = DecodeJSONBody(req, &invalid)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok2 := typed.Details().(map[string]string)
	require.True(t, ok2)
	assert.Equal(t, "must be a valid uuid", details["entity_id"])
	assert.Equal(t, "must be greater than 0", details["amount"])
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20", nil)
	v, err := ParseQueryInt(req, "limit", 50, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	v, err = ParseQueryInt(req, "limit", 50, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	req = httptest.NewRequest(http.MethodGet, "/?limit=900", nil)
	_, err = ParseQueryInt(req, "limit", 50, 1, 500)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParsePathUUID(t *testing.T) {
	id := uuid.New()
	withParam := func(value string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("tenantId", value)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	got, err := ParsePathUUID(withParam(id.String()), "tenantId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParsePathUUID(withParam("bad"), "tenantId")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParsePathUUID(withParam(""), "tenantId")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

type purchaseBody struct {
	Source   string   `json:"source" validate:"required,credit_source"`
	Currency string   `json:"currency" validate:"omitempty,currency"`
	Targets  []string `json:"targets" validate:"omitempty,dive,uuid"`
}

func TestDecodeJSONBodyEnumTags(t *testing.T) {
	decode := func(body string) map[string]string {
		t.Helper()
		var dest purchaseBody
		err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), &dest)
		if err == nil {
			return nil
		}
		details, ok := pkgerrors.As(err).Details().(map[string]string)
		require.True(t, ok, "details for %s", body)
		return details
	}

	assert.Nil(t, decode(`{"source":"manual","currency":"usd"}`))
	assert.Equal(t, map[string]string{
		"source":   "must be a known credit source",
		"currency": "must be a known currency",
	}, decode(`{"source":"gift","currency":"XXX"}`))
	assert.Equal(t, map[string]string{
		"targets[1]": "must be a valid uuid",
	}, decode(`{"source":"manual","targets":["`+uuid.NewString()+`","nope"]}`))
}

func TestDecodeJSONBodyRejectsMalformedBodies(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"empty":      {body: ``, want: "request body is required"},
		"trailing":   {body: `{"source":"manual"} {"source":"manual"}`, want: "single JSON object"},
		"syntax":     {body: `{"source":`, want: "invalid request body"},
		"wrong type": {body: `{"source":5}`, want: "validation failed"},
		"too large":  {body: `{"source":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, want: "exceeds"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var dest purchaseBody
			err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)), &dest)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseLimit(t *testing.T) {
	limit, err := ParseLimit(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 50, limit)

	_, err = ParseLimit(httptest.NewRequest(http.MethodGet, "/?limit=abc", nil))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParseLimit(httptest.NewRequest(http.MethodGet, "/?limit=0", nil))
	assert.ErrorContains(t, err, "limit must be between 1 and 500")
}
