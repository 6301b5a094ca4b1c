package shared

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceID(t *testing.T) {
	t.Parallel()

	ctx := SetTraceID(context.Background())
	traceID := GetTraceID(ctx)
	require.Len(t, traceID, 32)

	// A second context gets a different ID
	other := GetTraceID(SetTraceID(context.Background()))
	assert.NotEqual(t, traceID, other)

	assert.Empty(t, GetTraceID(context.Background()))
}

func TestSubject(t *testing.T) {
	t.Parallel()

	ctx := SetSubject(context.Background(), "user_123")
	assert.Equal(t, "user_123", GetSubject(ctx))
	assert.Empty(t, GetSubject(context.Background()))
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Acme"}`))
	var p payload
	require.NoError(t, DecodeJSON(req, &p))
	assert.Equal(t, "Acme", p.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{broken`))
	assert.Error(t, DecodeJSON(req, &p))
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	type payload struct {
		Email string `validate:"required,email"`
	}

	assert.NoError(t, ValidateRequest(payload{Email: "a@example.com"}))
	assert.Error(t, ValidateRequest(payload{Email: "nope"}))
	assert.Error(t, ValidateRequest(payload{}))
}

func TestRespondWithError(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(SetTraceID(req.Context()))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, http.StatusNotFound, "Research task not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Research task not found", resp.Error)
	assert.Len(t, resp.TraceID, 32)
}
