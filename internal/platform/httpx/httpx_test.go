package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorUsesClassesFirst(t *testing.T) {
	domain := errors.New("ledger closed")
	rec := httptest.NewRecorder()

	RespondError(rec, fmt.Errorf("post: %w", domain), "PERIOD_CLOSED", Class{Status: http.StatusUnprocessableEntity, Title: "Policy Violation", Errors: []error{domain}})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "PERIOD_CLOSED", body.Code)
	require.Equal(t, "post: ledger closed", body.Detail)
}

func TestRespondErrorGenericAndInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, ErrUnauthorized, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	RespondError(rec, errors.New("boom"), "INTERNAL")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Empty(t, body.Detail)
}
