package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/fsg"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

var ledgerClasses = []httpx.Class{
	{Status: http.StatusBadRequest, Title: "Invalid Request", Errors: []error{
		accounting.ErrSegmentCountMismatch,
		accounting.ErrInvalidSegmentValue,
		accounting.ErrTooFewLines,
		accounting.ErrInvalidAmount,
		accounting.ErrInvalidCurrency,
		fsg.ErrInvalidFormula,
	}},
	{Status: http.StatusForbidden, Title: "Access Denied", Errors: []error{accounting.ErrAccessDenied}},
	{Status: http.StatusNotFound, Title: "Not Found", Errors: []error{
		accounting.ErrLedgerNotFound,
		accounting.ErrPeriodNotFound,
		accounting.ErrAccountNotFound,
		accounting.ErrJournalNotFound,
		accounting.ErrRuleNotFound,
		accounting.ErrReportNotFound,
		accounting.ErrSegmentValueNotFound,
	}},
	{Status: http.StatusConflict, Title: "Conflict", Errors: []error{
		accounting.ErrJournalPosted,
		accounting.ErrJournalProcessing,
		accounting.ErrInvalidStatus,
		accounting.ErrBatchInProgress,
		shared.ErrIdempotencyConflict,
	}},
	{Status: http.StatusUnprocessableEntity, Title: "Rejected", Errors: []error{
		accounting.ErrCombinationBlocked,
		accounting.ErrInsufficientFunds,
		accounting.ErrPeriodClosed,
		accounting.ErrUnbalanced,
		accounting.ErrNoIntercompanyRule,
		accounting.ErrZeroBasis,
		accounting.ErrAccountDisabled,
		accounting.ErrApprovalRequired,
		accounting.ErrApprovalRejected,
		accounting.ErrMissingExchangeRate,
	}},
}

// errorCode extends the ledger codes with the transport-level ones.
func errorCode(err error) string {
	if code := accounting.ErrorCode(err); code != "INTERNAL" {
		return code
	}
	switch {
	case errors.Is(err, httpx.ErrValidation):
		return "INVALID_REQUEST"
	case errors.Is(err, httpx.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, httpx.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return "DUPLICATE_REQUEST"
	}
	c, ok := httpx.Classify(err, ledgerClasses)
	if !ok {
		return "INTERNAL"
	}
	switch c.Status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)
	if code == "INTERNAL" {
		h.log().Error("gl request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err, code, ledgerClasses...)
}
