// Package http exposes the general ledger over a JSON REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/access"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/allocation"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/coa"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/fsg"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reval"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// ActorHeader carries the acting user id.
const ActorHeader = "X-User-ID"

// IdempotencyHeader lets clients retry journal creation safely.
const IdempotencyHeader = "Idempotency-Key"

const idempotencyModule = "gl_journal"

// Services groups the collaborators the handler delegates to. Idempotency
// may be nil.
type Services struct {
	Journals    *journals.Service
	Poster      *journals.Poster
	Accounts    *coa.Service
	Access      *access.Service
	Periods     *periods.Service
	Revaluation *reval.Engine
	Allocation  *allocation.Engine
	Reports     *fsg.Generator
	Idempotency *shared.IdempotencyStore
}

// Handler wires general ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	svc       Services
	validate  *validator.Validate
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the handler. requestsPerMinute bounds write and
// batch endpoints per actor; zero disables the limit.
func NewHandler(logger *slog.Logger, svc Services, requestsPerMinute int) *Handler {
	limiter := func(next http.Handler) http.Handler { return next }
	if requestsPerMinute > 0 {
		limiter = httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if actor := shared.ActorFromContext(r.Context()); actor != 0 {
				return "user:" + strconv.FormatInt(actor, 10), nil
			}
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				return "ip:" + r.RemoteAddr, nil
			}
			return "ip:" + host, nil
		}))
	}
	return &Handler{
		logger:    logger,
		svc:       svc,
		validate:  validator.New(),
		rateLimit: limiter,
	}
}

// MountRoutes registers the ledger routes under /gl.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/gl", func(r chi.Router) {
		r.Use(ActorFromHeader)
		r.Get("/journals/{journalID}", h.handleGetJournal)
		r.Get("/ledgers/{ledgerID}/periods/{period}", h.handleGetPeriod)
		r.Get("/reports/{reportID}", h.handleReport)
		r.Post("/ledgers/{ledgerID}/accounts/resolve", h.handleResolve)
		r.Post("/ledgers/{ledgerID}/accounts/validate", h.handleValidate)
		r.Post("/ledgers/{ledgerID}/access/check", h.handleAccessCheck)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/journals", h.handleCreateJournal)
			r.Post("/journals/{journalID}/post", h.handlePost)
			r.Post("/journals/{journalID}/approve", h.handleApprove)
			r.Post("/journals/{journalID}/reject", h.handleReject)
			r.Post("/revaluations", h.handleRevalue)
			r.Post("/allocations/{allocationID}/run", h.handleAllocate)
			r.Post("/ledgers/{ledgerID}/periods/{period}/{action}", h.handlePeriodAction)
		})
	})
}

// ActorFromHeader stores the X-User-ID header in the request context.
func ActorFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, fmt.Errorf("%w: malformed %s", httpx.ErrUnauthorized, ActorHeader), "UNAUTHORIZED")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), id)))
	})
}

func (h *Handler) handleCreateJournal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req createJournalRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.svc.Idempotency != nil {
		if err := h.svc.Idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	journal, err := h.svc.Journals.CreateJournal(r.Context(), req.input(actor))
	if err != nil {
		if key != "" && h.svc.Idempotency != nil {
			if rerr := h.svc.Idempotency.Release(r.Context(), key, idempotencyModule); rerr != nil {
				h.log().Warn("release idempotency key", slog.Any("error", rerr))
			}
		}
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toJournalResponse(journal))
}

func (h *Handler) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "journalID")
	if !ok {
		return
	}
	journal, err := h.svc.Journals.GetJournal(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toJournalResponse(journal))
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "journalID")
	if !ok {
		return
	}
	receipt, err := h.svc.Poster.Post(r.Context(), id, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, receipt)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Journals.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Journals.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, journalID, userID int64) (accounting.Journal, error)) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "journalID")
	if !ok {
		return
	}
	journal, err := fn(r.Context(), id, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toJournalResponse(journal))
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ledgerID, ok := h.pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	account, err := h.svc.Accounts.ResolveAccount(r.Context(), ledgerID, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ledgerID, ok := h.pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	var req segmentsRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.svc.Accounts.ValidateAccount(r.Context(), ledgerID, req.Segments)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	ledgerID, ok := h.pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	var req accessCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	allowed, err := h.svc.Access.CheckDataAccess(r.Context(), req.UserID, ledgerID, req.Segments)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) handleRevalue(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	var req reval.RunInput
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.svc.Revaluation.Run(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	id, ok := h.pathID(w, r, "allocationID")
	if !ok {
		return
	}
	var req allocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.svc.Allocation.Run(r.Context(), id, req.Period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	reportID, ok := h.pathID(w, r, "reportID")
	if !ok {
		return
	}
	q := r.URL.Query()
	ledgerID, err := strconv.ParseInt(q.Get("ledger_id"), 10, 64)
	if err != nil || ledgerID <= 0 {
		h.fail(w, r, fmt.Errorf("%w: ledger_id query parameter required", httpx.ErrValidation))
		return
	}
	period := strings.TrimSpace(q.Get("period"))
	if period == "" {
		h.fail(w, r, fmt.Errorf("%w: period query parameter required", httpx.ErrValidation))
		return
	}
	grid, err := h.svc.Reports.Generate(r.Context(), reportID, period, ledgerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grid)
}

func (h *Handler) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	ledgerID, ok := h.pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	period, err := h.svc.Periods.Get(r.Context(), ledgerID, chi.URLParam(r, "period"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(period))
}

func (h *Handler) handlePeriodAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	ledgerID, ok := h.pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	name := chi.URLParam(r, "period")
	var action func(ctx context.Context, ledgerID int64, name string, actorID int64) (accounting.Period, error)
	switch chi.URLParam(r, "action") {
	case "open":
		action = h.svc.Periods.Open
	case "close":
		action = h.svc.Periods.Close
	case "reopen":
		action = h.svc.Periods.Reopen
	default:
		h.fail(w, r, fmt.Errorf("%w: unknown period action", httpx.ErrNotFound))
		return
	}
	period, err := action(r.Context(), ledgerID, name, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(period))
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == 0 {
		h.fail(w, r, fmt.Errorf("%w: %s header required", httpx.ErrUnauthorized, ActorHeader))
		return 0, false
	}
	return actor, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, r, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, name))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" "+fe.Tag())
			}
			err = errors.New(strings.Join(fields, "; "))
		}
		h.fail(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) log() *slog.Logger {
	if h != nil && h.logger != nil {
		return h.logger.With(slog.String("component", "gl_http"))
	}
	return slog.Default().With(slog.String("component", "gl_http"))
}
