package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/access"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/allocation"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/coa"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/fsg"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reval"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

type server struct {
	router http.Handler
	inline *journals.InlineDispatcher
	fx     *memory.Fixture
}

func newServer(t *testing.T, idem *shared.IdempotencyStore) *server {
	t.Helper()
	fx := memory.NewFixture()
	audit := shared.NewAuditTrail()
	poster := journals.NewPoster(fx.Store, nil, nil, audit, nil)
	inline := journals.NewInlineDispatcher(poster.Process, nil)
	poster.SetDispatcher(inline)
	svc := journals.NewService(fx.Store, nil, poster, audit, nil)
	h := NewHandler(nil, Services{
		Journals:    svc,
		Poster:      poster,
		Accounts:    coa.NewService(fx.Store, nil, audit, nil),
		Access:      access.NewService(fx.Store, nil),
		Periods:     periods.NewService(fx.Store, audit, nil),
		Revaluation: reval.NewEngine(fx.Store, svc, nil, audit, nil),
		Allocation:  allocation.NewEngine(fx.Store, svc, nil, audit, nil),
		Reports:     fsg.NewGenerator(fx.Store, nil, nil),
		Idempotency: idem,
	}, 0)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return &server{router: r, inline: inline, fx: fx}
}

func (s *server) do(method, path, body string, actor int64, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != 0 {
		req.Header.Set(ActorHeader, strconv.FormatInt(actor, 10))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func problem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

const balanced = `{
	"ledger_id": 1,
	"period": "2024-01",
	"description": "Office supplies",
	"lines": [
		{"account": "01-100-5000", "debit": "100.00"},
		{"account": "01-000-1000", "credit": "100.00"}
	]
}`

func TestCreateAndPostJournal(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(http.MethodPost, "/gl/journals", balanced, 7)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created journalResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.Equal(t, "DRAFT", created.Status)
	require.Len(t, created.Lines, 2)
	assert.Equal(t, "01-100-5000", created.Lines[0].Account)
	assert.Equal(t, "100", created.Lines[0].AccountedDebit.String())

	rec = s.do(http.MethodPost, "/gl/journals/"+strconv.FormatInt(created.ID, 10)+"/post", "", 7)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var receipt journals.PostReceipt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&receipt))
	require.Equal(t, created.ID, receipt.JournalID)
	s.inline.Wait()

	rec = s.do(http.MethodGet, "/gl/journals/"+strconv.FormatInt(created.ID, 10), "", 7)
	require.Equal(t, http.StatusOK, rec.Code)
	var posted journalResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&posted))
	require.Equal(t, "POSTED", posted.Status)
	require.NotNil(t, posted.PostedAt)

	rec = s.do(http.MethodPost, "/gl/journals/"+strconv.FormatInt(created.ID, 10)+"/post", "", 7)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "JOURNAL_POSTED", problem(t, rec).Code)
}

func TestCreateJournalErrors(t *testing.T) {
	s := newServer(t, nil)

	cases := []struct {
		name   string
		body   string
		actor  int64
		status int
		code   string
	}{
		{"no actor", balanced, 0, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown field", `{"ledger_id":1,"period":"2024-01","bogus":true}`, 7, http.StatusBadRequest, "INVALID_REQUEST"},
		{"single line", `{"ledger_id":1,"period":"2024-01","lines":[{"account":"01-100-5000","debit":"1"}]}`, 7, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unbalanced", `{"ledger_id":1,"period":"2024-01","lines":[{"account":"01-100-5000","debit":"100"},{"account":"01-000-1000","credit":"90"}]}`, 7, http.StatusUnprocessableEntity, "UNBALANCED"},
		{"bad segment", `{"ledger_id":1,"period":"2024-01","lines":[{"account":"01-999-5000","debit":"1"},{"account":"01-000-1000","credit":"1"}]}`, 7, http.StatusBadRequest, "INVALID_SEGMENT_VALUE"},
		{"closed period", `{"ledger_id":1,"period":"2023-12","lines":[{"account":"01-100-5000","debit":"1"},{"account":"01-000-1000","credit":"1"}]}`, 7, http.StatusUnprocessableEntity, "PERIOD_CLOSED"},
		{"unknown ledger", `{"ledger_id":9,"period":"2024-01","lines":[{"account":"01-100-5000","debit":"1"},{"account":"01-000-1000","credit":"1"}]}`, 7, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/gl/journals", tc.body, tc.actor)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.code, problem(t, rec).Code)
		})
	}
}

func TestMalformedActorHeader(t *testing.T) {
	s := newServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/gl/journals/1", nil)
	req.Header.Set(ActorHeader, "alice")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateJournalIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := newServer(t, shared.NewIdempotencyStore(client, time.Hour))

	unbalanced := strings.Replace(balanced, `"credit": "100.00"`, `"credit": "99.00"`, 1)
	rec := s.do(http.MethodPost, "/gl/journals", unbalanced, 7, IdempotencyHeader, "req-1")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/gl/journals", balanced, 7, IdempotencyHeader, "req-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/gl/journals", balanced, 7, IdempotencyHeader, "req-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "DUPLICATE_REQUEST", problem(t, rec).Code)
}

func TestApproveWorkflow(t *testing.T) {
	s := newServer(t, nil)
	body := strings.Replace(balanced, `"period": "2024-01",`, `"period": "2024-01", "requires_approval": true,`, 1)

	rec := s.do(http.MethodPost, "/gl/journals", body, 7)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created journalResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.Equal(t, "PENDING", created.ApprovalStatus)
	id := strconv.FormatInt(created.ID, 10)

	rec = s.do(http.MethodPost, "/gl/journals/"+id+"/post", "", 7)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "APPROVAL_REQUIRED", problem(t, rec).Code)

	rec = s.do(http.MethodPost, "/gl/journals/"+id+"/approve", "", 9)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/gl/journals/"+id+"/reject", "", 9)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", problem(t, rec).Code)
}

func TestPeriodActions(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(http.MethodPost, "/gl/ledgers/1/periods/2024-01/close", "", 7)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p periodResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	require.Equal(t, "CLOSED", p.Status)

	rec = s.do(http.MethodPost, "/gl/ledgers/1/periods/2024-01/close", "", 7)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/gl/ledgers/1/periods/2024-01/archive", "", 7)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/gl/ledgers/1/periods/2024-01", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountEndpoints(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(http.MethodPost, "/gl/ledgers/1/accounts/resolve", `{"code":"01-100-5000"}`, 7)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var account accountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&account))
	require.Equal(t, "01-100-5000", account.Code)
	require.Equal(t, "EXPENSE", account.AccountType)

	rec = s.do(http.MethodPost, "/gl/ledgers/1/accounts/resolve", `{"code":"01-100"}`, 7)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "SEGMENT_COUNT_MISMATCH", problem(t, rec).Code)

	rec = s.do(http.MethodPost, "/gl/ledgers/1/accounts/validate", `{"segments":["01","100","9999"]}`, 7)
	require.Equal(t, http.StatusOK, rec.Code)
	var result coa.ValidationResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.False(t, result.IsValid)
	require.Equal(t, "INVALID_SEGMENT_VALUE", result.Code)

	rec = s.do(http.MethodPost, "/gl/ledgers/1/access/check", `{"user_id":7,"segments":["01","100","5000"]}`, 7)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"allowed":true}`, rec.Body.String())

	// The system user bypasses data access and is not a valid subject.
	rec = s.do(http.MethodPost, "/gl/ledgers/1/access/check", `{"user_id":-1,"segments":["01","100","5000"]}`, 7)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/gl/ledgers/1/access/check", `{"user_id":0,"segments":["01","100","5000"]}`, 7)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestReportQueryValidation(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(http.MethodGet, "/gl/reports/1?period=2024-01", "", 7)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/gl/reports/1?ledger_id=1&period=2024-01", "", 7)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", problem(t, rec).Code)
}

func TestAllocationUnknownRule(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(http.MethodPost, "/gl/allocations/5/run", `{"period":"2024-01"}`, 7)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/gl/revaluations", `{"ledger_id":1,"period":"2024-01","currency":"USD","offset_account":"01-000-7900"}`, 7)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_CURRENCY", problem(t, rec).Code)
}
