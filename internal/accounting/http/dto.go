package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
)

type lineRequest struct {
	AccountID    int64           `json:"account_id"`
	Account      string          `json:"account" validate:"required_without=AccountID"`
	Currency     string          `json:"currency" validate:"omitempty,len=3"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Description  string          `json:"description" validate:"max=240"`
}

type createJournalRequest struct {
	LedgerID         int64         `json:"ledger_id" validate:"required,gt=0"`
	Period           string        `json:"period" validate:"required,max=15"`
	Currency         string        `json:"currency" validate:"omitempty,len=3"`
	Description      string        `json:"description" validate:"max=240"`
	SourceModule     string        `json:"source_module" validate:"max=30"`
	RequiresApproval bool          `json:"requires_approval"`
	PostImmediately  bool          `json:"post_immediately"`
	Lines            []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (r createJournalRequest) input(userID int64) journals.CreateJournalInput {
	in := journals.CreateJournalInput{
		LedgerID:         r.LedgerID,
		Period:           r.Period,
		Currency:         r.Currency,
		Description:      r.Description,
		SourceModule:     r.SourceModule,
		UserID:           userID,
		RequiresApproval: r.RequiresApproval,
		PostImmediately:  r.PostImmediately,
	}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, journals.LineInput{
			AccountID:    l.AccountID,
			AccountCode:  l.Account,
			Currency:     l.Currency,
			Debit:        l.Debit,
			Credit:       l.Credit,
			ExchangeRate: l.ExchangeRate,
			Description:  l.Description,
		})
	}
	return in
}

type resolveRequest struct {
	Code string `json:"code" validate:"required"`
}

type segmentsRequest struct {
	Segments []string `json:"segments" validate:"required,min=1"`
}

type accessCheckRequest struct {
	UserID   int64    `json:"user_id" validate:"required,gt=0"`
	Segments []string `json:"segments" validate:"required,min=1"`
}

type allocationRequest struct {
	Period string `json:"period" validate:"required"`
}

type lineResponse struct {
	LineNumber      int             `json:"line_number"`
	AccountID       int64           `json:"account_id"`
	Account         string          `json:"account"`
	Currency        string          `json:"currency"`
	EnteredDebit    decimal.Decimal `json:"entered_debit"`
	EnteredCredit   decimal.Decimal `json:"entered_credit"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	AccountedDebit  decimal.Decimal `json:"accounted_debit"`
	AccountedCredit decimal.Decimal `json:"accounted_credit"`
	Description     string          `json:"description,omitempty"`
	Source          string          `json:"source"`
}

type journalResponse struct {
	ID             int64          `json:"id"`
	LedgerID       int64          `json:"ledger_id"`
	Period         string         `json:"period"`
	Currency       string         `json:"currency"`
	Description    string         `json:"description,omitempty"`
	Status         string         `json:"status"`
	ApprovalStatus string         `json:"approval_status"`
	SourceModule   string         `json:"source_module"`
	SourceID       string         `json:"source_id"`
	CreatedBy      int64          `json:"created_by"`
	PostedAt       *time.Time     `json:"posted_at,omitempty"`
	Lines          []lineResponse `json:"lines"`
}

func toJournalResponse(j accounting.Journal) journalResponse {
	out := journalResponse{
		ID:             j.ID,
		LedgerID:       j.LedgerID,
		Period:         j.Period,
		Currency:       j.Currency,
		Description:    j.Description,
		Status:         string(j.Status),
		ApprovalStatus: string(j.ApprovalStatus),
		SourceModule:   j.SourceModule,
		SourceID:       j.SourceID.String(),
		CreatedBy:      j.CreatedBy,
		PostedAt:       j.PostedAt,
		Lines:          make([]lineResponse, 0, len(j.Lines)),
	}
	for _, l := range j.Lines {
		out.Lines = append(out.Lines, lineResponse{
			LineNumber:      l.LineNumber,
			AccountID:       l.AccountID,
			Account:         l.AccountCode,
			Currency:        l.Currency,
			EnteredDebit:    l.EnteredDebit,
			EnteredCredit:   l.EnteredCredit,
			ExchangeRate:    l.ExchangeRate,
			AccountedDebit:  l.AccountedDebit,
			AccountedCredit: l.AccountedCredit,
			Description:     l.Description,
			Source:          string(l.Source),
		})
	}
	return out
}

type accountResponse struct {
	ID          int64    `json:"id"`
	LedgerID    int64    `json:"ledger_id"`
	Code        string   `json:"code"`
	Segments    []string `json:"segments"`
	AccountType string   `json:"account_type"`
	Enabled     bool     `json:"enabled"`
}

func toAccountResponse(a accounting.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		LedgerID:    a.LedgerID,
		Code:        a.Code,
		Segments:    a.Segments,
		AccountType: string(a.AccountType),
		Enabled:     a.Enabled,
	}
}

type periodResponse struct {
	LedgerID  int64     `json:"ledger_id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Status    string    `json:"status"`
}

func toPeriodResponse(p accounting.Period) periodResponse {
	return periodResponse{
		LedgerID:  p.LedgerID,
		Name:      p.Name,
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
		Status:    string(p.Status),
	}
}
