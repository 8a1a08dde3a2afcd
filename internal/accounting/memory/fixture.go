package memory

import (
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// FixtureLedgerID identifies the seeded ledger.
const FixtureLedgerID int64 = 1

// Seeded period names.
const (
	FixtureOpenPeriod   = "2024-01"
	FixtureFuturePeriod = "2024-02"
	FixtureClosedPeriod = "2023-12"
)

// Fixture is a store seeded with a USD ledger whose codes look like
// Company-CostCenter-Account, e.g. 01-100-5000.
type Fixture struct {
	Store  *Store
	Ledger accounting.Ledger
}

// NewFixture seeds the standard ledger, value sets and periods.
func NewFixture() *Fixture {
	store := NewStore()
	ledger := accounting.Ledger{
		ID:                 FixtureLedgerID,
		Name:               "US Primary",
		FunctionalCurrency: "USD",
		Category:           accounting.LedgerPrimary,
		Structure: accounting.COAStructure{
			ID:        1,
			Name:      "Operating",
			Delimiter: "-",
			Segments: []accounting.Segment{
				{Name: "Company", Position: 1, ValueSetID: 1, Qualifier: accounting.QualifierCompany},
				{Name: "CostCenter", Position: 2, ValueSetID: 2, Qualifier: accounting.QualifierCostCenter},
				{Name: "Account", Position: 3, ValueSetID: 3, Qualifier: accounting.QualifierNaturalAccount},
			},
		},
		CreatedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	store.AddLedger(ledger)

	for _, v := range []string{"01", "02", "03"} {
		store.AddSegmentValue(accounting.SegmentValue{ValueSetID: 1, Value: v, Description: "Company " + v, Enabled: true})
	}
	for _, v := range []string{"000", "100", "200", "300"} {
		store.AddSegmentValue(accounting.SegmentValue{ValueSetID: 2, Value: v, Description: "Cost center " + v, Enabled: true})
	}
	naturals := []struct {
		value string
		typ   accounting.AccountType
		desc  string
	}{
		{"1000", accounting.AccountTypeAsset, "Cash"},
		{"1200", accounting.AccountTypeAsset, "Foreign bank"},
		{"1300", accounting.AccountTypeAsset, "Intercompany receivable"},
		{"2100", accounting.AccountTypeLiability, "Intercompany payable"},
		{"4000", accounting.AccountTypeRevenue, "Revenue"},
		{"5000", accounting.AccountTypeExpense, "Operating expense"},
		{"6000", accounting.AccountTypeExpense, "Allocated overhead"},
		{"6900", accounting.AccountTypeExpense, "Overhead pool"},
		{"7900", accounting.AccountTypeExpense, "Unrealized FX gain/loss"},
	}
	for _, n := range naturals {
		store.AddSegmentValue(accounting.SegmentValue{ValueSetID: 3, Value: n.value, Description: n.desc, Enabled: true, AccountType: n.typ})
	}
	store.AddSegmentValue(accounting.SegmentValue{ValueSetID: 3, Value: "9999", Description: "Retired", Enabled: false, AccountType: accounting.AccountTypeExpense})

	for name, status := range map[string]accounting.PeriodStatus{
		FixtureClosedPeriod: accounting.PeriodStatusClosed,
		FixtureOpenPeriod:   accounting.PeriodStatusOpen,
		FixtureFuturePeriod: accounting.PeriodStatusFutureEntry,
	} {
		start, _ := time.Parse("2006-01", name)
		store.AddPeriod(accounting.Period{
			LedgerID:  ledger.ID,
			Name:      name,
			StartDate: start,
			EndDate:   start.AddDate(0, 1, -1),
			Status:    status,
		})
	}
	return &Fixture{Store: store, Ledger: ledger}
}

// Account registers an enabled code combination for code without running
// validation, and returns it.
func (f *Fixture) Account(code string) accounting.Account {
	values := f.Ledger.Structure.Split(code)
	var typ accounting.AccountType
	if idx := f.Ledger.Structure.SegmentIndex(accounting.QualifierNaturalAccount); idx >= 0 && idx < len(values) {
		f.Store.mu.Lock()
		if v, ok := f.Store.state.values[valueKey{f.Ledger.Structure.Segments[idx].ValueSetID, values[idx]}]; ok {
			typ = v.AccountType
		}
		f.Store.mu.Unlock()
	}
	return f.Store.AddAccount(accounting.Account{
		LedgerID:    f.Ledger.ID,
		Code:        f.Ledger.Structure.Join(values),
		Segments:    values,
		AccountType: typ,
		Enabled:     true,
	})
}
