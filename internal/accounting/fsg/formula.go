package fsg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidFormula indicates a calculation row formula that does not parse.
var ErrInvalidFormula = errors.New("fsg: invalid formula")

// Term is one signed row reference of a formula.
type Term struct {
	Negative bool
	Row      int
}

// ParseFormula parses expressions of the form n1±n2±n3 where every n is a
// row number. Whitespace is ignored and the first term may carry a sign.
func ParseFormula(expr string) ([]Term, error) {
	s := strings.Join(strings.Fields(expr), "")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFormula)
	}
	var terms []Term
	negative := false
	i := 0
	if s[0] == '+' || s[0] == '-' {
		negative = s[0] == '-'
		i++
	}
	for {
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if start == i {
			return nil, fmt.Errorf("%w: %q: row number expected at %d", ErrInvalidFormula, expr, start)
		}
		row, err := strconv.Atoi(s[start:i])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidFormula, expr, err)
		}
		terms = append(terms, Term{Negative: negative, Row: row})
		if i == len(s) {
			return terms, nil
		}
		switch s[i] {
		case '+':
			negative = false
		case '-':
			negative = true
		default:
			return nil, fmt.Errorf("%w: %q: unexpected %q", ErrInvalidFormula, expr, s[i])
		}
		i++
	}
}

// Evaluate sums the terms against computed row values. Rows without a value
// yet contribute zero.
func Evaluate(terms []Term, values map[int]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, t := range terms {
		v, ok := values[t.Row]
		if !ok {
			continue
		}
		if t.Negative {
			total = total.Sub(v)
		} else {
			total = total.Add(v)
		}
	}
	return total
}
