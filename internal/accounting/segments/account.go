package segments

import (
	"strings"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// MatchAccount applies filter to the positional values of an account. A
// filter with key=expression clauses is matched against segment names; a
// bare expression is evaluated against the natural account segment.
func MatchAccount(structure accounting.COAStructure, values []string, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return false
	}
	if strings.Contains(filter, "=") {
		return Match(structure.Named(values), filter)
	}
	natural := structure.SegmentIndex(accounting.QualifierNaturalAccount)
	if natural < 0 || natural >= len(values) {
		return false
	}
	return Evaluate(values[natural], filter)
}
