package segments

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

func TestMatchAccount(t *testing.T) {
	structure := accounting.COAStructure{Delimiter: "-", Segments: []accounting.Segment{
		{Name: "Company", Qualifier: accounting.QualifierCompany},
		{Name: "CostCenter", Qualifier: accounting.QualifierCostCenter},
		{Name: "Account", Qualifier: accounting.QualifierNaturalAccount},
	}}
	values := []string{"01", "200", "6900"}

	assert.True(t, MatchAccount(structure, values, "6900"))
	assert.True(t, MatchAccount(structure, values, "6000:6999"))
	assert.True(t, MatchAccount(structure, values, "Company=01;Account=69*"))
	assert.False(t, MatchAccount(structure, values, "CostCenter=100"))
	assert.False(t, MatchAccount(structure, values, " "))

	flat := accounting.COAStructure{Segments: []accounting.Segment{{Name: "Account"}}}
	assert.False(t, MatchAccount(flat, []string{"6900"}, "6900"))
	assert.True(t, MatchAccount(flat, []string{"6900"}, "Account=6900"))
}
