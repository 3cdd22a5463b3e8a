package topstepx

import (
	"testing"

	"github.com/Snoe0/Topstep-API/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func query(symbol string) models.ContractQuery {
	return models.ContractQuery{Symbol: symbol, ExcludePatterns: DefaultExcludePatterns}
}

func TestSelectFrontMonth(t *testing.T) {
	tests := []struct {
		name      string
		symbol    string
		contracts []models.Contract
		wantID    string
		wantFound bool
	}{
		{
			name:   "FullSizeRootIgnoresMicro",
			symbol: "NQ",
			contracts: []models.Contract{
				{ID: "CON.F.US.NQ.Z25", Symbol: "NQ", ActiveContract: true},
				{ID: "CON.F.US.MNQ.Z25", Symbol: "MNQ", ActiveContract: true},
			},
			wantID:    "CON.F.US.NQ.Z25",
			wantFound: true,
		},
		{
			name:   "MicroOrderedFirstStillIgnored",
			symbol: "ES",
			contracts: []models.Contract{
				{ID: "CON.F.US.MES.H25", Symbol: "MES", ActiveContract: true},
				{ID: "CON.F.US.ES.M25", Symbol: "ES", ActiveContract: true},
			},
			wantID:    "CON.F.US.ES.M25",
			wantFound: true,
		},
		{
			name:   "MicroRootMatchesItself",
			symbol: "MNQ",
			contracts: []models.Contract{
				{ID: "CON.F.US.MNQ.Z25", Symbol: "MNQ", ActiveContract: true},
				{ID: "CON.F.US.NQ.Z25", Symbol: "NQ", ActiveContract: true},
			},
			wantID:    "CON.F.US.MNQ.Z25",
			wantFound: true,
		},
		{
			name:   "LexicographicallyFirstID",
			symbol: "ES",
			contracts: []models.Contract{
				{ID: "CON.F.US.ES.Z25", Symbol: "ES", ActiveContract: true},
				{ID: "CON.F.US.ES.H25", Symbol: "ES", ActiveContract: true},
			},
			wantID:    "CON.F.US.ES.H25",
			wantFound: true,
		},
		{
			name:   "InactiveSkipped",
			symbol: "GC",
			contracts: []models.Contract{
				{ID: "CON.F.US.GC.G25", Symbol: "GC", ActiveContract: false},
				{ID: "CON.F.US.GC.Z25", Symbol: "GC", ActiveContract: true},
			},
			wantID:    "CON.F.US.GC.Z25",
			wantFound: true,
		},
		{
			name:   "ExclusionPatterns",
			symbol: "NQ",
			contracts: []models.Contract{
				{ID: "CON.F.US.A", Symbol: "NQG", ActiveContract: true},
				{ID: "CON.F.US.B", Symbol: "NQM", ActiveContract: true},
				{ID: "CON.F.US.C", Symbol: "NQ", ActiveContract: true},
			},
			wantID:    "CON.F.US.C",
			wantFound: true,
		},
		{
			name:   "NameUsedWhenSymbolMissing",
			symbol: "NQ",
			contracts: []models.Contract{
				{ID: "CON.F.US.ENQ.Z25", Name: "NQZ5", ActiveContract: true},
				{ID: "CON.F.US.MNQ.Z25", Name: "MNQZ5", ActiveContract: true},
			},
			wantID:    "CON.F.US.ENQ.Z25",
			wantFound: true,
		},
		{
			name:   "SymbolMustMatch",
			symbol: "GC",
			contracts: []models.Contract{
				{ID: "CON.F.US.ES.Z25", Symbol: "ES", ActiveContract: true},
			},
		},
		{
			name:      "NoContracts",
			symbol:    "ES",
			contracts: nil,
		},
		{
			name:   "OnlyMicroAvailable",
			symbol: "GC",
			contracts: []models.Contract{
				{ID: "CON.F.US.MGC.Z25", Symbol: "MGC", ActiveContract: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := SelectFrontMonth(query(tt.symbol), tt.contracts)
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.wantID, got.ID)
			}
		})
	}
}

func TestSelectFrontMonth_Deterministic(t *testing.T) {
	contracts := []models.Contract{
		{ID: "CON.F.US.MNQ.H26", Symbol: "MNQ", ActiveContract: true},
		{ID: "CON.F.US.NQ.Z25", Symbol: "NQ", Name: "NQZ5", ActiveContract: true, TickSize: 0.25, TickValue: 5, SymbolID: "F.US.ENQ"},
		{ID: "CON.F.US.NQ.H26", Symbol: "NQ", ActiveContract: true},
		{ID: "CON.F.US.MNQ.Z25", Symbol: "MNQ", ActiveContract: true},
	}
	snapshot := append([]models.Contract(nil), contracts...)

	first, ok := SelectFrontMonth(query("NQ"), contracts)
	require.True(t, ok)
	second, ok := SelectFrontMonth(query("NQ"), contracts)
	require.True(t, ok)

	assert.Equal(t, first, second)
	assert.Equal(t, "CON.F.US.NQ.H26", first.ID)
	assert.NotContains(t, first.Symbol, "MNQ")
	assert.Equal(t, snapshot, contracts, "the input must not be reordered")
}

func TestSelectFrontMonth_CopiesFields(t *testing.T) {
	got, ok := SelectFrontMonth(query("MES"), []models.Contract{{
		ID:             "CON.F.US.MES.Z25",
		Symbol:         "MES",
		Name:           "MESZ5",
		Description:    "Micro E-mini S&P 500: December 2025",
		TickSize:       0.25,
		TickValue:      1.25,
		ActiveContract: true,
		SymbolID:       "F.US.MES",
	}})
	require.True(t, ok)
	assert.Equal(t, models.ResolvedContract{
		ID:             "CON.F.US.MES.Z25",
		Symbol:         "MES",
		Name:           "MESZ5",
		Description:    "Micro E-mini S&P 500: December 2025",
		TickSize:       0.25,
		TickValue:      1.25,
		ActiveContract: true,
		SymbolID:       "F.US.MES",
	}, got)
}
