package taxonomy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"navigator/internal/taxonomy"
)

func TestMatchRules(t *testing.T) {
	cases := []struct {
		name      string
		candidate string
		allowed   []string
		want      string
		ok        bool
	}{
		{"case insensitive exact", "transport", []string{"Transport"}, "Transport", true},
		{"plural", "Renewable", []string{"Renewables"}, "Renewables", true},
		{"ation suffix", "Transportation", []string{"Transport"}, "Transport", true},
		{"hyphen before digits", "Covid19", []string{"Covid-19"}, "Covid-19", true},
		{"es suffix", "Taxes", []string{"Tax"}, "Tax", true},
		{"spaces removed", "Waste water", []string{"Wastewater"}, "Wastewater", true},
		{"co prefix", "Cooperation", []string{"Co-operation"}, "Co-operation", true},
		{"multi prefix", "Multi stakeholder", []string{"Multi-stakeholder"}, "Multi-stakeholder", true},
		{"acronym", "one two three", []string{"one two three (ott)"}, "one two three (ott)", true},
		{"acronym folds case", "Disaster Risk Management", []string{"Disaster Risk Management (Drm)"}, "Disaster Risk Management (Drm)", true},
		{"acronym takes first letters", "Énergie de base", []string{"Énergie de base (Édb)"}, "Énergie de base (Édb)", true},
		{"no match", "fish", []string{"Transport", "Energy"}, "", false},
		{"empty allowed", "Energy", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := taxonomy.Match(tc.candidate, tc.allowed)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatchRulesAreNotChained(t *testing.T) {
	// "Transportations" would need the plural strip and the ation strip together.
	_, ok := taxonomy.Match("Transportations", []string{"Transport"})
	assert.False(t, ok)

	// digits rule applies only when digits end the candidate
	_, ok = taxonomy.Match("Covid19 response", []string{"Covid-19 response"})
	assert.False(t, ok)
}

func TestMatchOrderDecidesBetweenCandidates(t *testing.T) {
	// the ation rule runs before the co prefix rule
	got, ok := taxonomy.Match("Cooperation", []string{"Co-operation", "Cooper"})
	assert.True(t, ok)
	assert.Equal(t, "Cooper", got)

	// exact beats plural
	got, ok = taxonomy.Match("energy", []string{"Energys", "Energy"})
	assert.True(t, ok)
	assert.Equal(t, "Energy", got)
}

func TestMatchIsDeterministic(t *testing.T) {
	allowed := []string{"Transport", "Energy", "Covid-19"}
	first, _ := taxonomy.Match("Transportation", allowed)
	for i := 0; i < 10; i++ {
		got, _ := taxonomy.Match("Transportation", allowed)
		assert.Equal(t, first, got)
	}
}
