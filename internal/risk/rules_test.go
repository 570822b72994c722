package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customRules = `
version: v2
threshold: 50
rules:
  - kind: amount_tier
    tiers:
      - above: "100"
        weight: 10
        factor: Elevated amount
      - above: "10000"
        weight: 30
        factor: Large amount
  - kind: hour_outside
    factor: Night transfer
    weight: 25
    start_hour: 8
    end_hour: 18
`

func TestParseRuleSet(t *testing.T) {
	rs, err := ParseRuleSet([]byte(customRules))
	require.NoError(t, err)
	assert.Equal(t, "v2", rs.Version)
	assert.Equal(t, 50, rs.Threshold)

	scorer, err := NewScorer(rs)
	require.NoError(t, err)

	t.Run("tiers are ordered by bound regardless of file order", func(t *testing.T) {
		a := scorer.Score(input(20_000, 12))
		assert.Equal(t, 30, a.Score)
		assert.Equal(t, []string{"Large amount"}, a.Factors)
	})

	t.Run("custom hour window", func(t *testing.T) {
		a := scorer.Score(input(20_000, 19))
		assert.Equal(t, 55, a.Score)
		assert.True(t, a.Exceeded())
		assert.Equal(t, "v2", a.Version)
	})
}

func TestParseRuleSetDefaultsThreshold(t *testing.T) {
	rs, err := ParseRuleSet([]byte("version: v3\nrules:\n  - kind: sender_flagged\n    factor: Watchlist\n    weight: 70\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultThreshold, rs.Threshold)
}

func TestParseRuleSetRejectsInvalidTables(t *testing.T) {
	tests := map[string]string{
		"unknown kind":       "rules:\n  - kind: velocity\n    factor: x\n    weight: 1\n",
		"unknown field":      "rules:\n  - kind: sender_flagged\n    factor: x\n    weight: 1\n    colour: red\n",
		"bad tier bound":     "rules:\n  - kind: amount_tier\n    tiers:\n      - above: lots\n        weight: 1\n        factor: x\n",
		"empty tiers":        "rules:\n  - kind: amount_tier\n",
		"inverted window":    "rules:\n  - kind: hour_outside\n    factor: x\n    weight: 1\n    start_hour: 20\n    end_hour: 4\n",
		"missing factor":     "rules:\n  - kind: recipient_flagged\n    weight: 5\n",
		"negative weight":    "rules:\n  - kind: sender_flagged\n    factor: x\n    weight: -5\n",
		"negative threshold": "threshold: -1\nrules: []\n",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRuleSet([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadRuleSetFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(customRules), 0o600))

	rs, err := LoadRuleSet(path)
	require.NoError(t, err)
	assert.Len(t, rs.Rules, 2)

	_, err = LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultRuleSetCompiles(t *testing.T) {
	scorer, err := NewScorer(DefaultRuleSet())
	require.NoError(t, err)
	assert.Equal(t, "v1", scorer.Version())
	assert.Equal(t, 70, scorer.Threshold())
}
