package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrimLower(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{
			name:     "mixed case addresses collapse",
			input:    []string{" 0x000000000000000000000000000000000000DEAD", "0x000000000000000000000000000000000000dead"},
			expected: []string{"0x000000000000000000000000000000000000dead"},
		},
		{
			name:     "drops blanks and preserves order",
			input:    []string{"beef", "", "  ", "dead", "BEEF"},
			expected: []string{"beef", "dead"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrimLower(tt.input))
		})
	}
}

func TestDedupeAndTrimUpper(t *testing.T) {
	assert.Equal(t, []string{"USD", "NGN"}, DedupeAndTrimUpper([]string{"usd", " USD", "ngn", ""}))
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList("  "))
	assert.Equal(t, []string{"localhost:9092", "broker:9092"}, SplitList("localhost:9092, broker:9092,localhost:9092"))
}
