package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/raisefi/client"
)

func TestCompileFilters_Invalid(t *testing.T) {
	_, err := compileFilters([]string{".kind ==", ".ok"}, cliLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `".kind =="`)
}

func TestJQFilter_Match(t *testing.T) {
	block := int64(12)
	event := &client.FundEvent{
		Type:        "confirmed",
		Kind:        "donation",
		Hash:        "0xabc",
		Fund:        "0x00000000000000000000000000000000000000A1",
		Amount:      "1500000000000000000",
		BlockNumber: &block,
	}

	tests := []struct {
		name  string
		exprs []string
		want  bool
	}{
		{"no filters", nil, true},
		{"single match", []string{`.kind == "donation"`}, true},
		{"all must match", []string{`.kind == "donation"`, `.type == "failed"`}, false},
		{"numeric field", []string{`.block_number > 10`}, true},
		{"string to number", []string{`(.amount | tonumber) >= 1e18`}, true},
		{"missing field is null", []string{`.error`}, false},
		{"non-boolean result is truthy", []string{`.hash`}, true},
		{"no output", []string{`empty`}, false},
		{"runtime error", []string{`.kind | tonumber`}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := compileFilters(tt.exprs, cliLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(event))
		})
	}
}

func TestJQFilter_NilMatchesEverything(t *testing.T) {
	var f *jqFilter
	assert.True(t, f.Match(map[string]interface{}{"a": 1}))
}
