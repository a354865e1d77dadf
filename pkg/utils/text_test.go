package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"Postgres-16", "postgres 16"},
		{"  PostgreSQL   16 ", "postgresql 16"},
		{"ISO/IEC 27001:2022", "iso iec 27001 2022"},
		{"Zürich Team", "zürich team"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, Levenshtein("abc", "abc"))
	assert.Equal(t, 3, Levenshtein("", "abc"))
	assert.Equal(t, 3, Levenshtein("kitten", "sitting"))
	assert.Equal(t, 1, Levenshtein("postgres 16", "postgres16"))
}

func TestLevenshteinRatio(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1.0, LevenshteinRatio("", ""))
	assert.InDelta(t, 1-1.0/11, LevenshteinRatio("postgres 16", "postgres16"), 1e-9)
	assert.Less(t, LevenshteinRatio("redis", "postgres"), 0.5)
}

func TestContentHash(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ContentHash("a"), ContentHash("a"))
	assert.NotEqual(t, ContentHash("a"), ContentHash("b"))
	assert.Len(t, ContentHash("a"), 64)
}

func TestWords(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"what", "depends", "on", "postgres", "16"}, Words("What depends on Postgres-16?"))
}
