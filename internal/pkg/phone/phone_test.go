package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0712345678", "254712345678"},
		{"712345678", "254712345678"},
		{"254712345678", "254712345678"},
		{"+254 712 345 678", "254712345678"},
		{"0712-345-678", "254712345678"},
		{"0112345678", "254112345678"},
		{"112345678", "254112345678"},
		{"(07) 1234 5678", "254712345678"},
		{"", ""},
		{"abc", ""},
		{"12345", "12345"},
		{"812345678", "812345678"},
		{"+1 415 555 0100", "14155550100"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"0712345678", "712345678", "254712345678", "+254712345678",
		"0112345678", "12345", "", "not a phone", "00254712345678", "9712345678",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "Normalize not idempotent for %q", in)
	}
}

func TestNormalizeEquivalentForms(t *testing.T) {
	a := Normalize("0712345678")
	assert.Equal(t, a, Normalize("254712345678"))
	assert.Equal(t, a, Normalize("712345678"))
}

func TestIsCanonical(t *testing.T) {
	assert.True(t, IsCanonical("254712345678"))
	assert.False(t, IsCanonical("0712345678"))
	assert.False(t, IsCanonical("+254712345678"))
}

func TestE164(t *testing.T) {
	assert.Equal(t, "+254712345678", E164("0712 345 678"))
	assert.Equal(t, "", E164("---"))
}
