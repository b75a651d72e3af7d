package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConstraint(t *testing.T) {
	tests := []struct {
		in   string
		want *Constraint
	}{
		{"", nil},
		{"   ", nil},
		{">=", nil},
		{"1.2.3", &Constraint{Type: ConstraintExact, Version: "1.2.3"}},
		{">=1.2.3", &Constraint{Type: ConstraintMinimum, Version: "1.2.3"}},
		{">= 2.0", &Constraint{Type: ConstraintMinimum, Version: "2.0"}},
		{"==4.1", &Constraint{Type: ConstraintExact, Version: "4.1"}},
		{" 7 ", &Constraint{Type: ConstraintExact, Version: "7"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseConstraint(tt.in))
		})
	}
}

func TestConstraintString(t *testing.T) {
	assert.Equal(t, ">=1.0", ParseConstraint(">=1.0").String())
	assert.Equal(t, "1.0", ParseConstraint("1.0").String())
	var c *Constraint
	assert.Equal(t, "", c.String())
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2", "1.2.0", 0},
		{"1.10", "1.9", 1},
		{"2.0.0", "10.0.0", -1},
		{"1.x", "1.0", 0},
		{"garbage", "0", 0},
		{"1.0.0-beta", "1.0.0", 0},
		{"1..2", "1.0.2", 0},
		{"3", "2.99.99", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			got, ok := Compare(tt.a, tt.b)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareEmpty(t *testing.T) {
	_, ok := Compare("", "1.0")
	assert.False(t, ok)
	_, ok = Compare("1.0", " ")
	assert.False(t, ok)
}

func TestCompareAntisymmetric(t *testing.T) {
	inputs := []string{
		"0", "1", "1.0", "1.0.1", "1.2.3.4.5", "a.b.c", "1.-1", "99999999999999999999",
		"2.x.1", ".", "1..", "10.0.0.0", "v1.2", "1.2.3-rc1",
	}

	for _, a := range inputs {
		for _, b := range inputs {
			ab, ok1 := Compare(a, b)
			ba, ok2 := Compare(b, a)
			require.True(t, ok1)
			require.True(t, ok2)
			assert.Contains(t, []int{-1, 0, 1}, ab)
			assert.Equal(t, ab, -ba, "compare(%q,%q)", a, b)
		}
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name       string
		installed  string
		constraint string
		want       Result
	}{
		{"no constraint", "1.0", "", Result{true, ReasonNoConstraint}},
		{"no constraint unknown version", "", "", Result{true, ReasonNoConstraint}},
		{"exact match", "1.2.3", "1.2.3", Result{true, ReasonExactMatch}},
		{"exact match padded", "1.2", "1.2.0", Result{true, ReasonExactMatch}},
		{"exact mismatch", "1.2.4", "1.2.3", Result{false, ReasonExactMismatch}},
		{"minimum met", "2.1", ">=2.0", Result{true, ReasonMeetsMinimum}},
		{"minimum equal", "2.0", ">=2.0", Result{true, ReasonMeetsMinimum}},
		{"below minimum", "1.0.0", ">=2.0.0", Result{false, ReasonBelowMinimum}},
		{"unknown with minimum", "", ">=1.0", Result{false, ReasonVersionUnknown}},
		{"unknown with exact", "", "1.0", Result{false, ReasonVersionUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Satisfies(tt.installed, ParseConstraint(tt.constraint)))
		})
	}
}
