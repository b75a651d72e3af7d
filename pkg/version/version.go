package version

import (
	"fmt"
	"strconv"
	"strings"
)

// ConstraintType is the kind of version constraint.
type ConstraintType string

const (
	// ConstraintExact requires the installed version to equal the target.
	ConstraintExact ConstraintType = "exact"

	// ConstraintMinimum requires the installed version to be at least the target.
	ConstraintMinimum ConstraintType = "minimum"
)

// Validate checks if the constraint type is valid.
func (t ConstraintType) Validate() error {
	switch t {
	case ConstraintExact, ConstraintMinimum:
		return nil
	default:
		return fmt.Errorf("invalid constraint type: %s", t)
	}
}

// Constraint is a parsed version requirement.
type Constraint struct {
	Type    ConstraintType `json:"type"`
	Version string         `json:"version"`
}

// String renders the constraint in manifest syntax.
func (c *Constraint) String() string {
	if c == nil {
		return ""
	}
	if c.Type == ConstraintMinimum {
		return ">=" + c.Version
	}
	return c.Version
}

// Result is the outcome of evaluating a constraint.
type Result struct {
	Satisfied bool   `json:"satisfied"`
	Reason    string `json:"reason"`
}

// Reasons reported by Satisfies.
const (
	ReasonNoConstraint   = "no constraint"
	ReasonVersionUnknown = "version unknown"
	ReasonExactMatch     = "exact match"
	ReasonExactMismatch  = "exact mismatch"
	ReasonMeetsMinimum   = "meets minimum"
	ReasonBelowMinimum   = "below minimum"
)

// ParseConstraint parses a manifest version field. It returns nil when s is
// empty, meaning any installed version satisfies.
func ParseConstraint(s string) *Constraint {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if rest, ok := strings.CutPrefix(s, ">="); ok {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return nil
		}
		return &Constraint{Type: ConstraintMinimum, Version: rest}
	}

	// "=1.2" and "==1.2" are accepted as exact pins.
	s = strings.TrimSpace(strings.TrimLeft(s, "="))
	if s == "" {
		return nil
	}
	return &Constraint{Type: ConstraintExact, Version: s}
}

// Compare compares two dotted version strings and returns -1, 0 or 1.
// The second return value is false when either input is empty.
func Compare(a, b string) (int, bool) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return 0, false
	}

	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	n := max(len(as), len(bs))
	for i := 0; i < n; i++ {
		x := segment(as, i)
		y := segment(bs, i)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
	}
	return 0, true
}

// segment returns the numeric value of parts[i], or 0 when the segment is
// missing or not a plain non-negative integer.
func segment(parts []string, i int) uint64 {
	if i >= len(parts) {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(parts[i]), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Satisfies reports whether installed meets c. An empty installed version is
// treated as unknown and never satisfies a constraint.
func Satisfies(installed string, c *Constraint) Result {
	if c == nil {
		return Result{Satisfied: true, Reason: ReasonNoConstraint}
	}

	cmp, ok := Compare(installed, c.Version)
	if !ok {
		return Result{Satisfied: false, Reason: ReasonVersionUnknown}
	}

	switch c.Type {
	case ConstraintMinimum:
		if cmp >= 0 {
			return Result{Satisfied: true, Reason: ReasonMeetsMinimum}
		}
		return Result{Satisfied: false, Reason: ReasonBelowMinimum}
	default:
		if cmp == 0 {
			return Result{Satisfied: true, Reason: ReasonExactMatch}
		}
		return Result{Satisfied: false, Reason: ReasonExactMismatch}
	}
}
