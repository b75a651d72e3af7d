// Package version parses version constraints declared on manifest apps and
// compares dotted version strings reported by package managers.
//
// Comparison is deliberately forgiving: a segment that is not a plain
// non-negative integer compares as 0, and missing trailing segments compare
// as 0, so "1.2" == "1.2.0" and "1.x" == "1.0". Comparison never fails for
// non-empty input.
//
// Constraint evaluation is fail-closed: when an installed version cannot be
// determined, any constraint is reported as unsatisfied.
package version
