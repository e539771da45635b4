// Package dpkgver implements Debian-style version comparison: a total
// order over "epoch:upstream-revision" strings, independent of locale.
package dpkgver

import "strings"

// Ordering is the result of a Compare call.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// Op is a dependency comparison operator.
type Op int

const (
	NoOp Op = iota
	LessEq
	Eq
	GreaterEq
	LessThan
	GreaterThan
)

// Satisfies reports whether candidate v satisfies op against target t.
func Satisfies(v, op2 string, op Op) bool {
	if op == NoOp {
		return true
	}
	c := Compare(v, op2)
	switch op {
	case LessThan:
		return c == Less
	case LessEq:
		return c == Less || c == Equal
	case Eq:
		return c == Equal
	case GreaterEq:
		return c == Greater || c == Equal
	case GreaterThan:
		return c == Greater
	default:
		return false
	}
}

// Compare implements the full Debian policy §5.6.12 algorithm.
func Compare(a, b string) Ordering {
	ea, ua, ra := split(a)
	eb, ub, rb := split(b)
	if o := compareEpoch(ea, eb); o != Equal {
		return o
	}
	if o := compareSegments(ua, ub); o != Equal {
		return o
	}
	return compareSegments(ra, rb)
}

// split divides a version string into epoch, upstream, and revision parts.
func split(v string) (epoch, upstream, revision string) {
	if i := strings.IndexByte(v, ':'); i >= 0 {
		epoch, v = v[:i], v[i+1:]
	} else {
		epoch = "0"
	}
	if i := strings.LastIndexByte(v, '-'); i >= 0 {
		upstream, revision = v[:i], v[i+1:]
	} else {
		upstream, revision = v, ""
	}
	return
}

func compareEpoch(a, b string) Ordering {
	na, nb := parseDigits(a), parseDigits(b)
	switch {
	case na < nb:
		return Less
	case na > nb:
		return Greater
	default:
		return Equal
	}
}

func parseDigits(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			continue
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// order returns the sort weight of a single rune under the Debian
// character ordering: '~' sorts before everything, including the end of
// string; letters sort before non-letters; everything else by ASCII.
func order(c byte) int {
	switch {
	case c == '~':
		return -1
	case isAlpha(c):
		return int(c)
	case c == 0:
		return 0
	default:
		return int(c) + 256
	}
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// compareNonDigitRuns compares two non-digit runs per the '~'-aware,
// letters-before-non-letters ordering, byte by byte, with a missing
// character treated as the end-of-string sentinel (order(0)).
func compareNonDigitRuns(a, b string) Ordering {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var ca, cb byte
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		oa, ob := order(ca), order(cb)
		if oa < ob {
			return Less
		}
		if oa > ob {
			return Greater
		}
	}
	return Equal
}

// compareDigitRuns compares two digit runs numerically, leading zeros
// stripped; empty counts as zero.
func compareDigitRuns(a, b string) Ordering {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return Less
		}
		return Greater
	}
	if a < b {
		return Less
	}
	if a > b {
		return Greater
	}
	return Equal
}

// compareSegments implements the alternating non-digit/digit run
// comparison shared by upstream and revision parts.
func compareSegments(a, b string) Ordering {
	for len(a) > 0 || len(b) > 0 {
		na := nonDigitRun(a)
		nb := nonDigitRun(b)
		if o := compareNonDigitRuns(na, nb); o != Equal {
			return o
		}
		a = a[len(na):]
		b = b[len(nb):]

		da := digitRun(a)
		db := digitRun(b)
		if o := compareDigitRuns(da, db); o != Equal {
			return o
		}
		a = a[len(da):]
		b = b[len(db):]
	}
	return Equal
}

func nonDigitRun(s string) string {
	i := 0
	for i < len(s) && !isDigit(s[i]) {
		i++
	}
	return s[:i]
}

func digitRun(s string) string {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i]
}
