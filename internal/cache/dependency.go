package cache

import (
	"strings"

	"github.com/apt-core/apt-core/internal/dpkgver"
)

// parsedDep is one parsed alternative inside a (possibly Or-joined)
// dependency clause, grounded on deblistparser.cc's ParseDepends grammar.
type parsedDep struct {
	name          string
	multiArch     string // "any", "native", or ""
	op            dpkgver.Op
	ver           string
	restrictions  string // raw "[amd64] <stage1>" suffix, first-class filter tokens (supplemented feature)
	isOr          bool
}

var opTokens = []struct {
	tok string
	op  dpkgver.Op
}{
	{">=", dpkgver.GreaterEq},
	{"<=", dpkgver.LessEq},
	{"=", dpkgver.Eq},
	{">>", dpkgver.GreaterThan},
	{"<<", dpkgver.LessThan},
	{">", dpkgver.GreaterThan},
	{"<", dpkgver.LessThan},
}

// parseDependsField splits a Depends/Conflicts/... field value into
// comma-separated clauses, each possibly an Or-group of "|"-separated
// alternatives, per deblistparser.cc.
//
// stripMultiArch controls whether a trailing ":any"/":native" qualifier is
// split into multiArch (true) or left as part of the package name
// (false) — spec.md §8's S2 exercises both behaviors explicitly.
func parseDependsField(field string, stripMultiArch bool) [][]parsedDep {
	if strings.TrimSpace(field) == "" {
		return nil
	}
	var groups [][]parsedDep
	for _, clause := range splitTopLevel(field, ',') {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		alts := splitTopLevel(clause, '|')
		var group []parsedDep
		for i, alt := range alts {
			pd := parseOneDep(strings.TrimSpace(alt), stripMultiArch)
			pd.isOr = i < len(alts)-1
			group = append(group, pd)
		}
		groups = append(groups, group)
	}
	return groups
}

func splitTopLevel(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func parseOneDep(s string, stripMultiArch bool) parsedDep {
	var pd parsedDep
	// Pull off trailing restriction tokens: [arch] and <profile>, which may
	// repeat and are separated by whitespace, per the supplemented
	// architecture/profile restriction grammar.
	for {
		s = strings.TrimSpace(s)
		if strings.HasSuffix(s, "]") {
			if i := strings.LastIndexByte(s, '['); i >= 0 {
				pd.restrictions = strings.TrimSpace(s[i:]) + " " + pd.restrictions
				s = s[:i]
				continue
			}
		}
		if strings.HasSuffix(s, ">") {
			if i := strings.LastIndexByte(s, '<'); i >= 0 {
				pd.restrictions = strings.TrimSpace(s[i:]) + " " + pd.restrictions
				s = s[:i]
				continue
			}
		}
		break
	}
	pd.restrictions = strings.TrimSpace(pd.restrictions)
	s = strings.TrimSpace(s)

	// Pull off "(op version)".
	if i := strings.IndexByte(s, '('); i >= 0 {
		j := strings.IndexByte(s[i:], ')')
		if j >= 0 {
			inner := strings.TrimSpace(s[i+1 : i+j])
			s = strings.TrimSpace(s[:i])
			for _, ot := range opTokens {
				if strings.HasPrefix(inner, ot.tok) {
					pd.op = ot.op
					pd.ver = strings.TrimSpace(inner[len(ot.tok):])
					break
				}
			}
		}
	}

	name := s
	if stripMultiArch {
		if idx := strings.LastIndexByte(name, ':'); idx >= 0 {
			qualifier := name[idx+1:]
			if qualifier == "any" || qualifier == "native" {
				pd.multiArch = qualifier
				name = name[:idx]
			}
		}
	}
	pd.name = name
	return pd
}

// SatisfiesArch reports whether a [arch1 arch2 !arch3]-style restriction
// token list permits the given runtime architecture (spec.md's
// supplemented "first-class filter tokens" design note). An empty
// restriction always matches.
func SatisfiesArch(restrictions, arch string) bool {
	if restrictions == "" {
		return true
	}
	for _, tok := range strings.Fields(restrictions) {
		tok = strings.Trim(tok, "[]")
		if tok == "" {
			continue
		}
		negate := strings.HasPrefix(tok, "!")
		tok = strings.TrimPrefix(tok, "!")
		if tok == arch {
			return !negate
		}
	}
	// No explicit positive match found: an all-negated list allows
	// anything not excluded; a positive list excludes anything not listed.
	hasPositive := false
	for _, tok := range strings.Fields(restrictions) {
		tok = strings.Trim(tok, "[]")
		if !strings.HasPrefix(tok, "!") {
			hasPositive = true
		}
	}
	return !hasPositive
}
