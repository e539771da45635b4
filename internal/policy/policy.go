// Package policy assigns priorities to (version, origin) pairs and picks
// a candidate version per package (spec §4.3), grounded on
// apt-pkg/policy.cc.
package policy

import (
	"sort"
	"strings"

	"github.com/apt-core/apt-core/internal/cache"
	"github.com/apt-core/apt-core/internal/dpkgver"
	"github.com/samber/lo"
)

// Pseudo-priorities, per policy.cc.
const (
	PriNotSource       int16 = 100
	PriNotAutomatic    int16 = 1
	PriDefault         int16 = 500
	PriInstalled       int16 = 1000
	initialAutoPinValue int16 = 989
)

// PinMatch describes one pin-file rule (spec §4.3's "preferences" file).
type PinMatch struct {
	// Package is a glob-style package name, "*" for all.
	Package string
	// Version pins an explicit version string; empty means unset.
	Version string
	// Release matches a codename/archive/origin expression (a=, n=, o=, l=
	// prefixed comma-separated terms), empty means unset.
	Release string
	Priority int16
}

// Policy assigns priorities per origin and picks candidates.
type Policy struct {
	c    *cache.Cache
	pins []PinMatch

	nextAutoPin int16
}

// New builds a Policy over c with the given pin rules, applied in
// declaration order (spec.md §4.3).
func New(c *cache.Cache, pins []PinMatch) *Policy {
	p := &Policy{c: c, pins: pins, nextAutoPin: initialAutoPinValue}
	return p
}

// OriginPriority returns an origin's base priority (spec §4.3's "starts
// at 500, or 100 if NotSource, or 1 if NotAutomatic").
func (p *Policy) OriginPriority(pf cache.PackageFileIterator) int16 {
	switch {
	case pf.NotAutomatic():
		return PriNotAutomatic
	case pf.NotSource():
		return PriNotSource
	default:
		return PriDefault
	}
}

// matchesPin reports whether a pin's Release expression matches pf.
func matchesPin(release string, pf cache.PackageFileIterator) bool {
	if release == "" {
		return true
	}
	for _, term := range strings.Split(release, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		kv := strings.SplitN(term, "=", 2)
		if len(kv) != 2 {
			continue
		}
		var actual string
		switch kv[0] {
		case "a", "archive":
			actual = pf.Archive()
		case "n", "codename":
			actual = pf.Codename()
		case "o", "origin":
			actual = pf.Origin()
		case "l", "label":
			actual = pf.Label()
		default:
			continue
		}
		if actual != kv[1] {
			return false
		}
	}
	return true
}

// pinPriority applies the declared pin rules in order to (ver, pf),
// assigning a monotonically decreasing auto priority to otherwise-unset
// pins in the 989-> range (spec.md §4.3).
func (p *Policy) pinPriority(verStr string, pf cache.PackageFileIterator, pkgName string) (int16, bool) {
	for _, pin := range p.pins {
		if pin.Package != "*" && pin.Package != pkgName {
			continue
		}
		if pin.Version != "" && pin.Version != verStr {
			continue
		}
		if !matchesPin(pin.Release, pf) {
			continue
		}
		if pin.Priority != 0 {
			return pin.Priority, true
		}
		auto := p.nextAutoPin
		p.nextAutoPin--
		return auto, true
	}
	return 0, false
}

// VersionPriority is the max over all origins carrying this version,
// after pin overrides (spec.md §4.3).
func (p *Policy) VersionPriority(v cache.VerIterator, currentlyInstalled bool) int16 {
	if currentlyInstalled {
		return PriInstalled
	}
	best := int16(-1 << 15)
	pkgName := v.ParentPkg().Name()
	for vf := v.FileList(); !vf.End(); vf = vf.Next() {
		pf := vf.File()
		pri := p.OriginPriority(pf)
		if pinned, ok := p.pinPriority(v.VerStr(), pf, pkgName); ok {
			pri = pinned
		}
		if pri > best {
			best = pri
		}
	}
	if best == -1<<15 {
		return 0
	}
	return best
}

// Candidate returns the candidate version maximising VersionPriority,
// tie-broken by the installed version at pseudo-priority 1000; versions
// with priority <= 0 are never candidates (spec.md §4.3).
func (p *Policy) Candidate(pkg cache.PkgIterator) (cache.VerIterator, bool) {
	var best cache.VerIterator
	bestPri := int16(-1 << 15)
	found := false
	installedVer := currentVersionString(pkg)
	for v := pkg.VersionList(); !v.End(); v = v.Next() {
		installed := installedVer != "" && v.VerStr() == installedVer
		pri := p.VersionPriority(v, installed)
		if pri <= 0 {
			continue
		}
		if !found || pri > bestPri || (pri == bestPri && dpkgver.Compare(v.VerStr(), best.VerStr()) > 0) {
			best = v
			bestPri = pri
			found = true
		}
	}
	return best, found
}

// AllowsDowngrade reports whether picking v over the installed version is
// permitted: only when v's priority is > 1000 (spec.md §4.3).
func (p *Policy) AllowsDowngrade(v cache.VerIterator, installed string) bool {
	if installed == "" {
		return true
	}
	return p.VersionPriority(v, false) > PriInstalled
}

// currentVersionString reads back the installed version string for pkg,
// via the "now" origin on one of its versions (cache.Cache.CurrentVersion).
func currentVersionString(pkg cache.PkgIterator) string {
	v, ok := pkg.Cache().CurrentVersion(pkg)
	if !ok {
		return ""
	}
	return v.VerStr()
}

// PreferredProvider picks the best package among a same-name provider
// group (supplemented feature, grounded on GrpIterator::FindPreferredPkg
// in upgrade.cc): installed first, then alphabetical by architecture.
// Policy candidates are not consulted.
func (p *Policy) PreferredProvider(pkgs []cache.PkgIterator) cache.PkgIterator {
	sorted := lo.Filter(pkgs, func(pk cache.PkgIterator, _ int) bool { return !pk.End() })
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		ai := a.CurrentState() == cache.CurInstalled
		bi := b.CurrentState() == cache.CurInstalled
		if ai != bi {
			return ai
		}
		return a.Arch() < b.Arch()
	})
	return sorted[0]
}
