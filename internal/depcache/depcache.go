// Package depcache overlays per-package mutable decisions (install, keep,
// delete, auto) on top of PackageCache, maintaining broken counts and
// dirty flags under transactional ActionGroup scopes (spec §4.4, §3).
package depcache

import (
	"github.com/apt-core/apt-core/internal/arena"
	"github.com/apt-core/apt-core/internal/cache"
	"github.com/apt-core/apt-core/internal/dpkgver"
	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/apt-core/apt-core/internal/policy"
)

// Mode is a package's planned action.
type Mode byte

const (
	ModeKeep Mode = iota
	ModeInstall
	ModeDelete
)

// Flag bits for StateCache.Flags.
const (
	FlagAuto byte = 1 << iota
	FlagProtected
	FlagPurge
	FlagReInstall
	FlagGarbage
	FlagMarked
)

// DepState bits, cached per package: whether its critical dependencies
// are satisfied in the currently-installed world ("now") and in the
// planned world ("install"), plus whole-or-group variants (spec §4.4).
const (
	DepNow byte = 1 << iota
	DepInstall
	DepGNow
	DepGInstall
)

// StateCache is the per-package scratch record (spec §3).
type StateCache struct {
	CandidateVer arena.Offset
	InstallVer   arena.Offset
	Mode         Mode
	Flags        byte
	DepState     byte
}

func (s *StateCache) Auto() bool       { return s.Flags&FlagAuto != 0 }
func (s *StateCache) Protected() bool  { return s.Flags&FlagProtected != 0 }
func (s *StateCache) Purge() bool      { return s.Flags&FlagPurge != 0 }
func (s *StateCache) Garbage() bool    { return s.Flags&FlagGarbage != 0 }

// DepCache is the mutable overlay on top of an immutable PackageCache.
type DepCache struct {
	C      *cache.Cache
	Policy *policy.Policy
	Stack  *errstack.Stack

	states map[arena.Offset]*StateCache

	groupDepth int
	broken     int

	// AllowChangeHeldPackages mirrors
	// APT::Get::Allow-Change-Held-Packages: without it, any planned change
	// to a Hold package is a hard Held error (spec §9's Open Question
	// resolution).
	AllowChangeHeldPackages bool

	// InstallRecommends mirrors APT::Install-Recommends: when set,
	// MarkInstall also auto-installs Recommends alternatives, not just
	// Depends/PreDepends.
	InstallRecommends bool
}

// New builds a DepCache over c, seeding every package's candidate from
// Policy and its install-version from whatever is currently installed.
func New(c *cache.Cache, pol *policy.Policy, stack *errstack.Stack) *DepCache {
	dc := &DepCache{C: c, Policy: pol, Stack: stack, states: map[arena.Offset]*StateCache{}}
	for _, pkg := range c.Packages() {
		st := &StateCache{}
		if cand, ok := pol.Candidate(pkg); ok {
			st.CandidateVer = cand.Offset()
		}
		if cur, ok := c.CurrentVersion(pkg); ok {
			st.InstallVer = cur.Offset()
		}
		dc.states[pkg.Offset()] = st
	}
	return dc
}

// State returns the mutable scratch record for pkg.
func (dc *DepCache) State(pkg cache.PkgIterator) *StateCache {
	st, ok := dc.states[pkg.Offset()]
	if !ok {
		st = &StateCache{}
		dc.states[pkg.Offset()] = st
	}
	return st
}

// CandidateVersion returns the package's policy candidate, if any.
func (dc *DepCache) CandidateVersion(pkg cache.PkgIterator) (cache.VerIterator, bool) {
	st := dc.State(pkg)
	if st.CandidateVer == arena.Null {
		return cache.VerIterator{}, false
	}
	return versionAt(dc.C, st.CandidateVer), true
}

// InstallVersion returns the version currently planned for install, if
// the package's Mode is Install.
func (dc *DepCache) InstallVersion(pkg cache.PkgIterator) (cache.VerIterator, bool) {
	st := dc.State(pkg)
	if st.Mode != ModeInstall || st.InstallVer == arena.Null {
		return cache.VerIterator{}, false
	}
	return versionAt(dc.C, st.InstallVer), true
}

func versionAt(c *cache.Cache, off arena.Offset) cache.VerIterator {
	// VerIterator construction is internal to the cache package; reuse the
	// package-level helper that every Version-returning accessor goes
	// through.
	return cache.VersionAt(c, off)
}

// BrokenCount is the number of packages whose install-time critical
// dependencies are unmet (spec §3, §8's invariant 3).
func (dc *DepCache) BrokenCount() int { return dc.broken }

// inGroup reports whether we're nested inside an ActionGroup.
func (dc *DepCache) inGroup() bool { return dc.groupDepth > 0 }

// ensureHeld returns false (and pushes a Held diagnostic) if pkg is
// marked Hold and the caller hasn't set AllowChangeHeldPackages.
func (dc *DepCache) ensureHeld(pkg cache.PkgIterator) bool {
	if pkg.SelectedState() != cache.SelHold {
		return true
	}
	if dc.AllowChangeHeldPackages {
		return true
	}
	dc.Stack.Push(errstack.Error, errstack.Held, pkg.Name(), "package is held")
	return false
}

// MarkKeep sets pkg's mode to Keep. InstallVer is left as it was; it is
// only consulted while the mode is Install.
func (dc *DepCache) MarkKeep(pkg cache.PkgIterator) bool {
	if !dc.ensureHeld(pkg) {
		return false
	}
	st := dc.State(pkg)
	st.Mode = ModeKeep
	dc.maybeRecompute()
	return true
}

// MarkAuto sets or clears the Auto flag (spec §4.4).
func (dc *DepCache) MarkAuto(pkg cache.PkgIterator, auto bool) {
	st := dc.State(pkg)
	if auto {
		st.Flags |= FlagAuto
	} else {
		st.Flags &^= FlagAuto
	}
}

// MarkDelete plans pkg for removal (spec §4.4).
func (dc *DepCache) MarkDelete(pkg cache.PkgIterator, purge bool) bool {
	if !dc.ensureHeld(pkg) {
		return false
	}
	st := dc.State(pkg)
	st.Mode = ModeDelete
	st.InstallVer = arena.Null
	if purge {
		st.Flags |= FlagPurge
	}
	dc.maybeRecompute()
	return true
}

// MarkInstall selects the candidate version for pkg and, if
// autoInstallDeps, recursively marks its Depends/PreDepends (and
// Recommends when the policy flag is set) for install, bounded by depth
// (spec §4.4).
func (dc *DepCache) MarkInstall(pkg cache.PkgIterator, autoInstallDeps bool, depth uint32, fromUser bool) bool {
	return dc.markInstall(pkg, autoInstallDeps, depth, fromUser, 0, dc.InstallRecommends)
}

func (dc *DepCache) markInstall(pkg cache.PkgIterator, autoInstallDeps bool, maxDepth uint32, fromUser bool, curDepth uint32, withRecommends bool) bool {
	if !dc.ensureHeld(pkg) {
		return false
	}
	cand, ok := dc.CandidateVersion(pkg)
	if !ok {
		dc.Stack.Push(errstack.Error, errstack.Unsatisfiable, pkg.Name(), "no candidate version")
		return false
	}
	st := dc.State(pkg)
	st.Mode = ModeInstall
	st.InstallVer = cand.Offset()
	if fromUser {
		st.Flags &^= FlagAuto
	}
	if curDepth >= maxDepth {
		dc.maybeRecompute()
		return true
	}
	if autoInstallDeps {
		for d := cand.DependsList(); !d.End(); d = d.Next() {
			switch d.Type() {
			case cache.DepDepends, cache.DepPreDepends:
				dc.satisfyOrGroup(d, maxDepth, curDepth+1, withRecommends)
			case cache.DepRecommends:
				if withRecommends {
					dc.satisfyOrGroup(d, maxDepth, curDepth+1, withRecommends)
				}
			}
			// satisfyOrGroup handled the whole Or-group; skip its remaining
			// alternatives so they are not treated as separate dependencies.
			for d.IsOr() && !d.Next().End() {
				d = d.Next()
			}
		}
	}
	dc.maybeRecompute()
	return true
}

// satisfyOrGroup walks an Or-group starting at d and installs the first
// alternative not already satisfied in the planned world.
func (dc *DepCache) satisfyOrGroup(d cache.DepIterator, maxDepth, curDepth uint32, withRecommends bool) {
	for {
		target := d.TargetPkg()
		if !target.End() && dc.isSatisfied(d, target) {
			return
		}
		if !d.IsOr() {
			if !target.End() {
				dc.markInstall(target, true, maxDepth, false, curDepth, withRecommends)
			}
			return
		}
		if !target.End() {
			st := dc.State(target)
			if st.Mode != ModeInstall {
				dc.markInstall(target, true, maxDepth, false, curDepth, withRecommends)
				return
			}
		}
		d = d.Next()
		if d.End() {
			return
		}
	}
}

// isSatisfied reports whether d is met by target's planned install
// version directly, or by some other package's planned install version
// Providing target (per the version operator matrix, spec §4.2). A
// versioned dependency can only be satisfied by a Provides when the
// dependency itself carries no version constraint (dpkg semantics).
func (dc *DepCache) isSatisfied(d cache.DepIterator, target cache.PkgIterator) bool {
	if target.End() {
		return false
	}
	st := dc.State(target)
	if st.Mode == ModeInstall && st.InstallVer != arena.Null {
		v := versionAt(dc.C, st.InstallVer)
		if dpkgver.Satisfies(v.VerStr(), d.TargetVerStr(), dpkgver.Op(d.CompareOp())) {
			return true
		}
	}
	if dpkgver.Op(d.CompareOp()) != dpkgver.NoOp {
		return false
	}
	for _, pkg := range dc.C.Packages() {
		ps := dc.State(pkg)
		if ps.Mode != ModeInstall || ps.InstallVer == arena.Null {
			continue
		}
		v := versionAt(dc.C, ps.InstallVer)
		for pr := v.ProvidesList(); !pr.End(); pr = pr.Next() {
			if pr.ProvidedPkg().Offset() == target.Offset() {
				return true
			}
		}
	}
	return false
}

// Satisfied exposes isSatisfied to other components (Solver) that need to
// test a dependency against a candidate target without duplicating the
// Provides-search logic.
func (dc *DepCache) Satisfied(d cache.DepIterator, target cache.PkgIterator) bool {
	return dc.isSatisfied(d, target)
}

// isSatisfiedNow mirrors isSatisfied but against the currently-installed
// world rather than the planned one: it is isSatisfied's "now" half of
// the DepNow/DepInstall distinction spec §4.4 requires.
func (dc *DepCache) isSatisfiedNow(d cache.DepIterator, target cache.PkgIterator) bool {
	if target.End() {
		return false
	}
	if v, ok := dc.C.CurrentVersion(target); ok {
		if dpkgver.Satisfies(v.VerStr(), d.TargetVerStr(), dpkgver.Op(d.CompareOp())) {
			return true
		}
	}
	if dpkgver.Op(d.CompareOp()) != dpkgver.NoOp {
		return false
	}
	for _, pkg := range dc.C.Packages() {
		v, ok := dc.C.CurrentVersion(pkg)
		if !ok {
			continue
		}
		for pr := v.ProvidesList(); !pr.End(); pr = pr.Next() {
			if pr.ProvidedPkg().Offset() == target.Offset() {
				return true
			}
		}
	}
	return false
}

// maybeRecompute recomputes the broken count only when not nested inside
// an ActionGroup (spec §4.4, §9's Open Question resolution).
func (dc *DepCache) maybeRecompute() {
	if dc.inGroup() {
		return
	}
	dc.recomputeBrokenCount()
}

// recomputeBrokenCount walks every package with a planned install version
// and counts those whose critical Depends/PreDepends Or-groups are unmet
// in the planned world (spec §8's invariant 3). A group is satisfied if
// any one of its alternatives is; it is broken only if none is. DepState
// is rebuilt from scratch every call: DepNow/DepGNow track satisfaction
// against the currently-installed world, DepInstall/DepGInstall against
// the planned one (spec §4.4).
func (dc *DepCache) recomputeBrokenCount() {
	count := 0
	for _, st := range dc.states {
		st.DepState = 0
		if st.Mode != ModeInstall || st.InstallVer == arena.Null {
			continue
		}
		v := versionAt(dc.C, st.InstallVer)
		ok := true
		for d := v.DependsList(); !d.End(); {
			critical := d.Type() == cache.DepDepends || d.Type() == cache.DepPreDepends
			groupNow, groupInstall := false, false
			for {
				if !d.TargetPkg().End() {
					if dc.isSatisfiedNow(d, d.TargetPkg()) {
						groupNow = true
					}
					if dc.isSatisfied(d, d.TargetPkg()) {
						groupInstall = true
					}
				}
				if !d.IsOr() || d.End() {
					break
				}
				d = d.Next()
			}
			if critical {
				if groupNow {
					st.DepState |= DepNow | DepGNow
				}
				if groupInstall {
					st.DepState |= DepInstall | DepGInstall
				} else {
					ok = false
				}
			}
			if d.End() {
				break
			}
			d = d.Next()
		}
		if !ok {
			count++
		}
	}
	dc.broken = count
}

// EssentialPackages returns every package carrying the Essential flag
// (supplemented feature, grounded on upgrade.cc's pkgDistUpgrade).
func (dc *DepCache) EssentialPackages() []cache.PkgIterator {
	var out []cache.PkgIterator
	for _, pkg := range dc.C.Packages() {
		if pkg.Essential() {
			out = append(out, pkg)
		}
	}
	return out
}
