// Package solver implements the dependency solver (C2): given a user
// request, it mutates a DepCache into a consistent decision set or fails
// with a diagnostic identifying a minimal witness of infeasibility.
// Two strategies are provided: Classic (a greedy mark/fixpoint loop) and
// Backtracking (an explicit decision tree with conflict-driven learning
// at depth granularity), grounded on solver3.h's design.
package solver

import (
	"sort"

	"github.com/apt-core/apt-core/internal/arena"
	"github.com/apt-core/apt-core/internal/cache"
	"github.com/apt-core/apt-core/internal/depcache"
	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/apt-core/apt-core/internal/policy"
)

// Decision is a package or version's current standing at a given depth.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionMust
	DecisionMustNot
)

// Hint marks an optional (skippable) work item.
type Hint int

const (
	HintNone Hint = iota
	HintShould
	HintMay
)

// Group is the coarse priority class of a work item, lowest value served
// first (spec.md §4.5's ordering).
type Group int

const (
	GroupHoldOrDelete Group = iota
	GroupNewUnsatRecommends
	GroupSatisfyNew
	GroupSatisfy
	GroupSatisfyObsolete
	GroupUpgradeManual
	GroupInstallManual
	GroupObsoleteManual
	GroupUpgradeAuto
	GroupKeepAuto
	GroupObsoleteAuto
)

// Reason identifies what forced a decision: either a Package name or a
// Version string, never both (a tagged union realized as two optional
// fields; empty means the decision was made automatically with no forcing
// package, e.g. the user's own request).
type Reason struct {
	Pkg string
	Ver string
}

type pkgState struct {
	decision Decision
	depth    int
	reason   Reason
	hint     Hint
}

// work is one unresolved positive dependency sitting in the priority
// queue, or a top-level request to install/upgrade a package.
type work struct {
	dep     cache.DepIterator // End() for a bare top-level request
	pkg     cache.PkgIterator // the package this work concerns
	group   Group
	depth   int
	optional bool
}

// choicePoint records a decision made while resolving one work item, so
// Solve can backtrack to it and try the next alternative.
type choicePoint struct {
	depth       int
	chosenPkgOff arena.Offset
}

// UpgradeMode selects a staged marking sequence to run before the solver
// (spec.md §4.5's upgrade-mode specializations).
type UpgradeMode int

const (
	ModeNone UpgradeMode = iota
	ModeSafeUpgrade
	ModeFullUpgrade
	ModeDistUpgrade
)

// Request is a user-issued solve request.
type Request struct {
	Install []string
	Remove  []string
	Keep    []string
	Mode    UpgradeMode
	// AutoInstall is not read by Solve: the Depends/PreDepends of every
	// chosen package are enqueued whatever its value.
	AutoInstall bool
}

// maxDepth bounds decision depth: resolveWork refuses any work item at or
// beyond it, so every branch terminates.
const maxDepth = 4096

// Solver runs the backtracking algorithm over a DepCache.
type Solver struct {
	dc     *depcache.DepCache
	c      *cache.Cache
	pol    *policy.Policy
	stack  *errstack.Stack
	arches []string

	pkgStates map[arena.Offset]*pkgState
	queue     []work
	decisions []choicePoint
	rejects   map[int][]arena.Offset // version offsets rejected, keyed by the depth at which the rejecting conflict was discovered
}

// New builds a Solver over dc.
func New(dc *depcache.DepCache, pol *policy.Policy, stack *errstack.Stack, arches []string) *Solver {
	return &Solver{
		dc: dc, c: dc.C, pol: pol, stack: stack, arches: arches,
		pkgStates: map[arena.Offset]*pkgState{},
		rejects:   map[int][]arena.Offset{},
	}
}

func (s *Solver) state(pkg cache.PkgIterator) *pkgState {
	st, ok := s.pkgStates[pkg.Offset()]
	if !ok {
		st = &pkgState{}
		s.pkgStates[pkg.Offset()] = st
	}
	return st
}

// Solve resolves req, mutating the underlying DepCache, and runs any
// requested upgrade-mode staged marking first.
func (s *Solver) Solve(req Request) error {
	ag := s.dc.BeginActionGroup()
	defer ag.Close()

	switch req.Mode {
	case ModeSafeUpgrade:
		SafeUpgrade(s.dc)
	case ModeFullUpgrade:
		FullUpgrade(s.dc)
	case ModeDistUpgrade:
		DistUpgrade(s.dc)
	}

	for _, name := range req.Remove {
		pkg, ok := s.c.FindPackage(name, "")
		if !ok {
			s.stack.Push(errstack.Error, errstack.Unsatisfiable, name, "unknown package")
			return errUnsatisfiable(name)
		}
		if !s.dc.MarkDelete(pkg, false) {
			return errHeld(name)
		}
		s.state(pkg).decision = DecisionMustNot
	}
	for _, name := range req.Keep {
		pkg, ok := s.c.FindPackage(name, "")
		if !ok {
			continue
		}
		s.dc.MarkKeep(pkg)
	}
	for _, name := range req.Install {
		pkg, ok := s.c.FindPackage(name, "")
		if !ok {
			s.stack.Push(errstack.Error, errstack.Unsatisfiable, name, "unknown package")
			return errUnsatisfiable(name)
		}
		s.enqueueInstall(pkg, GroupInstallManual, 0, false)
	}

	return s.run()
}

func (s *Solver) enqueueInstall(pkg cache.PkgIterator, group Group, depth int, optional bool) {
	s.queue = append(s.queue, work{pkg: pkg, group: group, depth: depth, optional: optional})
}

func (s *Solver) enqueueDep(d cache.DepIterator, group Group, depth int, optional bool) {
	target := d.TargetPkg()
	if target.End() {
		return
	}
	s.queue = append(s.queue, work{dep: d, pkg: target, group: group, depth: depth, optional: optional})
}

// run drains the work queue, per the normative algorithm in spec.md §4.5.
func (s *Solver) run() error {
	for len(s.queue) > 0 {
		w := s.pop()

		if !w.dep.End() {
			if s.groupSatisfied(w.dep) {
				continue
			}
		} else if st := s.state(w.pkg); st.decision == DecisionMust {
			continue
		}

		if ok := s.resolveWork(w); !ok {
			if w.optional {
				continue
			}
			if !s.backtrack() {
				return errUnsatisfiable(w.pkg.Name())
			}
		}
	}
	if s.dc.BrokenCount() > 0 {
		if !s.backtrack() {
			return errUnsatisfiable("")
		}
		return s.run()
	}
	return nil
}

// groupSatisfied reports whether any alternative of d's Or-group (d alone,
// if it is not part of one) is already satisfied in the planned install
// set. d must be the first alternative of its group, as enqueueDep /
// enqueueDepsOf guarantee.
func (s *Solver) groupSatisfied(d cache.DepIterator) bool {
	for {
		if !d.TargetPkg().End() && s.dc.Satisfied(d, d.TargetPkg()) {
			return true
		}
		if !d.IsOr() || d.End() {
			return false
		}
		d = d.Next()
	}
}

// pop removes and returns the lowest-Group (highest priority) work item.
func (s *Solver) pop() work {
	best := 0
	for i := 1; i < len(s.queue); i++ {
		if s.queue[i].group < s.queue[best].group {
			best = i
		}
	}
	w := s.queue[best]
	s.queue = append(s.queue[:best], s.queue[best+1:]...)
	return w
}

// resolveWork orders candidates via candidatesFor and installs the
// first one not yet rejected, pushing a choice point.
func (s *Solver) resolveWork(w work) bool {
	if w.depth >= maxDepth {
		return false
	}
	candidates := s.candidatesFor(w)
	if len(candidates) == 0 {
		return false
	}
	for _, cand := range candidates {
		if s.isRejected(cand.Offset()) {
			continue
		}
		if !s.dc.MarkInstall(cand, false, 0, false) {
			continue
		}
		st := s.state(cand)
		st.decision = DecisionMust
		st.depth = w.depth
		if !w.dep.End() {
			st.reason = Reason{Pkg: w.dep.ParentVersion().ParentPkg().Name()}
		}
		s.decisions = append(s.decisions, choicePoint{depth: w.depth, chosenPkgOff: cand.Offset()})
		s.enqueueDepsOf(cand, w.depth+1)
		return true
	}
	return false
}

// candidatesFor enumerates the Or-group alternatives (or the single
// package, for a top-level request), sorted: currently installed first,
// then by package name, then by the architecture's position in s.arches.
// Policy priority and origin obsolescence are not part of the ordering.
func (s *Solver) candidatesFor(w work) []cache.PkgIterator {
	var pkgs []cache.PkgIterator
	if w.dep.End() {
		pkgs = []cache.PkgIterator{w.pkg}
	} else {
		for d := w.dep; ; d = d.Next() {
			if !d.TargetPkg().End() {
				pkgs = append(pkgs, d.TargetPkg())
			}
			if !d.IsOr() || d.End() {
				break
			}
		}
	}
	sort.SliceStable(pkgs, func(i, j int) bool {
		a, b := pkgs[i], pkgs[j]
		_, aInstalled := s.c.CurrentVersion(a)
		_, bInstalled := s.c.CurrentVersion(b)
		if aInstalled != bInstalled {
			return aInstalled
		}
		if a.Name() != b.Name() {
			return a.Name() < b.Name()
		}
		return s.archRank(a.Arch()) < s.archRank(b.Arch())
	})
	return pkgs
}

func (s *Solver) archRank(arch string) int {
	for i, a := range s.arches {
		if a == arch {
			return i
		}
	}
	return len(s.arches)
}

// enqueueDepsOf pushes cand's candidate version's Depends/PreDepends (and
// Recommends, as optional work, if the DepCache was configured to
// follow them) as new work at depth.
func (s *Solver) enqueueDepsOf(pkg cache.PkgIterator, depth int) {
	v, ok := s.dc.InstallVersion(pkg)
	if !ok {
		return
	}
	for d := v.DependsList(); !d.End(); d = d.Next() {
		switch d.Type() {
		case cache.DepDepends, cache.DepPreDepends:
			s.enqueueDep(d, GroupSatisfy, depth, false)
		case cache.DepRecommends:
			if s.dc.InstallRecommends {
				s.enqueueDep(d, GroupNewUnsatRecommends, depth, true)
			}
		}
		// An Or-group's alternatives are consecutive entries in the same
		// list (IsOr true on every member but the last); the one just
		// enqueued stands for the whole group via candidatesFor's own
		// d.Next() walk, so skip the rest instead of enqueuing each
		// alternative as an independent, individually-mandatory work item.
		for d.IsOr() {
			d = d.Next()
		}
	}
}

func (s *Solver) isRejected(pkgOff arena.Offset) bool {
	for _, offs := range s.rejects {
		for _, o := range offs {
			if o == pkgOff {
				return true
			}
		}
	}
	return false
}

// backtrack pops the most recent choice point, rejects the version it
// installed (recorded at the depth of the conflict, per the conflict
// driven learning rule in spec.md §4.5), and re-enqueues its work item to
// try the next candidate.
func (s *Solver) backtrack() bool {
	if len(s.decisions) == 0 {
		return false
	}
	cp := s.decisions[len(s.decisions)-1]
	s.decisions = s.decisions[:len(s.decisions)-1]
	pkg := packageAt(s.c, cp.chosenPkgOff)
	s.rejects[cp.depth] = append(s.rejects[cp.depth], cp.chosenPkgOff)
	s.dc.MarkKeep(pkg)
	return true
}

func packageAt(c *cache.Cache, off arena.Offset) cache.PkgIterator {
	for _, p := range c.Packages() {
		if p.Offset() == off {
			return p
		}
	}
	return cache.PkgIterator{}
}

type solveError struct {
	kind errstack.Kind
	pkg  string
}

func (e *solveError) Error() string { return e.kind.String() + ": " + e.pkg }

func errUnsatisfiable(pkg string) error { return &solveError{kind: errstack.Unsatisfiable, pkg: pkg} }
func errHeld(pkg string) error          { return &solveError{kind: errstack.Held, pkg: pkg} }
