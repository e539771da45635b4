// Package orderlist implements the unpack/configure ordering engine (C3):
// a four-pass coloured-DFS topological sort of DepCache's planned changes
// into the exact UnPack/Configure sequence handed to the installer
// backend (spec.md §4.6), grounded on orderlist.cc.
package orderlist

import (
	"github.com/apt-core/apt-core/internal/arena"
	"github.com/apt-core/apt-core/internal/cache"
	"github.com/apt-core/apt-core/internal/depcache"
	"github.com/apt-core/apt-core/internal/errstack"
)

// Action is the event kind emitted for a package.
type Action int

const (
	ActionUnPack Action = iota
	ActionConfigure
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionUnPack:
		return "UnPack"
	case ActionConfigure:
		return "Configure"
	case ActionRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// Event is one emitted step of the installer plan.
type Event struct {
	Action Action
	Pkg    cache.PkgIterator
}

// Flag bits tracked per package during ordering (spec.md §4.6).
const (
	flagInList byte = 1 << iota
	flagAdded
	flagAddPending // grey: currently being visited (DFS ancestor)
	flagLoop
	flagImmediate
	flagUnpacked
	flagConfigured
	flagRemoved
)

// loopEntry records one detected dependency cycle, up to a fixed budget.
type loopEntry struct {
	pkg  cache.PkgIterator
	pass int
}

const maxLoopLog = 20

// OrderList computes the UnPack/Configure/Remove sequence for a set of
// changed packages.
type OrderList struct {
	dc     *depcache.DepCache
	stack  *errstack.Stack
	flags  map[arena.Offset]byte
	events []Event
	loops  []loopEntry
}

// New builds an OrderList over the packages changed by dc (every package
// whose Mode is not Keep).
func New(dc *depcache.DepCache, stack *errstack.Stack) *OrderList {
	return &OrderList{dc: dc, stack: stack, flags: map[arena.Offset]byte{}}
}

func (o *OrderList) flag(pkg cache.PkgIterator) byte { return o.flags[pkg.Offset()] }
func (o *OrderList) setFlag(pkg cache.PkgIterator, bits byte) {
	o.flags[pkg.Offset()] |= bits
}
func (o *OrderList) clearFlag(pkg cache.PkgIterator, bits byte) {
	o.flags[pkg.Offset()] &^= bits
}
func (o *OrderList) has(pkg cache.PkgIterator, bits byte) bool {
	return o.flag(pkg)&bits != 0
}

// changedPackages returns every package DepCache plans to Install or
// Delete, in hash order (the same order the arena's hash table yields).
func (o *OrderList) changedPackages() []cache.PkgIterator {
	var out []cache.PkgIterator
	for _, pkg := range o.dc.C.Packages() {
		st := o.dc.State(pkg)
		if st.Mode == depcache.ModeInstall || st.Mode == depcache.ModeDelete {
			out = append(out, pkg)
			if st.Mode == depcache.ModeDelete {
				o.setFlag(pkg, flagRemoved)
			}
		}
	}
	return out
}

// callback bundles the four dependency-walk functions a pass installs,
// per spec.md §4.6's pass table.
type callback struct {
	primary  func(o *OrderList, pkg cache.PkgIterator, pass int) bool
	secondary func(o *OrderList, pkg cache.PkgIterator, pass int) bool
	reverse  func(o *OrderList, pkg cache.PkgIterator, pass int) bool
	remove   bool
	fatal    bool // pass 4: AddPending observed during visit is fatal, not logged
}

var passes = []callback{
	{primary: unpackCrit, secondary: configureCB, reverse: unpackDep, remove: true},
	{primary: unpackCrit, reverse: unpackDep, remove: true},
	{primary: unpackCrit},
	{primary: unpackPre, fatal: true},
}

// Order runs all four passes plus the final Configure-only pass, returning
// the emitted event sequence (spec.md §4.6).
func (o *OrderList) Order() ([]Event, error) {
	changed := o.changedPackages()
	for _, pkg := range changed {
		o.setFlag(pkg, flagInList)
	}

	for passNum, cb := range passes {
		for _, pkg := range changed {
			if o.has(pkg, flagAdded) {
				continue
			}
			if !o.visit(pkg, cb, passNum+1) && cb.fatal {
				o.stack.Push(errstack.Fatal, errstack.FatalOrdering, pkg.Name(), "critical predepends loop")
				return nil, fatalOrderingErr(pkg.Name())
			}
		}
	}

	if err := o.configureOnlyPass(changed); err != nil {
		return nil, err
	}

	for _, pkg := range changed {
		if !o.has(pkg, flagConfigured) && !o.has(pkg, flagRemoved) {
			o.stack.Push(errstack.Fatal, errstack.InternalInvariant, pkg.Name(), "left unconfigured after ordering")
			return nil, internalInvariantErr(pkg.Name())
		}
	}
	return o.events, nil
}

// visit runs one coloured-DFS descent rooted at pkg for the given pass.
// Returns false if a cycle was detected and the pass is fatal (pass 4);
// for non-fatal passes, cycles are recorded in the loop log and the visit
// returns true so ordering continues best-effort.
func (o *OrderList) visit(pkg cache.PkgIterator, cb callback, pass int) bool {
	if o.has(pkg, flagAdded) {
		return true
	}
	if o.has(pkg, flagAddPending) {
		o.recordLoop(pkg, pass, cb.fatal)
		return !cb.fatal
	}
	o.setFlag(pkg, flagAddPending)
	defer o.clearFlag(pkg, flagAddPending)

	ok := true
	if cb.primary != nil && !cb.primary(o, pkg, pass) {
		ok = false
	}
	if cb.reverse != nil && !cb.reverse(o, pkg, pass) {
		ok = false
	}
	if cb.remove {
		removeConflicting(o, pkg, pass)
	}

	st := o.dc.State(pkg)
	if st.Mode == depcache.ModeDelete {
		o.emitRemove(pkg)
	} else {
		o.emitUnpack(pkg)
	}
	o.setFlag(pkg, flagAdded)

	if cb.secondary != nil {
		cb.secondary(o, pkg, pass)
	}
	return ok
}

func (o *OrderList) recordLoop(pkg cache.PkgIterator, pass int, fatal bool) {
	o.setFlag(pkg, flagLoop)
	if fatal {
		return
	}
	if len(o.loops) < maxLoopLog {
		o.loops = append(o.loops, loopEntry{pkg: pkg, pass: pass})
	}
}

func (o *OrderList) emitUnpack(pkg cache.PkgIterator) {
	if o.has(pkg, flagUnpacked) {
		return
	}
	o.events = append(o.events, Event{Action: ActionUnPack, Pkg: pkg})
	o.setFlag(pkg, flagUnpacked)
	if o.has(pkg, flagImmediate) {
		o.emitConfigure(pkg)
	}
}

func (o *OrderList) emitConfigure(pkg cache.PkgIterator) {
	if o.has(pkg, flagConfigured) {
		return
	}
	o.events = append(o.events, Event{Action: ActionConfigure, Pkg: pkg})
	o.setFlag(pkg, flagConfigured)
}

func (o *OrderList) emitRemove(pkg cache.PkgIterator) {
	o.events = append(o.events, Event{Action: ActionRemove, Pkg: pkg})
	o.setFlag(pkg, flagRemoved)
}

// unpackCrit walks PreDepends only, unpacking whatever this package
// needs already on disk before it can itself unpack (spec.md §4.6's
// critical rule 1); Conflicts/Breaks are walked by removeConflicting.
func unpackCrit(o *OrderList, pkg cache.PkgIterator, pass int) bool {
	v, ok := o.dc.InstallVersion(pkg)
	if !ok {
		return true
	}
	ok2 := true
	for d := v.DependsList(); !d.End(); d = d.Next() {
		if d.Type() != cache.DepPreDepends {
			continue
		}
		target := d.TargetPkg()
		if target.End() || !o.has(target, flagInList) {
			continue
		}
		if !o.visit(target, passes[pass-1], pass) {
			ok2 = false
		}
	}
	return ok2
}

// unpackPre is pass 4's primary callback: PreDepends only, fatal on loop.
func unpackPre(o *OrderList, pkg cache.PkgIterator, pass int) bool {
	return unpackCrit(o, pkg, pass)
}

// configureCB is pass 1's secondary callback: try to configure pkg
// immediately if its own Depends/PreDepends are already satisfied by
// what's been unpacked so far, realizing the ImmediateConfigure soft
// preference.
func configureCB(o *OrderList, pkg cache.PkgIterator, pass int) bool {
	v, ok := o.dc.InstallVersion(pkg)
	if !ok {
		return true
	}
	for d := v.DependsList(); !d.End(); d = d.Next() {
		if d.Type() != cache.DepDepends && d.Type() != cache.DepPreDepends {
			continue
		}
		target := d.TargetPkg()
		if target.End() {
			continue
		}
		if !o.has(target, flagConfigured) && o.has(target, flagInList) {
			return true
		}
	}
	o.emitConfigure(pkg)
	return true
}

// unpackDep walks reverse: packages that Depend on pkg and are also
// being unpacked, so their unpack can be biased to not precede a
// dependency it needs (spec.md's "avoid breaking dependencies of
// already-configured packages" soft preference).
func unpackDep(o *OrderList, pkg cache.PkgIterator, pass int) bool {
	for _, other := range o.dc.C.Packages() {
		if !o.has(other, flagInList) || o.has(other, flagAdded) {
			continue
		}
		v, ok := o.dc.InstallVersion(other)
		if !ok {
			continue
		}
		for d := v.DependsList(); !d.End(); d = d.Next() {
			if d.Type() != cache.DepDepends {
				continue
			}
			if t := d.TargetPkg(); !t.End() && t.Offset() == pkg.Offset() {
				o.visit(other, passes[pass-1], pass)
			}
		}
	}
	return true
}

// removeConflicting walks pkg's Conflicts/Breaks against currently
// in-list packages, ordering their Remove before this package's UnPack
// (critical rule: unpacking requires every Conflict to be satisfied).
func removeConflicting(o *OrderList, pkg cache.PkgIterator, pass int) {
	v, ok := o.dc.InstallVersion(pkg)
	if !ok {
		return
	}
	for d := v.DependsList(); !d.End(); d = d.Next() {
		if d.Type() != cache.DepConflicts && d.Type() != cache.DepBreaks {
			continue
		}
		target := d.TargetPkg()
		if target.End() || o.has(target, flagAdded) {
			continue
		}
		if _, installed := o.dc.C.CurrentVersion(target); installed {
			st := o.dc.State(target)
			if st.Mode != depcache.ModeDelete {
				continue
			}
			o.visit(target, passes[pass-1], pass)
		}
	}
}

// configureOnlyPass reorders whatever wasn't immediately configured
// during the four unpack passes, on Depends and PreDepends only, and emits the
// remaining Configure events (spec.md §4.6's "Final phase").
func (o *OrderList) configureOnlyPass(changed []cache.PkgIterator) error {
	var visit func(pkg cache.PkgIterator, stack map[arena.Offset]bool) error
	visit = func(pkg cache.PkgIterator, onStack map[arena.Offset]bool) error {
		if o.has(pkg, flagConfigured) || o.has(pkg, flagRemoved) {
			return nil
		}
		if onStack[pkg.Offset()] {
			return nil // loop already recorded during unpack passes
		}
		onStack[pkg.Offset()] = true
		defer delete(onStack, pkg.Offset())

		v, ok := o.dc.InstallVersion(pkg)
		if ok {
			for d := v.DependsList(); !d.End(); d = d.Next() {
				if d.Type() != cache.DepDepends && d.Type() != cache.DepPreDepends {
					continue
				}
				target := d.TargetPkg()
				if target.End() || !o.has(target, flagInList) {
					continue
				}
				if err := visit(target, onStack); err != nil {
					return err
				}
			}
		}
		o.emitConfigure(pkg)
		return nil
	}
	for _, pkg := range changed {
		if err := visit(pkg, map[arena.Offset]bool{}); err != nil {
			return err
		}
	}
	return nil
}

// Loops returns the number of dependency cycles recorded during non-fatal
// passes (at most maxLoopLog).
func (o *OrderList) Loops() int { return len(o.loops) }

type orderError struct {
	kind errstack.Kind
	pkg  string
}

func (e *orderError) Error() string { return e.kind.String() + ": " + e.pkg }

func fatalOrderingErr(pkg string) error {
	return &orderError{kind: errstack.FatalOrdering, pkg: pkg}
}
func internalInvariantErr(pkg string) error {
	return &orderError{kind: errstack.InternalInvariant, pkg: pkg}
}
