package depcache

// ActionGroup defers broken-count recomputation until the outermost
// group closes, so a long chain of MarkInstall/MarkDelete calls pays for
// the dependency walk once instead of once per call (spec §4.4, §9).
// Groups nest: only the Close call that brings groupDepth back to zero
// triggers recomputeBrokenCount.
type ActionGroup struct {
	dc     *DepCache
	closed bool
}

// BeginActionGroup opens a new (possibly nested) scope.
func (dc *DepCache) BeginActionGroup() *ActionGroup {
	dc.groupDepth++
	return &ActionGroup{dc: dc}
}

// Close ends the scope. Calling Close more than once is a no-op.
func (ag *ActionGroup) Close() {
	if ag.closed {
		return
	}
	ag.closed = true
	ag.dc.groupDepth--
	if ag.dc.groupDepth < 0 {
		ag.dc.groupDepth = 0
	}
	if !ag.dc.inGroup() {
		ag.dc.recomputeBrokenCount()
	}
}
