package solver

import (
	"github.com/apt-core/apt-core/internal/cache"
	"github.com/apt-core/apt-core/internal/depcache"
)

// ResolveClassic runs the legacy resolver: mark the requested removes,
// mark the requested installs through DepCache's own recursive
// MarkInstall (which tries to complete their Depends/PreDepends), then run a
// problem-resolver fixpoint loop that greedily demotes whichever
// remaining broken package cannot be completed back to Keep, repeating
// until brokenness stops decreasing (spec.md §4.5's "Classic resolver").
func ResolveClassic(dc *depcache.DepCache, install, remove []string, maxIterations int) error {
	ag := dc.BeginActionGroup()
	defer ag.Close()

	for _, name := range remove {
		if pkg, ok := dc.C.FindPackage(name, ""); ok {
			dc.MarkDelete(pkg, false)
		}
	}
	for _, name := range install {
		if pkg, ok := dc.C.FindPackage(name, ""); ok {
			dc.MarkInstall(pkg, true, 4096, true)
		}
	}

	prevBroken := dc.BrokenCount()
	for i := 0; i < maxIterations; i++ {
		if prevBroken == 0 {
			return nil
		}
		fixedAny := false
		for _, pkg := range dc.C.Packages() {
			st := dc.State(pkg)
			if st.Mode != depcache.ModeInstall {
				continue
			}
			v, ok := dc.InstallVersion(pkg)
			if !ok {
				continue
			}
			for d := v.DependsList(); !d.End(); d = d.Next() {
				if d.Type() != cache.DepDepends && d.Type() != cache.DepPreDepends {
					continue
				}
				target := d.TargetPkg()
				if target.End() || dc.Satisfied(d, target) {
					continue
				}
				if !st.Protected() && dc.MarkInstall(target, true, 4096, false) {
					fixedAny = true
				}
			}
		}
		broken := dc.BrokenCount()
		if broken >= prevBroken && !fixedAny {
			// No progress: demote the first remaining broken, non-protected
			// package to Keep so the fixpoint still terminates.
			demoted := false
			for _, pkg := range dc.C.Packages() {
				st := dc.State(pkg)
				if st.Mode == depcache.ModeInstall && !st.Protected() {
					dc.MarkKeep(pkg)
					demoted = true
					break
				}
			}
			if !demoted {
				break
			}
		}
		prevBroken = dc.BrokenCount()
	}
	return nil
}
