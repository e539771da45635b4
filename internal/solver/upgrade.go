package solver

import "github.com/apt-core/apt-core/internal/depcache"

// SafeUpgrade upgrades every installed package to its policy candidate
// without pulling in new installs or removes beyond what each upgrade
// itself strictly needs (spec.md §4.5's "safe" upgrade-mode
// specialization), grounded on upgrade.cc's pkgAllUpgradeNoNewPackages.
func SafeUpgrade(dc *depcache.DepCache) {
	ag := dc.BeginActionGroup()
	defer ag.Close()
	for _, pkg := range dc.C.Packages() {
		cur, installed := dc.C.CurrentVersion(pkg)
		if !installed {
			continue
		}
		cand, ok := dc.CandidateVersion(pkg)
		if !ok || cand.Offset() == cur.Offset() {
			continue
		}
		before := dc.BrokenCount()
		dc.MarkInstall(pkg, false, 0, false)
		if dc.BrokenCount() > before {
			dc.MarkKeep(pkg)
		}
	}
}

// FullUpgrade upgrades every installed package to its candidate,
// recursively auto-installing whatever new dependencies that requires,
// but never removing an already-installed package (spec.md's "full").
func FullUpgrade(dc *depcache.DepCache) {
	ag := dc.BeginActionGroup()
	defer ag.Close()
	for _, pkg := range dc.C.Packages() {
		cur, installed := dc.C.CurrentVersion(pkg)
		if !installed {
			continue
		}
		cand, ok := dc.CandidateVersion(pkg)
		if !ok || cand.Offset() == cur.Offset() {
			continue
		}
		dc.MarkInstall(pkg, true, 4096, false)
	}
}

// DistUpgrade runs FullUpgrade, then additionally forces every Essential
// package to be marked for install (spec.md's "dist" upgrade-mode
// specialization and the Essential-protection supplemented feature,
// grounded on upgrade.cc's pkgDistUpgrade).
func DistUpgrade(dc *depcache.DepCache) {
	FullUpgrade(dc)
	ag := dc.BeginActionGroup()
	defer ag.Close()
	for _, pkg := range dc.EssentialPackages() {
		dc.MarkInstall(pkg, true, 4096, false)
	}
}
