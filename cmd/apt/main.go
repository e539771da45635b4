// cmd/apt is a thin demonstrative CLI driver wiring the core components
// in spec.md §2's control-flow order: build PackageCache -> build
// DepCache -> Solver mutates DepCache -> OrderList linearises the delta ->
// print the plan. It is not a reimplementation of the real apt CLI
// (explicitly out of scope, spec.md §1); grounded on the teacher's
// main.go flaggy wiring, itself adopted from lazydocker's main.go flag
// style (bool/string/stringslice flags, no subcommand tree).
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/integrii/flaggy"

	"github.com/apt-core/apt-core/internal/applog"
	"github.com/apt-core/apt-core/internal/cache"
	"github.com/apt-core/apt-core/internal/config"
	"github.com/apt-core/apt-core/internal/depcache"
	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/apt-core/apt-core/internal/lock"
	"github.com/apt-core/apt-core/internal/orderlist"
	"github.com/apt-core/apt-core/internal/policy"
	"github.com/apt-core/apt-core/internal/solver"
)

const version = "0.1.0-core"

var (
	configPath   string
	debugFlag    bool
	dryRun       bool
	installPkgs  []string
	removePkgs   []string
	safeUpgrade  bool
	fullUpgrade  bool
	distUpgrade  bool
)

func main() {
	flaggy.SetName("apt")
	flaggy.SetDescription("package cache, dependency solver, and unpack/configure ordering engine (core subset)")
	flaggy.String(&configPath, "c", "config", "path to a YAML configuration file")
	flaggy.Bool(&debugFlag, "d", "debug", "enable development logging")
	flaggy.Bool(&dryRun, "n", "dry-run", "print the plan without invoking the installer backend")
	flaggy.StringSlice(&installPkgs, "i", "install", "package name to install (repeatable)")
	flaggy.StringSlice(&removePkgs, "r", "remove", "package name to remove (repeatable)")
	flaggy.Bool(&safeUpgrade, "", "safe-upgrade", "forbid new installs and removes beyond what is strictly needed")
	flaggy.Bool(&fullUpgrade, "", "full-upgrade", "allow installs but forbid removes")
	flaggy.Bool(&distUpgrade, "", "dist-upgrade", "allow installs and removes, force every Essential package")
	flaggy.SetVersion(version)
	flaggy.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("apt: loading config: %v", err)
		}
	}

	logger := applog.New("apt", debugFlag, cfg.Dirs.Log)

	fileLock := lock.New(filepath.Join(cfg.Dirs.State, "lock"))
	stack := errstack.New()
	if err := fileLock.Acquire(stack); err != nil {
		logger.WithError(err).Fatal("could not acquire the apt lock")
	}
	defer fileLock.Release()

	req := solver.Request{
		Install:     installPkgs,
		Remove:      removePkgs,
		AutoInstall: true,
		Mode:        upgradeMode(),
	}

	plan, err := run(cfg, stack, req)
	printStack(stack)
	if err != nil {
		logger.WithError(err).Fatal("apt: resolution failed")
	}

	for _, ev := range plan {
		fmt.Printf("%-10s %s:%s\n", ev.Action, ev.Pkg.Name(), ev.Pkg.Arch())
	}
	if dryRun {
		fmt.Println("-- dry run: installer backend not invoked --")
	}
}

func upgradeMode() solver.UpgradeMode {
	switch {
	case distUpgrade:
		return solver.ModeDistUpgrade
	case fullUpgrade:
		return solver.ModeFullUpgrade
	case safeUpgrade:
		return solver.ModeSafeUpgrade
	default:
		return solver.ModeNone
	}
}

// run performs spec.md §2's control flow: build PackageCache, build
// DepCache, run the solver, linearise with OrderList. It stops short of
// feeding the installer backend (out of scope, spec.md §1).
func run(cfg *config.Tree, stack *errstack.Stack, req solver.Request) ([]orderlist.Event, error) {
	sources := statusSources(cfg)

	c, _, err := cache.Open(filepath.Join(cfg.Dirs.Cache, "pkgcache.bin"), sources, stack)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	pol := policy.New(c, nil)
	dc := depcache.New(c, pol, stack)
	dc.AllowChangeHeldPackages = cfg.FindB("APT::Get::Allow-Change-Held-Packages", false)

	s := solver.New(dc, pol, stack, cfg.Architectures)
	if err := s.Solve(req); err != nil {
		return nil, err
	}

	ol := orderlist.New(dc, stack)
	return ol.Order()
}

func statusSources(cfg *config.Tree) []cache.Source {
	var sources []cache.Source
	statusPath := filepath.Join(cfg.Dirs.State, "status")
	if _, err := os.Stat(statusPath); err == nil {
		sources = append(sources, cache.Source{Path: statusPath, Origin: cache.OriginMeta{Archive: "now"}})
	}
	listsDir := filepath.Join(cfg.Dirs.State, "lists")
	entries, _ := os.ReadDir(listsDir)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_Packages") {
			continue
		}
		sources = append(sources, cache.Source{Path: filepath.Join(listsDir, e.Name())})
	}
	return sources
}

func printStack(stack *errstack.Stack) {
	for _, e := range stack.Entries() {
		fmt.Fprintln(os.Stderr, e.String())
	}
}
