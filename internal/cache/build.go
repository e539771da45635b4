package cache

import (
	"io"
	"os"
	"strings"

	"github.com/apt-core/apt-core/internal/arena"
	"github.com/apt-core/apt-core/internal/dpkgver"
	"github.com/apt-core/apt-core/internal/errstack"
	"github.com/apt-core/apt-core/internal/tagfile"
)

// depFieldTypes maps a stanza field name to the Dependency type it
// produces (spec.md §3's Dependency.type enum).
var depFieldTypes = []struct {
	field string
	typ   byte
}{
	{"Pre-Depends", DepPreDepends},
	{"Depends", DepDepends},
	{"Suggests", DepSuggests},
	{"Recommends", DepRecommends},
	{"Conflicts", DepConflicts},
	{"Replaces", DepReplaces},
	{"Obsoletes", DepObsoletes},
	{"Breaks", DepBreaks},
	{"Enhances", DepEnhances},
}

var priorityNames = map[string]byte{
	"required":  PriRequired,
	"important": PriImportant,
	"standard":  PriStandard,
	"optional":  PriOptional,
	"extra":     PriExtra,
}

// builder accumulates records into a growable arena, then fixes up the
// hash table and header once every stanza has been consumed.
type builder struct {
	a       *arena.Arena
	strings *arena.StringPool
	pkgs    map[string]arena.Offset // "name/arch" -> Package offset
	byName  map[string]arena.Offset // name -> first Package offset seen (any arch)
	hashOff arena.Offset
	pfHead  arena.Offset
	pfTail  arena.Offset
	pkgCount, verCount, depCount, pfCount uint32
}

// Build scans every Source's TagStream stanzas and produces a fresh
// in-memory Cache (spec.md §4.1's "Build" algorithm).
func Build(sources []Source, stack *errstack.Stack) (*Cache, error) {
	b := &builder{
		a:      arena.NewBuilder(),
		pkgs:   map[string]arena.Offset{},
		byName: map[string]arena.Offset{},
	}
	b.strings = arena.NewStringPool(b.a)
	writeHeaderSizes(b.a)
	b.hashOff = b.a.Alloc(4 * hashSize)

	for _, src := range sources {
		pf := b.addPackageFile(src.Origin)
		if err := b.scanIndex(src.Path, pf, stack); err != nil {
			return nil, err
		}
	}

	b.a.PutOffset(hdrHashOff, b.hashOff)
	b.a.PutU32(hdrHashSize, hashSize)
	b.a.PutOffset(hdrPFHead, b.pfHead)
	b.a.PutU32(hdrPkgCount, b.pkgCount)
	b.a.PutU32(hdrVerCount, b.verCount)
	b.a.PutU32(hdrDepCount, b.depCount)
	b.a.PutU32(hdrPFCount, b.pfCount)

	return &Cache{a: b.a, hashOff: b.hashOff}, nil
}

func (b *builder) addPackageFile(m OriginMeta) arena.Offset {
	off := b.a.Alloc(packageFileSize)
	b.a.PutOffset(off+pfArchiveOff, b.strings.Intern(m.Archive))
	b.a.PutOffset(off+pfCodenameOff, b.strings.Intern(m.Codename))
	b.a.PutOffset(off+pfVersionOff, b.strings.Intern(m.Version))
	b.a.PutOffset(off+pfOriginOff, b.strings.Intern(m.Origin))
	b.a.PutOffset(off+pfLabelOff, b.strings.Intern(m.Label))
	b.a.PutOffset(off+pfSiteOff, b.strings.Intern(m.Site))
	var flags byte
	if m.NotSource {
		flags |= PFNotSource
	}
	if m.NotAutomatic {
		flags |= PFNotAutomatic
	}
	b.a.PutByte(off+pfFlags, flags)
	b.a.PutOffset(off+pfNextFile, arena.Null)
	if b.pfTail == arena.Null {
		b.pfHead = off
	} else {
		b.a.PutOffset(b.pfTail+pfNextFile, off)
	}
	b.pfTail = off
	b.pfCount++
	return off
}

func (b *builder) scanIndex(path string, pf arena.Offset, stack *errstack.Stack) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		stack.Wrap(errstack.Error, errstack.IoError, path, err)
		return err
	}
	defer f.Close()
	sc := tagfile.NewScanner(f)
	for {
		st, err := sc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			stack.Push(errstack.Warning, errstack.ParseError, path, err.Error())
			continue
		}
		if st.Empty() {
			continue
		}
		b.addStanza(st, pf)
	}
}

func (b *builder) addStanza(st *tagfile.Stanza, pf arena.Offset) {
	name := st.Get("Package")
	if name == "" {
		return
	}
	archField := st.Get("Architecture")
	arch := archField
	if arch == "" {
		arch = "all"
	}
	pkgOff := b.findOrCreatePackage(name, arch)
	b.applyStatus(pkgOff, st)

	verStr := st.Get("Version")
	if verStr == "" {
		return
	}
	verOff := b.a.Alloc(versionSize)
	b.a.PutOffset(verOff+verStringOff, b.strings.Intern(verStr))
	b.a.PutOffset(verOff+verSectionOff, b.strings.Intern(st.Get("Section")))
	b.a.PutOffset(verOff+verParentPackage, pkgOff)
	b.a.PutByte(verOff+verPriority, priorityNames[strings.ToLower(st.Get("Priority"))])

	multiArch := st.Get("Multi-Arch")
	b.a.PutOffset(verOff+verMultiArchOff, b.strings.Intern(multiArch))

	b.insertVersionDescending(pkgOff, verOff, verStr)
	b.linkDependencies(verOff, st)
	b.linkProvides(verOff, st)
	b.linkVerFile(verOff, pf, st)
	b.verCount++
}

// findOrCreatePackage resolves the Package for (name, arch) from a
// stanza, where arch is always concrete. If a dependency reference
// already created a placeholder for this name (arch unknown at the
// time), that placeholder is adopted rather than duplicated, since
// Package identity is (name, architecture) per spec.md §3 and a name
// must resolve to exactly one record once its real architecture is
// known in a single-architecture index.
func (b *builder) findOrCreatePackage(name, arch string) arena.Offset {
	key := name + "/" + arch
	if off, ok := b.pkgs[key]; ok {
		return off
	}
	if placeholder, ok := b.byName[name]; ok && arena.String(b.a, b.a.GetOffset(placeholder+pkgArchOff)) == "" {
		delete(b.pkgs, name+"/")
		b.a.PutOffset(placeholder+pkgArchOff, b.strings.Intern(arch))
		b.pkgs[key] = placeholder
		return placeholder
	}
	off := b.newPackage(name, arch)
	b.pkgs[key] = off
	if _, ok := b.byName[name]; !ok {
		b.byName[name] = off
	}
	return off
}

// resolvePackageRef resolves a dependency/Provides target by name alone;
// the concrete architecture is whatever that name's own stanza (if any)
// eventually establishes.
func (b *builder) resolvePackageRef(name string) arena.Offset {
	if off, ok := b.byName[name]; ok {
		return off
	}
	off := b.newPackage(name, "")
	b.pkgs[name+"/"] = off
	b.byName[name] = off
	return off
}

func (b *builder) newPackage(name, arch string) arena.Offset {
	off := b.a.Alloc(packageSize)
	b.a.PutOffset(off+pkgNameOff, b.strings.Intern(name))
	b.a.PutOffset(off+pkgArchOff, b.strings.Intern(arch))
	b.a.PutOffset(off+pkgFirstVersion, arena.Null)
	b.a.PutOffset(off+pkgFirstRevDep, arena.Null)
	b.a.PutByte(off+pkgSelectedState, SelUnknown)
	b.a.PutByte(off+pkgCurrentState, CurNotInstalled)
	b.a.PutByte(off+pkgInstState, InstOk)
	b.insertHash(name, arch, off)
	b.pkgCount++
	return off
}

func (b *builder) insertHash(name, arch string, off arena.Offset) {
	h := nameHash(name) % hashSize
	slot := b.hashOff + arena.Offset(4*h)
	b.a.PutOffset(off+pkgNextPackage, b.a.GetOffset(slot))
	b.a.PutOffset(slot, off)
}

func (b *builder) insertVersionDescending(pkgOff, verOff arena.Offset, verStr string) {
	headSlot := pkgOff + pkgFirstVersion
	prev := arena.Offset(0)
	cur := b.a.GetOffset(headSlot)
	for cur != arena.Null {
		curStr := arena.String(b.a, b.a.GetOffset(cur+verStringOff))
		if cmpVersions(verStr, curStr) >= 0 {
			break
		}
		prev = cur
		cur = b.a.GetOffset(cur + verNextVersion)
	}
	b.a.PutOffset(verOff+verNextVersion, cur)
	if prev == arena.Null {
		b.a.PutOffset(headSlot, verOff)
	} else {
		b.a.PutOffset(prev+verNextVersion, verOff)
	}
}

func (b *builder) linkDependencies(verOff arena.Offset, st *tagfile.Stanza) {
	tail := arena.Offset(0)
	for _, ft := range depFieldTypes {
		field := st.Get(ft.field)
		for _, group := range parseDependsField(field, true) {
			appendDepTyped(b, &tail, verOff, group, ft.typ)
		}
	}
}

func appendDepTyped(b *builder, tail *arena.Offset, verOff arena.Offset, group []parsedDep, typ byte) {
	for _, pd := range group {
		depOff := b.a.Alloc(dependencySize)
		target := b.resolvePackageRef(pd.name)
		b.a.PutOffset(depOff+depParentVersion, verOff)
		b.a.PutOffset(depOff+depTargetPackage, target)
		b.a.PutOffset(depOff+depTargetVerStr, b.strings.Intern(pd.ver))
		b.a.PutByte(depOff+depCompareOp, byte(pd.op))
		b.a.PutByte(depOff+depType, typ)
		b.a.PutOffset(depOff+depRestrictionsOff, b.strings.Intern(pd.restrictions))
		isOr := byte(0)
		if pd.isOr {
			isOr = 1
		}
		b.a.PutByte(depOff+depOrFlag, isOr)
		b.a.PutOffset(depOff+depNextDep, arena.Null)
		if *tail == arena.Null {
			b.a.PutOffset(verOff+verFirstDep, depOff)
		} else {
			b.a.PutOffset(*tail+depNextDep, depOff)
		}
		*tail = depOff
		b.depCount++
	}
}

func (b *builder) linkProvides(verOff arena.Offset, st *tagfile.Stanza) {
	field := st.Get("Provides")
	if strings.TrimSpace(field) == "" {
		return
	}
	tail := arena.Offset(0)
	for _, clause := range splitTopLevel(field, ',') {
		pd := parseOneDep(strings.TrimSpace(clause), false)
		provOff := b.a.Alloc(providesSize)
		target := b.resolvePackageRef(pd.name)
		b.a.PutOffset(provOff+provProvidingVersion, verOff)
		b.a.PutOffset(provOff+provProvidedPackage, target)
		b.a.PutOffset(provOff+provProvidedVerStr, b.strings.Intern(pd.ver))
		b.a.PutOffset(provOff+provNextProvide, arena.Null)
		if tail == arena.Null {
			b.a.PutOffset(verOff+verFirstProvides, provOff)
		} else {
			b.a.PutOffset(tail+provNextProvide, provOff)
		}
		tail = provOff
	}
}

func (b *builder) linkVerFile(verOff, pf arena.Offset, st *tagfile.Stanza) {
	vf := b.a.Alloc(verFileSize)
	b.a.PutOffset(vf+vfParentVersion, verOff)
	b.a.PutOffset(vf+vfParentFile, pf)
	b.a.PutU32(vf+vfStanzaOffset, uint32(st.Offset))
	b.a.PutU32(vf+vfStanzaSize, uint32(st.Length))
	b.a.PutOffset(vf+vfNextVerFile, arena.Null)
	b.a.PutOffset(vf+vfNextFileVer, arena.Null)
	b.a.PutOffset(verOff+verFirstVerFile, vf)
}

// applyStatus decodes the dpkg status-file "Status: want flag state"
// triple and a Conffiles: block, per the supplemented feature grounded on
// dpkgdb.cc.
func (b *builder) applyStatus(pkgOff arena.Offset, st *tagfile.Stanza) {
	status := st.Get("Status")
	if status == "" {
		return
	}
	parts := strings.Fields(status)
	if len(parts) != 3 {
		return
	}
	want, flag, state := parts[0], parts[1], parts[2]
	sel := map[string]byte{"install": SelInstall, "hold": SelHold, "deinstall": SelDeInstall, "purge": SelPurge}
	inst := map[string]byte{"ok": InstOk, "reinstreq": InstReInstReq, "hold": InstHold, "hold-reinstreq": InstHoldReInstReq}
	cur := map[string]byte{
		"not-installed": CurNotInstalled, "unpacked": CurUnPacked,
		"half-configured": CurHalfConfigured, "half-installed": CurHalfInstalled,
		"config-files": CurConfigFiles, "installed": CurInstalled,
		"triggers-awaited": CurTriggersAwaited, "triggers-pending": CurTriggersPending,
	}
	if v, ok := sel[want]; ok {
		b.a.PutByte(pkgOff+pkgSelectedState, v)
	}
	if v, ok := inst[flag]; ok {
		b.a.PutByte(pkgOff+pkgInstState, v)
	}
	if v, ok := cur[state]; ok {
		b.a.PutByte(pkgOff+pkgCurrentState, v)
	}
}

func cmpVersions(a, b string) int {
	return int(dpkgver.Compare(a, b))
}
