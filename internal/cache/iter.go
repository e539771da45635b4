package cache

import "github.com/apt-core/apt-core/internal/arena"

// PkgIterator walks packages, exposing typed accessors instead of raw
// pointer-conversion chains (spec §9's design note).
type PkgIterator struct {
	c   *Cache
	off arena.Offset
}

func (p PkgIterator) End() bool          { return p.off == arena.Null }
func (p PkgIterator) Offset() arena.Offset { return p.off }
func (p PkgIterator) Cache() *Cache      { return p.c }

// VersionAt reconstructs a VerIterator from a raw offset, for components
// (DepCache, Solver) that store version identity as a bare arena.Offset in
// their own scratch records rather than holding a VerIterator directly.
func VersionAt(c *Cache, off arena.Offset) VerIterator {
	return VerIterator{c: c, off: off}
}

func (p PkgIterator) Name() string {
	return arena.String(p.c.a, p.c.a.GetOffset(p.off+pkgNameOff))
}
func (p PkgIterator) Arch() string {
	return arena.String(p.c.a, p.c.a.GetOffset(p.off+pkgArchOff))
}
func (p PkgIterator) SelectedState() byte { return p.c.a.GetByte(p.off + pkgSelectedState) }
func (p PkgIterator) CurrentState() byte  { return p.c.a.GetByte(p.off + pkgCurrentState) }
func (p PkgIterator) InstState() byte     { return p.c.a.GetByte(p.off + pkgInstState) }
func (p PkgIterator) Flags() byte         { return p.c.a.GetByte(p.off + pkgFlags) }
func (p PkgIterator) Essential() bool     { return p.Flags()&FlagEssential != 0 }

func (p PkgIterator) SetSelectedState(v byte) { p.c.a.PutByte(p.off+pkgSelectedState, v) }
func (p PkgIterator) SetCurrentState(v byte)  { p.c.a.PutByte(p.off+pkgCurrentState, v) }

// VersionList returns an iterator over this package's versions, descending.
func (p PkgIterator) VersionList() VerIterator {
	return VerIterator{c: p.c, off: p.c.a.GetOffset(p.off + pkgFirstVersion)}
}

// NextInHashChain follows the hash-table chain (spec §4.1's "chaining via
// next_package").
func (p PkgIterator) nextInHashChain() arena.Offset {
	return p.c.a.GetOffset(p.off + pkgNextPackage)
}

// VerIterator walks a package's versions, descending order.
type VerIterator struct {
	c   *Cache
	off arena.Offset
}

func (v VerIterator) End() bool            { return v.off == arena.Null }
func (v VerIterator) Offset() arena.Offset { return v.off }
func (v VerIterator) Next() VerIterator {
	return VerIterator{c: v.c, off: v.c.a.GetOffset(v.off + verNextVersion)}
}
func (v VerIterator) VerStr() string {
	return arena.String(v.c.a, v.c.a.GetOffset(v.off+verStringOff))
}
func (v VerIterator) Section() string {
	return arena.String(v.c.a, v.c.a.GetOffset(v.off+verSectionOff))
}
func (v VerIterator) MultiArch() string {
	return arena.String(v.c.a, v.c.a.GetOffset(v.off+verMultiArchOff))
}
func (v VerIterator) Priority() byte { return v.c.a.GetByte(v.off + verPriority) }
func (v VerIterator) ParentPkg() PkgIterator {
	return PkgIterator{c: v.c, off: v.c.a.GetOffset(v.off + verParentPackage)}
}
func (v VerIterator) DependsList() DepIterator {
	return DepIterator{c: v.c, off: v.c.a.GetOffset(v.off + verFirstDep)}
}
func (v VerIterator) ProvidesList() ProvidesIterator {
	return ProvidesIterator{c: v.c, off: v.c.a.GetOffset(v.off + verFirstProvides)}
}
func (v VerIterator) FileList() VerFileIterator {
	return VerFileIterator{c: v.c, off: v.c.a.GetOffset(v.off + verFirstVerFile)}
}

// DepIterator walks a version's forward dependency list. Reverse
// dependency lists are not built: a Package's first-reverse-dependency
// field is always Null and no accessor starts an iterator from it.
type DepIterator struct {
	c   *Cache
	off arena.Offset
}

func (d DepIterator) End() bool            { return d.off == arena.Null }
func (d DepIterator) Offset() arena.Offset { return d.off }
func (d DepIterator) Next() DepIterator {
	return DepIterator{c: d.c, off: d.c.a.GetOffset(d.off + depNextDep)}
}
func (d DepIterator) TargetPkg() PkgIterator {
	return PkgIterator{c: d.c, off: d.c.a.GetOffset(d.off + depTargetPackage)}
}
func (d DepIterator) TargetVerStr() string {
	return arena.String(d.c.a, d.c.a.GetOffset(d.off+depTargetVerStr))
}
func (d DepIterator) CompareOp() byte { return d.c.a.GetByte(d.off + depCompareOp) }
func (d DepIterator) Type() byte      { return d.c.a.GetByte(d.off + depType) }
func (d DepIterator) IsOr() bool      { return d.c.a.GetByte(d.off+depOrFlag) != 0 }
func (d DepIterator) ParentVersion() VerIterator {
	return VerIterator{c: d.c, off: d.c.a.GetOffset(d.off + depParentVersion)}
}
func (d DepIterator) Restrictions() string {
	return arena.String(d.c.a, d.c.a.GetOffset(d.off+depRestrictionsOff))
}

// ProvidesIterator walks a version's Provides list.
type ProvidesIterator struct {
	c   *Cache
	off arena.Offset
}

func (p ProvidesIterator) End() bool            { return p.off == arena.Null }
func (p ProvidesIterator) Offset() arena.Offset { return p.off }
func (p ProvidesIterator) Next() ProvidesIterator {
	return ProvidesIterator{c: p.c, off: p.c.a.GetOffset(p.off + provNextProvide)}
}
func (p ProvidesIterator) ProvidedPkg() PkgIterator {
	return PkgIterator{c: p.c, off: p.c.a.GetOffset(p.off + provProvidedPackage)}
}
func (p ProvidesIterator) ProvidedVerStr() string {
	return arena.String(p.c.a, p.c.a.GetOffset(p.off+provProvidedVerStr))
}
func (p ProvidesIterator) ProvidingVersion() VerIterator {
	return VerIterator{c: p.c, off: p.c.a.GetOffset(p.off + provProvidingVersion)}
}

// VerFileIterator walks the VerFile links of a version.
type VerFileIterator struct {
	c   *Cache
	off arena.Offset
}

func (f VerFileIterator) End() bool            { return f.off == arena.Null }
func (f VerFileIterator) Offset() arena.Offset { return f.off }
func (f VerFileIterator) Next() VerFileIterator {
	return VerFileIterator{c: f.c, off: f.c.a.GetOffset(f.off + vfNextVerFile)}
}
func (f VerFileIterator) File() PackageFileIterator {
	return PackageFileIterator{c: f.c, off: f.c.a.GetOffset(f.off + vfParentFile)}
}
func (f VerFileIterator) StanzaOffset() uint32 { return f.c.a.GetU32(f.off + vfStanzaOffset) }
func (f VerFileIterator) StanzaSize() uint32   { return f.c.a.GetU32(f.off + vfStanzaSize) }

// PackageFileIterator walks the list of all known origins.
type PackageFileIterator struct {
	c   *Cache
	off arena.Offset
}

func (pf PackageFileIterator) End() bool            { return pf.off == arena.Null }
func (pf PackageFileIterator) Offset() arena.Offset { return pf.off }
func (pf PackageFileIterator) Next() PackageFileIterator {
	return PackageFileIterator{c: pf.c, off: pf.c.a.GetOffset(pf.off + pfNextFile)}
}
func (pf PackageFileIterator) Archive() string {
	return arena.String(pf.c.a, pf.c.a.GetOffset(pf.off+pfArchiveOff))
}
func (pf PackageFileIterator) Codename() string {
	return arena.String(pf.c.a, pf.c.a.GetOffset(pf.off+pfCodenameOff))
}
func (pf PackageFileIterator) Origin() string {
	return arena.String(pf.c.a, pf.c.a.GetOffset(pf.off+pfOriginOff))
}
func (pf PackageFileIterator) Label() string {
	return arena.String(pf.c.a, pf.c.a.GetOffset(pf.off+pfLabelOff))
}
func (pf PackageFileIterator) Site() string {
	return arena.String(pf.c.a, pf.c.a.GetOffset(pf.off+pfSiteOff))
}
func (pf PackageFileIterator) Flags() byte { return pf.c.a.GetByte(pf.off + pfFlags) }
func (pf PackageFileIterator) NotSource() bool { return pf.Flags()&PFNotSource != 0 }
func (pf PackageFileIterator) NotAutomatic() bool { return pf.Flags()&PFNotAutomatic != 0 }
