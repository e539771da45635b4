// Package cache implements the PackageCache (C1): a position-independent,
// memory-mapped graph of every package, version, dependency, file, and
// origin known to the system (spec §3, §4.1). Every cross-reference is an
// arena.Offset; record layouts are fixed-size and documented here so the
// header's embedded struct sizes can detect a schema mismatch on open.
package cache

import "github.com/apt-core/apt-core/internal/arena"

// Record byte sizes, embedded in the Header so a cache built by a
// different layout is rejected (spec.md §4.1's SchemaMismatch).
const (
	packageSize     = 24
	versionSize     = 36
	dependencySize  = 24
	providesSize    = 16
	packageFileSize = 32
	verFileSize     = 24
)

// --- Package record field offsets ---
const (
	pkgNameOff        = 0
	pkgArchOff        = 4
	pkgFirstVersion   = 8
	pkgFirstRevDep    = 12
	pkgNextPackage    = 16
	pkgSelectedState  = 20
	pkgCurrentState   = 21
	pkgInstState      = 22
	pkgFlags          = 23
)

// SelectedState values.
const (
	SelUnknown byte = iota
	SelInstall
	SelHold
	SelDeInstall
	SelPurge
)

// CurrentState values.
const (
	CurNotInstalled byte = iota
	CurUnPacked
	CurHalfConfigured
	CurHalfInstalled
	CurConfigFiles
	CurInstalled
	CurTriggersAwaited
	CurTriggersPending
)

// InstState values.
const (
	InstOk byte = iota
	InstReInstReq
	InstHold
	InstHoldReInstReq
)

// Package flag bits.
const (
	FlagEssential byte = 1 << iota
	FlagImportant
	FlagImmediateConfigure
	FlagAuto
)

// --- Version record field offsets ---
const (
	verStringOff     = 0
	verSectionOff    = 4
	verFirstDep      = 8
	verFirstProvides = 12
	verFirstVerFile  = 16
	verNextVersion   = 20
	verParentPackage = 24
	verMultiArchOff  = 28
	verPriority      = 32
)

// Priority values.
const (
	PriRequired byte = iota + 1
	PriImportant
	PriStandard
	PriOptional
	PriExtra
)

// --- Dependency record field offsets ---
const (
	depParentVersion  = 0
	depTargetPackage  = 4
	depTargetVerStr   = 8
	depCompareOp      = 12
	depType           = 13
	depOrFlag         = 14
	depNextDep        = 16
	depRestrictionsOff = 20
)

// Dependency types.
const (
	DepDepends byte = iota
	DepPreDepends
	DepSuggests
	DepRecommends
	DepConflicts
	DepReplaces
	DepObsoletes
	DepBreaks
	DepEnhances
)

// --- Provides record field offsets ---
const (
	provProvidingVersion = 0
	provProvidedPackage  = 4
	provProvidedVerStr   = 8
	provNextProvide      = 12
)

// --- PackageFile (origin) record field offsets ---
const (
	pfArchiveOff  = 0
	pfCodenameOff = 4
	pfVersionOff  = 8
	pfOriginOff   = 12
	pfLabelOff    = 16
	pfSiteOff     = 20
	pfFlags       = 24
	pfNextFile    = 28
)

// PackageFile flags.
const (
	PFNotSource byte = 1 << iota
	PFNotAutomatic
)

// --- VerFile record field offsets ---
const (
	vfParentVersion = 0
	vfParentFile    = 4
	vfStanzaOffset  = 8
	vfStanzaSize    = 12
	vfNextVerFile   = 16
	vfNextFileVer   = 20
)

// header layout within the reserved region.
const (
	hdrSignature  = 0
	hdrMajor      = 4
	hdrMinor      = 6
	hdrDirty      = 8
	hdrHeaderSz   = 12
	hdrPackageSz  = 16
	hdrPackageFSz = 20
	hdrVersionSz  = 24
	hdrDependSz   = 28
	hdrProvidesSz = 32
	hdrVerFileSz  = 36
	hdrPkgCount   = 40
	hdrVerCount   = 44
	hdrDepCount   = 48
	hdrPFCount    = 52
	hdrHashOff    = 56
	hdrHashSize   = 60
	hdrPFHead     = 64

	headerLayoutSize = 68
	cacheSignature   = 0x98FE76DC
	cacheMajor       = 2
	cacheMinor       = 0
)

func writeHeaderSizes(a *arena.Arena) {
	a.PutU32(hdrSignature, cacheSignature)
	a.PutU16(hdrMajor, cacheMajor)
	a.PutU16(hdrMinor, cacheMinor)
	a.PutByte(hdrDirty, 1)
	a.PutU32(hdrHeaderSz, headerLayoutSize)
	a.PutU32(hdrPackageSz, packageSize)
	a.PutU32(hdrPackageFSz, packageFileSize)
	a.PutU32(hdrVersionSz, versionSize)
	a.PutU32(hdrDependSz, dependencySize)
	a.PutU32(hdrProvidesSz, providesSize)
	a.PutU32(hdrVerFileSz, verFileSize)
}

// checkSizes mirrors Header::CheckSizes: every struct-size field must
// match the running binary's expectation, or the cache is schema-stale.
func checkSizes(a *arena.Arena) bool {
	return a.GetU32(hdrSignature) == cacheSignature &&
		a.GetU16(hdrMajor) == cacheMajor &&
		a.GetU16(hdrMinor) == cacheMinor &&
		a.GetU32(hdrHeaderSz) == headerLayoutSize &&
		a.GetU32(hdrPackageSz) == packageSize &&
		a.GetU32(hdrPackageFSz) == packageFileSize &&
		a.GetU32(hdrVersionSz) == versionSize &&
		a.GetU32(hdrDependSz) == dependencySize &&
		a.GetU32(hdrProvidesSz) == providesSize &&
		a.GetU32(hdrVerFileSz) == verFileSize
}
