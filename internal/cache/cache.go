package cache

import (
	"fmt"
	"hash/fnv"
	"os"
	"time"

	"github.com/apt-core/apt-core/internal/arena"
	"github.com/apt-core/apt-core/internal/errstack"
)

// hashSize is the power-of-two bucket count chosen once at creation
// (spec §4.1).
const hashSize = 4096

// Cache is the PackageCache: a compact, queryable, position-independent
// graph of every package known to the system.
type Cache struct {
	a        *arena.Arena
	strings  *arena.StringPool
	hashOff  arena.Offset
	path     string
	inputs   []inputStat
}

type inputStat struct {
	path  string
	size  int64
	mtime time.Time
}

// OriginMeta is a Release file's metadata (spec.md §3's PackageFile
// entity). Parsing an actual Release file is out of scope (tag-file
// parsing is an explicit non-goal); callers that have already parsed one
// via the external TagStream collaborator pass its fields here.
type OriginMeta struct {
	Archive, Codename, Version, Origin, Label, Site string
	NotSource, NotAutomatic                         bool
}

// Source is one index file plus the origin it belongs to.
type Source struct {
	Path   string
	Origin OriginMeta
}

// OpenResult tells the caller whether the cache was reused or rebuilt.
type OpenResult int

const (
	Reused OpenResult = iota
	Rebuilt
)

// Open lazily memory-maps an existing cache blob at cachePath if its
// header (signature, version, struct sizes) matches and its dirty bit is
// clear; otherwise it rebuilds from the given index paths (status file
// plus list/Packages-style files). The inputs' (size, mtime) pairs are
// recorded on a freshly built Cache but are not persisted or compared on
// reuse, so a changed index file does not by itself trigger a rebuild.
func Open(cachePath string, sources []Source, stack *errstack.Stack) (*Cache, OpenResult, error) {
	paths := make([]string, len(sources))
	for i, s := range sources {
		paths[i] = s.Path
	}
	stats, err := statAll(paths)
	if err != nil {
		stack.Wrap(errstack.Error, errstack.IoError, cachePath, err)
		return nil, Rebuilt, err
	}
	if existing, err := tryReuse(cachePath, stats); err == nil && existing != nil {
		return existing, Reused, nil
	}
	c, err := Build(sources, stack)
	if err != nil {
		return nil, Rebuilt, err
	}
	c.path = cachePath
	c.inputs = stats
	if err := c.a.PersistTo(cachePath); err != nil {
		stack.Wrap(errstack.Error, errstack.IoError, cachePath, err)
		return nil, Rebuilt, err
	}
	// Clear the dirty bit now that the file is safely renamed into place;
	// rewrite it into the persisted file too so a future open trusts it.
	c.a.PutByte(hdrDirty, 0)
	if err := c.a.PersistTo(cachePath); err != nil {
		stack.Wrap(errstack.Error, errstack.IoError, cachePath, err)
		return nil, Rebuilt, err
	}
	return c, Rebuilt, nil
}

func statAll(paths []string) ([]inputStat, error) {
	out := make([]inputStat, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		out = append(out, inputStat{path: p, size: st.Size(), mtime: st.ModTime()})
	}
	return out, nil
}

func tryReuse(cachePath string, stats []inputStat) (*Cache, error) {
	a, err := arena.Open(cachePath)
	if err != nil {
		return nil, err
	}
	if !checkSizes(a) || a.GetByte(hdrDirty) != 0 {
		a.Close()
		return nil, fmt.Errorf("cache: corrupt or dirty")
	}
	// Input freshness is not checked: stats is not compared against
	// anything; only the schema and the dirty bit are validated.
	_ = stats
	c := &Cache{a: a, hashOff: a.GetOffset(hdrHashOff)}
	return c, nil
}

// FindPackage resolves name[,arch] via the hash table, chaining through
// next_package.
func (c *Cache) FindPackage(name, arch string) (PkgIterator, bool) {
	h := nameHash(name) % hashSize
	bucket := c.a.GetOffset(c.hashOff + arena.Offset(4*h))
	for off := bucket; off != arena.Null; {
		p := PkgIterator{c: c, off: off}
		if p.Name() == name && (arch == "" || p.Arch() == arch) {
			return p, true
		}
		off = p.nextInHashChain()
	}
	return PkgIterator{}, false
}

func nameHash(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}

// Packages iterates every package in hash order.
func (c *Cache) Packages() []PkgIterator {
	var out []PkgIterator
	for h := uint32(0); h < hashSize; h++ {
		for off := c.a.GetOffset(c.hashOff + arena.Offset(4*h)); off != arena.Null; {
			p := PkgIterator{c: c, off: off}
			out = append(out, p)
			off = p.nextInHashChain()
		}
	}
	return out
}

// PackageFiles returns every known origin.
func (c *Cache) PackageFiles() PackageFileIterator {
	return PackageFileIterator{c: c, off: c.a.GetOffset(hdrPFHead)}
}

// Close releases the underlying mapping.
func (c *Cache) Close() error { return c.a.Close() }

// Arena exposes the backing arena, for components (Policy, DepCache)
// that need to allocate parallel per-package scratch slices sized by
// package count.
func (c *Cache) Arena() *arena.Arena { return c.a }

// PackageCount returns the number of Package records.
func (c *Cache) PackageCount() uint32 { return c.a.GetU32(hdrPkgCount) }

// CurrentArchive is the synthetic origin Archive name used for the
// locally-installed status file, marking a Version as "what's on disk now"
// rather than something fetched from a remote index.
const CurrentArchive = "now"

// CurrentVersion returns the version of pkg that came from the "now"
// origin (the status file), if pkg's current state is Installed,
// UnPacked, HalfConfigured, HalfInstalled or ConfigFiles.
func (c *Cache) CurrentVersion(pkg PkgIterator) (VerIterator, bool) {
	if pkg.CurrentState() != CurInstalled && pkg.CurrentState() != CurUnPacked &&
		pkg.CurrentState() != CurHalfConfigured && pkg.CurrentState() != CurHalfInstalled &&
		pkg.CurrentState() != CurConfigFiles {
		return VerIterator{}, false
	}
	for v := pkg.VersionList(); !v.End(); v = v.Next() {
		for vf := v.FileList(); !vf.End(); vf = vf.Next() {
			if vf.File().Archive() == CurrentArchive {
				return v, true
			}
		}
	}
	return VerIterator{}, false
}
