// Package filelist implements the FileListCache (C4 part 1): a map from
// absolute file paths to the package that owns them, plus diversions and
// conffiles, consulted by ExtractStream to authorize every write (spec.md
// §4.7). Node/Diversion/ConfFile records live in the same arena-offset
// style as PackageCache (spec.md §3's "all long-lived structures in C1
// and C4 live in a single contiguous arena"); the hash index itself is a
// plain Go map from absolute path strings to Node offsets, since unlike
// PackageCache this structure is rebuilt from the status/.list/diversions
// files on every run rather than persisted across invocations.
package filelist

import (
	"github.com/apt-core/apt-core/internal/arena"
)

// Record byte sizes (spec.md §4.1's SchemaMismatch convention, carried
// here even though this arena is never persisted, for layout
// consistency with PackageCache).
const (
	nodeSize      = 24
	diversionSize = 12
	conffileSize  = 12
)

// Node field offsets.
const (
	nodePathOff   = 0
	nodeOwnerOff  = 4  // arena offset of an owner-package name string (interned), or Null
	nodeDiverOff  = 8  // Offset of the Diversion record, if this Node is a diversion endpoint
	nodeConfOff   = 12 // Offset of the first ConfFile record for this Node
	nodeFlags     = 16
	nodeNextInDir = 20 // reserved; no directory tree is built, so this field is never written
)

// Node flag bits (spec.md §4.7/§4.8's transient extraction flags, plus
// the Diversion marker). A Node's meaning is fixed for its lifetime: once
// it is a Diversion endpoint it can never become a plain file Node, per
// SPEC_FULL.md's resolution of the "pointer field overloads four
// meanings" redesign flag.
const (
	FlagDiversion byte = 1 << iota
	FlagNewFile
	FlagUnpacked
	FlagReplaced
)

// Diversion field offsets: a dual-pointer pair, from and to, both
// resolving back to this same Diversion record (the invariant spec.md
// §4.7 states explicitly).
const (
	diverFromOff  = 0
	diverToOff    = 4
	diverOwnerOff = 8 // interned owner package name, or Null for a no-owner (dpkg-internal) diversion
)

// ConfFile field offsets: one per (Node, owning package) pair.
const (
	confOwnerOff = 0
	confMD5Off   = 4
	confNextOff  = 8
)

// Node is a typed view of one path's record.
type Node struct {
	c   *Cache
	off arena.Offset
}

func (n Node) End() bool       { return n.off == arena.Null }
func (n Node) Offset() arena.Offset { return n.off }
func (n Node) Path() string {
	return arena.String(n.c.a, n.c.a.GetOffset(n.off+nodePathOff))
}
func (n Node) Owner() string {
	o := n.c.a.GetOffset(n.off + nodeOwnerOff)
	if o == arena.Null {
		return ""
	}
	return arena.String(n.c.a, o)
}
func (n Node) Flags() byte          { return n.c.a.GetByte(n.off + nodeFlags) }
func (n Node) HasFlag(f byte) bool  { return n.Flags()&f != 0 }
func (n Node) setFlag(f byte)       { n.c.a.PutByte(n.off+nodeFlags, n.Flags()|f) }
func (n Node) clearFlag(f byte)     { n.c.a.PutByte(n.off+nodeFlags, n.Flags()&^f) }
func (n Node) diversionOff() arena.Offset { return n.c.a.GetOffset(n.off + nodeDiverOff) }

// Diversion returns this Node's Diversion record, if it is one.
func (n Node) Diversion() (Diversion, bool) {
	off := n.diversionOff()
	if off == arena.Null {
		return Diversion{}, false
	}
	return Diversion{c: n.c, off: off}, true
}

// ConfFiles iterates this Node's ConfFile records.
func (n Node) ConfFiles() []ConfFile {
	var out []ConfFile
	for off := n.c.a.GetOffset(n.off + nodeConfOff); off != arena.Null; {
		cf := ConfFile{c: n.c, off: off}
		out = append(out, cf)
		off = n.c.a.GetOffset(off + confNextOff)
	}
	return out
}

// Diversion is a from/to path redirection owned by a package (or dpkg
// itself, for a no-owner diversion).
type Diversion struct {
	c   *Cache
	off arena.Offset
}

func (d Diversion) Offset() arena.Offset { return d.off }
func (d Diversion) From() string {
	return d.c.path(d.c.a.GetOffset(d.off + diverFromOff))
}
func (d Diversion) To() string {
	return d.c.path(d.c.a.GetOffset(d.off + diverToOff))
}
func (d Diversion) Owner() string {
	o := d.c.a.GetOffset(d.off + diverOwnerOff)
	if o == arena.Null {
		return ""
	}
	return arena.String(d.c.a, o)
}

// ConfFile records that a Node is a configuration file belonging to owner,
// with the package-shipped MD5 digest.
type ConfFile struct {
	c   *Cache
	off arena.Offset
}

func (cf ConfFile) Owner() string { return arena.String(cf.c.a, cf.c.a.GetOffset(cf.off+confOwnerOff)) }
func (cf ConfFile) MD5() string   { return arena.String(cf.c.a, cf.c.a.GetOffset(cf.off+confMD5Off)) }

// Cache is the in-memory FileListCache. The hash index maps absolute
// path strings to Node Offsets, so the common lookup (does this path's
// Node exist?) costs one map probe.
type Cache struct {
	a       *arena.Arena
	strings *arena.StringPool
	byPath  map[string]arena.Offset // absolute path -> Node offset
	diverByFrom map[string]arena.Offset
	diverByTo   map[string]arena.Offset
	touched     map[arena.Offset]bool // diversions seen during the current load pass
}

// New builds an empty FileListCache.
func New() *Cache {
	a := arena.NewBuilder()
	return &Cache{
		a:           a,
		strings:     arena.NewStringPool(a),
		byPath:      map[string]arena.Offset{},
		diverByFrom: map[string]arena.Offset{},
		diverByTo:   map[string]arena.Offset{},
	}
}

func (c *Cache) path(off arena.Offset) string { return arena.String(c.a, off) }

func (c *Cache) intern(s string) arena.Offset {
	if s == "" {
		return arena.Null
	}
	return c.strings.Intern(s)
}

// GetNode returns the Node for path, allocating one if create is true and
// none exists yet (spec.md §4.7's get_node operation). Directory and
// filename components are not split into separate arenas here (the
// pack's binary-search-tree-of-directories optimization is a C++
// allocator concern); absolute paths are interned and bucketed directly,
// which is the idiomatic Go realization of the same "far fewer unique
// directories than files" locality the original exploits via its
// StringItem pool.
func (c *Cache) GetNode(path string, create bool) Node {
	if off, ok := c.byPath[path]; ok {
		return Node{c: c, off: off}
	}
	if !create {
		return Node{}
	}
	off := c.a.Alloc(nodeSize)
	c.a.PutOffset(off+nodePathOff, c.intern(path))
	c.byPath[path] = off
	return Node{c: c, off: off}
}

// SetOwner assigns an owning package to path's Node, creating it if
// necessary.
func (c *Cache) SetOwner(path, owner string) Node {
	n := c.GetNode(path, true)
	c.a.PutOffset(n.off+nodeOwnerOff, c.intern(owner))
	return n
}

// Lookup reports the Node for path without creating one.
func (c *Cache) Lookup(path string) (Node, bool) {
	off, ok := c.byPath[path]
	if !ok {
		return Node{}, false
	}
	return Node{c: c, off: off}, true
}

// DropNode removes path's Node entirely, used during ExtractStream
// rollback of a package's own new files (spec.md §4.7's drop_node).
func (c *Cache) DropNode(path string) {
	delete(c.byPath, path)
}

// AddDiversion records that from is diverted to to, owned by owner. Idempotent:
// calling it again for the same (from, to) pair marks the existing
// Diversion Touched and returns it unchanged (spec.md §4.7's
// add_diversion).
func (c *Cache) AddDiversion(owner, from, to string) Diversion {
	if off, ok := c.diverByFrom[from]; ok {
		if c.touched != nil {
			c.touched[off] = true
		}
		return Diversion{c: c, off: off}
	}

	off := c.a.Alloc(diversionSize)
	c.a.PutOffset(off+diverFromOff, c.intern(from))
	c.a.PutOffset(off+diverToOff, c.intern(to))
	c.a.PutOffset(off+diverOwnerOff, c.intern(owner))
	c.diverByFrom[from] = off
	c.diverByTo[to] = off
	if c.touched != nil {
		c.touched[off] = true
	}

	// Both endpoints resolve to the same Diversion record and carry the
	// Diversion flag; a diverted Node never participates in a package's
	// plain file-list (spec.md §4.7's invariant).
	fromNode := c.GetNode(from, true)
	fromNode.setFlag(FlagDiversion)
	c.a.PutOffset(fromNode.off+nodeDiverOff, off)
	toNode := c.GetNode(to, true)
	toNode.setFlag(FlagDiversion)
	c.a.PutOffset(toNode.off+nodeDiverOff, off)

	return Diversion{c: c, off: off}
}

// ResolveDiversion returns the redirect target for path, if path is the
// "from" side of a live diversion (spec.md §4.8 step 2).
func (c *Cache) ResolveDiversion(path string) (string, bool) {
	off, ok := c.diverByFrom[path]
	if !ok {
		return "", false
	}
	return c.path(c.a.GetOffset(off + diverToOff)), true
}

// BeginDiverLoad starts a diversions-file reload pass: every Diversion
// must be re-touched by a subsequent AddDiversion call or it is dropped
// at FinishDiverLoad, so the on-disk file is authoritative (spec.md
// §4.7's begin_diver_load/finish_diver_load pair).
func (c *Cache) BeginDiverLoad() {
	c.touched = map[arena.Offset]bool{}
}

// FinishDiverLoad drops every Diversion not touched since BeginDiverLoad.
func (c *Cache) FinishDiverLoad() {
	for from, off := range c.diverByFrom {
		if !c.touched[off] {
			delete(c.diverByFrom, from)
			to := c.path(c.a.GetOffset(off + diverToOff))
			delete(c.diverByTo, to)
		}
	}
	c.touched = nil
}

// AddConfFile attaches a ConfFile record to owner's Node for path.
func (c *Cache) AddConfFile(path, owner, md5 string) ConfFile {
	n := c.GetNode(path, true)
	off := c.a.Alloc(conffileSize)
	c.a.PutOffset(off+confOwnerOff, c.intern(owner))
	c.a.PutOffset(off+confMD5Off, c.intern(md5))
	c.a.PutOffset(off+confNextOff, c.a.GetOffset(n.off+nodeConfOff))
	c.a.PutOffset(n.off+nodeConfOff, off)
	return ConfFile{c: c, off: off}
}

// MarkUnpacked/MarkNewFile/ClearTransient implement the transient
// per-archive flags ExtractStream toggles (spec.md §4.8 step 6).
func (c *Cache) MarkUnpacked(path string) {
	if n, ok := c.Lookup(path); ok {
		n.setFlag(FlagUnpacked)
	}
}
func (c *Cache) MarkNewFile(path string) {
	if n, ok := c.Lookup(path); ok {
		n.setFlag(FlagNewFile)
	}
}
func (c *Cache) ClearTransient(path string) {
	if n, ok := c.Lookup(path); ok {
		n.clearFlag(FlagUnpacked | FlagNewFile | FlagReplaced)
	}
}

// UnpackedPaths and NewFilePaths enumerate Nodes carrying the respective
// transient flag, for ExtractStream's abort-time rollback walk.
func (c *Cache) UnpackedPaths() []string  { return c.flaggedPaths(FlagUnpacked) }
func (c *Cache) NewFilePaths() []string   { return c.flaggedPaths(FlagNewFile) }

func (c *Cache) flaggedPaths(flag byte) []string {
	var out []string
	for path, off := range c.byPath {
		if Node{c: c, off: off}.HasFlag(flag) {
			out = append(out, path)
		}
	}
	return out
}
