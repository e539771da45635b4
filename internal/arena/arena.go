// Package arena implements the position-independent, offset-addressed
// byte region that backs PackageCache and FileListCache (spec §3, §9's
// "pointer-into-mmap graph" design note). Every cross-reference into an
// Arena is an Offset, never a Go pointer; a header embeds struct sizes so
// a cache built by a different layout is rejected rather than
// misinterpreted.
package arena

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Offset is a byte offset from the start of the arena. Zero means "none".
type Offset uint32

const (
	Null Offset = 0
	// headerReserve is the number of bytes reserved at offset 0 for the
	// caller-defined header; allocation never returns an offset inside it,
	// so Null never aliases a live record.
	headerReserve = 4096
)

// Arena is a contiguous byte region addressed by Offset. It is either
// backed by an mmap'd file (read-only, opened) or a growable in-memory
// buffer (being built), mirroring the "write into a .new, rename" build
// lifecycle spec.md describes.
type Arena struct {
	data   []byte
	file   *os.File
	mapped bool
	next   uint32
}

// NewBuilder returns a growable, in-memory arena for building a fresh
// cache. The first headerReserve bytes are reserved for the header.
func NewBuilder() *Arena {
	a := &Arena{data: make([]byte, headerReserve), next: headerReserve}
	return a
}

// Open memory-maps path read-only. Callers must call Close.
func Open(path string) (*Arena, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("arena: %s is empty", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("arena: mmap %s: %w", path, err)
	}
	return &Arena{data: data, file: f, mapped: true, next: uint32(st.Size())}, nil
}

// Close releases the mapping (or is a no-op for a builder arena).
func (a *Arena) Close() error {
	if !a.mapped {
		return nil
	}
	err := unix.Munmap(a.data)
	a.file.Close()
	return err
}

// Len reports the current size of the arena.
func (a *Arena) Len() int { return len(a.data) }

// Alloc reserves n bytes at the end of the arena (plain bump allocation;
// there are no free lists, so space is never reused) and returns their
// starting Offset. It panics if called on a mapped (read-only) arena.
func (a *Arena) Alloc(n uint32) Offset {
	if a.mapped {
		panic("arena: Alloc on a read-only mapped arena")
	}
	start := a.next
	need := int(start) + int(n)
	if need > len(a.data) {
		grown := make([]byte, need)
		copy(grown, a.data)
		a.data = grown
	}
	a.next = uint32(need)
	return Offset(start)
}

// Bytes returns the full backing slice (header + records), read-only view.
func (a *Arena) Bytes() []byte { return a.data }

// Slice returns a sub-slice [off, off+n) for direct struct decoding.
func (a *Arena) Slice(off Offset, n uint32) []byte {
	return a.data[off : uint32(off)+n]
}

// --- fixed-width little-endian accessors ---

func (a *Arena) PutU32(off Offset, v uint32) {
	binary.LittleEndian.PutUint32(a.data[off:], v)
}

func (a *Arena) GetU32(off Offset) uint32 {
	return binary.LittleEndian.Uint32(a.data[off:])
}

func (a *Arena) PutU16(off Offset, v uint16) {
	binary.LittleEndian.PutUint16(a.data[off:], v)
}

func (a *Arena) GetU16(off Offset) uint16 {
	return binary.LittleEndian.Uint16(a.data[off:])
}

func (a *Arena) PutOffset(off Offset, v Offset) { a.PutU32(off, uint32(v)) }
func (a *Arena) GetOffset(off Offset) Offset     { return Offset(a.GetU32(off)) }

func (a *Arena) PutByte(off Offset, v byte) { a.data[off] = v }
func (a *Arena) GetByte(off Offset) byte    { return a.data[off] }

// PersistTo writes the arena to path via a .new-then-rename dance so a
// crash mid-write never clobbers a previously committed cache (spec §5,
// §9).
func (a *Arena) PersistTo(path string) error {
	tmp := path + ".new"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(a.data[:a.next]); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
