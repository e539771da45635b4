package arena

// StringPool deduplicates byte storage for names, versions, and sections
// (spec §3: "deduplicated byte storage... strings are never mutated").
// Each entry is stored as a 2-byte length prefix followed by the bytes, so
// a StringPool is itself just a region of its owning Arena addressed by
// Offset.
type StringPool struct {
	a     *Arena
	index map[string]Offset
}

// NewStringPool creates an empty pool backed by a builder arena.
func NewStringPool(a *Arena) *StringPool {
	return &StringPool{a: a, index: map[string]Offset{}}
}

// Intern returns the Offset of s, allocating and copying it in if this is
// the first occurrence.
func (p *StringPool) Intern(s string) Offset {
	if s == "" {
		return Null
	}
	if off, ok := p.index[s]; ok {
		return off
	}
	n := uint32(len(s))
	off := p.a.Alloc(2 + n)
	p.a.PutU16(off, uint16(n))
	copy(p.a.Slice(off+2, n), s)
	p.index[s] = off
	return off
}

// String reads back a previously interned string (works against a mapped
// arena too, since pool layout is just length-prefixed bytes).
func String(a *Arena, off Offset) string {
	if off == Null {
		return ""
	}
	n := a.GetU16(off)
	return string(a.Slice(off+2, uint32(n)))
}
