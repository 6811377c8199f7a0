// Package bloomplane implements the per-row bloom plane: 256 bloom filters
// of identical size stored column-major, one 256-bit slice per hash bucket,
// so that a single get_mask query ORs together at most HashCount slices.
// Ported from original_source/include/bloomfilter256.h.
package bloomplane

import (
	"github.com/cespare/xxhash/v2"

	"github.com/bits-and-blooms/bitset"
	"github.com/bits-and-blooms/bloom/v3"
)

// HashCount is the number of bloom hash functions per key.
const HashCount = 8

// Seeds holds the HashCount per-store hash seeds used to derive bucket
// positions from a key.
type Seeds [HashCount]uint64

// hash64 combines a 64-bit value and a seed into one XXH64 digest. It stands
// in for original_source/include/bloomfilter256.h's `hash(key, seed)`, which
// XXH64-hashes the 8 key bytes under the given seed; cespare/xxhash/v2 has
// no seeded-hash entry point, so the seed is folded in as extra input bytes
// instead of being passed to the hash's internal seed parameter.
func hash64(v, seed uint64) uint64 {
	var buf [16]byte
	putU64(buf[0:8], v)
	putU64(buf[8:16], seed)
	return xxhash.Sum64(buf[:])
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// SeedsFrom derives HashCount seeds from a single configured store seed,
// mirroring original_source/include/chainkv.h's metainfo::get_seeds, which
// sets seeds.u64[i] = hash(i, seed) for i in 0..HASH_COUNT-1.
func SeedsFrom(storeSeed uint64) Seeds {
	var s Seeds
	for i := 0; i < HashCount; i++ {
		s[i] = hash64(uint64(i), storeSeed)
	}
	return s
}

// bits256 is one column: 4 machine words = 256 bits, one bit per vault_lsb.
type bits256 [4]uint64

// selector locates bit `col` within a bits256 word.
type selector struct {
	word int
	mask uint64
}

func newSelector(col uint8) selector {
	return selector{word: int(col) >> 6, mask: uint64(1) << (uint64(col) % 64)}
}

// EstimateSize returns a plane size (in buckets) suitable for expectedEntries
// at the density target bitsPerEntry, reusing bloom/v3's parameter-estimation
// math rather than a hand-derived formula.
func EstimateSize(expectedEntries uint, bitsPerEntry uint) uint {
	m, _ := bloom.EstimateParameters(expectedEntries, 1.0/float64(uint64(1)<<bitsPerEntry))
	if m == 0 {
		m = 1
	}
	return m
}

// Plane is one row's bloom plane: `size` buckets, each holding 256 bits
// (one per possible vault_lsb).
type Plane struct {
	size uint64
	data []bits256
}

// New allocates a plane with the given bucket size (rounded up to a
// multiple of 1, matching `_size` in bloomfilter256.h — the reference
// rounds to 64-bit alignment for its own bit layout, which this Go
// implementation's explicit bits256 slices make unnecessary).
func New(size uint64) *Plane {
	if size == 0 {
		size = 1
	}
	return &Plane{size: size, data: make([]bits256, size)}
}

// Size returns the plane's bucket count.
func (p *Plane) Size() uint64 { return p.size }

func (p *Plane) bucketsFor(seeds Seeds, key uint64) [HashCount]uint64 {
	var out [HashCount]uint64
	for i := 0; i < HashCount; i++ {
		out[i] = hash64(key, seeds[i]) % p.size
	}
	return out
}

// AddAt sets bit col (a vault_lsb) across every bucket that key hashes to.
func (p *Plane) AddAt(col uint8, key uint64, seeds Seeds) {
	sel := newSelector(col)
	for _, idx := range p.bucketsFor(seeds, key) {
		p.data[idx][sel.word] |= sel.mask
	}
}

// ClearAt clears bit col across every bucket in the plane.
func (p *Plane) ClearAt(col uint8) {
	sel := newSelector(col)
	for i := range p.data {
		p.data[i][sel.word] &^= sel.mask
	}
}

// AssignAt sets or clears bit col in every bucket from single's
// corresponding bucket, per single-row compaction publish. single must have
// the same size as p.
func (p *Plane) AssignAt(col uint8, single *SingleFilter) error {
	if single.size != p.size {
		return errSizeMismatch
	}
	sel := newSelector(col)
	for i := range p.data {
		if single.bits.Test(uint(i)) {
			p.data[i][sel.word] |= sel.mask
		} else {
			p.data[i][sel.word] &^= sel.mask
		}
	}
	return nil
}

// Mask is a 256-bit vault_lsb candidate set returned by GetMask.
type Mask [4]uint64

// Test reports whether bit v is set in the mask.
func (m Mask) Test(v uint8) bool {
	sel := newSelector(v)
	return m[sel.word]&sel.mask != 0
}

// GetMask ORs together the bucket slices that key hashes to, yielding a
// 256-bit mask where bit v means "key may live in the generation whose
// vault_lsb is v".
func (p *Plane) GetMask(key uint64, seeds Seeds) Mask {
	var m Mask
	for _, idx := range p.bucketsFor(seeds, key) {
		for k := 0; k < 4; k++ {
			m[k] |= p.data[idx][k]
		}
	}
	return m
}

// DoubleSized returns a fresh plane of twice this plane's size whose
// contents are two back-to-back copies of the original, preserving
// "present bits remain present" for every previously inserted key (each
// key's bucket index i maps to both i and i+size in the doubled plane).
func (p *Plane) DoubleSized() *Plane {
	np := New(p.size * 2)
	copy(np.data[:p.size], p.data)
	copy(np.data[p.size:], p.data)
	return np
}

// SingleFilter is a single bloom filter sized to match a plane, built by
// the compactor while packing one row and later published into the plane
// at a given vault_lsb via AssignAt.
type SingleFilter struct {
	size uint64
	bits *bitset.BitSet
	n    uint64
}

// NewSingleFilter allocates a single-row working filter of the given size.
func NewSingleFilter(size uint64) *SingleFilter {
	if size == 0 {
		size = 1
	}
	return &SingleFilter{size: size, bits: bitset.New(uint(size))}
}

// Size returns the filter's bucket count.
func (s *SingleFilter) Size() uint64 { return s.size }

// Count returns how many keys have been added so far.
func (s *SingleFilter) Count() uint64 { return s.n }

// Add inserts key using the given seeds.
func (s *SingleFilter) Add(key uint64, seeds Seeds) {
	for i := 0; i < HashCount; i++ {
		idx := hash64(key, seeds[i]) % s.size
		s.bits.Set(uint(idx))
	}
	s.n++
}

var errSizeMismatch = sizeMismatchError{}

type sizeMismatchError struct{}

func (sizeMismatchError) Error() string {
	return "bloomplane: single filter size does not match plane size"
}
