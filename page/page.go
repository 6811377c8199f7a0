// Package page implements the fixed 4096-byte record page used by on-disk
// vaults. A page holds a short-hash-sorted run of records; records sharing a
// short hash are kept contiguous so a single record never spans two pages.
package page

import (
	"encoding/binary"
	"errors"
	"sort"
)

// Size is the fixed byte size of a page frame.
const Size = 4096

// headerSize is the 2-byte count field plus 6 bytes of padding, matching the
// PAGE_INIT_SIZE=8 offset used by the reference page layout.
const headerSize = 8

// ErrCorrupt is returned by Extract when a page's header claims more
// records than could possibly fit or a record offset points outside the
// page; Lookup reports such a page as a miss. The caller skips the page
// rather than retrying it.
var ErrCorrupt = errors.New("page: corrupt frame")

// Record is one packed key/value entry plus its record id.
type Record struct {
	ID        int64
	ShortHash uint64
	Key       []byte
	Value     []byte
}

// packedSize is the number of bytes Record occupies once packed: the 8-byte
// short-hash slot, the 2-byte offset slot, and the payload itself.
func packedSize(r Record) int {
	return 8 /*short hash*/ + 2 /*offset*/ + 8 /*id*/ + 2 + 2 /*lengths*/ + len(r.Key) + len(r.Value)
}

// CanConsume reports whether appending r to a page that has already
// accumulated usedBytes would still fit within Size.
func CanConsume(usedBytes int, r Record) bool {
	return usedBytes+packedSize(r) <= Size
}

// RecordSize returns the number of bytes r would occupy once packed,
// for callers (the packer) that need to track accumulated page usage.
func RecordSize(r Record) int {
	return packedSize(r)
}

// Frame is one 4096-byte page buffer.
type Frame [Size]byte

// Fill packs recs (already sorted by ShortHash, caller-guaranteed to fit)
// into f.
func (f *Frame) Fill(recs []Record) {
	for i := range f {
		f[i] = 0
	}

	count := len(recs)
	binary.LittleEndian.PutUint16(f[0:2], uint16(count))

	keyAreaStart := headerSize
	offAreaStart := keyAreaStart + 8*count
	payloadStart := offAreaStart + 2*count

	offset := uint16(payloadStart)
	for i, r := range recs {
		binary.LittleEndian.PutUint64(f[keyAreaStart+8*i:], r.ShortHash)
		binary.LittleEndian.PutUint16(f[offAreaStart+2*i:], offset)
		offset += uint16(8 + 2 + 2 + len(r.Key) + len(r.Value))
	}

	pos := payloadStart
	for _, r := range recs {
		binary.LittleEndian.PutUint64(f[pos:], uint64(r.ID))
		pos += 8
		binary.LittleEndian.PutUint16(f[pos:], uint16(len(r.Key)))
		pos += 2
		binary.LittleEndian.PutUint16(f[pos:], uint16(len(r.Value)))
		pos += 2
		pos += copy(f[pos:], r.Key)
		pos += copy(f[pos:], r.Value)
	}
}

func (f *Frame) count() (int, error) {
	count := int(binary.LittleEndian.Uint16(f[0:2]))
	// every record takes at least its 8-byte short-hash slot and 2-byte
	// offset slot, so a page cannot hold more than (Size-headerSize)/10
	if count > (Size-headerSize)/10 {
		return 0, ErrCorrupt
	}
	return count, nil
}

func (f *Frame) shortHashAt(i int) uint64 {
	return binary.LittleEndian.Uint64(f[headerSize+8*i:])
}

func (f *Frame) offsetAt(count, i int) int {
	return int(binary.LittleEndian.Uint16(f[headerSize+8*count+2*i:]))
}

// DeletionChecker reports whether the record with the given id has been
// tombstoned.
type DeletionChecker interface {
	Get(id int64) bool
}

// Lookup binary-searches the page for shortHash, compares key bytes on every
// equal-short-hash slot, and on a live match returns its value and id.
func (f *Frame) Lookup(shortHash uint64, key []byte, del DeletionChecker) (value []byte, id int64, ok bool) {
	count, err := f.count()
	if err != nil {
		return nil, 0, false
	}

	lo := sort.Search(count, func(i int) bool {
		return f.shortHashAt(i) >= shortHash
	})

	for i := lo; i < count && f.shortHashAt(i) == shortHash; i++ {
		off := f.offsetAt(count, i)
		if off < payloadMin(count) || off+12 > Size {
			return nil, 0, false
		}
		recID := int64(binary.LittleEndian.Uint64(f[off:]))
		keyLen := int(binary.LittleEndian.Uint16(f[off+8:]))
		valLen := int(binary.LittleEndian.Uint16(f[off+10:]))
		keyStart := off + 12
		if keyStart+keyLen+valLen > Size {
			return nil, 0, false
		}
		if keyLen != len(key) || string(f[keyStart:keyStart+keyLen]) != string(key) {
			continue
		}
		if del != nil && del.Get(recID) {
			continue
		}
		valStart := keyStart + keyLen
		out := make([]byte, valLen)
		copy(out, f[valStart:valStart+valLen])
		return out, recID, true
	}
	return nil, 0, false
}

func payloadMin(count int) int {
	return headerSize + 10*count
}

// Extract returns every live (non-tombstoned) record in the page in
// ascending short-hash order.
func (f *Frame) Extract(del DeletionChecker) ([]Record, error) {
	count, err := f.count()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		off := f.offsetAt(count, i)
		if off < payloadMin(count) || off+12 > Size {
			return nil, ErrCorrupt
		}
		recID := int64(binary.LittleEndian.Uint64(f[off:]))
		keyLen := int(binary.LittleEndian.Uint16(f[off+8:]))
		valLen := int(binary.LittleEndian.Uint16(f[off+10:]))
		keyStart := off + 12
		if keyStart+keyLen+valLen > Size {
			return nil, ErrCorrupt
		}
		if del != nil && del.Get(recID) {
			continue
		}
		key := make([]byte, keyLen)
		copy(key, f[keyStart:keyStart+keyLen])
		val := make([]byte, valLen)
		copy(val, f[keyStart+keyLen:keyStart+keyLen+valLen])
		out = append(out, Record{
			ID:        recID,
			ShortHash: f.shortHashAt(i),
			Key:       key,
			Value:     val,
		})
	}
	return out, nil
}

// FirstShortHash returns the short hash of the first record in the page,
// used by the packer to build the page index.
func (f *Frame) FirstShortHash() (uint64, bool) {
	count, err := f.count()
	if err != nil || count == 0 {
		return 0, false
	}
	return f.shortHashAt(0), true
}
