// Package delbits implements the sparse, WAL-logged deletion bit-array.
// It is indexed by record id, virtually 2^54 bits wide, and is organised as
// a hash map of 2^24-bit leaf pages rather than a literal 4-level pointer
// tree, since the only externally visible property needed is that missing
// pages read as zero.
package delbits

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/bits-and-blooms/bitset"

	"github.com/Priyanshu23/chainkv/gendir"
)

const (
	// leafBits is the number of low bits addressed within one leaf page.
	leafBits = 24
	leafSize = 1 << leafBits
	leafMask = leafSize - 1
)

// rwVaultLogSizeTag is the sentinel i64 value that precedes a checkpoint
// record of the read-write vault's WAL size, distinguishing it from an
// ordinary set(pos)/clear(pos) record. It is chosen well outside any
// plausible record id (ids are dense from zero).
const rwVaultLogSizeTag = int64(-1) << 62

// BitArray is the deletion bit-array with its write-ahead log.
type BitArray struct {
	leaves map[int64]*bitset.BitSet
	log    *gendir.Dir
	cur    *os.File
	curGen int
}

// Open opens (or creates) the log directory at dir and replays every log
// file in ascending generation order.
func Open(dir string) (*BitArray, error) {
	d, err := gendir.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("delbits: open log dir: %w", err)
	}

	b := &BitArray{leaves: make(map[int64]*bitset.BitSet), log: d}
	if err := b.replay(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *BitArray) replay() error {
	gens := b.log.Generations()
	for i, gen := range gens {
		f, err := b.log.OpenRead(gen)
		if err != nil {
			return fmt.Errorf("delbits: open log %d: %w", gen, err)
		}
		last := i == len(gens)-1
		err = b.replayFile(f, last)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// replayFile reads signed-int64 records until EOF. If last is true and a
// partial trailing record is found, the file is truncated to the last
// complete record boundary (crash-recovery truncation, §6).
func (b *BitArray) replayFile(f *os.File, last bool) error {
	var offset int64
	buf := make([]byte, 8)
	readI64 := func() (int64, bool, error) {
		n, err := io.ReadFull(f, buf)
		if err == io.EOF {
			return 0, false, nil
		}
		if err == io.ErrUnexpectedEOF {
			if last {
				// f is read-only, so truncate by path.
				return 0, false, os.Truncate(f.Name(), offset)
			}
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		offset += int64(n)
		return int64(binary.LittleEndian.Uint64(buf)), true, nil
	}

	for {
		v, ok, err := readI64()
		if err != nil || !ok {
			return err
		}
		if v == rwVaultLogSizeTag {
			// checkpoint marker: the following i64 carries the read-write
			// vault WAL size at that point and is not itself a position.
			if _, ok, err := readI64(); err != nil || !ok {
				return err
			}
			continue
		}
		b.applyLogValue(v)
	}
}

func (b *BitArray) applyLogValue(v int64) {
	switch {
	case v > 0:
		b.setNoLog(v)
	case v < 0:
		b.clearNoLog(-v)
	}
}

func (b *BitArray) leafFor(pos int64, create bool) *bitset.BitSet {
	key := pos >> leafBits
	l, ok := b.leaves[key]
	if !ok {
		if !create {
			return nil
		}
		l = bitset.New(leafSize)
		b.leaves[key] = l
	}
	return l
}

// Get reports whether pos is set.
func (b *BitArray) Get(pos int64) bool {
	l := b.leafFor(pos, false)
	if l == nil {
		return false
	}
	return l.Test(uint(pos & leafMask))
}

func (b *BitArray) setNoLog(pos int64) {
	b.leafFor(pos, true).Set(uint(pos & leafMask))
}

func (b *BitArray) clearNoLog(pos int64) {
	if l := b.leafFor(pos, false); l != nil {
		l.Clear(uint(pos & leafMask))
	}
}

// Set marks pos as deleted and appends a log record.
func (b *BitArray) Set(pos int64) error {
	b.setNoLog(pos)
	return b.logValue(pos)
}

// Clear unmarks pos and appends a log record.
func (b *BitArray) Clear(pos int64) error {
	b.clearNoLog(pos)
	return b.logValue(-pos)
}

func (b *BitArray) logValue(v int64) error {
	if b.cur == nil {
		return nil
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := b.cur.Write(buf[:])
	return err
}

// LogRWVaultSize writes a tagged checkpoint record of the read-write
// vault's WAL byte size, per §6's "sentinel tag ... followed by one i64".
func (b *BitArray) LogRWVaultSize(size int64) error {
	if b.cur == nil {
		return nil
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(rwVaultLogSizeTag))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(size))
	_, err := b.cur.Write(buf[:])
	return err
}

// PruneTill deletes every leaf page strictly below pos>>leafBits.
func (b *BitArray) PruneTill(pos int64) {
	bound := pos >> leafBits
	for key := range b.leaves {
		if key < bound {
			delete(b.leaves, key)
		}
	}
}

// Generations returns every log generation found on disk, ascending,
// for callers that need to pick up logging where a previous run left
// off (e.g. the engine choosing which del-log generation to reopen).
func (b *BitArray) Generations() []int {
	return b.log.Generations()
}

// OpenLog opens (creating if needed) the active log file identified by gen
// for subsequent Set/Clear calls.
func (b *BitArray) OpenLog(gen int) error {
	f, err := b.log.OpenAppend(gen)
	if err != nil {
		return fmt.Errorf("delbits: open log %d: %w", gen, err)
	}
	b.cur = f
	b.curGen = gen
	return nil
}

// SwitchLog closes the current log file and opens a fresh one named gen,
// marking the id-window boundary at a generation roll.
func (b *BitArray) SwitchLog(gen int) error {
	if b.cur != nil {
		b.cur.Close()
	}
	f, err := b.log.Create(gen)
	if err != nil {
		return fmt.Errorf("delbits: switch log %d: %w", gen, err)
	}
	b.cur = f
	b.curGen = gen
	return nil
}

// Flush fsyncs the active log file and returns its current size.
func (b *BitArray) Flush() (int64, error) {
	if b.cur == nil {
		return 0, nil
	}
	if err := b.cur.Sync(); err != nil {
		return 0, err
	}
	info, err := b.cur.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close releases the active log file handle.
func (b *BitArray) Close() error {
	if b.cur == nil {
		return nil
	}
	return b.cur.Close()
}
