// Package memvault implements the in-memory vault (§4.f): 256 row-
// partitioned, ordered multimaps of short-hash -> (key, value, id), each
// row backed by a memtable.SkipList and logged to a write-ahead log file
// identified by the vault's generation number. Ported from
// original_source/include/vault_in_mem.h.
package memvault

import (
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/Priyanshu23/chainkv/delbits"
	"github.com/Priyanshu23/chainkv/gendir"
	"github.com/Priyanshu23/chainkv/memtable"
	"github.com/Priyanshu23/chainkv/walcodec"
)

// LogBuffer is the default channel depth for a vault's background WAL
// writer.
const LogBuffer = 256

// RowCount is the number of rows a short hash's top 8 bits can select.
const RowCount = 256

// RowFromKey returns the row (0..255) that shortHash belongs to.
func RowFromKey(shortHash uint64) int {
	return int(shortHash >> 56)
}

// Entry is a stored record, minus its short hash (which is the map key).
type Entry struct {
	Key   []byte
	Value []byte
	ID    int64
}

// Vault is an in-memory, WAL-backed, row-partitioned multimap.
type Vault struct {
	rows [RowCount]*memtable.SkipList[uint64, Entry]
	dir  *gendir.Dir
	log  *walcodec.Writer
}

// New returns an empty vault whose WAL files live under dir.
func New(dir string) (*Vault, error) {
	d, err := gendir.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("memvault: open log dir: %w", err)
	}
	v := &Vault{dir: d}
	for i := range v.rows {
		v.rows[i] = memtable.NewSkipList[uint64, Entry]()
	}
	return v, nil
}

// Recover replays every WAL file found under dir, in ascending generation
// order, truncating the newest file's trailing partial record.
func Recover(dir string) (*Vault, error) {
	v, err := New(dir)
	if err != nil {
		return nil, err
	}
	gens := v.dir.Generations()
	for i, gen := range gens {
		f, err := v.dir.OpenRead(gen)
		if err != nil {
			return nil, fmt.Errorf("memvault: open wal %d: %w", gen, err)
		}
		err = v.replayFile(f, i == len(gens)-1)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

// replayFile replays one generation's WAL file. A corrupt or partial
// trailing record is truncated away when it belongs to the newest (still
// actively written) file; an earlier file ending mid-record indicates a
// crash during compaction bookkeeping and is left untouched.
func (v *Vault) replayFile(f *os.File, last bool) error {
	var offset int64
	for {
		e, err := walcodec.Decode(f)
		if err == io.EOF || err == walcodec.ErrCorrupt {
			// Decode reports a partial trailing record as io.EOF; f is
			// read-only, so truncate by path.
			if last {
				return os.Truncate(f.Name(), offset)
			}
			return nil
		}
		if err != nil {
			return err
		}
		pos, _ := f.Seek(0, io.SeekCurrent)
		offset = pos
		v.Add(e.ShortHash, Entry{Key: e.Key, Value: e.Value, ID: e.ID})
	}
}

// OpenLog opens (creating if needed) the WAL file for generation gen so
// subsequent Add calls are logged there, starting a background flush
// goroutine.
func (v *Vault) OpenLog(gen int) error {
	w, err := walcodec.NewWriter(v.dir, gen, LogBuffer)
	if err != nil {
		return err
	}
	v.log = w
	return nil
}

// SizeAtRow returns the number of entries stored in row, tombstoned ones
// included.
func (v *Vault) SizeAtRow(row int) int {
	return v.rows[row].Len()
}

// Lookup scans row-partitioned entries sharing shortHash in insertion
// order, comparing key bytes on every equal-short-hash slot and
// skipping tombstoned ids, returning the first live match.
func (v *Vault) Lookup(shortHash uint64, key []byte, del *delbits.BitArray) (Entry, bool) {
	row := RowFromKey(shortHash)
	for rec := range v.rows[row].From(shortHash) {
		if rec.Key != shortHash {
			break
		}
		if string(rec.Value.Key) != string(key) {
			continue
		}
		if del != nil && rec.Value.ID >= 0 && del.Get(rec.Value.ID) {
			continue
		}
		return rec.Value, true
	}
	return Entry{}, false
}

// Add inserts (key,value,id) under shortHash and, if a log is open,
// appends a WAL record for it.
func (v *Vault) Add(shortHash uint64, e Entry) error {
	row := RowFromKey(shortHash)
	v.rows[row].Insert(shortHash, e)

	if v.log == nil {
		return nil
	}
	entry := walcodec.Entry{ShortHash: shortHash, ID: e.ID, Key: e.Key, Value: e.Value}
	return v.log.Write(entry)
}

// Flush returns the active WAL file's current size, for comparison
// against the RW-vault WAL size checkpoint logged into the deletion bit
// array (§4.f).
func (v *Vault) Flush() (int64, error) {
	if v.log == nil {
		return 0, nil
	}
	return v.log.Size()
}

// CloseLog closes the active WAL file, if any.
func (v *Vault) CloseLog() error {
	if v.log == nil {
		return nil
	}
	err := v.log.Close()
	v.log = nil
	return err
}

// MaxID returns the largest record id stored in the vault, or -1 if the
// vault is empty, for recovery to reseed the id counter past every id
// that might already be referenced by a deletion-log record.
func (v *Vault) MaxID() int64 {
	max := int64(-1)
	for _, row := range v.rows {
		for rec := range row.Iterator() {
			if rec.Value.ID > max {
				max = rec.Value.ID
			}
		}
	}
	return max
}

// Producer yields the live records of one row in ascending short-hash
// order, skipping tombstoned ids, for use by the compactor's merge loop.
type Producer struct {
	next func() (memtable.Record[uint64, Entry], bool)
	stop func()
	del  *delbits.BitArray
	key  uint64
	val  Entry
	done bool
}

// GetKVProducer returns a producer over row's live records.
func (v *Vault) GetKVProducer(row int, del *delbits.BitArray) *Producer {
	next, stop := iter.Pull(v.rows[row].Iterator())
	p := &Producer{next: next, stop: stop, del: del}
	p.advance()
	return p
}

func (p *Producer) advance() {
	for {
		rec, ok := p.next()
		if !ok {
			p.stop()
			p.done = true
			return
		}
		if p.del != nil && rec.Value.ID >= 0 && p.del.Get(rec.Value.ID) {
			continue
		}
		p.key, p.val = rec.Key, rec.Value
		return
	}
}

// Valid reports whether Peek/Produce would yield a value.
func (p *Producer) Valid() bool {
	return !p.done
}

// Peek returns the next live record without consuming it.
func (p *Producer) Peek() (uint64, Entry) {
	return p.key, p.val
}

// Produce returns the next live record and advances past it.
func (p *Producer) Produce() (uint64, Entry) {
	k, v := p.key, p.val
	p.advance()
	return k, v
}
