// Package engine assembles the page codec, page index, deletion
// bit-array, bloom plane, rentable pointer, in-memory vault, sharded
// cache, and compactor into the single-node embedded store described by
// §4.j: lookup/update/flush plus the background compaction-cycle state
// machine that rolls the vault generation window forward. Ported from
// original_source/include/chainkv.h.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Priyanshu23/chainkv/bloomplane"
	"github.com/Priyanshu23/chainkv/compact"
	"github.com/Priyanshu23/chainkv/delbits"
	"github.com/Priyanshu23/chainkv/gendir"
	"github.com/Priyanshu23/chainkv/memvault"
	"github.com/Priyanshu23/chainkv/ondisk"
	"github.com/Priyanshu23/chainkv/readcache"
	"github.com/Priyanshu23/chainkv/rentptr"
)

// RowCount mirrors memvault.RowCount / ondisk.RowCount.
const RowCount = ondisk.RowCount

// maxLookupAttempts bounds the on-disk generation scan in _lookup to
// the vault window's width, per §4.j's "no match after 255 attempts".
const maxLookupAttempts = RowCount - 1

// CycleState names a compaction cycle's position in the IDLE -> PREPARED
// -> RUNNING -> DONE -> RETIRED -> IDLE state machine (§4.j), kept only
// for observability: this implementation runs a cycle to completion
// synchronously inside Update rather than handing it to a separate
// compactor goroutine, so a caller never observes anything but Idle
// between calls.
type CycleState int

const (
	Idle CycleState = iota
	Prepared
	Running
	Done
	Retired
)

func (s CycleState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Prepared:
		return "prepared"
	case Running:
		return "running"
	case Done:
		return "done"
	case Retired:
		return "retired"
	default:
		return "unknown"
	}
}

// Op is one batch entry for Update: a key destined for row
// memvault.RowFromKey(ShortHash). TentativeID < 0 marks a deletion (Value
// is ignored); TentativeID >= 0 marks an insertion, whose real id is
// assigned by the engine's next_id counter regardless of the value
// supplied here — the field only distinguishes the two cases, mirroring
// the source's tentative_id batch encoding (§4.j).
type Op struct {
	ShortHash   uint64
	Key         []byte
	Value       []byte
	TentativeID int64
}

// Engine owns every subsystem of one store and serializes all mutation
// through a single lock, matching §5's one-foreground-writer concurrency
// model. Lookup takes the same lock, so lookups are serialized with
// Update, Flush and each other; they do not run concurrently.
type Engine struct {
	mu sync.Mutex

	dataDir   string
	vaultDir  string
	mvaultDir string
	mvaultGen *gendir.Dir

	cfg   Config
	seeds bloomplane.Seeds

	oldestVault   int
	youngestVault int
	rwGen         int

	rw *memvault.Vault
	ro *memvault.Vault

	onDiskVaults [RowCount]*ondisk.Vault
	planes       [RowCount]*rentptr.Ptr[bloomplane.Plane]

	del   *delbits.BitArray
	cache *readcache.Cache

	nextID atomic.Int64

	cycleState    CycleState
	rwRecordCount int

	// pruneBound is the id upper bound recorded when the current oldest
	// on-disk vault generation was itself created: every record it holds
	// has an id strictly below this value. It is consumed (as the
	// deletion bit-array's prune_till boundary) the next time that
	// generation is retired, then refreshed to the new generation's own
	// bound.
	pruneBound int64
}

// New opens (or creates) a store rooted at dataDir. seed derives the
// bloom plane's hash seeds; bloomInitialSize sizes each row's initial
// plane; cacheShardMaxSize bounds each read-cache shard before eviction
// kicks in.
func New(dataDir string, seed uint64, bloomInitialSize uint64, cacheShardMaxSize int, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: mkdir %s: %w", dataDir, err)
	}
	vaultDir := filepath.Join(dataDir, "vault")
	if err := os.MkdirAll(vaultDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: mkdir %s: %w", vaultDir, err)
	}
	mvaultDir := filepath.Join(dataDir, "mvault")
	mgd, err := gendir.Open(mvaultDir)
	if err != nil {
		return nil, err
	}

	del, err := delbits.Open(filepath.Join(dataDir, "del"))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dataDir:   dataDir,
		vaultDir:  vaultDir,
		mvaultDir: mvaultDir,
		mvaultGen: mgd,
		cfg:       cfg,
		seeds:     bloomplane.SeedsFrom(seed),
		del:       del,
		cache:     readcache.New(cacheShardMaxSize),
	}

	m, found, err := readMeta(dataDir)
	if err != nil {
		return nil, err
	}
	if found {
		if err := e.bootstrapFromMeta(m, bloomInitialSize); err != nil {
			return nil, err
		}
	} else {
		if err := e.bootstrapFresh(bloomInitialSize); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) vaultPath(gen int) string {
	return filepath.Join(e.vaultDir, strconv.Itoa(gen))
}

func (e *Engine) bootstrapFresh(bloomInitialSize uint64) error {
	e.oldestVault = 0
	e.youngestVault = 0
	e.pruneBound = 0

	v, err := ondisk.Create(e.vaultPath(0))
	if err != nil {
		return err
	}
	e.onDiskVaults[0] = v

	for row := range e.planes {
		e.planes[row] = rentptr.New(bloomplane.New(bloomInitialSize))
	}

	rw, err := memvault.New(e.mvaultDir)
	if err != nil {
		return err
	}
	e.rwGen = 1
	if err := rw.OpenLog(e.rwGen); err != nil {
		return err
	}
	e.rw = rw

	if err := e.del.OpenLog(e.rwGen); err != nil {
		return err
	}

	return e.writeMetaLocked()
}

func (e *Engine) bootstrapFromMeta(m *metaInfo, bloomInitialSize uint64) error {
	e.oldestVault = m.OldestVault
	e.youngestVault = m.YoungestVault

	// The id bound recorded when the current oldest vault generation was
	// created is not persisted in meta.txt, so start conservatively at 0
	// (prune nothing) rather than guess; a real bound is reestablished
	// the next time a rotation runs.
	e.pruneBound = 0

	for gen := e.oldestVault; gen <= e.youngestVault; gen++ {
		v, err := ondisk.Open(e.vaultPath(gen))
		if err != nil {
			return fmt.Errorf("engine: reopen vault %d: %w", gen, err)
		}
		e.onDiskVaults[gen&0xff] = v
	}

	for row := range e.planes {
		size := m.BloomSizes[row]
		if size == 0 {
			size = bloomInitialSize
		}
		e.planes[row] = rentptr.New(bloomplane.New(size))
	}

	rw, err := memvault.Recover(e.mvaultDir)
	if err != nil {
		return err
	}
	e.rw = rw
	e.nextID.Store(rw.MaxID() + 1)

	e.rwGen = e.youngestVault + 1
	if err := rw.OpenLog(e.rwGen); err != nil {
		return err
	}

	delGen := e.rwGen
	if gens := e.del.Generations(); len(gens) > 0 {
		delGen = gens[len(gens)-1]
	}
	if err := e.del.OpenLog(delGen); err != nil {
		return err
	}

	return nil
}

// Lookup returns (value, id) for (shortHash, key), or ok=false on miss.
func (e *Engine) Lookup(shortHash uint64, key []byte) ([]byte, int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ent, ok := e.cache.Lookup(shortHash, key); ok {
		if ent.ID < 0 {
			return nil, 0, false
		}
		if !e.del.Get(ent.ID) {
			return ent.Value, ent.ID, true
		}
	}

	val, id, ok := e.lookupUncached(shortHash, key)
	if ok {
		e.cache.Add(shortHash, key, val, id)
	} else {
		e.cache.Add(shortHash, key, nil, -1)
	}
	return val, id, ok
}

func (e *Engine) lookupUncached(shortHash uint64, key []byte) ([]byte, int64, bool) {
	if ent, ok := e.rw.Lookup(shortHash, key, e.del); ok {
		return ent.Value, ent.ID, true
	}
	if e.ro != nil {
		if ent, ok := e.ro.Lookup(shortHash, key, e.del); ok {
			return ent.Value, ent.ID, true
		}
	}

	row := memvault.RowFromKey(shortHash)
	var mask bloomplane.Mask
	e.planes[row].RentConst(func(p *bloomplane.Plane) { mask = p.GetMask(shortHash, e.seeds) })

	v := e.youngestVault
	for attempts := 0; attempts < maxLookupAttempts && v >= e.oldestVault; attempts, v = attempts+1, v-1 {
		lsb := uint8(v & 0xff)
		if !mask.Test(lsb) {
			continue
		}
		vault := e.onDiskVaults[lsb]
		if vault == nil {
			continue
		}
		if val, id, ok := vault.Lookup(shortHash, key, e.del); ok {
			return val, id, true
		}
	}
	return nil, 0, false
}

// Update applies a batch of insertions and deletions. Deletions are
// resolved against current state first (so a delete and an insert of
// the same key in one batch observes the pre-batch value, matching
// "tentative_id < 0" being processed before "tentative_id >= 0" in
// §4.j), then insertions are appended to the read-write vault and
// cached, then a compaction cycle is triggered if warranted.
func (e *Engine) Update(batch []Op) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, op := range batch {
		if op.TentativeID >= 0 {
			continue
		}
		if _, id, ok := e.lookupUncached(op.ShortHash, op.Key); ok {
			if err := e.del.Set(id); err != nil {
				return fmt.Errorf("engine: log deletion: %w", err)
			}
		}
	}

	for _, op := range batch {
		if op.TentativeID < 0 {
			continue
		}
		id := e.nextID.Add(1) - 1
		if err := e.rw.Add(op.ShortHash, memvault.Entry{Key: op.Key, Value: op.Value, ID: id}); err != nil {
			return fmt.Errorf("engine: append insertion: %w", err)
		}
		e.cache.Add(op.ShortHash, op.Key, op.Value, id)
		e.rwRecordCount++
	}

	// Barrier: marks the id window boundary reached by this batch. The
	// position was never set, so this is a no-op on the bit-array itself
	// and exists purely as a log record (§4.j, §6).
	if err := e.del.Clear(e.nextID.Load()); err != nil {
		return fmt.Errorf("engine: log barrier: %w", err)
	}

	rwSize, err := e.rw.Flush()
	if err != nil {
		return fmt.Errorf("engine: flush read-write WAL: %w", err)
	}
	if err := e.del.LogRWVaultSize(rwSize); err != nil {
		return fmt.Errorf("engine: log rw vault size: %w", err)
	}

	if e.canStartCompaction() {
		if err := e.rotateAndCompact(); err != nil {
			return err
		}
	}

	if _, err := e.del.Flush(); err != nil {
		return fmt.Errorf("engine: flush deletion log: %w", err)
	}
	return nil
}

func (e *Engine) canStartCompaction() bool {
	return e.cycleState == Idle && e.rwRecordCount >= e.cfg.CompactAtRecords
}

// rotateAndCompact runs one full compaction cycle synchronously: the
// current read-write vault is frozen into the read-only slot, a fresh
// vault takes over as both the compactor's overflow sink and the live
// read-write target (§4.j: "the former overflow becomes the new
// read-write"), the oldest on-disk vault is merged with the frozen
// vault into a new on-disk generation, and the window slides forward
// by one on both ends.
func (e *Engine) rotateAndCompact() error {
	e.cycleState = Prepared

	oldGen := e.oldestVault
	// newDiskGen is the on-disk vault generation this cycle produces;
	// by the rwGen == youngestVault+1 invariant it equals the read-write
	// vault's own WAL generation at the moment of the freeze below.
	newDiskGen := e.youngestVault + 1
	newLsb := uint8(newDiskGen & 0xff)

	frozenGen := e.rwGen
	e.ro = e.rw

	// The new read-write vault's WAL generation must be distinct from
	// frozenGen (== newDiskGen): it is the generation the window will
	// reach only on the *next* rotation, one past what this cycle
	// commits to disk.
	nextRWGen := newDiskGen + 1
	newRW, err := memvault.New(e.mvaultDir)
	if err != nil {
		return err
	}
	if err := newRW.OpenLog(nextRWGen); err != nil {
		return err
	}
	e.rw = newRW
	e.rwGen = nextRWGen
	e.rwRecordCount = 0

	if err := e.del.SwitchLog(nextRWGen); err != nil {
		return fmt.Errorf("engine: switch deletion log: %w", err)
	}

	oldVault := e.onDiskVaults[oldGen&0xff]
	newVault, err := ondisk.Create(e.vaultPath(newDiskGen))
	if err != nil {
		return err
	}

	e.cycleState = Running
	c := compact.New(oldVault, newVault, e.ro, e.rw, e.del, e.planes, e.seeds, newLsb)
	if err := c.Run(); err != nil {
		return fmt.Errorf("engine: compaction cycle: %w", err)
	}
	e.cycleState = Done

	// The new window is committed to meta.txt before any retired file is
	// removed, so a crash in between never leaves meta.txt naming a vault
	// file or losing a WAL that is already gone.
	e.oldestVault = oldGen + 1
	e.youngestVault = newDiskGen
	if err := e.writeMetaLocked(); err != nil {
		return err
	}

	if err := e.ro.CloseLog(); err != nil {
		return err
	}
	if err := e.mvaultGen.Remove(frozenGen); err != nil {
		return fmt.Errorf("engine: remove retired wal %d: %w", frozenGen, err)
	}
	e.ro = nil

	if err := oldVault.Close(); err != nil {
		return err
	}
	if err := os.Remove(e.vaultPath(oldGen)); err != nil {
		return fmt.Errorf("engine: remove retired vault %d: %w", oldGen, err)
	}
	e.onDiskVaults[oldGen&0xff] = nil
	e.onDiskVaults[newDiskGen&0xff] = newVault

	// oldGen is now fully retired: every tombstone it could have held is
	// gone (the merge above dropped them), and any live record it held
	// was carried forward into newDiskGen with its bit still unset, so
	// the leaf pages covering ids below oldGen's own creation-time bound
	// are dead weight. newDiskGen's content is in turn bounded by the
	// current next_id, which becomes the bound consumed the next time
	// this generation is itself retired.
	e.del.PruneTill(e.pruneBound)
	e.pruneBound = e.nextID.Load()

	e.cycleState = Retired
	e.cycleState = Idle
	return nil
}

// Flush fsyncs the read-write WAL and deletion log and persists meta.txt.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.rw.Flush(); err != nil {
		return err
	}
	if _, err := e.del.Flush(); err != nil {
		return err
	}
	return e.writeMetaLocked()
}

func (e *Engine) writeMetaLocked() error {
	m := &metaInfo{
		YoungestVault: e.youngestVault,
		OldestVault:   e.oldestVault,
	}
	if size, err := e.rw.Flush(); err == nil {
		m.RWVaultLogSize = size
	}
	if size, err := e.del.Flush(); err == nil {
		m.DelLogSize = size
	}
	for row := range e.planes {
		e.planes[row].RentConst(func(p *bloomplane.Plane) { m.BloomSizes[row] = p.Size() })
	}
	return writeMeta(e.dataDir, m)
}

// Close releases every open file handle owned by the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(e.rw.CloseLog())
	if e.ro != nil {
		record(e.ro.CloseLog())
	}
	record(e.del.Close())
	for _, v := range e.onDiskVaults {
		if v != nil {
			record(v.Close())
		}
	}
	return firstErr
}
