package compact

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Priyanshu23/chainkv/bloomplane"
	"github.com/Priyanshu23/chainkv/delbits"
	"github.com/Priyanshu23/chainkv/memvault"
	"github.com/Priyanshu23/chainkv/ondisk"
	"github.com/Priyanshu23/chainkv/rentptr"
)

// BitsPerEntry is the bloom-filter density target (§6's BITS_PER_ENTRY).
const BitsPerEntry = 20

// RowCount mirrors ondisk.RowCount / memvault.RowCount.
const RowCount = 256

// Compactor merges one old on-disk vault with a frozen read-only
// in-memory vault into a fresh on-disk vault, row by row, spilling
// anything that does not fit into an overflow in-memory vault. Ported
// from original_source's compaction loop (chainkv.h's do_compaction).
type Compactor struct {
	oldVault    *ondisk.Vault
	newVault    *ondisk.Vault
	roVault     *memvault.Vault
	overflow    *memvault.Vault
	del         *delbits.BitArray
	planes      [RowCount]*rentptr.Ptr[bloomplane.Plane]
	seeds       bloomplane.Seeds
	newVaultLsb uint8
	cycleID     string
	done        atomic.Bool
}

// New returns a compactor ready to run one compaction cycle. cycleID tags
// every diagnostic this cycle emits so operators can grep one rotation's
// log lines together across rows.
func New(
	oldVault, newVault *ondisk.Vault,
	roVault, overflow *memvault.Vault,
	del *delbits.BitArray,
	planes [RowCount]*rentptr.Ptr[bloomplane.Plane],
	seeds bloomplane.Seeds,
	newVaultLsb uint8,
) *Compactor {
	return &Compactor{
		oldVault:    oldVault,
		newVault:    newVault,
		roVault:     roVault,
		overflow:    overflow,
		del:         del,
		planes:      planes,
		seeds:       seeds,
		newVaultLsb: newVaultLsb,
		cycleID:     uuid.New().String(),
	}
}

// CycleID returns this compaction cycle's correlation id.
func (c *Compactor) CycleID() string {
	return c.cycleID
}

// Done reports whether Run has finished walking every row.
func (c *Compactor) Done() bool {
	return c.done.Load()
}

// Run walks all 256 rows in order, merging, packing, and publishing
// each row's bloom filter, then flips Done.
func (c *Compactor) Run() error {
	for row := 0; row < RowCount; row++ {
		if err := c.compactRow(row); err != nil {
			return fmt.Errorf("compact: row %d: %w", row, err)
		}
	}
	c.done.Store(true)
	return nil
}

func (c *Compactor) compactRow(row int) error {
	startPage, endPage := c.oldVault.RowPageRange(row)

	reader, err := NewPageReader(c.oldVault, startPage, endPage, c.del)
	if err != nil {
		return err
	}
	memSrc := NewMemSource(c.roVault.GetKVProducer(row, c.del))
	merger := NewMerger(reader, memSrc)

	if !merger.Valid() {
		return nil
	}

	plane := c.planes[row]

	var planeSize uint64
	plane.RentConst(func(p *bloomplane.Plane) { planeSize = p.Size() })

	if planeSize < uint64(2*BitsPerEntry)*uint64(c.roVault.SizeAtRow(row)) {
		var doubled *bloomplane.Plane
		plane.RentConst(func(p *bloomplane.Plane) { doubled = p.DoubleSized() })
		plane.Replace(doubled)
		planeSize = doubled.Size()
	}

	single := bloomplane.NewSingleFilter(planeSize)
	packer := NewPacker(c.newVault, single, c.seeds)

	bloomFull := false
	for merger.Valid() {
		if bloomFull {
			rec := merger.Produce()
			if err := c.overflow.Add(rec.ShortHash, memvault.Entry{Key: rec.Key, Value: rec.Value, ID: rec.ID}); err != nil {
				return err
			}
			continue
		}

		rec := merger.Peek()
		if !packer.CanConsume(rec) {
			if err := packer.Flush(); err != nil {
				return err
			}
			for merger.InMiddleOfSameKey() {
				spill := merger.Produce()
				if err := c.overflow.Add(spill.ShortHash, memvault.Entry{Key: spill.Key, Value: spill.Value, ID: spill.ID}); err != nil {
					return err
				}
			}
			continue
		}

		rec = merger.Produce()
		packer.Consume(rec)

		if planeSize < uint64(BitsPerEntry)*packer.PackedCount() {
			if err := packer.Flush(); err != nil {
				return err
			}
			bloomFull = true
			fmt.Fprintf(os.Stderr, "compact[%s]: row %d bloom filter full after %d entries, spilling remainder to overflow\n", c.cycleID, row, packer.PackedCount())
		}
	}

	if err := packer.Flush(); err != nil {
		return err
	}

	var assignErr error
	plane.RentConst(func(p *bloomplane.Plane) {
		assignErr = p.AssignAt(c.newVaultLsb, single)
	})
	return assignErr
}
