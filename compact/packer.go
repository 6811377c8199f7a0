package compact

import (
	"github.com/Priyanshu23/chainkv/bloomplane"
	"github.com/Priyanshu23/chainkv/ondisk"
	"github.com/Priyanshu23/chainkv/page"
)

// Packer accumulates records in short-hash order into fixed-size pages,
// flushing each page to an on-disk vault as soon as it fills, and tracks
// every packed key in a single-row bloom filter for later publication.
type Packer struct {
	vault   *ondisk.Vault
	pending []page.Record
	used    int
	bloom   *bloomplane.SingleFilter
	seeds   bloomplane.Seeds
	packed  uint64
}

// NewPacker returns a packer that appends pages to vault and records
// every consumed key into bloom (sized to match the row's bloom plane).
func NewPacker(vault *ondisk.Vault, bloom *bloomplane.SingleFilter, seeds bloomplane.Seeds) *Packer {
	return &Packer{vault: vault, bloom: bloom, seeds: seeds}
}

// CanConsume reports whether r would still fit in the page currently
// being accumulated.
func (p *Packer) CanConsume(r page.Record) bool {
	return page.CanConsume(p.used, r)
}

// Consume appends r to the page being accumulated and records it in the
// row's bloom filter. Callers must have checked CanConsume first.
func (p *Packer) Consume(r page.Record) {
	p.pending = append(p.pending, r)
	p.used += page.RecordSize(r)
	p.bloom.Add(r.ShortHash, p.seeds)
	p.packed++
}

// PackedCount returns how many records have been consumed so far.
func (p *Packer) PackedCount() uint64 {
	return p.packed
}

// Flush writes the accumulated page to the vault, if any records are
// pending. It is idempotent when nothing is pending.
func (p *Packer) Flush() error {
	if len(p.pending) == 0 {
		return nil
	}
	if err := p.vault.AppendPage(p.pending); err != nil {
		return err
	}
	p.pending = nil
	p.used = 0
	return nil
}
