// Package compact implements the KV reader/packer/merger and the
// per-row compactor (§4.h, §4.i): streaming an old on-disk vault row and
// a frozen in-memory vault row together in short-hash order, packing the
// merged stream into a fresh on-disk vault, and routing anything that
// cannot be placed into an overflow in-memory vault. Built around a
// block-packing and iteration idiom generalized to two-source merging.
package compact

import (
	"io"

	"github.com/Priyanshu23/chainkv/delbits"
	"github.com/Priyanshu23/chainkv/memvault"
	"github.com/Priyanshu23/chainkv/ondisk"
	"github.com/Priyanshu23/chainkv/page"
)

// Source yields page.Record values in ascending short-hash order.
type Source interface {
	Valid() bool
	Peek() page.Record
	Produce() page.Record
}

// PageReader streams the live records of one page range of an on-disk
// vault, in ascending short-hash order.
type PageReader struct {
	v        *ondisk.Vault
	del      *delbits.BitArray
	pageNum  int
	endPage  int
	recs     []page.Record
	pos      int
	cur      page.Record
	hasCur   bool
	exhausted bool
}

// NewPageReader reads the half-open page range [startPage, endPage) of
// v, skipping tombstoned ids as it goes.
func NewPageReader(v *ondisk.Vault, startPage, endPage int, del *delbits.BitArray) (*PageReader, error) {
	r := &PageReader{v: v, del: del, pageNum: startPage, endPage: endPage}
	if err := r.advance(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PageReader) loadNextPage() error {
	for r.pageNum < r.endPage {
		frame, err := r.v.ReadPage(r.pageNum)
		r.pageNum++
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		recs, err := frame.Extract(r.del)
		if err == page.ErrCorrupt {
			continue
		}
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			r.recs = recs
			r.pos = 0
			return nil
		}
	}
	return nil
}

func (r *PageReader) advance() error {
	for r.pos >= len(r.recs) {
		r.recs = nil
		if err := r.loadNextPage(); err != nil {
			return err
		}
		if r.recs == nil {
			r.hasCur = false
			r.exhausted = true
			return nil
		}
	}
	r.cur = r.recs[r.pos]
	r.pos++
	r.hasCur = true
	return nil
}

// Valid reports whether Peek/Produce would yield a record.
func (r *PageReader) Valid() bool {
	return r.hasCur
}

// Peek returns the next record without consuming it.
func (r *PageReader) Peek() page.Record {
	return r.cur
}

// Produce returns the next record and advances past it.
func (r *PageReader) Produce() page.Record {
	out := r.cur
	if err := r.advance(); err != nil {
		r.hasCur = false
	}
	return out
}

// MemSource adapts a memvault.Producer to the Source interface.
type MemSource struct {
	p *memvault.Producer
}

// NewMemSource wraps p.
func NewMemSource(p *memvault.Producer) *MemSource {
	return &MemSource{p: p}
}

func (m *MemSource) Valid() bool {
	return m.p.Valid()
}

func (m *MemSource) Peek() page.Record {
	sh, e := m.p.Peek()
	return page.Record{ID: e.ID, ShortHash: sh, Key: e.Key, Value: e.Value}
}

func (m *MemSource) Produce() page.Record {
	sh, e := m.p.Produce()
	return page.Record{ID: e.ID, ShortHash: sh, Key: e.Key, Value: e.Value}
}

// Merger performs a two-source ascending merge of a and b.
type Merger struct {
	a, b        Source
	last        page.Record
	producedAny bool
}

// NewMerger returns a merger over a and b.
func NewMerger(a, b Source) *Merger {
	return &Merger{a: a, b: b}
}

// Valid reports whether either source still has records.
func (m *Merger) Valid() bool {
	return m.a.Valid() || m.b.Valid()
}

func (m *Merger) pickSide() Source {
	if !m.a.Valid() {
		return m.b
	}
	if !m.b.Valid() {
		return m.a
	}
	if m.a.Peek().ShortHash <= m.b.Peek().ShortHash {
		return m.a
	}
	return m.b
}

// Peek returns the smaller of the two sources' next records, without
// consuming it.
func (m *Merger) Peek() page.Record {
	return m.pickSide().Peek()
}

// Produce returns the smaller of the two sources' next records and
// advances that source.
func (m *Merger) Produce() page.Record {
	rec := m.pickSide().Produce()
	m.last = rec
	m.producedAny = true
	return rec
}

// InMiddleOfSameKey reports whether, since the last Produce, the next
// record to be produced shares the same short hash as the last one —
// used by the compactor to avoid splitting a short-hash group across
// two pages.
func (m *Merger) InMiddleOfSameKey() bool {
	if !m.producedAny || !m.Valid() {
		return false
	}
	return m.Peek().ShortHash == m.last.ShortHash
}
