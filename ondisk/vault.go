// Package ondisk implements one generation's on-disk vault file: a dense
// sequence of page.Frame pages together with the in-memory page index
// used to binary-search a page by short hash, built around an
// append-then-flush block-packing loop generalized from length-prefixed
// blocks to fixed-size pages.
package ondisk

import (
	"fmt"
	"io"
	"os"

	"github.com/Priyanshu23/chainkv/page"
	"github.com/Priyanshu23/chainkv/pageindex"
)

// Vault is one generation's on-disk page file plus its page index.
type Vault struct {
	f   *os.File
	idx *pageindex.Index
}

// Create truncates (or creates) path for a fresh, empty vault.
func Create(path string) (*Vault, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("ondisk: create %s: %w", path, err)
	}
	return &Vault{f: f, idx: pageindex.New()}, nil
}

// Open opens an existing vault file read-write and rebuilds its page
// index by scanning every page in order.
func Open(path string) (*Vault, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ondisk: open %s: %w", path, err)
	}
	v := &Vault{f: f, idx: pageindex.New()}
	if err := v.rebuildIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return v, nil
}

func (v *Vault) rebuildIndex() error {
	for i := 0; ; i++ {
		frame, err := v.ReadPage(i)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		sh, ok := frame.FirstShortHash()
		if !ok {
			return nil
		}
		v.idx.Append(sh)
	}
}

// NumPages returns the number of complete pages currently in the file.
func (v *Vault) NumPages() int {
	return v.idx.Len()
}

// Index returns the vault's page index.
func (v *Vault) Index() *pageindex.Index {
	return v.idx
}

// ReadPage reads the i-th page (0-indexed) from the file.
func (v *Vault) ReadPage(i int) (*page.Frame, error) {
	var frame page.Frame
	n, err := v.f.ReadAt(frame[:], int64(i)*page.Size)
	if err == io.EOF && n == 0 {
		return nil, io.EOF
	}
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n < page.Size {
		return nil, io.EOF
	}
	return &frame, nil
}

// AppendPage packs recs into a new page, writes it at the end of the
// file, and records its first short hash in the page index.
func (v *Vault) AppendPage(recs []page.Record) error {
	var frame page.Frame
	frame.Fill(recs)
	off := int64(v.idx.Len()) * page.Size
	if _, err := v.f.WriteAt(frame[:], off); err != nil {
		return fmt.Errorf("ondisk: write page: %w", err)
	}
	sh, ok := frame.FirstShortHash()
	if !ok {
		return fmt.Errorf("ondisk: appended page has no records")
	}
	v.idx.Append(sh)
	return nil
}

// DeletionChecker reports whether a record id has been tombstoned.
type DeletionChecker interface {
	Get(id int64) bool
}

// Lookup finds shortHash/key among the vault's pages.
func (v *Vault) Lookup(shortHash uint64, key []byte, del DeletionChecker) (value []byte, id int64, ok bool) {
	i := v.idx.Search(shortHash)
	if i < 0 {
		return nil, 0, false
	}
	frame, err := v.ReadPage(i)
	if err != nil {
		return nil, 0, false
	}
	return frame.Lookup(shortHash, key, del)
}

// RowCount is the number of rows a short hash's top 8 bits select,
// mirroring memvault.RowCount (kept independent to avoid a package
// cycle: memvault also depends on nothing here, but both sit below
// compact).
const RowCount = 256

// RowPageRange returns the half-open page range [startPage, endPage)
// of pages whose first short hash falls in row's key range, per §4.i
// step 1. The compactor flushes its packer at the end of every row, so
// no page holds records of two rows.
func (v *Vault) RowPageRange(row int) (startPage, endPage int) {
	// firstPageFrom returns the index of the first page whose first short
	// hash is >= key.
	firstPageFrom := func(key uint64) int {
		if key == 0 {
			return 0
		}
		return v.idx.Search(key-1) + 1
	}
	startPage = firstPageFrom(uint64(row) << 56)
	if row == RowCount-1 {
		return startPage, v.NumPages()
	}
	return startPage, firstPageFrom(uint64(row+1) << 56)
}

// Sync fsyncs the vault file.
func (v *Vault) Sync() error {
	return v.f.Sync()
}

// Close closes the vault file.
func (v *Vault) Close() error {
	return v.f.Close()
}
