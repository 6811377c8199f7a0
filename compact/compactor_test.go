package compact

import (
	"path/filepath"
	"testing"

	"github.com/Priyanshu23/chainkv/bloomplane"
	"github.com/Priyanshu23/chainkv/delbits"
	"github.com/Priyanshu23/chainkv/memvault"
	"github.com/Priyanshu23/chainkv/ondisk"
	"github.com/Priyanshu23/chainkv/page"
	"github.com/Priyanshu23/chainkv/rentptr"
)

func newPlanes(size uint64) [RowCount]*rentptr.Ptr[bloomplane.Plane] {
	var planes [RowCount]*rentptr.Ptr[bloomplane.Plane]
	for i := range planes {
		planes[i] = rentptr.New(bloomplane.New(size))
	}
	return planes
}

func TestCompactorMergesOldVaultAndReadOnlyVault(t *testing.T) {
	dir := t.TempDir()
	seeds := bloomplane.SeedsFrom(1)

	oldVault, err := ondisk.Create(filepath.Join(dir, "old"))
	if err != nil {
		t.Fatal(err)
	}
	row := 7
	base := uint64(row) << 56
	if err := oldVault.AppendPage(pageRecords(base+1, "a", "1", 0)); err != nil {
		t.Fatal(err)
	}

	roVault, err := memvault.New(filepath.Join(dir, "mvault"))
	if err != nil {
		t.Fatal(err)
	}
	roVault.Add(base+2, memvault.Entry{Key: []byte("b"), Value: []byte("2"), ID: 1})

	overflow, err := memvault.New(filepath.Join(dir, "overflow"))
	if err != nil {
		t.Fatal(err)
	}

	del, err := delbits.Open(filepath.Join(dir, "del"))
	if err != nil {
		t.Fatal(err)
	}
	defer del.Close()

	newVault, err := ondisk.Create(filepath.Join(dir, "new"))
	if err != nil {
		t.Fatal(err)
	}
	defer newVault.Close()

	planes := newPlanes(uint64(bloomplane.EstimateSize(100, BitsPerEntry)))
	c := New(oldVault, newVault, roVault, overflow, del, planes, seeds, 1)

	if err := c.Run(); err != nil {
		t.Fatal(err)
	}
	if !c.Done() {
		t.Fatal("expected Done() after Run")
	}

	val, _, ok := newVault.Lookup(base+1, []byte("a"), nil)
	if !ok || string(val) != "1" {
		t.Fatalf("got %q ok=%v", val, ok)
	}
	val, _, ok = newVault.Lookup(base+2, []byte("b"), nil)
	if !ok || string(val) != "2" {
		t.Fatalf("got %q ok=%v", val, ok)
	}

	var mask bloomplane.Mask
	planes[row].RentConst(func(p *bloomplane.Plane) { mask = p.GetMask(base+1, seeds) })
	if !mask.Test(1) {
		t.Fatal("expected bloom mask bit 1 set for compacted key")
	}
}

func TestCompactorSkipsRowsWithNoRecords(t *testing.T) {
	dir := t.TempDir()
	seeds := bloomplane.SeedsFrom(1)

	oldVault, err := ondisk.Create(filepath.Join(dir, "old"))
	if err != nil {
		t.Fatal(err)
	}
	roVault, err := memvault.New(filepath.Join(dir, "mvault"))
	if err != nil {
		t.Fatal(err)
	}
	overflow, err := memvault.New(filepath.Join(dir, "overflow"))
	if err != nil {
		t.Fatal(err)
	}
	del, err := delbits.Open(filepath.Join(dir, "del"))
	if err != nil {
		t.Fatal(err)
	}
	defer del.Close()
	newVault, err := ondisk.Create(filepath.Join(dir, "new"))
	if err != nil {
		t.Fatal(err)
	}
	defer newVault.Close()

	planes := newPlanes(uint64(bloomplane.EstimateSize(100, BitsPerEntry)))
	c := New(oldVault, newVault, roVault, overflow, del, planes, seeds, 0)

	if err := c.Run(); err != nil {
		t.Fatal(err)
	}
	if newVault.NumPages() != 0 {
		t.Fatalf("expected no pages written, got %d", newVault.NumPages())
	}
}

func pageRecords(shortHash uint64, key, value string, id int64) []page.Record {
	return []page.Record{{ID: id, ShortHash: shortHash, Key: []byte(key), Value: []byte(value)}}
}
