package pageindex

import (
	"math/rand"
	"testing"
)

func TestSearchInvariant(t *testing.T) {
	ix := New()
	var v uint64
	n := 5000
	for i := 0; i < n; i++ {
		v += uint64(rand.Intn(5) + 1)
		ix.Append(v)
	}

	for trial := 0; trial < 2000; trial++ {
		target := uint64(rand.Intn(int(v) + 10))
		i := ix.Search(target)
		if i >= 0 {
			if ix.Get(i) > target {
				t.Fatalf("Get(%d)=%d > target %d", i, ix.Get(i), target)
			}
			if i+1 < ix.Len() && ix.Get(i+1) <= target {
				t.Fatalf("Get(%d)=%d should be > target %d", i+1, ix.Get(i+1), target)
			}
		} else if ix.Len() > 0 && ix.Get(0) <= target {
			t.Fatalf("search returned -1 but Get(0)=%d <= target %d", ix.Get(0), target)
		}
	}
}

func TestSearchBelowFirst(t *testing.T) {
	ix := New()
	ix.Append(10)
	ix.Append(20)
	if i := ix.Search(5); i != -1 {
		t.Fatalf("expected -1, got %d", i)
	}
}

func TestSearchSingleEntryAboveTarget(t *testing.T) {
	ix := New()
	ix.Append(10)
	if i := ix.Search(20); i != 0 {
		t.Fatalf("expected floor index 0, got %d", i)
	}
}

func TestSearchAcrossSegmentBoundary(t *testing.T) {
	ix := New()
	for i := 0; i < segmentSize+10; i++ {
		ix.Append(uint64(i))
	}
	if ix.Len() != segmentSize+10 {
		t.Fatalf("len = %d", ix.Len())
	}
	if i := ix.Search(uint64(segmentSize + 5)); i != segmentSize+5 {
		t.Fatalf("got %d want %d", i, segmentSize+5)
	}
}

func TestSearchExactTie(t *testing.T) {
	ix := New()
	for i := 0; i < 300; i++ {
		ix.Append(uint64(i * 2))
	}
	if i := ix.Search(200); ix.Get(i) != 200 {
		t.Fatalf("expected exact match at value 200, got Get(%d)=%d", i, ix.Get(i))
	}
}
