package memvault

import (
	"path/filepath"
	"testing"

	"github.com/Priyanshu23/chainkv/delbits"
)

func TestAddThenLookup(t *testing.T) {
	v, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	sh := uint64(1) << 56 // row 1
	v.Add(sh, Entry{Key: []byte("k1"), Value: []byte("v1"), ID: 0})

	got, ok := v.Lookup(sh, []byte("k1"), nil)
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if string(got.Value) != "v1" {
		t.Fatalf("got %q want v1", got.Value)
	}
}

func TestLookupSkipsTombstoned(t *testing.T) {
	dir := t.TempDir()
	del, err := delbits.Open(filepath.Join(dir, "del"))
	if err != nil {
		t.Fatal(err)
	}
	defer del.Close()

	v, err := New(filepath.Join(dir, "mvault"))
	if err != nil {
		t.Fatal(err)
	}

	sh := uint64(2) << 56
	v.Add(sh, Entry{Key: []byte("k"), Value: []byte("v"), ID: 5})
	del.Set(5)

	if _, ok := v.Lookup(sh, []byte("k"), del); ok {
		t.Fatal("expected tombstoned record to be hidden")
	}
}

func TestDuplicateKeysReturnFirstLiveInInsertionOrder(t *testing.T) {
	v, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	sh := uint64(3) << 56
	v.Add(sh, Entry{Key: []byte("k"), Value: []byte("old"), ID: 0})
	v.Add(sh, Entry{Key: []byte("k"), Value: []byte("new"), ID: 1})

	got, ok := v.Lookup(sh, []byte("k"), nil)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Value) != "old" {
		t.Fatalf("Lookup returns first live match in insertion order; got %q want old", got.Value)
	}
}

func TestRecoverReplaysLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mvault")

	v, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.OpenLog(0); err != nil {
		t.Fatal(err)
	}

	sh := uint64(4) << 56
	v.Add(sh, Entry{Key: []byte("k"), Value: []byte("v"), ID: 0})
	if _, err := v.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := v.CloseLog(); err != nil {
		t.Fatal(err)
	}

	recovered, err := Recover(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := recovered.Lookup(sh, []byte("k"), nil)
	if !ok || string(got.Value) != "v" {
		t.Fatalf("expected recovered entry v, got %+v ok=%v", got, ok)
	}
}

func TestGetKVProducerYieldsAscendingLiveRecords(t *testing.T) {
	v, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	row := 5
	base := uint64(row) << 56
	v.Add(base+2, Entry{Key: []byte("b"), Value: []byte("2"), ID: 0})
	v.Add(base+1, Entry{Key: []byte("a"), Value: []byte("1"), ID: 1})
	v.Add(base+3, Entry{Key: []byte("c"), Value: []byte("3"), ID: 2})

	p := v.GetKVProducer(row, nil)
	var keys []uint64
	for p.Valid() {
		k, _ := p.Produce()
		keys = append(keys, k)
	}
	want := []uint64{base + 1, base + 2, base + 3}
	if len(keys) != len(want) {
		t.Fatalf("got %v want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v want %v", keys, want)
		}
	}
}
