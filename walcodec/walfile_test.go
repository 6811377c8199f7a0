package walcodec

import (
	"testing"

	"github.com/Priyanshu23/chainkv/gendir"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	dir, err := gendir.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWriter(dir, 0, 4)
	if err != nil {
		t.Fatal(err)
	}

	entries := []Entry{
		{ShortHash: 1, ID: 0, Key: []byte("a"), Value: []byte("1")},
		{ShortHash: 2, ID: 1, Key: []byte("b"), Value: []byte("2")},
	}
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var got []Entry
	for e, err := range r.Iter() {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, e)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i].ShortHash != entries[i].ShortHash || got[i].ID != entries[i].ID ||
			string(got[i].Key) != string(entries[i].Key) || string(got[i].Value) != string(entries[i].Value) {
			t.Fatalf("entry %d: got %+v want %+v", i, got[i], entries[i])
		}
	}
}

func TestWriteAfterCloseReturnsErrClosed(t *testing.T) {
	dir, err := gendir.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWriter(dir, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(Entry{ShortHash: 1}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
