package walcodec

import (
	"io"
	"os"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "wal")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	entries := []Entry{
		{ShortHash: 1, ID: 0, Key: []byte("alpha"), Value: []byte("1")},
		{ShortHash: 2, ID: 1, Key: []byte("beta"), Value: []byte("2")},
		{ShortHash: 3, ID: 2, Key: []byte(""), Value: []byte("")},
	}
	for _, e := range entries {
		if err := e.Encode(f); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}

	for i, want := range entries {
		got, err := Decode(f)
		if err != nil {
			t.Fatalf("entry %d: %v", i, err)
		}
		if got.ShortHash != want.ShortHash || got.ID != want.ID ||
			string(got.Key) != string(want.Key) || string(got.Value) != string(want.Value) {
			t.Fatalf("entry %d: got %+v want %+v", i, got, want)
		}
	}

	if _, err := Decode(f); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestDecodeDetectsCorruption(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "wal")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	e := Entry{ShortHash: 1, ID: 0, Key: []byte("k"), Value: []byte("v")}
	if err := e.Encode(f); err != nil {
		t.Fatal(err)
	}

	// Flip a byte in the payload.
	if _, err := f.WriteAt([]byte{0xFF}, 10); err != nil {
		t.Fatal(err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(f); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}
