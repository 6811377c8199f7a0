package gendir

import (
	"os"
	"testing"
)

func TestOpenCreatesDir(t *testing.T) {
	dir := t.TempDir() + "/sub"
	d, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to exist: %v", err)
	}
	if gens := d.Generations(); len(gens) != 0 {
		t.Fatalf("expected empty dir, got %v", gens)
	}
}

func TestGenerationsSortedAndSkipsGarbage(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, g := range []int{5, 1, 3} {
		if _, err := d.Create(g); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(dir+"/not-a-number", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := d.Generations()
	want := []int{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestRemoveRange(t *testing.T) {
	dir := t.TempDir()
	d, _ := Open(dir)
	for _, g := range []int{1, 2, 3, 4} {
		d.Create(g)
	}
	if err := d.RemoveRange(2, 4); err != nil {
		t.Fatal(err)
	}
	got := d.Generations()
	want := []int{2, 3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestOpenAppendSeeksToEnd(t *testing.T) {
	dir := t.TempDir()
	d, _ := Open(dir)
	f, err := d.OpenAppend(1)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("hello"))
	f.Close()

	f2, err := d.OpenAppend(1)
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()
	pos, _ := f2.Seek(0, 1)
	if pos != 5 {
		t.Fatalf("expected offset 5 after reopen-append, got %d", pos)
	}
}
