// Package gendir manages a directory of files named by integer generation
// number, as used for mvault/, vault/, and del/ under a store's data
// directory. It is adapted from segmentmanager/disk.go's directory-scanning
// and generation-ordering logic, generalized from size-triggered segment
// rotation to explicit generation-numbered file addressing.
package gendir

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Dir is a directory whose regular files are named by non-negative decimal
// integers.
type Dir struct {
	path string
}

// Open creates dir if missing and returns a handle to it. Existing files
// are enumerated later by Generations.
func Open(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("gendir: mkdir %s: %w", dir, err)
	}
	return &Dir{path: dir}, nil
}

// Generations returns every parsed generation number present in the
// directory, sorted ascending.
func (d *Dir) Generations() []int {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil
	}

	var gens []int
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n < 0 {
			fmt.Fprintf(os.Stderr, "gendir: skipping unparsable filename %q in %s\n", e.Name(), d.path)
			continue
		}
		gens = append(gens, n)
	}
	sort.Ints(gens)
	return gens
}

// Path returns the filesystem path of generation gen's file.
func (d *Dir) Path(gen int) string {
	return filepath.Join(d.path, strconv.Itoa(gen))
}

// OpenRead opens generation gen read-only.
func (d *Dir) OpenRead(gen int) (*os.File, error) {
	return os.OpenFile(d.Path(gen), os.O_RDONLY, 0o644)
}

// OpenAppend opens generation gen for append, creating it if absent, and
// seeks to the end so subsequent writes append (O_APPEND is avoided because
// the WAL record format seeks back to patch a checksum after writing the
// payload).
func (d *Dir) OpenAppend(gen int) (*os.File, error) {
	f, err := os.OpenFile(d.Path(gen), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Create truncates (or creates) generation gen's file for a fresh write.
func (d *Dir) Create(gen int) (*os.File, error) {
	return os.Create(d.Path(gen))
}

// Remove deletes generation gen's file, if present.
func (d *Dir) Remove(gen int) error {
	err := os.Remove(d.Path(gen))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoveRange deletes every existing file whose generation g lies outside
// lo <= g < hi, keeping only that window, mirroring bitarray.h's
// delete_useless_logs.
func (d *Dir) RemoveRange(lo, hi int) error {
	for _, g := range d.Generations() {
		if g < lo || g >= hi {
			if err := d.Remove(g); err != nil {
				return fmt.Errorf("gendir: remove %d: %w", g, err)
			}
		}
	}
	return nil
}
