// Package walcodec implements the in-memory-vault write-ahead-log record
// format: a concatenation of short-hash, id, key length+bytes, value
// length+bytes, all little-endian, with a leading CRC32 of that payload,
// using a seek-back-after-payload trick to patch in the checksum.
package walcodec

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// ErrCorrupt is returned when a record's checksum does not match its
// payload, or its declared lengths are implausible.
var ErrCorrupt = errors.New("walcodec: corrupt record")

// invalidCRC marks a record slot that was never finalized (e.g. truncated
// mid-write); Decode treats it as a clean end of log rather than corruption.
const invalidCRC = uint32(0xFFFFFFFF)

// Entry is one vault WAL record: a short-hash-keyed (key, value, id) triple.
type Entry struct {
	ShortHash uint64
	ID        int64
	Key       []byte
	Value     []byte
}

// Encode appends e to w, which must also implement io.Seeker so the
// checksum can be patched in after the payload is written.
func (e Entry) Encode(w io.Writer) error {
	seeker, ok := w.(io.Seeker)
	if !ok {
		return errors.New("walcodec: writer must be seekable")
	}

	crcPos, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, invalidCRC); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w, crc)

	if err := binary.Write(mw, binary.LittleEndian, e.ShortHash); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, e.ID); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, uint32(len(e.Key))); err != nil {
		return err
	}
	if _, err := mw.Write(e.Key); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, uint32(len(e.Value))); err != nil {
		return err
	}
	if _, err := mw.Write(e.Value); err != nil {
		return err
	}

	endPos, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := seeker.Seek(crcPos, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, crc.Sum32()); err != nil {
		return err
	}
	_, err = seeker.Seek(endPos, io.SeekStart)
	return err
}

func cleanEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return err
}

// Decode reads one Entry from r.
func Decode(r io.Reader) (*Entry, error) {
	var storedCRC uint32
	if err := binary.Read(r, binary.LittleEndian, &storedCRC); err != nil {
		return nil, cleanEOF(err)
	}
	if storedCRC == invalidCRC {
		return nil, io.EOF
	}

	crc := crc32.NewIEEE()
	tr := io.TeeReader(r, crc)

	var e Entry
	if err := binary.Read(tr, binary.LittleEndian, &e.ShortHash); err != nil {
		return nil, cleanEOF(err)
	}
	if err := binary.Read(tr, binary.LittleEndian, &e.ID); err != nil {
		return nil, cleanEOF(err)
	}
	var keyLen uint32
	if err := binary.Read(tr, binary.LittleEndian, &keyLen); err != nil {
		return nil, cleanEOF(err)
	}
	if keyLen > 1<<20 {
		return nil, ErrCorrupt
	}
	e.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(tr, e.Key); err != nil {
		return nil, cleanEOF(err)
	}
	var valLen uint32
	if err := binary.Read(tr, binary.LittleEndian, &valLen); err != nil {
		return nil, cleanEOF(err)
	}
	if valLen > 1<<28 {
		return nil, ErrCorrupt
	}
	e.Value = make([]byte, valLen)
	if _, err := io.ReadFull(tr, e.Value); err != nil {
		return nil, cleanEOF(err)
	}

	if crc.Sum32() != storedCRC {
		return nil, ErrCorrupt
	}

	return &e, nil
}
