package kdbx

import (
	"encoding/binary"

	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// Reader walks a byte slice and refuses to read past its end. Every short
// read is a TruncatedFileError naming the section being read.
type Reader struct {
	data []byte
	off  int
}

// NewReader wraps data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Rest returns the unread bytes without consuming them.
func (r *Reader) Rest() []byte { return r.data[r.off:] }

// Next consumes n bytes. The returned slice aliases the input.
func (r *Reader) Next(n int, section string) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, &models.TruncatedFileError{Section: section, Need: n, Have: r.Remaining()}
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Byte consumes one byte.
func (r *Reader) Byte(section string) (byte, error) {
	b, err := r.Next(1, section)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 consumes a little-endian uint16.
func (r *Reader) Uint16(section string) (uint16, error) {
	b, err := r.Next(2, section)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 consumes a little-endian uint32.
func (r *Reader) Uint32(section string) (uint32, error) {
	b, err := r.Next(4, section)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 consumes a little-endian uint64.
func (r *Reader) Uint64(section string) (uint64, error) {
	b, err := r.Next(8, section)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Int32Len consumes a little-endian int32 length and rejects negative values.
func (r *Reader) Int32Len(section string) (int, error) {
	v, err := r.Uint32(section)
	if err != nil {
		return 0, err
	}
	if int32(v) < 0 {
		return 0, &models.FormatError{Reason: section + " has a negative length"}
	}
	return int(int32(v)), nil
}
