// Package uarc implements the primitive byte codec used by every other
// package: little-endian integers, UE-style length-prefixed strings, and raw
// spans over an in-memory byte image. It mirrors the engine's FArchive in
// spirit but operates on complete buffers, never on live file handles.
package uarc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// ErrTruncated reports a read that would pass the end of the declared input.
var ErrTruncated = errors.New("truncated input")

// Reader is a cursor over an immutable byte image.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Len() int  { return len(r.data) }
func (r *Reader) Tell() int { return r.pos }

func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return fmt.Errorf("seek to %d outside buffer of %d bytes: %w", pos, len(r.data), ErrTruncated)
	}
	r.pos = pos
	return nil
}

func (r *Reader) Skip(n int) error {
	return r.Seek(r.pos + n)
}

// Bytes returns a copy of n bytes from the cursor.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative span length %d", n)
	}
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, r.pos, len(r.data)-r.pos, ErrTruncated)
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:])
	r.pos += n
	return out, nil
}

// Span returns a view of n bytes without copying. Callers must not retain it
// past the lifetime of the underlying image.
func (r *Reader) Span(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("need %d bytes at offset %d: %w", n, r.pos, ErrTruncated)
	}
	s := r.data[r.pos : r.pos+n]
	r.pos += n
	return s, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.Span(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.Span(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.Span(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.Span(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

// CheckU32 reads a uint32 and fails unless it matches the expected constant.
// Used for fields the codec does not model but must see a known value in.
func (r *Reader) CheckU32(expected uint32, what string) error {
	off := r.pos
	v, err := r.U32()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if v != expected {
		return fmt.Errorf("%s at offset %d: expected %d, got %d", what, off, expected, v)
	}
	return nil
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// FString reads a UE serialized string: int32 length prefix including the
// terminator, negative for UTF-16LE payloads. A zero length yields "".
func (r *Reader) FString() (string, error) {
	n, err := r.I32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n < 0 {
		// UTF-16: -n code units including the terminator.
		units := int(-n)
		raw, err := r.Span(units * 2)
		if err != nil {
			return "", err
		}
		decoded, err := utf16le.NewDecoder().Bytes(raw[:2*(units-1)])
		if err != nil {
			return "", fmt.Errorf("decode utf-16 string: %w", err)
		}
		return string(decoded), nil
	}
	raw, err := r.Span(int(n))
	if err != nil {
		return "", err
	}
	return string(raw[:n-1]), nil
}

// Writer builds a byte image.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Len() int      { return len(w.buf) }
func (w *Writer) Tell() int     { return len(w.buf) }
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) U16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) U32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) U64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) I32(v int32) { w.U32(uint32(v)) }
func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

// Zeros appends n zero bytes.
func (w *Writer) Zeros(n int) {
	w.buf = append(w.buf, make([]byte, n)...)
}

// Align pads with zeros to the given boundary and returns the pad size.
func (w *Writer) Align(boundary int) int {
	pad := (boundary - len(w.buf)%boundary) % boundary
	w.Zeros(pad)
	return pad
}

// PatchU32 overwrites a previously written uint32 at the given offset.
// This is how forward references (sizes, skip offsets) are resolved after
// the data they describe has been emitted.
func (w *Writer) PatchU32(offset int, v uint32) error {
	if offset < 0 || offset+4 > len(w.buf) {
		return fmt.Errorf("patch at %d outside buffer of %d bytes", offset, len(w.buf))
	}
	binary.LittleEndian.PutUint32(w.buf[offset:], v)
	return nil
}

func (w *Writer) PatchU64(offset int, v uint64) error {
	if offset < 0 || offset+8 > len(w.buf) {
		return fmt.Errorf("patch at %d outside buffer of %d bytes", offset, len(w.buf))
	}
	binary.LittleEndian.PutUint64(w.buf[offset:], v)
	return nil
}

// FString writes a UE serialized string. ASCII strings are written as-is
// with a positive length prefix; anything else is encoded as UTF-16LE with
// a negative prefix. Both include a terminator.
func (w *Writer) FString(s string) error {
	if s == "" {
		w.I32(0)
		return nil
	}
	if isASCII(s) {
		w.I32(int32(len(s) + 1))
		w.Raw([]byte(s))
		w.U8(0)
		return nil
	}
	encoded, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return fmt.Errorf("encode utf-16 string: %w", err)
	}
	w.I32(int32(-(len(encoded)/2 + 1)))
	w.Raw(encoded)
	w.U16(0)
	return nil
}

// FStringSize returns the serialized size of a string, used for size-delta
// bookkeeping when the name table grows.
func FStringSize(s string) int {
	if s == "" {
		return 4
	}
	if isASCII(s) {
		return 4 + len(s) + 1
	}
	n := 0
	for range s {
		n++
	}
	return 4 + (n+1)*2
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
