// Package wire provides little-endian primitives and NUL-terminated
// strings over a growable byte buffer, used by internal/bsdebug to encode
// and decode wire frames. It mirrors the cursor-and-buffer discipline the
// teacher's cannelloni codec applies per-field, generalized to a
// standalone reusable reader/writer instead of one-off binary.* calls.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortRead means the buffer does not yet hold enough bytes to satisfy
// the read. It is recoverable: callers retry once more bytes arrive.
var ErrShortRead = errors.New("wire: short read")

// ErrUnterminatedString means a cstring read ran off the end of the
// buffer without finding a NUL terminator.
var ErrUnterminatedString = errors.New("wire: unterminated cstring")

// Reader is a sequential little-endian reader over a byte slice with an
// independent read cursor. It never mutates the underlying slice.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reading starting at offset 0.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return ErrShortRead
	}
	return nil
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadU32LE reads a little-endian uint32.
func (r *Reader) ReadU32LE() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// ReadI32LE reads a little-endian int32.
func (r *Reader) ReadI32LE() (int32, error) {
	v, err := r.ReadU32LE()
	return int32(v), err
}

// ReadI64LE reads a little-endian int64.
func (r *Reader) ReadI64LE() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return int64(v), nil
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// ReadCString consumes bytes up to and including the next NUL, returning
// the preceding bytes as a string. If no NUL is found within the
// remaining buffer, it returns ErrUnterminatedString and does not advance
// the cursor. The bare handshake decoder treats this like ErrShortRead
// (more bytes may still be coming); decoders of a fully buffered,
// length-prefixed frame treat it as a malformed frame.
func (r *Reader) ReadCString() (string, error) {
	idx := -1
	for i := r.pos; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", ErrUnterminatedString
	}
	s := string(r.buf[r.pos:idx])
	r.pos = idx + 1
	return s, nil
}

// Writer is a sequential little-endian writer over a growable byte
// buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// WriteU8 appends a single byte.
func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

// WriteU32LE appends a little-endian uint32.
func (w *Writer) WriteU32LE(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteI32LE appends a little-endian int32.
func (w *Writer) WriteI32LE(v int32) { w.WriteU32LE(uint32(v)) }

// WriteI64LE appends a little-endian int64.
func (w *Writer) WriteI64LE(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(p []byte) { w.buf = append(w.buf, p...) }

// WriteCString appends s followed by a NUL terminator.
func (w *Writer) WriteCString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// InsertU32LEAtFront prepends a little-endian uint32 ahead of everything
// already written. Used by request/frame serialization: the header
// (which includes a length field) is only known once the body has been
// fully written, so it is prepended after the fact.
func (w *Writer) InsertU32LEAtFront(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(b[:], w.buf...)
}

// InsertBytesAtFront prepends raw bytes ahead of everything already
// written.
func (w *Writer) InsertBytesAtFront(p []byte) {
	buf := make([]byte, 0, len(p)+len(w.buf))
	buf = append(buf, p...)
	buf = append(buf, w.buf...)
	w.buf = buf
}
