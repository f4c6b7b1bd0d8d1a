// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire implements canonical, deterministic on-wire and on-disk
// serialization: every multi-field record is length-prefixed and field
// order is fixed by this package, never by struct reflection or map
// iteration, so that hashing and signing are stable across platforms and
// Go versions.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Writer accumulates a canonical byte encoding of a record's fields.
// Every variable-length field is preceded by its length, and the writer
// never depends on map or struct-reflection ordering.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with a pre-sized backing buffer.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes writes a length-prefixed byte slice.
func (w *Writer) Bytes(b []byte) *Writer {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, b...)
	return w
}

// String writes a length-prefixed string.
func (w *Writer) String(s string) *Writer {
	return w.Bytes([]byte(s))
}

// Uint64 writes a fixed-width big-endian uint64.
func (w *Writer) Uint64(v uint64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// Uint32 writes a fixed-width big-endian uint32.
func (w *Writer) Uint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// Byte writes a single byte.
func (w *Writer) Byte(v byte) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// BytesList writes a length-prefixed list of length-prefixed byte slices,
// in the order given (callers are responsible for sorting when the field
// is logically a set, e.g. the audit record's context pairs, so encoding
// stays deterministic; vertex parent hashes are encoded in list order).
func (w *Writer) BytesList(items [][]byte) *Writer {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(items)))
	w.buf = append(w.buf, lenBuf[:]...)
	for _, item := range items {
		w.Bytes(item)
	}
	return w
}

// Finish returns the accumulated canonical encoding.
func (w *Writer) Finish() []byte {
	return w.buf
}

// Reader decodes a canonical encoding produced by Writer, in the same field
// order the producer used.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Bytes() ([]byte, error) {
	if r.pos+4 > len(r.buf) {
		return nil, fmt.Errorf("wire: truncated length prefix at offset %d", r.pos)
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("wire: truncated payload (want %d bytes at offset %d)", n, r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) Uint64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("wire: truncated uint64 at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("wire: truncated uint32 at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *Reader) Byte() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("wire: truncated byte at offset %d", r.pos)
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) BytesList() ([][]byte, error) {
	if r.pos+4 > len(r.buf) {
		return nil, fmt.Errorf("wire: truncated list length at offset %d", r.pos)
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		item, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Remaining reports whether unread bytes remain.
func (r *Reader) Remaining() bool {
	return r.pos < len(r.buf)
}
