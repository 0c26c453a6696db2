// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the controller's versioned, length-prefixed
// binary codec: the wire format client RPCs and the accounting-store RPC
// both serialize onto. Every integer is big-endian; every string is a
// uint32 byte length followed by UTF-8 bytes; every list is a uint32
// element count followed by that many encoded elements.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion is bumped whenever a breaking wire change ships. Every
// Message envelope carries it, and ReadMessage rejects an envelope whose
// version differs.
const ProtocolVersion uint16 = 1

// maxStringLen and maxListLen bound a single decode so a corrupt or
// hostile peer cannot force an unbounded allocation.
const (
	maxStringLen = 16 << 20 // 16 MiB
	maxListLen   = 1 << 20
)

// Struct-version tags prefixed onto each persisted state file. Each is bumped
// independently of ProtocolVersion since the on-disk layout and the RPC
// wire format are allowed to evolve on separate schedules.
const (
	NodeStructVersion uint16 = 1
	PartStructVersion uint16 = 1
	JobStructVersion  uint16 = 1
	AssocUsageVersion uint16 = 1
	QoSUsageVersion   uint16 = 1
)

// Writer encodes the wire primitives onto an io.Writer.
type Writer struct {
	w   *bufio.Writer
	err error
}

// NewWriter wraps w for buffered, big-endian encoding.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Err returns the first error encountered by any Write call.
func (w *Writer) Err() error { return w.err }

// Flush flushes the underlying buffer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.fail(w.w.WriteByte(v))
}

// WriteUint16 writes a big-endian uint16.
func (w *Writer) WriteUint16(v uint16) {
	if w.err != nil {
		return
	}
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.w.Write(buf[:])
	w.fail(err)
}

// WriteUint32 writes a big-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	if w.err != nil {
		return
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.w.Write(buf[:])
	w.fail(err)
}

// WriteInt32 writes a big-endian int32.
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

// WriteUint64 writes a big-endian uint64.
func (w *Writer) WriteUint64(v uint64) {
	if w.err != nil {
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.w.Write(buf[:])
	w.fail(err)
}

// WriteInt64 writes a big-endian int64.
func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

// WriteFloat64 writes a big-endian IEEE754 double via its bit pattern.
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(float64bits(v)) }

// WriteBool writes a single-byte boolean.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

// WriteBytes writes a uint32 length prefix followed by raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUint32(uint32(len(b)))
	if w.err != nil || len(b) == 0 {
		return
	}
	_, err := w.w.Write(b)
	w.fail(err)
}

// WriteString writes a length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) { w.WriteBytes([]byte(s)) }

// noString is the length prefix marking an absent (as opposed to empty)
// string on the wire.
const noString = ^uint32(0)

// WriteOptionalString writes s, or the absent-string marker when s is
// nil.
func (w *Writer) WriteOptionalString(s *string) {
	if s == nil {
		w.WriteUint32(noString)
		return
	}
	w.WriteString(*s)
}

// WriteStringList writes a count-prefixed list of strings.
func (w *Writer) WriteStringList(ss []string) {
	w.WriteUint32(uint32(len(ss)))
	for _, s := range ss {
		w.WriteString(s)
	}
}

// Reader decodes the wire primitives from an io.Reader.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for buffered, big-endian decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

func (r *Reader) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) { return r.r.ReadByte() }

// ReadUint16 reads a big-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	buf, err := r.readFull(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	buf, err := r.readFull(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// ReadInt32 reads a big-endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a big-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	buf, err := r.readFull(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

// ReadInt64 reads a big-endian int64.
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadFloat64 reads a big-endian IEEE754 double.
func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return float64frombits(v), nil
}

// ReadBool reads a single-byte boolean.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

// ReadBytes reads a uint32 length prefix followed by raw bytes.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > maxStringLen {
		return nil, fmt.Errorf("wire: byte string length %d exceeds maximum %d", n, maxStringLen)
	}
	return r.readFull(int(n))
}

// ReadOptionalString reads a string written by WriteOptionalString,
// returning nil for the absent-string marker.
func (r *Reader) ReadOptionalString() (*string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n == noString {
		return nil, nil
	}
	if n > maxStringLen {
		return nil, fmt.Errorf("wire: string length %d exceeds maximum %d", n, maxStringLen)
	}
	b, err := r.readFull(int(n))
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadStringList reads a count-prefixed list of strings.
func (r *Reader) ReadStringList() ([]string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > maxListLen {
		return nil, fmt.Errorf("wire: list length %d exceeds maximum %d", n, maxListLen)
	}
	out := make([]string, n)
	for i := range out {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
