// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/slurmctld/core/internal/bitmap"
)

// MessageKind discriminates the body of a Message.
type MessageKind uint16

const (
	KindSubmitJobRequest MessageKind = 1
	KindSubmitJobReply   MessageKind = 2
	KindCancelJobRequest MessageKind = 3
	KindGenericReply     MessageKind = 4
	KindUpdateObject     MessageKind = 5
	KindPing             MessageKind = 6
	KindPong             MessageKind = 7
)

// Message is the envelope every wire frame carries: a protocol version,
// a kind tag, and an opaque length-prefixed body. ReadMessage/WriteMessage
// handle the envelope; callers encode/decode the body themselves with a
// Writer/Reader over the returned bytes.
type Message struct {
	Version uint16
	Kind    MessageKind
	Body    []byte
}

// WriteMessage writes m's envelope and body to w.
func WriteMessage(w io.Writer, m Message) error {
	ww := NewWriter(w)
	ww.WriteUint16(m.Version)
	ww.WriteUint16(uint16(m.Kind))
	ww.WriteBytes(m.Body)
	return ww.Flush()
}

// ReadMessage reads one envelope and body from r.
func ReadMessage(r io.Reader) (Message, error) {
	rr := NewReader(r)
	version, err := rr.ReadUint16()
	if err != nil {
		return Message{}, err
	}
	kind, err := rr.ReadUint16()
	if err != nil {
		return Message{}, err
	}
	body, err := rr.ReadBytes()
	if err != nil {
		return Message{}, err
	}
	if version != ProtocolVersion {
		return Message{}, fmt.Errorf("wire: unsupported protocol version %d (expected %d)", version, ProtocolVersion)
	}
	return Message{Version: version, Kind: MessageKind(kind), Body: body}, nil
}

// EncodeBitmap serializes a bitmap.Set as its width followed by its set
// ordinals, rather than the raw words, so the wire format is independent
// of word size and endianness of the encoding machine's bit packing.
func EncodeBitmap(w *Writer, s *bitmap.Set) {
	if s == nil {
		w.WriteUint32(0)
		w.WriteUint32(0)
		return
	}
	ordinals := s.Slice()
	w.WriteUint32(uint32(s.Width()))
	w.WriteUint32(uint32(len(ordinals)))
	for _, o := range ordinals {
		w.WriteUint32(uint32(o))
	}
}

// DecodeBitmap is the inverse of EncodeBitmap.
func DecodeBitmap(r *Reader) (*bitmap.Set, error) {
	width, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > maxListLen {
		return nil, fmt.Errorf("wire: bitmap ordinal count %d exceeds maximum %d", n, maxListLen)
	}
	set := bitmap.New(int(width))
	for i := uint32(0); i < n; i++ {
		ord, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		set.Set(int(ord))
	}
	return set, nil
}

// Marshal encodes fn's writes into a byte slice, the pattern every
// message-body encoder in this package follows.
func Marshal(fn func(*Writer)) ([]byte, error) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	fn(w)
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
