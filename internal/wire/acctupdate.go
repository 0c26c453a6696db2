// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"fmt"
)

// RecordKind is the 16-bit discriminator on an accounting-store update
// object. The set is closed per protocol version; a decoder built
// against an older version skips unknown kinds by their length prefix
// rather than failing the whole batch, so a controller and its
// accounting store can be upgraded independently.
type RecordKind uint16

const (
	RecordAddUser RecordKind = iota + 1
	RecordModifyUser
	RecordRemoveUser
	RecordAddAccount
	RecordModifyAccount
	RecordRemoveAccount
	RecordAddAssoc
	RecordModifyAssoc
	RecordRemoveAssoc
	RecordAddQoS
	RecordModifyQoS
	RecordRemoveQoS
	RecordAddCluster
	RecordModifyCluster
	RecordRemoveCluster
	RecordJobStart
	RecordJobComplete
	RecordJobSuspend

	// recordKindMax is one past the last kind this version understands.
	recordKindMax
)

// Known reports whether k is a kind this protocol version decodes.
func (k RecordKind) Known() bool {
	return k >= RecordAddUser && k < recordKindMax
}

// RecordUpdate is one accounting-store update object: a kind plus a list
// of already-encoded payloads of the kind's element type. The element
// encoding is determined by the kind, not a per-element type tag.
type RecordUpdate struct {
	Kind     RecordKind
	Payloads [][]byte
}

// EncodeRecordUpdates frames a batch of updates. Each update is written
// as its kind, then a single length-prefixed frame holding the
// count-prefixed payload list, so a decoder that does not understand
// the kind can skip the frame wholesale.
func EncodeRecordUpdates(updates []RecordUpdate) ([]byte, error) {
	return Marshal(func(w *Writer) {
		w.WriteUint16(ProtocolVersion)
		w.WriteUint32(uint32(len(updates)))
		for _, u := range updates {
			w.WriteUint16(uint16(u.Kind))
			frame, err := Marshal(func(fw *Writer) {
				fw.WriteUint32(uint32(len(u.Payloads)))
				for _, p := range u.Payloads {
					fw.WriteBytes(p)
				}
			})
			if err != nil {
				w.fail(err)
				return
			}
			w.WriteBytes(frame)
		}
	})
}

// DecodeRecordUpdates is the inverse of EncodeRecordUpdates. Updates
// whose kind this version does not understand are skipped (their frame
// is consumed and discarded) and counted in the second return value.
func DecodeRecordUpdates(body []byte) ([]RecordUpdate, int, error) {
	r := NewReader(bytes.NewReader(body))

	version, err := r.ReadUint16()
	if err != nil {
		return nil, 0, err
	}
	if version > ProtocolVersion {
		return nil, 0, fmt.Errorf("wire: record update batch version %d newer than supported %d", version, ProtocolVersion)
	}

	count, err := r.ReadUint32()
	if err != nil {
		return nil, 0, err
	}
	if count > maxListLen {
		return nil, 0, fmt.Errorf("wire: record update count %d exceeds maximum %d", count, maxListLen)
	}

	var out []RecordUpdate
	skipped := 0
	for i := uint32(0); i < count; i++ {
		kind, err := r.ReadUint16()
		if err != nil {
			return nil, skipped, err
		}
		frame, err := r.ReadBytes()
		if err != nil {
			return nil, skipped, err
		}
		if !RecordKind(kind).Known() {
			skipped++
			continue
		}

		fr := NewReader(bytes.NewReader(frame))
		n, err := fr.ReadUint32()
		if err != nil {
			return nil, skipped, err
		}
		if n > maxListLen {
			return nil, skipped, fmt.Errorf("wire: record payload count %d exceeds maximum %d", n, maxListLen)
		}
		u := RecordUpdate{Kind: RecordKind(kind), Payloads: make([][]byte, n)}
		for j := range u.Payloads {
			if u.Payloads[j], err = fr.ReadBytes(); err != nil {
				return nil, skipped, err
			}
		}
		out = append(out, u)
	}
	return out, skipped, nil
}
