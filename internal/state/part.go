// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/partregistry"
	"github.com/slurmctld/core/internal/wire"
)

// PartRecord is one partition's persisted dynamic state: membership and
// the up/down flag an operator may have toggled since configuration was
// last loaded.
type PartRecord struct {
	Name    string
	StateUp bool
	Members *bitmap.Set
}

func encodePartRecord(w *wire.Writer, p PartRecord) {
	w.WriteString(p.Name)
	w.WriteBool(p.StateUp)
	wire.EncodeBitmap(w, p.Members)
}

func decodePartRecord(r *wire.Reader) (PartRecord, error) {
	var p PartRecord
	var err error
	if p.Name, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.StateUp, err = r.ReadBool(); err != nil {
		return p, err
	}
	if p.Members, err = wire.DecodeBitmap(r); err != nil {
		return p, err
	}
	return p, nil
}

// SavePartState writes every partition's dynamic state to dir/part_state.
func SavePartState(dir string, reg *partregistry.Registry) error {
	body, err := wire.Marshal(func(w *wire.Writer) {
		w.WriteUint16(wire.PartStructVersion)
		names := reg.Names()
		w.WriteUint32(uint32(len(names)))
		for _, name := range names {
			part, ok := reg.Lookup(name)
			if !ok {
				continue
			}
			encodePartRecord(w, PartRecord{Name: part.Name, StateUp: part.StateUp, Members: part.Members})
		}
	})
	if err != nil {
		return err
	}
	return writeAtomic(dir, partStateFile, body)
}

// LoadPartState reads dir/part_state, returning (nil, nil) if absent.
func LoadPartState(dir string) ([]PartRecord, error) {
	data, err := readFile(dir, partStateFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(bytes.NewReader(data))
	if _, err := r.ReadUint16(); err != nil {
		return nil, err
	}
	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]PartRecord, count)
	for i := range out {
		if out[i], err = decodePartRecord(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyPartState replays records onto reg.
func ApplyPartState(reg *partregistry.Registry, records []PartRecord) error {
	for _, rec := range records {
		part, ok := reg.Lookup(rec.Name)
		if !ok {
			continue // partition dropped from configuration since the save
		}
		part.StateUp = rec.StateUp
		if rec.Members != nil {
			if rec.Members.Width() != part.Members.Width() {
				return fmt.Errorf("state: part_state membership width %d for %q does not match node registry width %d", rec.Members.Width(), rec.Name, part.Members.Width())
			}
			part.Members = rec.Members
		}
	}
	return nil
}
