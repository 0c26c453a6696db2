// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"bytes"
	"errors"
	"os"

	"github.com/slurmctld/core/internal/qos"
	"github.com/slurmctld/core/internal/types"
	"github.com/slurmctld/core/internal/wire"
)

// QoSUsageRecord is one QoS policy's rolled-up usage counters.
type QoSUsageRecord struct {
	ID      int32
	GrpUsed types.GroupUsage
}

// SaveQoSUsage writes every QoS policy's usage counters to dir/qos_usage.
func SaveQoSUsage(dir string, set *qos.Set) error {
	body, err := wire.Marshal(func(w *wire.Writer) {
		w.WriteUint16(wire.QoSUsageVersion)
		var records []QoSUsageRecord
		set.ForEach(func(q *types.QoS) {
			records = append(records, QoSUsageRecord{ID: q.ID, GrpUsed: q.GrpUsed})
		})
		w.WriteUint32(uint32(len(records)))
		for _, rec := range records {
			w.WriteInt32(rec.ID)
			encodeGroupUsage(w, rec.GrpUsed)
		}
	})
	if err != nil {
		return err
	}
	return writeAtomic(dir, qosUsageFile, body)
}

// LoadQoSUsage reads dir/qos_usage, returning (nil, nil) if absent.
func LoadQoSUsage(dir string) ([]QoSUsageRecord, error) {
	data, err := readFile(dir, qosUsageFile)
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
	out := make([]QoSUsageRecord, count)
	for i := range out {
		var rec QoSUsageRecord
		if rec.ID, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		if rec.GrpUsed, err = decodeGroupUsage(r); err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// ApplyQoSUsage replays records onto set, skipping any QoS ID no longer
// present (dropped from configuration since the save).
func ApplyQoSUsage(set *qos.Set, records []QoSUsageRecord) {
	for _, rec := range records {
		q, ok := set.ByID(rec.ID)
		if !ok {
			continue
		}
		q.GrpUsed = rec.GrpUsed
	}
}
