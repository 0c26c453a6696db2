// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"bytes"
	"errors"
	"os"

	"github.com/slurmctld/core/internal/assoc"
	"github.com/slurmctld/core/internal/types"
	"github.com/slurmctld/core/internal/wire"
)

// AssocUsageRecord is one association's fair-share usage counters:
// UsageRaw/UsageNorm/UsageEfctv/SharesNorm plus the GroupUsage rollup
// counters enforced against GroupLimits.
type AssocUsageRecord struct {
	ID         int32
	Usage      types.GroupUsage
	UsedJobs   int32
	UsedSubmit int32
	UsageRaw   float64
	UsageNorm  float64
	UsageEfctv float64
	SharesNorm float64
}

func encodeGroupUsage(w *wire.Writer, u types.GroupUsage) {
	w.WriteInt64(u.GrpUsedCPUMins)
	w.WriteInt32(u.GrpUsedCPUs)
	w.WriteInt32(u.GrpUsedJobs)
	w.WriteInt32(u.GrpUsedNodes)
	w.WriteInt32(u.GrpUsedSubmitJobs)
	w.WriteInt64(u.GrpUsedWallMins)
}

func decodeGroupUsage(r *wire.Reader) (types.GroupUsage, error) {
	var u types.GroupUsage
	var err error
	if u.GrpUsedCPUMins, err = r.ReadInt64(); err != nil {
		return u, err
	}
	if u.GrpUsedCPUs, err = r.ReadInt32(); err != nil {
		return u, err
	}
	if u.GrpUsedJobs, err = r.ReadInt32(); err != nil {
		return u, err
	}
	if u.GrpUsedNodes, err = r.ReadInt32(); err != nil {
		return u, err
	}
	if u.GrpUsedSubmitJobs, err = r.ReadInt32(); err != nil {
		return u, err
	}
	u.GrpUsedWallMins, err = r.ReadInt64()
	return u, err
}

func encodeAssocUsageRecord(w *wire.Writer, rec AssocUsageRecord) {
	w.WriteInt32(rec.ID)
	encodeGroupUsage(w, rec.Usage)
	w.WriteInt32(rec.UsedJobs)
	w.WriteInt32(rec.UsedSubmit)
	w.WriteFloat64(rec.UsageRaw)
	w.WriteFloat64(rec.UsageNorm)
	w.WriteFloat64(rec.UsageEfctv)
	w.WriteFloat64(rec.SharesNorm)
}

func decodeAssocUsageRecord(r *wire.Reader) (AssocUsageRecord, error) {
	var rec AssocUsageRecord
	var err error
	if rec.ID, err = r.ReadInt32(); err != nil {
		return rec, err
	}
	if rec.Usage, err = decodeGroupUsage(r); err != nil {
		return rec, err
	}
	if rec.UsedJobs, err = r.ReadInt32(); err != nil {
		return rec, err
	}
	if rec.UsedSubmit, err = r.ReadInt32(); err != nil {
		return rec, err
	}
	if rec.UsageRaw, err = r.ReadFloat64(); err != nil {
		return rec, err
	}
	if rec.UsageNorm, err = r.ReadFloat64(); err != nil {
		return rec, err
	}
	if rec.UsageEfctv, err = r.ReadFloat64(); err != nil {
		return rec, err
	}
	rec.SharesNorm, err = r.ReadFloat64()
	return rec, err
}

// SaveAssocUsage writes every association's usage counters to
// dir/assoc_usage.
func SaveAssocUsage(dir string, tree *assoc.Tree) error {
	body, err := wire.Marshal(func(w *wire.Writer) {
		w.WriteUint16(wire.AssocUsageVersion)
		var records []AssocUsageRecord
		tree.ForEach(func(a *types.Association) {
			records = append(records, AssocUsageRecord{
				ID:         a.ID,
				Usage:      a.Usage,
				UsedJobs:   a.UsedJobs,
				UsedSubmit: a.UsedSubmitJobs,
				UsageRaw:   a.UsageRaw,
				UsageNorm:  a.UsageNorm,
				UsageEfctv: a.UsageEfctv,
				SharesNorm: a.SharesNorm,
			})
		})
		w.WriteUint32(uint32(len(records)))
		for _, rec := range records {
			encodeAssocUsageRecord(w, rec)
		}
	})
	if err != nil {
		return err
	}
	return writeAtomic(dir, assocUsageFile, body)
}

// LoadAssocUsage reads dir/assoc_usage, returning (nil, nil) if absent.
func LoadAssocUsage(dir string) ([]AssocUsageRecord, error) {
	data, err := readFile(dir, assocUsageFile)
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
	out := make([]AssocUsageRecord, count)
	for i := range out {
		if out[i], err = decodeAssocUsageRecord(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyAssocUsage replays records onto tree, skipping any association ID
// no longer present (dropped from configuration since the save).
func ApplyAssocUsage(tree *assoc.Tree, records []AssocUsageRecord) {
	for _, rec := range records {
		a, ok := tree.Get(rec.ID)
		if !ok {
			continue
		}
		a.Usage = rec.Usage
		a.UsedJobs = rec.UsedJobs
		a.UsedSubmitJobs = rec.UsedSubmit
		a.UsageRaw = rec.UsageRaw
		a.UsageNorm = rec.UsageNorm
		a.UsageEfctv = rec.UsageEfctv
		a.SharesNorm = rec.SharesNorm
	}
}
