// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"bytes"
	"errors"
	"os"
	"time"

	"github.com/slurmctld/core/internal/jobstore"
	"github.com/slurmctld/core/internal/types"
	"github.com/slurmctld/core/internal/wire"
)

func encodeAccountingSample(w *wire.Writer, a types.AccountingSample) {
	w.WriteInt64(a.PeriodStart.Unix())
	w.WriteInt64(a.PeriodEnd.Unix())
	w.WriteInt64(a.CPUSeconds)
	w.WriteInt64(a.MemoryMB)
	w.WriteInt64(a.EnergyJ)
}

func decodeAccountingSample(r *wire.Reader) (types.AccountingSample, error) {
	var a types.AccountingSample
	start, err := r.ReadInt64()
	if err != nil {
		return a, err
	}
	end, err := r.ReadInt64()
	if err != nil {
		return a, err
	}
	a.PeriodStart = time.Unix(start, 0).UTC()
	a.PeriodEnd = time.Unix(end, 0).UTC()
	if a.CPUSeconds, err = r.ReadInt64(); err != nil {
		return a, err
	}
	if a.MemoryMB, err = r.ReadInt64(); err != nil {
		return a, err
	}
	a.EnergyJ, err = r.ReadInt64()
	return a, err
}

// encodeJob writes j's full record, including its Request "details
// sub-record" whenever the job hasn't started.
func encodeJob(w *wire.Writer, j *types.Job) {
	w.WriteInt64(j.JobID)
	w.WriteInt32(j.AssocID)
	w.WriteInt32(j.QoSID)
	w.WriteString(j.Partition)
	w.WriteInt32(j.UID)
	w.WriteInt32(j.GID)
	w.WriteString(j.Name)
	w.WriteString(string(j.State))
	w.WriteString(j.StateReason)
	w.WriteInt64(j.Priority)
	w.WriteInt64(j.SubmitTime.Unix())
	w.WriteInt64(j.StartTime.Unix())
	w.WriteInt64(j.EndTime.Unix())
	w.WriteBool(j.Held)
	w.WriteBool(j.AccountingPersisted)
	w.WriteInt64(j.TerminalAt.Unix())

	hasDetails := j.State == types.JobPending || j.State == types.JobStageIn
	w.WriteBool(hasDetails)
	if hasDetails {
		encodeRequest(w, &j.Req)
	}

	wire.EncodeBitmap(w, j.Allocation)

	w.WriteUint32(uint32(len(j.Accounting)))
	for _, a := range j.Accounting {
		encodeAccountingSample(w, a)
	}
}

func decodeJob(r *wire.Reader) (*types.Job, error) {
	j := &types.Job{Magic: types.JobMagic}
	var err error
	if j.JobID, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if j.AssocID, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if j.QoSID, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if j.Partition, err = r.ReadString(); err != nil {
		return nil, err
	}
	if j.UID, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if j.GID, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if j.Name, err = r.ReadString(); err != nil {
		return nil, err
	}
	var state string
	if state, err = r.ReadString(); err != nil {
		return nil, err
	}
	j.State = types.JobState(state)
	if j.StateReason, err = r.ReadString(); err != nil {
		return nil, err
	}
	if j.Priority, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	submit, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	j.SubmitTime = time.Unix(submit, 0).UTC()
	start, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	j.StartTime = time.Unix(start, 0).UTC()
	end, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	j.EndTime = time.Unix(end, 0).UTC()
	if j.Held, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if j.AccountingPersisted, err = r.ReadBool(); err != nil {
		return nil, err
	}
	terminalAt, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	j.TerminalAt = time.Unix(terminalAt, 0).UTC()

	hasDetails, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	if hasDetails {
		req, err := decodeRequest(r)
		if err != nil {
			return nil, err
		}
		j.Req = *req
	}

	if j.Allocation, err = wire.DecodeBitmap(r); err != nil {
		return nil, err
	}

	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	j.Accounting = make([]types.AccountingSample, count)
	for i := range j.Accounting {
		if j.Accounting[i], err = decodeAccountingSample(r); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// encodeRequest/decodeRequest mirror wire.EncodeSubmitRequest's body
// without the assoc/qos/partition header fields already covered above.
func encodeRequest(w *wire.Writer, req *types.Request) {
	w.WriteInt32(req.NumProcs)
	w.WriteInt32(req.NumNodes)
	w.WriteInt32(req.MaxNodes)
	w.WriteString(req.Features)
	wire.EncodeBitmap(w, req.ReqNodes)
	wire.EncodeBitmap(w, req.ExcNodes)
	w.WriteBool(req.Contiguous)
	w.WriteString(string(req.Shared))
	w.WriteInt32(req.MinProcs)
	w.WriteInt64(req.MinMemory)
	w.WriteInt64(req.MinTmpDisk)
	w.WriteString(req.MinOSVersion)
	w.WriteInt32(req.TimeLimit)
	w.WriteInt32(req.ProcsPerTask)
	w.WriteString(string(req.Distribution))
	w.WriteInt32(req.PlaneSize)
}

func decodeRequest(r *wire.Reader) (*types.Request, error) {
	req := &types.Request{}
	var err error
	if req.NumProcs, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if req.NumNodes, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if req.MaxNodes, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if req.Features, err = r.ReadString(); err != nil {
		return nil, err
	}
	if req.ReqNodes, err = wire.DecodeBitmap(r); err != nil {
		return nil, err
	}
	if req.ExcNodes, err = wire.DecodeBitmap(r); err != nil {
		return nil, err
	}
	if req.Contiguous, err = r.ReadBool(); err != nil {
		return nil, err
	}
	var shared string
	if shared, err = r.ReadString(); err != nil {
		return nil, err
	}
	req.Shared = types.Shared(shared)
	if req.MinProcs, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if req.MinMemory, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if req.MinTmpDisk, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if req.MinOSVersion, err = r.ReadString(); err != nil {
		return nil, err
	}
	if req.TimeLimit, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if req.ProcsPerTask, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	var dist string
	if dist, err = r.ReadString(); err != nil {
		return nil, err
	}
	req.Distribution = types.DistPolicy(dist)
	req.PlaneSize, err = r.ReadInt32()
	return req, err
}

// SaveJobState writes every job currently in store to dir/job_state.
func SaveJobState(dir string, store *jobstore.Store) error {
	body, err := wire.Marshal(func(w *wire.Writer) {
		w.WriteUint16(wire.JobStructVersion)
		var jobs []*types.Job
		store.ForEach(func(j *types.Job) { jobs = append(jobs, j) })
		w.WriteUint32(uint32(len(jobs)))
		for _, j := range jobs {
			encodeJob(w, j)
		}
	})
	if err != nil {
		return err
	}
	return writeAtomic(dir, jobStateFile, body)
}

// LoadJobState reads dir/job_state, returning (nil, nil) if absent.
func LoadJobState(dir string) ([]*types.Job, error) {
	data, err := readFile(dir, jobStateFile)
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
	out := make([]*types.Job, count)
	for i := range out {
		if out[i], err = decodeJob(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyJobState restores every record into store via jobstore.Restore,
// the startup path that re-seeds pending/running indexes without
// re-running admission checks the jobs already passed once.
func ApplyJobState(store *jobstore.Store, jobs []*types.Job) error {
	for _, j := range jobs {
		if err := store.Restore(j); err != nil {
			return err
		}
	}
	return nil
}
