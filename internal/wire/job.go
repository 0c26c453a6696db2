// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"time"

	"github.com/slurmctld/core/internal/types"
)

// EncodeSubmitRequest serializes a job submission request body.
func EncodeSubmitRequest(assocID, qosID int32, partition string, req *types.Request) ([]byte, error) {
	return Marshal(func(w *Writer) {
		w.WriteInt32(assocID)
		w.WriteInt32(qosID)
		w.WriteString(partition)
		w.WriteInt32(req.NumProcs)
		w.WriteInt32(req.NumNodes)
		w.WriteInt32(req.MaxNodes)
		w.WriteString(req.Features)
		EncodeBitmap(w, req.ReqNodes)
		EncodeBitmap(w, req.ExcNodes)
		w.WriteBool(req.Contiguous)
		w.WriteString(string(req.Shared))
		w.WriteInt32(req.MinProcs)
		w.WriteInt64(req.MinMemory)
		w.WriteInt64(req.MinTmpDisk)
		var osVer *string
		if req.MinOSVersion != "" {
			osVer = &req.MinOSVersion
		}
		w.WriteOptionalString(osVer)
		w.WriteInt32(req.TimeLimit)
		w.WriteInt32(req.ProcsPerTask)
		w.WriteString(string(req.Distribution))
		w.WriteInt32(req.PlaneSize)
	})
}

// DecodeSubmitRequest is the inverse of EncodeSubmitRequest.
func DecodeSubmitRequest(body []byte) (assocID, qosID int32, partition string, req *types.Request, err error) {
	r := NewReader(bytes.NewReader(body))

	if assocID, err = r.ReadInt32(); err != nil {
		return
	}
	if qosID, err = r.ReadInt32(); err != nil {
		return
	}
	if partition, err = r.ReadString(); err != nil {
		return
	}
	req = &types.Request{}
	if req.NumProcs, err = r.ReadInt32(); err != nil {
		return
	}
	if req.NumNodes, err = r.ReadInt32(); err != nil {
		return
	}
	if req.MaxNodes, err = r.ReadInt32(); err != nil {
		return
	}
	if req.Features, err = r.ReadString(); err != nil {
		return
	}
	if req.ReqNodes, err = DecodeBitmap(r); err != nil {
		return
	}
	if req.ExcNodes, err = DecodeBitmap(r); err != nil {
		return
	}
	if req.Contiguous, err = r.ReadBool(); err != nil {
		return
	}
	var shared string
	if shared, err = r.ReadString(); err != nil {
		return
	}
	req.Shared = types.Shared(shared)
	if req.MinProcs, err = r.ReadInt32(); err != nil {
		return
	}
	if req.MinMemory, err = r.ReadInt64(); err != nil {
		return
	}
	if req.MinTmpDisk, err = r.ReadInt64(); err != nil {
		return
	}
	var osVer *string
	if osVer, err = r.ReadOptionalString(); err != nil {
		return
	}
	if osVer != nil {
		req.MinOSVersion = *osVer
	}
	if req.TimeLimit, err = r.ReadInt32(); err != nil {
		return
	}
	if req.ProcsPerTask, err = r.ReadInt32(); err != nil {
		return
	}
	var dist string
	if dist, err = r.ReadString(); err != nil {
		return
	}
	req.Distribution = types.DistPolicy(dist)
	req.PlaneSize, err = r.ReadInt32()
	return
}

// EncodeJobSnapshot serializes a job snapshot for RPC listing responses.
func EncodeJobSnapshot(w *Writer, j types.JobSnapshot) {
	w.WriteInt64(j.JobID)
	w.WriteString(j.Name)
	w.WriteInt32(j.AssocID)
	w.WriteInt32(j.QoSID)
	w.WriteString(j.Partition)
	w.WriteString(string(j.State))
	w.WriteString(j.StateReason)
	w.WriteInt64(j.Priority)
	w.WriteInt32(j.NumProcs)
	w.WriteInt32(j.NumNodes)
	w.WriteInt64(j.SubmitTime.Unix())
	w.WriteInt64(j.StartTime.Unix())
	w.WriteInt64(j.EndTime.Unix())
	w.WriteUint32(uint32(len(j.NodeList)))
	for _, n := range j.NodeList {
		w.WriteUint32(uint32(n))
	}
}

// DecodeJobSnapshot is the inverse of EncodeJobSnapshot.
func DecodeJobSnapshot(r *Reader) (types.JobSnapshot, error) {
	var j types.JobSnapshot
	var err error

	if j.JobID, err = r.ReadInt64(); err != nil {
		return j, err
	}
	if j.Name, err = r.ReadString(); err != nil {
		return j, err
	}
	if j.AssocID, err = r.ReadInt32(); err != nil {
		return j, err
	}
	if j.QoSID, err = r.ReadInt32(); err != nil {
		return j, err
	}
	if j.Partition, err = r.ReadString(); err != nil {
		return j, err
	}
	var state string
	if state, err = r.ReadString(); err != nil {
		return j, err
	}
	j.State = types.JobState(state)
	if j.StateReason, err = r.ReadString(); err != nil {
		return j, err
	}
	if j.Priority, err = r.ReadInt64(); err != nil {
		return j, err
	}
	if j.NumProcs, err = r.ReadInt32(); err != nil {
		return j, err
	}
	if j.NumNodes, err = r.ReadInt32(); err != nil {
		return j, err
	}
	submit, err := r.ReadInt64()
	if err != nil {
		return j, err
	}
	j.SubmitTime = time.Unix(submit, 0).UTC()
	start, err := r.ReadInt64()
	if err != nil {
		return j, err
	}
	j.StartTime = time.Unix(start, 0).UTC()
	end, err := r.ReadInt64()
	if err != nil {
		return j, err
	}
	j.EndTime = time.Unix(end, 0).UTC()

	n, err := r.ReadUint32()
	if err != nil {
		return j, err
	}
	j.NodeList = make([]int, n)
	for i := range j.NodeList {
		v, err := r.ReadUint32()
		if err != nil {
			return j, err
		}
		j.NodeList[i] = int(v)
	}
	return j, nil
}
