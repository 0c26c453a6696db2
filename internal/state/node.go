// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"bytes"
	"errors"
	"os"
	"time"

	"github.com/slurmctld/core/internal/noderegistry"
	"github.com/slurmctld/core/internal/types"
	"github.com/slurmctld/core/internal/wire"
)

// NodeRecord is one node's persisted dynamic state. Static capacity
// (CPUs, memory, features) comes back from configuration on every
// restart, not from this file; only the state a health probe or operator
// action changed at runtime needs to survive a controller restart.
type NodeRecord struct {
	Name            string
	State           types.NodeState
	LastResponse    int64 // unix seconds
	NotResponding   bool
	NotRespondSince int64
	AllocByJob      map[int64]int32
}

func encodeNodeRecord(w *wire.Writer, n NodeRecord) {
	w.WriteString(n.Name)
	w.WriteString(string(n.State))
	w.WriteInt64(n.LastResponse)
	w.WriteBool(n.NotResponding)
	w.WriteInt64(n.NotRespondSince)
	w.WriteUint32(uint32(len(n.AllocByJob)))
	for jobID, cpus := range n.AllocByJob {
		w.WriteInt64(jobID)
		w.WriteInt32(cpus)
	}
}

func decodeNodeRecord(r *wire.Reader) (NodeRecord, error) {
	var n NodeRecord
	var err error
	if n.Name, err = r.ReadString(); err != nil {
		return n, err
	}
	var state string
	if state, err = r.ReadString(); err != nil {
		return n, err
	}
	n.State = types.NodeState(state)
	if n.LastResponse, err = r.ReadInt64(); err != nil {
		return n, err
	}
	if n.NotResponding, err = r.ReadBool(); err != nil {
		return n, err
	}
	if n.NotRespondSince, err = r.ReadInt64(); err != nil {
		return n, err
	}
	count, err := r.ReadUint32()
	if err != nil {
		return n, err
	}
	n.AllocByJob = make(map[int64]int32, count)
	for i := uint32(0); i < count; i++ {
		jobID, err := r.ReadInt64()
		if err != nil {
			return n, err
		}
		cpus, err := r.ReadInt32()
		if err != nil {
			return n, err
		}
		n.AllocByJob[jobID] = cpus
	}
	return n, nil
}

// SaveNodeState writes every registered node's dynamic state to
// dir/node_state, prefixed by wire.NodeStructVersion.
func SaveNodeState(dir string, reg *noderegistry.Registry) error {
	body, err := wire.Marshal(func(w *wire.Writer) {
		w.WriteUint16(wire.NodeStructVersion)
		var records []NodeRecord
		reg.ForEach(func(n *types.Node) {
			records = append(records, NodeRecord{
				Name:            n.Name,
				State:           n.State,
				LastResponse:    n.LastResponse.Unix(),
				NotResponding:   n.NotResponding,
				NotRespondSince: n.NotRespondSince.Unix(),
				AllocByJob:      n.AllocByJob,
			})
		})
		w.WriteUint32(uint32(len(records)))
		for _, rec := range records {
			encodeNodeRecord(w, rec)
		}
	})
	if err != nil {
		return err
	}
	return writeAtomic(dir, nodeStateFile, body)
}

// LoadNodeState reads dir/node_state, returning (nil, nil) if the file
// does not exist (a fresh save directory).
func LoadNodeState(dir string) ([]NodeRecord, error) {
	data, err := readFile(dir, nodeStateFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(bytes.NewReader(data))
	if _, err := r.ReadUint16(); err != nil { // struct version; read and discarded
		return nil, err
	}
	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]NodeRecord, count)
	for i := range out {
		if out[i], err = decodeNodeRecord(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyNodeState replays records onto reg, the step cmd/slurmctld takes
// right after loading the node registry from configuration and before
// accepting RPCs, so nodes come back up in the state they were last
// known to be in rather than the configuration default.
func ApplyNodeState(reg *noderegistry.Registry, records []NodeRecord) {
	for _, rec := range records {
		n, ok := reg.Lookup(rec.Name)
		if !ok {
			continue // node dropped from configuration since the save
		}
		n.State = rec.State
		n.LastResponse = time.Unix(rec.LastResponse, 0).UTC()
		n.NotResponding = rec.NotResponding
		n.NotRespondSince = time.Unix(rec.NotRespondSince, 0).UTC()
		if rec.AllocByJob != nil {
			n.AllocByJob = rec.AllocByJob
		}
	}
}
