// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/slurmctld/core/internal/ctlerr"
	"github.com/slurmctld/core/internal/types"
)

// partitionSnapshot fills in the derived TotalCPUs field, which the
// partition record itself cannot compute without the node registry.
func (s *Server) partitionSnapshot(p *types.Partition) types.PartitionSnapshot {
	snap := p.Snapshot()
	p.Members.ForEach(func(idx int) {
		if n, ok := s.Engine.Nodes.LookupOrdinal(idx); ok {
			snap.TotalCPUs += n.CPUs
		}
	})
	return snap
}

func (s *Server) handleGetPartition(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["partition_name"]
	p, ok := s.Engine.Parts.Lookup(name)
	if !ok {
		writeError(w, r, errPartitionNotFound(name))
		return
	}
	writeJSON(w, http.StatusOK, s.partitionSnapshot(p))
}

func (s *Server) handleListPartitions(w http.ResponseWriter, r *http.Request) {
	names := s.Engine.Parts.Names()
	out := make([]types.PartitionSnapshot, 0, len(names))
	for _, name := range names {
		if p, ok := s.Engine.Parts.Lookup(name); ok {
			out = append(out, s.partitionSnapshot(p))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// updatePartitionRequest implements the update_partition operation: an
// operator may drain a partition (state_up=false) or repoint the
// distinguished default partition.
type updatePartitionRequest struct {
	StateUp *bool `json:"state_up,omitempty"`
	Default *bool `json:"default,omitempty"`
}

func (s *Server) handleUpdatePartition(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["partition_name"]
	var body updatePartitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.StateUp != nil {
		if err := s.Engine.Parts.SetUp(name, *body.StateUp); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if body.Default != nil && *body.Default {
		if err := s.Engine.Parts.SetDefault(name); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

func errPartitionNotFound(name string) error {
	return ctlerr.NotFoundf("partition %q not found", name)
}
