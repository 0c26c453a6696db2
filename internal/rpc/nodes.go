// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/slurmctld/core/internal/ctlerr"
	"github.com/slurmctld/core/internal/types"
	"github.com/slurmctld/core/pkg/logging"
)

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node_name"]
	n, ok := s.Engine.Nodes.Lookup(name)
	if !ok {
		writeError(w, r, errNodeNotFound(name))
		return
	}
	writeJSON(w, http.StatusOK, n.Snapshot())
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	names := s.Engine.Nodes.Names()
	out := make([]types.NodeSnapshot, 0, len(names))
	for _, name := range names {
		if n, ok := s.Engine.Nodes.Lookup(name); ok {
			out = append(out, n.Snapshot())
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// updateNodeRequest implements the update_node operation: an operator
// (or the node itself, reporting in) sets the node's dynamic state and
// records a health-check response.
type updateNodeRequest struct {
	State    string `json:"state,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Responds bool   `json:"responds,omitempty"`
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node_name"]
	var body updateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.State != "" {
		var from types.NodeState
		if n, ok := s.Engine.Nodes.Lookup(name); ok {
			from = n.State
		}
		if err := s.Engine.Nodes.SetState(name, types.NodeState(body.State), body.Reason); err != nil {
			writeError(w, r, err)
			return
		}
		logging.LogNodeStateChange(s.log, name, string(from), body.State, body.Reason)
	}
	if body.Responds {
		if err := s.Engine.Nodes.RecordResponse(name, time.Now()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleRemoveNode implements the registry's logical node removal
// contract: the node is marked DOWN and unlinked
// from its name, but its bitmap ordinal is never reassigned, so snapshots
// taken before removal (a job's recorded allocation, a reservation)
// continue to name the same node.
func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node_name"]
	var from types.NodeState
	if n, ok := s.Engine.Nodes.Lookup(name); ok {
		from = n.State
	}
	if err := s.Engine.Nodes.Remove(name); err != nil {
		writeError(w, r, errNodeNotFound(name))
		return
	}
	logging.LogNodeStateChange(s.log, name, string(from), string(types.NodeStateDown), "removed")
	writeJSON(w, http.StatusOK, nil)
}

func errNodeNotFound(name string) error {
	return ctlerr.NotFoundf("node %q not found", name)
}
