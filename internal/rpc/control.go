// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"net/http"
	"time"

	"github.com/slurmctld/core/internal/ctlerr"
)

// pingResponse is the liveness payload the ping operation returns.
type pingResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Watchers  int       `json:"watchers"`
}

// handlePing answers the ping operation: a cheap
// liveness probe that also surfaces how many watchers are attached to
// the Update Bus, useful for an operator checking whether handleWatch
// connections are piling up.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	watchers := 0
	if s.Engine != nil && s.Engine.Bus != nil {
		watchers = s.Engine.Bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, pingResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Watchers:  watchers,
	})
}

// handleReconfigure answers the reconfigure operation
// by delegating to the ReconfigureFunc cmd/slurmctld supplied at
// startup; the RPC layer itself owns no config state.
func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	if s.Reconfigure == nil {
		writeError(w, r, ctlerr.InvalidInputf("reconfigure is not wired on this controller"))
		return
	}
	if err := s.Reconfigure(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconfigured"})
}

// handleShutdown answers the shutdown operation by
// delegating to the ShutdownFunc cmd/slurmctld supplied at startup,
// which saves state and drains workers before the process exits.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if s.Shutdown == nil {
		writeError(w, r, ctlerr.InvalidInputf("shutdown is not wired on this controller"))
		return
	}
	if err := s.Shutdown(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
}
