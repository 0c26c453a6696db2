// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/ctlerr"
	"github.com/slurmctld/core/internal/reservation"
	"github.com/slurmctld/core/internal/types"
)

// createReservationRequest is the wire shape for creating a node/time
// hold.
type createReservationRequest struct {
	Name      string   `json:"name"`
	Partition string   `json:"partition,omitempty"`
	Accounts  []string `json:"accounts,omitempty"`
	Users     []string `json:"users,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Flags     []string `json:"flags,omitempty"`
	Nodes     []int    `json:"nodes"`
	Comment   string   `json:"comment,omitempty"`
}

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	if s.Engine.Reservations == nil {
		writeJSON(w, http.StatusOK, []types.ReservationSnapshot{})
		return
	}
	list := s.Engine.Reservations.List()
	out := make([]types.ReservationSnapshot, 0, len(list))
	for _, res := range list {
		out = append(out, reservation.Snapshot(res))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["reservation_name"]
	if s.Engine.Reservations == nil {
		writeError(w, r, ctlerr.NotFoundf("reservation %q not found", name))
		return
	}
	res, ok := s.Engine.Reservations.Lookup(name)
	if !ok {
		writeError(w, r, ctlerr.NotFoundf("reservation %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, reservation.Snapshot(res))
}

func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	if s.Engine.Reservations == nil {
		writeError(w, r, ctlerr.InvalidInputf("reservations are not enabled on this controller"))
		return
	}
	var body createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, ctlerr.InvalidInputf("malformed request body: %v", err))
		return
	}
	if body.Name == "" {
		writeError(w, r, ctlerr.InvalidInputf("reservation name is required"))
		return
	}

	width := s.Engine.Nodes.Width()
	nodes := bitmap.New(width)
	for _, ord := range body.Nodes {
		if ord < 0 || ord >= width {
			writeError(w, r, ctlerr.InvalidInputf("node ordinal %d out of range", ord))
			return
		}
		nodes.Set(ord)
	}

	res := &types.Reservation{
		Name:      body.Name,
		Partition: body.Partition,
		Accounts:  toSet(body.Accounts),
		Users:     toSet(body.Users),
		StartTime: body.StartTime,
		EndTime:   body.EndTime,
		Flags:     toFlagSet(body.Flags),
		Nodes:     nodes,
		Comment:   body.Comment,
	}
	if err := s.Engine.Reservations.Create(res); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation.Snapshot(res))
}

func (s *Server) handleDeleteReservation(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["reservation_name"]
	if s.Engine.Reservations == nil {
		writeError(w, r, ctlerr.NotFoundf("reservation %q not found", name))
		return
	}
	if err := s.Engine.Reservations.Delete(name); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func toSet(vals []string) map[string]struct{} {
	if len(vals) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

func toFlagSet(vals []string) map[types.ReservationFlag]struct{} {
	if len(vals) == 0 {
		return nil
	}
	out := make(map[types.ReservationFlag]struct{}, len(vals))
	for _, v := range vals {
		out[types.ReservationFlag(v)] = struct{}{}
	}
	return out
}
