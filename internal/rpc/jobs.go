// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/engine"
	"github.com/slurmctld/core/internal/jobstore"
	"github.com/slurmctld/core/internal/types"
	"github.com/slurmctld/core/pkg/auth"
)

// submitJobRequest is the wire shape of the submit_job operation:
// jobstore.SubmitParams flattened for JSON.
type submitJobRequest struct {
	Name       string   `json:"name"`
	UID        int32    `json:"uid"`
	GID        int32    `json:"gid"`
	Groups     []string `json:"groups,omitempty"`
	Cluster    string   `json:"cluster"`
	Account    string   `json:"account"`
	User       string   `json:"user"`
	Partition  string   `json:"partition,omitempty"`
	QoS        string   `json:"qos,omitempty"`
	JobID      int64    `json:"job_id,omitempty"`
	Priority   int64    `json:"priority,omitempty"`
	Privileged bool     `json:"privileged,omitempty"`
	Held       bool     `json:"held,omitempty"`
	// PartitionKey is the base64-encoded signed credential required when
	// the target partition has RequireKey set.
	PartitionKey string `json:"partition_key,omitempty"`

	NumProcs     int32  `json:"num_procs"`
	NumNodes     int32  `json:"num_nodes,omitempty"`
	MaxNodes     int32  `json:"max_nodes,omitempty"`
	Features     string `json:"features,omitempty"`
	ReqNodes     []int  `json:"req_nodes,omitempty"`
	ExcNodes     []int  `json:"exc_nodes,omitempty"`
	Contiguous   bool   `json:"contiguous,omitempty"`
	Shared       string `json:"shared,omitempty"`
	MinProcs     int32  `json:"min_procs,omitempty"`
	MinMemory    int64  `json:"min_memory,omitempty"`
	MinTmpDisk   int64  `json:"min_tmp_disk,omitempty"`
	MinOSVersion string `json:"min_os_version,omitempty"`
	TimeLimit    int32  `json:"time_limit"`
	ProcsPerTask int32  `json:"procs_per_task,omitempty"`
	Distribution string `json:"distribution,omitempty"`
	PlaneSize    int32  `json:"plane_size,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var body submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, err)
		return
	}

	// An authenticated identity on the request headers (set by a caller
	// going through pkg/auth.TokenAuth.WithIdentity) overrides whatever
	// UID/GID/User/Groups the JSON body claims, so a submitter can't just
	// write someone else's identity into the body to submit on their behalf.
	if id, ok := auth.IdentityFromRequest(r); ok {
		body.User = id.User
		body.UID = id.UID
		body.GID = id.GID
		if len(id.Groups) > 0 {
			body.Groups = id.Groups
		}
	}

	req := types.Request{
		NumProcs:     body.NumProcs,
		NumNodes:     body.NumNodes,
		MaxNodes:     body.MaxNodes,
		Features:     body.Features,
		Contiguous:   body.Contiguous,
		Shared:       types.Shared(body.Shared),
		MinProcs:     body.MinProcs,
		MinMemory:    body.MinMemory,
		MinTmpDisk:   body.MinTmpDisk,
		MinOSVersion: body.MinOSVersion,
		TimeLimit:    body.TimeLimit,
		ProcsPerTask: body.ProcsPerTask,
		Distribution: types.DistPolicy(body.Distribution),
		PlaneSize:    body.PlaneSize,
	}
	width := s.Engine.Nodes.Width()
	if len(body.ReqNodes) > 0 {
		req.ReqNodes = bitmap.FromSlice(width, body.ReqNodes)
	}
	if len(body.ExcNodes) > 0 {
		req.ExcNodes = bitmap.FromSlice(width, body.ExcNodes)
	}

	var key []byte
	if body.PartitionKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(body.PartitionKey)
		if err != nil {
			writeError(w, r, err)
			return
		}
		key = decoded
	}

	jobID, err := s.Engine.Submit(jobstore.SubmitParams{
		Name:         body.Name,
		UID:          body.UID,
		GID:          body.GID,
		Groups:       body.Groups,
		Cluster:      body.Cluster,
		Account:      body.Account,
		User:         body.User,
		Partition:    body.Partition,
		QoSName:      body.QoS,
		Req:          req,
		PartitionKey: key,
		JobID:        body.JobID,
		Priority:     body.Priority,
		Privileged:   body.Privileged,
		Held:         body.Held,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"job_id": jobID})
}

func jobIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["job_id"], 10, 64)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.Engine.Jobs.Snapshot(jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	partition := r.URL.Query().Get("partition")
	writeJSON(w, http.StatusOK, s.Engine.Jobs.ListSnapshots(partition))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	needsSignal, err := s.Engine.CancelJob(jobID, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"signal_pending": needsSignal})
}

type signalJobRequest struct {
	Signal int `json:"signal"`
}

func (s *Server) handleSignalJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body signalJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Engine.SignalJob(r.Context(), jobID, body.Signal); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleSuspendJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Engine.SuspendJob(jobID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Engine.ResumeJob(jobID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type completeJobRequest struct {
	State string `json:"state"`
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body completeJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, err)
		return
	}
	final := types.JobState(body.State)
	if !final.Terminal() {
		writeError(w, r, errInvalidTerminalState(body.State))
		return
	}
	if err := s.Engine.CompleteJob(jobID, final, time.Now()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleUpdateJob implements the update_job operation's narrow scope:
// only priority and held may be changed out of band from the normal job
// state machine.
type updateJobRequest struct {
	Priority *int64 `json:"priority,omitempty"`
	Held     *bool  `json:"held,omitempty"`
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, err)
		return
	}
	j, err := s.Engine.Jobs.Get(jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if body.Priority != nil {
		j.Priority = *body.Priority
	}
	if body.Held != nil {
		j.Held = *body.Held
	}
	writeJSON(w, http.StatusOK, nil)
}

type allocateResourcesRequest struct {
	Mode string `json:"mode"`
}

type allocateResourcesResponse struct {
	OK            bool                `json:"ok"`
	Started       bool                `json:"started"`
	Reason        string              `json:"reason,omitempty"`
	Nodes         []int               `json:"nodes,omitempty"`
	StartEstimate *time.Time          `json:"start_estimate,omitempty"`
	Mode          engine.AllocateMode `json:"mode"`
}

func (s *Server) handleAllocateResources(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body allocateResourcesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, err)
		return
	}
	mode := engine.AllocateMode(body.Mode)
	if mode == "" {
		mode = engine.ModeRunNow
	}
	result, err := s.Engine.AllocateResources(jobID, mode, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := allocateResourcesResponse{OK: result.Result.OK, Started: result.Started, Reason: string(result.Result.Reason), Mode: mode}
	if result.Result.Nodes != nil {
		resp.Nodes = result.Result.Nodes.Slice()
	}
	if !result.StartEstimate.IsZero() {
		resp.StartEstimate = &result.StartEstimate
	}
	writeJSON(w, http.StatusOK, resp)
}
