// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rpcclient

import (
	"context"
	"fmt"
	"time"

	"github.com/slurmctld/core/internal/types"
)

const apiPrefix = "/slurmctld/v1"

// SubmitJobRequest mirrors internal/rpc's submitJobRequest wire shape.
type SubmitJobRequest struct {
	Name       string   `json:"name"`
	UID        int32    `json:"uid"`
	GID        int32    `json:"gid"`
	Groups     []string `json:"groups,omitempty"`
	Cluster    string   `json:"cluster"`
	Account    string   `json:"account"`
	User       string   `json:"user"`
	Partition  string   `json:"partition,omitempty"`
	QoS        string   `json:"qos,omitempty"`
	Priority   int64    `json:"priority,omitempty"`
	Held       bool     `json:"held,omitempty"`

	NumProcs   int32  `json:"num_procs"`
	NumNodes   int32  `json:"num_nodes,omitempty"`
	MaxNodes   int32  `json:"max_nodes,omitempty"`
	Features   string `json:"features,omitempty"`
	Contiguous bool   `json:"contiguous,omitempty"`
	Shared     string `json:"shared,omitempty"`
	MinProcs   int32  `json:"min_procs,omitempty"`
	MinMemory  int64  `json:"min_memory,omitempty"`
	TimeLimit  int32  `json:"time_limit"`
}

// SubmitJob submits a new job and returns its assigned job ID.
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (int64, error) {
	var out struct {
		JobID int64 `json:"job_id"`
	}
	if err := c.do(ctx, "POST", apiPrefix+"/jobs", req, &out); err != nil {
		return 0, err
	}
	return out.JobID, nil
}

// GetJob fetches a single job's snapshot.
func (c *Client) GetJob(ctx context.Context, jobID int64) (*types.JobSnapshot, error) {
	var out types.JobSnapshot
	if err := c.do(ctx, "GET", fmt.Sprintf("%s/jobs/%d", apiPrefix, jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs lists every job, optionally narrowed to one partition.
func (c *Client) ListJobs(ctx context.Context, partition string) ([]types.JobSnapshot, error) {
	path := apiPrefix + "/jobs"
	if partition != "" {
		path += "?partition=" + partition
	}
	var out []types.JobSnapshot
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelJob cancels a job. The returned bool reports whether a signal to
// a running job's launch agent is still pending.
func (c *Client) CancelJob(ctx context.Context, jobID int64) (bool, error) {
	var out struct {
		SignalPending bool `json:"signal_pending"`
	}
	if err := c.do(ctx, "DELETE", fmt.Sprintf("%s/jobs/%d", apiPrefix, jobID), nil, &out); err != nil {
		return false, err
	}
	return out.SignalPending, nil
}

// SignalJob sends a signal number to a running job.
func (c *Client) SignalJob(ctx context.Context, jobID int64, signal int) error {
	body := struct {
		Signal int `json:"signal"`
	}{Signal: signal}
	return c.do(ctx, "POST", fmt.Sprintf("%s/jobs/%d/signal", apiPrefix, jobID), body, nil)
}

// SuspendJob suspends a running job.
func (c *Client) SuspendJob(ctx context.Context, jobID int64) error {
	return c.do(ctx, "POST", fmt.Sprintf("%s/jobs/%d/suspend", apiPrefix, jobID), nil, nil)
}

// ResumeJob resumes a suspended job.
func (c *Client) ResumeJob(ctx context.Context, jobID int64) error {
	return c.do(ctx, "POST", fmt.Sprintf("%s/jobs/%d/resume", apiPrefix, jobID), nil, nil)
}

// CompleteJob marks a job complete with a terminal state.
func (c *Client) CompleteJob(ctx context.Context, jobID int64, state string) error {
	body := struct {
		State string `json:"state"`
	}{State: state}
	return c.do(ctx, "POST", fmt.Sprintf("%s/jobs/%d/complete", apiPrefix, jobID), body, nil)
}

// UpdateJob changes a job's priority and/or held flag.
func (c *Client) UpdateJob(ctx context.Context, jobID int64, priority *int64, held *bool) error {
	body := struct {
		Priority *int64 `json:"priority,omitempty"`
		Held     *bool  `json:"held,omitempty"`
	}{Priority: priority, Held: held}
	return c.do(ctx, "PATCH", fmt.Sprintf("%s/jobs/%d", apiPrefix, jobID), body, nil)
}

// AllocateResourcesResult mirrors internal/rpc's allocateResourcesResponse.
type AllocateResourcesResult struct {
	OK            bool       `json:"ok"`
	Started       bool       `json:"started"`
	Reason        string     `json:"reason,omitempty"`
	Nodes         []int      `json:"nodes,omitempty"`
	StartEstimate *time.Time `json:"start_estimate,omitempty"`
	Mode          string     `json:"mode"`
}

// AllocateResources drives the run_now/test_only/will_run selection
// kernel for a pending job. mode is "" (defaults to run_now),
// "test_only", or "will_run".
func (c *Client) AllocateResources(ctx context.Context, jobID int64, mode string) (*AllocateResourcesResult, error) {
	body := struct {
		Mode string `json:"mode"`
	}{Mode: mode}
	var out AllocateResourcesResult
	if err := c.do(ctx, "POST", fmt.Sprintf("%s/jobs/%d/allocate", apiPrefix, jobID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNode fetches a single node's snapshot.
func (c *Client) GetNode(ctx context.Context, name string) (*types.NodeSnapshot, error) {
	var out types.NodeSnapshot
	if err := c.do(ctx, "GET", apiPrefix+"/nodes/"+name, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListNodes lists every registered node.
func (c *Client) ListNodes(ctx context.Context) ([]types.NodeSnapshot, error) {
	var out []types.NodeSnapshot
	if err := c.do(ctx, "GET", apiPrefix+"/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateNode sets a node's dynamic state and/or records a health-check
// response.
func (c *Client) UpdateNode(ctx context.Context, name, state, reason string, responds bool) error {
	body := struct {
		State    string `json:"state,omitempty"`
		Reason   string `json:"reason,omitempty"`
		Responds bool   `json:"responds,omitempty"`
	}{State: state, Reason: reason, Responds: responds}
	return c.do(ctx, "PATCH", apiPrefix+"/nodes/"+name, body, nil)
}

// GetPartition fetches a single partition's snapshot.
func (c *Client) GetPartition(ctx context.Context, name string) (*types.PartitionSnapshot, error) {
	var out types.PartitionSnapshot
	if err := c.do(ctx, "GET", apiPrefix+"/partitions/"+name, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPartitions lists every registered partition.
func (c *Client) ListPartitions(ctx context.Context) ([]types.PartitionSnapshot, error) {
	var out []types.PartitionSnapshot
	if err := c.do(ctx, "GET", apiPrefix+"/partitions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePartition drains/undrains a partition or repoints the
// distinguished default.
func (c *Client) UpdatePartition(ctx context.Context, name string, stateUp *bool, makeDefault bool) error {
	body := struct {
		StateUp *bool `json:"state_up,omitempty"`
		Default *bool `json:"default,omitempty"`
	}{StateUp: stateUp}
	if makeDefault {
		t := true
		body.Default = &t
	}
	return c.do(ctx, "PATCH", apiPrefix+"/partitions/"+name, body, nil)
}

// CreateReservationRequest mirrors internal/rpc's createReservationRequest.
type CreateReservationRequest struct {
	Name      string    `json:"name"`
	Partition string    `json:"partition,omitempty"`
	Accounts  []string  `json:"accounts,omitempty"`
	Users     []string  `json:"users,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Flags     []string  `json:"flags,omitempty"`
	Nodes     []int     `json:"nodes"`
	Comment   string    `json:"comment,omitempty"`
}

// CreateReservation creates a time-bounded node/partition hold.
func (c *Client) CreateReservation(ctx context.Context, req CreateReservationRequest) (*types.ReservationSnapshot, error) {
	var out types.ReservationSnapshot
	if err := c.do(ctx, "POST", apiPrefix+"/reservations", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetReservation fetches a single reservation's snapshot.
func (c *Client) GetReservation(ctx context.Context, name string) (*types.ReservationSnapshot, error) {
	var out types.ReservationSnapshot
	if err := c.do(ctx, "GET", apiPrefix+"/reservations/"+name, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListReservations lists every reservation.
func (c *Client) ListReservations(ctx context.Context) ([]types.ReservationSnapshot, error) {
	var out []types.ReservationSnapshot
	if err := c.do(ctx, "GET", apiPrefix+"/reservations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteReservation removes a reservation by name.
func (c *Client) DeleteReservation(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", apiPrefix+"/reservations/"+name, nil, nil)
}

// Ping checks controller liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "GET", apiPrefix+"/ping", nil, nil)
}

// Reconfigure triggers the controller's config reload.
func (c *Client) Reconfigure(ctx context.Context) error {
	return c.do(ctx, "POST", apiPrefix+"/reconfigure", nil, nil)
}

// Shutdown triggers the controller's graceful shutdown.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, "POST", apiPrefix+"/shutdown", nil, nil)
}
