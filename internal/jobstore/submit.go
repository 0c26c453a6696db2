// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package jobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/slurmctld/core/internal/assoc"
	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/partregistry"
	"github.com/slurmctld/core/internal/qos"
	"github.com/slurmctld/core/internal/types"
)

// SubmitParams collects a Submit operation's inputs.
type SubmitParams struct {
	Name    string
	UID     int32
	GID     int32
	Groups  []string // the submitting credential's unix groups, for partition ACL
	Cluster string
	Account string
	User    string

	Partition string // "" resolves to the partition registry's default
	QoSName   string // "" resolves to no QoS

	Req types.Request

	JobID      int64 // caller-specified id; 0 means assign the next one
	Priority   int64 // caller-supplied priority; honored only if Privileged
	Privileged bool
	Held       bool

	// PartitionKey is the signed credential a submitter presents when the
	// target partition has RequireKey set. Ignored
	// for partitions that don't require one.
	PartitionKey []byte
}

// Submit validates and enqueues a new job as pending. It resolves the
// partition, association, and QoS, applies partition
// caps to the request, and runs the three-stage association limit check
// before allocating a record.
func (s *Store) Submit(parts *partregistry.Registry, tree *assoc.Tree, qset *qos.Set, p SubmitParams) (int64, error) {
	if err := validateSubmit(p); err != nil {
		return 0, err
	}

	part, err := resolvePartition(parts, p.Partition, p.Groups)
	if err != nil {
		return 0, err
	}

	if part.RequireKey {
		if err := s.verifyPartitionKey(part, p); err != nil {
			return 0, err
		}
	}

	a, ok := tree.Find(p.Cluster, p.Account, p.User, "")
	if !ok {
		return 0, fmt.Errorf("jobstore: user %q has no association on account %q, cluster %q", p.User, p.Account, p.Cluster)
	}

	var q *types.QoS
	if p.QoSName != "" {
		q, ok = qset.ByName(p.QoSName)
		if !ok {
			return 0, fmt.Errorf("jobstore: qos %q not found", p.QoSName)
		}
		if _, permitted := a.QoSIDs[q.ID]; !permitted {
			return 0, fmt.Errorf("jobstore: association for user %q is not permitted qos %q", p.User, p.QoSName)
		}
	}

	req := p.Req
	if err := applyPartitionCaps(part, &req); err != nil {
		return 0, err
	}
	req.Shared = resolveShared(part.Sharing, req.Shared)

	if err := assoc.CheckAdmission(tree, a, q, &req); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobID := p.JobID
	if jobID != 0 {
		if _, exists := s.byID[jobID]; exists {
			return 0, fmt.Errorf("jobstore: duplicate job_id %d", jobID)
		}
	} else {
		jobID = s.nextJobID
	}
	if jobID >= s.nextJobID {
		s.nextJobID = jobID + 1
	}

	priority := defaultPriority
	if p.Privileged && p.Priority != 0 {
		priority = p.Priority
	}
	if p.Held {
		priority = 0
	}

	var qosID int32
	if q != nil {
		qosID = q.ID
	}

	now := time.Now()
	job := &types.Job{
		Magic:      types.JobMagic,
		JobID:      jobID,
		AssocID:    a.ID,
		QoSID:      qosID,
		Partition:  part.Name,
		UID:        p.UID,
		GID:        p.GID,
		Name:       p.Name,
		Req:        req,
		State:      types.JobPending,
		Priority:   priority,
		SubmitTime: now,
		Held:       p.Held,
	}

	s.byID[jobID] = job
	s.pendingByPartition[part.Name] = append(s.pendingByPartition[part.Name], jobID)

	s.publish(bus.KindJobNew, jobKey(jobID), snapshot(job))
	return jobID, nil
}

// verifyPartitionKey checks p's signed credential against part's
// RequireKey gate. The signed payload is the partition name plus the
// submitting user, so a key signed for one partition/user pair can't be
// replayed against another.
func (s *Store) verifyPartitionKey(part *types.Partition, p SubmitParams) error {
	s.mu.Lock()
	signer := s.keySigner
	s.mu.Unlock()
	if signer == nil {
		return fmt.Errorf("jobstore: partition %q requires a key but no key signer is configured", part.Name)
	}
	if len(p.PartitionKey) == 0 {
		return fmt.Errorf("jobstore: partition %q requires a key, none supplied", part.Name)
	}
	payload := []byte(part.Name + ":" + p.User)
	if err := signer.Verify(context.Background(), payload, p.PartitionKey); err != nil {
		return fmt.Errorf("jobstore: partition %q key verification failed: %w", part.Name, err)
	}
	return nil
}

func validateSubmit(p SubmitParams) error {
	if len(p.Name) == 0 || len(p.Name) > maxNameLen {
		return fmt.Errorf("jobstore: job name length %d out of bounds (1..%d)", len(p.Name), maxNameLen)
	}
	if p.User == "" {
		return fmt.Errorf("jobstore: submit requires a user")
	}
	if p.Req.NumProcs <= 0 && p.Req.NumNodes <= 0 {
		return fmt.Errorf("jobstore: request must specify num_procs or num_nodes")
	}
	return nil
}

func resolvePartition(parts *partregistry.Registry, name string, groups []string) (*types.Partition, error) {
	var part *types.Partition
	var ok bool
	if name == "" {
		part, ok = parts.Default()
		if !ok {
			return nil, fmt.Errorf("jobstore: no partition specified and no default partition configured")
		}
	} else {
		part, ok = parts.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("jobstore: partition %q not found", name)
		}
	}
	if !part.StateUp {
		return nil, fmt.Errorf("jobstore: partition %q is down, not accepting submissions", part.Name)
	}
	if !part.AllowsGroup(groups) {
		return nil, fmt.Errorf("jobstore: submitting group not permitted on partition %q", part.Name)
	}
	return part, nil
}

// applyPartitionCaps clamps/validates req against part's configured
// bounds.
// Node-count bounds are a hard rejection since they cannot be silently
// satisfied; the time limit is clamped down, matching Slurm's own
// partition MaxTime behavior.
func applyPartitionCaps(part *types.Partition, req *types.Request) error {
	if part.MaxNodes > 0 && req.NumNodes > part.MaxNodes {
		return fmt.Errorf("jobstore: requested nodes %d exceeds partition %q max_nodes %d", req.NumNodes, part.Name, part.MaxNodes)
	}
	if part.MinNodes > 0 && req.NumNodes > 0 && req.NumNodes < part.MinNodes {
		return fmt.Errorf("jobstore: requested nodes %d below partition %q min_nodes %d", req.NumNodes, part.Name, part.MinNodes)
	}
	if part.MaxTime > 0 && (req.TimeLimit <= 0 || req.TimeLimit > part.MaxTime) {
		req.TimeLimit = part.MaxTime
	}
	return nil
}
