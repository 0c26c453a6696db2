// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package jobstore holds the controller's job table: the keyed record set
// plus the secondary indexes the scheduler and RPC layer need (per-
// partition pending list, per-association running set, a chronological
// completion queue). Every public entry point checks a job's magic
// sentinel before touching it, the same use-after-free guard the node and
// partition registries rely on their ordinal/name indexes for.
package jobstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/capability"
	"github.com/slurmctld/core/internal/types"
)

// defaultPriority is assigned to a job whose submitter did not supply one
// (or isn't privileged to). The scheduler's age_factor and fair-share
// terms are added on top of this at evaluation time, not stored here.
const defaultPriority int64 = 1000

const maxNameLen = 256

// Store is the job table.
type Store struct {
	mu sync.Mutex // single writer; last level of the daemon's lock hierarchy

	byID      map[int64]*types.Job
	nextJobID int64

	pendingByPartition map[string][]int64
	runningByAssoc     map[int32]map[int64]struct{}
	completionQueue    []int64 // terminal jobs, oldest first

	bus       *bus.Bus
	retention time.Duration // minimum time a terminal record is kept before reaping

	// keySigner verifies a submission's partition key when the target
	// partition has RequireKey set. A
	// nil signer makes any RequireKey partition unconditionally reject
	// submissions, rather than silently accepting unsigned ones.
	keySigner capability.KeySigner
}

// SetKeySigner installs the credential-signing collaborator Submit
// consults for partitions with RequireKey set.
func (s *Store) SetKeySigner(signer capability.KeySigner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keySigner = signer
}

// New returns an empty Store. retention is the minimum dwell time a
// terminal job's record is kept after the job turns terminal before
// ReapTerminal may delete it; ReapTerminal also waits until its accounting
// sample has been persisted.
func New(b *bus.Bus, retention time.Duration) *Store {
	return &Store{
		byID:               make(map[int64]*types.Job),
		nextJobID:          1,
		pendingByPartition: make(map[string][]int64),
		runningByAssoc:     make(map[int32]map[int64]struct{}),
		bus:                b,
		retention:          retention,
	}
}

// Get returns the job with the given ID, checked against its magic
// sentinel.
func (s *Store) Get(jobID int64) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(jobID)
}

// get is Get without the lock; callers must already hold s.mu.
func (s *Store) get(jobID int64) (*types.Job, error) {
	j, ok := s.byID[jobID]
	if !ok {
		return nil, fmt.Errorf("jobstore: job %d not found", jobID)
	}
	if j.Magic != types.JobMagic {
		return nil, fmt.Errorf("jobstore: job %d failed magic check (got %#x)", jobID, j.Magic)
	}
	return j, nil
}

// PendingByPartition returns the pending jobs queued against partition,
// in submission order.
func (s *Store) PendingByPartition(partition string) []*types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.pendingByPartition[partition]
	out := make([]*types.Job, 0, len(ids))
	for _, id := range ids {
		if j, err := s.get(id); err == nil {
			out = append(out, j)
		}
	}
	return out
}

// RunningByAssoc returns the running jobs charging against assocID.
func (s *Store) RunningByAssoc(assocID int32) []*types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.runningByAssoc[assocID]
	out := make([]*types.Job, 0, len(ids))
	for id := range ids {
		if j, err := s.get(id); err == nil {
			out = append(out, j)
		}
	}
	return out
}

// ForEach calls f for every job currently in the store, in no particular
// order. f must not call back into the Store.
func (s *Store) ForEach(f func(*types.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.byID {
		if j.Magic != types.JobMagic {
			continue
		}
		f(j)
	}
}

// Snapshot returns a read-only view of jobID, for RPC responses.
func (s *Store) Snapshot(jobID int64) (types.JobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.get(jobID)
	if err != nil {
		return types.JobSnapshot{}, err
	}
	return snapshot(j), nil
}

// ListSnapshots returns a read-only view of every job in the store,
// optionally restricted to a single partition (empty string for all).
func (s *Store) ListSnapshots(partition string) []types.JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.JobSnapshot, 0, len(s.byID))
	for _, j := range s.byID {
		if j.Magic != types.JobMagic {
			continue
		}
		if partition != "" && j.Partition != partition {
			continue
		}
		out = append(out, snapshot(j))
	}
	return out
}

// Len reports how many job records are currently held, pending through
// reaped-but-not-yet-deleted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Restore installs a job record loaded from the persisted job_state
// file, rebuilding the pending/running secondary indexes
// exactly as the in-memory transitions would have, without re-running
// admission checks: the record already passed them once, at the original
// Submit call, before the controller last stopped.
func (s *Store) Restore(j *types.Job) error {
	if j.Magic != types.JobMagic {
		return fmt.Errorf("jobstore: restored job %d failed magic check (got %#x)", j.JobID, j.Magic)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[j.JobID]; exists {
		return fmt.Errorf("jobstore: duplicate job_id %d on restore", j.JobID)
	}
	s.byID[j.JobID] = j
	if j.JobID >= s.nextJobID {
		s.nextJobID = j.JobID + 1
	}

	switch j.State {
	case types.JobPending, types.JobStageIn:
		s.pendingByPartition[j.Partition] = append(s.pendingByPartition[j.Partition], j.JobID)
	case types.JobRunning, types.JobSuspended, types.JobStageOut:
		if s.runningByAssoc[j.AssocID] == nil {
			s.runningByAssoc[j.AssocID] = make(map[int64]struct{})
		}
		s.runningByAssoc[j.AssocID][j.JobID] = struct{}{}
	}
	if j.State.Terminal() {
		s.completionQueue = append(s.completionQueue, j.JobID)
	}
	return nil
}

func (s *Store) publish(kind bus.Kind, key string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.UpdateObject{Kind: kind, Key: key, Payload: payload, Timestamp: time.Now()})
}

func jobKey(id int64) string { return fmt.Sprintf("%d", id) }

func resolveShared(partition types.SharingPolicy, requested types.Shared) types.Shared {
	switch partition {
	case types.SharingForce:
		return types.SharedForce
	case types.SharingNo:
		if requested == types.SharedYes {
			return types.SharedNo
		}
	}
	if requested == types.SharedUnset {
		return types.SharedNo
	}
	return requested
}
