// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package jobstore

import (
	"fmt"
	"time"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/types"
)

func snapshot(j *types.Job) types.JobSnapshot {
	snap := types.JobSnapshot{
		JobID:       j.JobID,
		Name:        j.Name,
		AssocID:     j.AssocID,
		QoSID:       j.QoSID,
		Partition:   j.Partition,
		State:       j.State,
		StateReason: j.StateReason,
		Priority:    j.Priority,
		NumProcs:    j.Req.NumProcs,
		NumNodes:    j.Req.NumNodes,
		SubmitTime:  j.SubmitTime,
		StartTime:   j.StartTime,
		EndTime:     j.EndTime,
	}
	if j.Allocation != nil {
		snap.NodeList = j.Allocation.Slice()
	}
	return snap
}

func removeID(ids []int64, target int64) []int64 {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// MarkRunning transitions a pending job to running: the allocation
// bitmap must already be installed
// in the node registry before this is called, so no external observer
// ever sees "running" without a backing allocation.
func (s *Store) MarkRunning(jobID int64, nodes *bitmap.Set, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.get(jobID)
	if err != nil {
		return err
	}
	if j.State != types.JobPending && j.State != types.JobStageIn {
		return fmt.Errorf("jobstore: job %d not in a startable state (%s)", jobID, j.State)
	}

	s.pendingByPartition[j.Partition] = removeID(s.pendingByPartition[j.Partition], jobID)

	j.State = types.JobRunning
	j.StateReason = ""
	j.Allocation = nodes
	j.StartTime = now
	j.EndTime = j.EffectiveEnd()

	if s.runningByAssoc[j.AssocID] == nil {
		s.runningByAssoc[j.AssocID] = make(map[int64]struct{})
	}
	s.runningByAssoc[j.AssocID][jobID] = struct{}{}

	s.publish(bus.KindJobStart, jobKey(jobID), snapshot(j))
	return nil
}

// Suspend and Resume implement the lateral running<->suspended
// transitions permitted by the job state machine.
func (s *Store) Suspend(jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.get(jobID)
	if err != nil {
		return err
	}
	if j.State != types.JobRunning {
		return fmt.Errorf("jobstore: job %d not running, cannot suspend", jobID)
	}
	j.State = types.JobSuspended
	s.publish(bus.KindJobState, jobKey(jobID), j.State)
	return nil
}

func (s *Store) Resume(jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.get(jobID)
	if err != nil {
		return err
	}
	if j.State != types.JobSuspended {
		return fmt.Errorf("jobstore: job %d not suspended, cannot resume", jobID)
	}
	j.State = types.JobRunning
	s.publish(bus.KindJobState, jobKey(jobID), j.State)
	return nil
}

// Cancel implements the two-phase cancellation rule: a pending job
// flips directly to cancelled; a running job needs its allocation torn
// down first, so Cancel only flags the request and returns needsSignal
// true, leaving the actual terminal transition to a later Complete call
// once the owning agents acknowledge; no deadline in the controller forces
// that call.
func (s *Store) Cancel(jobID int64, now time.Time) (needsSignal bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.get(jobID)
	if err != nil {
		return false, err
	}
	if j.State.Terminal() {
		return false, fmt.Errorf("jobstore: job %d already terminal (%s)", jobID, j.State)
	}

	if j.State == types.JobPending || j.State == types.JobStageIn {
		s.pendingByPartition[j.Partition] = removeID(s.pendingByPartition[j.Partition], jobID)
		s.finishLocked(j, types.JobCancelled, now)
		return false, nil
	}

	j.StateReason = "cancel_requested"
	s.publish(bus.KindJobState, jobKey(jobID), j.State)
	return true, nil
}

// Complete moves a running (or stage-out/suspended) job to a terminal
// state. Callers must release the job's node allocation in the node
// registry before calling Complete, so the node registry and job store
// never disagree about whether a job still holds resources.
func (s *Store) Complete(jobID int64, final types.JobState, now time.Time) error {
	if !final.Terminal() {
		return fmt.Errorf("jobstore: %s is not a terminal state", final)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.get(jobID)
	if err != nil {
		return err
	}
	if j.State.Terminal() {
		return fmt.Errorf("jobstore: job %d already terminal (%s)", jobID, j.State)
	}
	if j.State == types.JobRunning || j.State == types.JobSuspended || j.State == types.JobStageOut {
		delete(s.runningByAssoc[j.AssocID], jobID)
	}
	s.finishLocked(j, final, now)
	return nil
}

// finishLocked applies the terminal transition; callers must hold s.mu.
func (s *Store) finishLocked(j *types.Job, final types.JobState, now time.Time) {
	j.State = final
	j.EndTime = now
	j.TerminalAt = now
	s.completionQueue = append(s.completionQueue, j.JobID)
	s.publish(bus.KindJobComplete, jobKey(j.JobID), snapshot(j))
}

// MarkAccountingPersisted records that a terminal job's accounting sample
// has been committed to the accounting store, the first of the two
// conditions ReapTerminal requires before deleting the record.
func (s *Store) MarkAccountingPersisted(jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.get(jobID)
	if err != nil {
		return err
	}
	j.AccountingPersisted = true
	return nil
}

// ReapTerminal deletes terminal job records whose accounting sample has
// been persisted and whose minimum retention has elapsed. The completion queue is
// chronological, so it scans from the oldest entry and stops at the
// first record not yet eligible.
func (s *Store) ReapTerminal(now time.Time) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []int64
	i := 0
	for ; i < len(s.completionQueue); i++ {
		id := s.completionQueue[i]
		j, ok := s.byID[id]
		if !ok {
			continue // already removed out of band
		}
		if !j.AccountingPersisted || now.Sub(j.TerminalAt) < s.retention {
			break
		}
		delete(s.byID, id)
		reaped = append(reaped, id)
		s.publish(bus.KindJobRemoved, jobKey(id), nil)
	}
	s.completionQueue = s.completionQueue[i:]
	return reaped
}
