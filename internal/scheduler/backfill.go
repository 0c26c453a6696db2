// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"sort"
	"time"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/noderegistry"
	"github.com/slurmctld/core/internal/types"
)

// BackfillDecision is one pending job promoted by a backfill pass.
type BackfillDecision struct {
	JobID       int64
	NewPriority int64
	Nodes       *bitmap.Set
}

// reservationSlot is a higher-priority pending job's booked future
// start: the nodes WillRun predicted for it and the time it is expected
// to begin. A backfilled job must not occupy any reserved node past the
// reservation's start, or it would push that job's predicted start back.
type reservationSlot struct {
	nodes *bitmap.Set
	start time.Time
}

// PartitionMinima returns the smallest static capacity among a
// partition's member nodes, the cheap locality filter the backfill
// pass applies before attempting the expensive fit test.
func PartitionMinima(reg *noderegistry.Registry, partMembers *bitmap.Set) (cpus int32, memory, tmpDisk int64) {
	first := true
	partMembers.ForEach(func(idx int) {
		n, ok := reg.LookupOrdinal(idx)
		if !ok {
			return
		}
		if first {
			cpus, memory, tmpDisk = n.CPUs, n.RealMemory, n.TmpDisk
			first = false
			return
		}
		if n.CPUs < cpus {
			cpus = n.CPUs
		}
		if n.RealMemory < memory {
			memory = n.RealMemory
		}
		if n.TmpDisk < tmpDisk {
			tmpDisk = n.TmpDisk
		}
	})
	return cpus, memory, tmpDisk
}

// eligibleForBackfill applies the backfill pass's cheap locality
// filter: no explicit node pinning, no feature/contiguous
// restriction, and a footprint within the partition's current minima.
func eligibleForBackfill(req *types.Request, minCPUs int32, minMemory, minTmpDisk int64) bool {
	if req.ReqNodes != nil || req.ExcNodes != nil || req.Contiguous || req.Features != "" {
		return false
	}
	if req.MinProcs > minCPUs || req.MinMemory > minMemory || req.MinTmpDisk > minTmpDisk {
		return false
	}
	return true
}

// BackfillPass runs one conservative backfill evaluation over a
// partition's pending jobs. pending need not be
// pre-sorted; it is sorted here by descending priority, and P* (the
// highest pending priority) is recorded before any promotion so a
// promoted job's new priority (P*+1) cannot itself become the new P* for
// jobs considered later in the same pass.
//
// The walk books a reservation for every job that cannot start now: the
// nodes WillRun predicts it will run on and the time it is predicted to
// begin. A lower-priority job is promoted only when it can start
// immediately AND its footprint over [now, now+time_limit) touches no
// reserved node whose reservation begins inside that window — starting
// it can therefore never push a higher-priority job's predicted start
// later.
func BackfillPass(reg *noderegistry.Registry, partMembers *bitmap.Set, pending []*types.Job, running []*types.Job, now time.Time) []BackfillDecision {
	if len(pending) == 0 {
		return nil
	}

	ordered := append([]*types.Job(nil), pending...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		if !ordered[i].SubmitTime.Equal(ordered[j].SubmitTime) {
			return ordered[i].SubmitTime.Before(ordered[j].SubmitTime)
		}
		return ordered[i].JobID < ordered[j].JobID
	})

	pStar := ordered[0].Priority
	minCPUs, minMemory, minTmpDisk := PartitionMinima(reg, partMembers)

	simulated := append([]*types.Job(nil), running...)
	var reservations []reservationSlot
	var decisions []BackfillDecision

	for i, j := range ordered {
		if j.Held {
			continue
		}
		start, res := WillRun(reg, partMembers, &j.Req, simulated, now)
		if !res.OK {
			continue
		}

		if start.After(now) || i == 0 {
			// Cannot start now (or is the head-of-line job, which the
			// main scheduler owns): book its predicted footprint so
			// nothing later in this pass can delay it.
			reservations = append(reservations, reservationSlot{nodes: res.Nodes, start: start})
			simulated = append(simulated, &types.Job{
				JobID:      j.JobID,
				Req:        j.Req,
				State:      types.JobRunning,
				StartTime:  start,
				Allocation: res.Nodes,
			})
			continue
		}

		if !eligibleForBackfill(&j.Req, minCPUs, minMemory, minTmpDisk) {
			continue
		}

		// Re-select against nodes idle now minus every node reserved
		// before this job would finish: the valley test.
		end := now.Add(time.Duration(j.Req.TimeLimit) * time.Minute)
		cand := StaticCandidates(reg, &j.Req, partMembers)
		cand.And(AvailableNow(reg, false))
		for _, slot := range reservations {
			if slot.start.Before(end) {
				cand.AndNot(slot.nodes)
			}
		}
		fit := SelectBest(&j.Req, cand, LiveCapacity(reg))
		if !fit.OK {
			continue
		}

		decisions = append(decisions, BackfillDecision{
			JobID:       j.JobID,
			NewPriority: pStar + 1,
			Nodes:       fit.Nodes,
		})
		simulated = append(simulated, &types.Job{
			JobID:      j.JobID,
			Req:        j.Req,
			State:      types.JobRunning,
			StartTime:  now,
			Allocation: fit.Nodes,
		})
	}
	return decisions
}
