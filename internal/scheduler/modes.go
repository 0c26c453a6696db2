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

// RunNow attempts to place job immediately: the candidate set is nodes
// that are statically eligible, partition members, and currently idle
// (or mixed, if sharing allows), using each node's live free CPUs as
// capacity. It does not mutate any registry; the caller installs the
// allocation (node registry, job store) only after checking Result.OK.
func RunNow(reg *noderegistry.Registry, partMembers *bitmap.Set, req *types.Request, allowMixed bool) Result {
	static := StaticCandidates(reg, req, partMembers)
	available := AvailableNow(reg, allowMixed)
	static.And(available)
	return SelectBest(req, static, LiveCapacity(reg))
}

// TestOnly evaluates feasibility against the union of all statically
// eligible, partition-member nodes, ignoring current allocation
// entirely: the answer is would-ever-run vs. impossible.
func TestOnly(reg *noderegistry.Registry, partMembers *bitmap.Set, req *types.Request) Result {
	static := StaticCandidates(reg, req, partMembers)
	return SelectBest(req, static, FullCapacity(reg))
}

// WillRun predicts a job's earliest start time by advancing a candidate
// time T over the sorted distinct end-times of currently running jobs,
// at each step testing selection against idle nodes plus any node that
// will have freed by T. It returns the smallest such T and the
// selection that succeeded there, or a zero time and a failed Result if
// the job can never fit even once every running job has finished.
func WillRun(reg *noderegistry.Registry, partMembers *bitmap.Set, req *types.Request, running []*types.Job, now time.Time) (time.Time, Result) {
	freeAt := nodeFreeTimes(running)
	static := StaticCandidates(reg, req, partMembers)
	idle := AvailableNow(reg, true)
	capacity := FullCapacity(reg)

	times := candidateTimes(freeAt, now)
	for _, t := range times {
		cand := static.Clone()
		cand.And(unionIdleAndFreeing(idle, freeAt, t, static.Width()))
		if res := SelectBest(req, cand, capacity); res.OK {
			return t, res
		}
	}
	return time.Time{}, Result{OK: false, Reason: ReasonInsufficientResources}
}

// nodeFreeTimes maps each allocated node ordinal to the latest predicted
// end time among the running jobs holding it.
func nodeFreeTimes(running []*types.Job) map[int]time.Time {
	free := make(map[int]time.Time)
	for _, j := range running {
		if j.Allocation == nil {
			continue
		}
		end := j.EffectiveEnd()
		j.Allocation.ForEach(func(idx int) {
			if cur, ok := free[idx]; !ok || end.After(cur) {
				free[idx] = end
			}
		})
	}
	return free
}

// candidateTimes returns the distinct freeing times at or after now, in
// ascending order, the set of T values WillRun must try.
func candidateTimes(freeAt map[int]time.Time, now time.Time) []time.Time {
	seen := make(map[int64]struct{}, len(freeAt))
	times := make([]time.Time, 0, len(freeAt)+1)
	times = append(times, now)
	seen[now.Unix()] = struct{}{}
	for _, t := range freeAt {
		if t.Before(now) {
			t = now
		}
		if _, ok := seen[t.Unix()]; ok {
			continue
		}
		seen[t.Unix()] = struct{}{}
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

func unionIdleAndFreeing(idle *bitmap.Set, freeAt map[int]time.Time, t time.Time, width int) *bitmap.Set {
	out := idle.Clone()
	for idx, freeTime := range freeAt {
		if idx >= width {
			continue
		}
		if !freeTime.After(t) {
			out.Set(idx)
		}
	}
	return out
}
