// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package scheduler implements the controller's selection kernel and the
// three modes built on top of it (immediate placement, feasibility
// testing, and backfill-aware start-time prediction), plus the
// conservative backfill pass and job priority composition.
package scheduler

import (
	"sort"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/types"
)

// Reason names why a selection failed; the scheduler records it as the
// job's "why pending" string.
type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonRequiredNodeUnavailable Reason = "required-node-unavailable"
	ReasonContiguousUnavailable   Reason = "contiguous-unavailable"
	ReasonInsufficientResources   Reason = "insufficient-resources"
)

// Result is the outcome of a selection attempt.
type Result struct {
	Nodes  *bitmap.Set
	OK     bool
	Reason Reason
}

// Capacity reports the CPU count a node ordinal should contribute to a
// run's totals. run_now passes a node's live FreeCPUs (partial
// allocation on a shared/mixed node must be respected); test_only and
// will_run pass a node's full CPUs, since both modes reason about
// capacity independent of what is allocated on it right now.
type Capacity func(ordinal int) int32

// SelectBest implements the scheduler's selection kernel:
// given a job's request and a candidate bitmap already filtered to
// nodes that are size/feature/partition eligible and "available" under
// the calling mode's definition of available, it intersects req_nodes,
// clears exc_nodes, groups into contiguous runs, and picks the smallest
// run that fits (falling back to multi-set packing unless the job
// demands contiguity).
func SelectBest(req *types.Request, candidates *bitmap.Set, capacity Capacity) Result {
	cand := candidates.Clone()

	if req.ReqNodes != nil {
		required := req.ReqNodes.Clone()
		required.And(cand)
		if required.PopCount() < req.ReqNodes.PopCount() {
			return Result{OK: false, Reason: ReasonRequiredNodeUnavailable}
		}
		cand = required
	}
	if req.ExcNodes != nil {
		cand.AndNot(req.ExcNodes)
	}

	runs := cand.ContiguousRuns()
	if best, ok := bestFitContiguous(runs, req, capacity); ok {
		// Take only the prefix of the run actually needed, so a small
		// job landing in a large free run doesn't hold the whole run.
		chosen := bitmap.New(cand.Width())
		var nodes int32
		var cpus int32
		for i := best.Start; i < best.End; i++ {
			chosen.Set(i)
			nodes++
			cpus += capacity(i)
			if nodes >= req.NumNodes && cpus >= req.NumProcs {
				break
			}
		}
		return Result{OK: true, Nodes: chosen}
	}
	if req.Contiguous {
		return Result{OK: false, Reason: ReasonContiguousUnavailable}
	}

	chosen, ok := packMultiSet(runs, req, capacity, cand.Width())
	if !ok {
		return Result{OK: false, Reason: ReasonInsufficientResources}
	}
	return Result{OK: true, Nodes: chosen}
}

// bestFitContiguous picks the smallest run whose node and CPU counts
// both satisfy req, breaking ties by lower CPU count then lower start
// ordinal.
func bestFitContiguous(runs []bitmap.Run, req *types.Request, capacity Capacity) (bitmap.Run, bool) {
	var best bitmap.Run
	var bestCPUs int32
	found := false

	for _, run := range runs {
		nodeCount := run.Len()
		if int32(nodeCount) < req.NumNodes {
			continue
		}
		var cpus int32
		for i := run.Start; i < run.End; i++ {
			cpus += capacity(i)
		}
		if cpus < req.NumProcs {
			continue
		}
		if !found {
			best, bestCPUs, found = run, cpus, true
			continue
		}
		switch {
		case nodeCount < best.Len():
			best, bestCPUs = run, cpus
		case nodeCount == best.Len() && cpus < bestCPUs:
			best, bestCPUs = run, cpus
		case nodeCount == best.Len() && cpus == bestCPUs && run.Start < best.Start:
			best, bestCPUs = run, cpus
		}
	}
	return best, found
}

// packMultiSet implements step 7: take the largest remaining run first,
// filling node ordinals one at a time until both totals are satisfied,
// so the final run contributes only the prefix actually needed.
func packMultiSet(runs []bitmap.Run, req *types.Request, capacity Capacity, width int) (*bitmap.Set, bool) {
	ordered := append([]bitmap.Run(nil), runs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Len() > ordered[j].Len() })

	chosen := bitmap.New(width)
	var totalNodes int
	var totalCPUs int32

	for _, run := range ordered {
		if totalNodes >= int(req.NumNodes) && totalCPUs >= req.NumProcs {
			break
		}
		for i := run.Start; i < run.End; i++ {
			chosen.Set(i)
			totalNodes++
			totalCPUs += capacity(i)
			if totalNodes >= int(req.NumNodes) && totalCPUs >= req.NumProcs {
				break
			}
		}
	}

	if totalNodes < int(req.NumNodes) || totalCPUs < req.NumProcs {
		return nil, false
	}
	return chosen, true
}
