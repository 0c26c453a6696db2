// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package engine wires the node/partition/association/QoS/job components
// together into the daemon's scheduling loop:
// a tick that walks each partition's pending queue, runs the selection
// kernel against that partition's idle nodes, and a separate backfill
// tick that promotes jobs the conservative backfill pass clears. Both
// internal/rpc and cmd/slurmctld drive the same Engine so the RPC
// surface's run_now/test_only/will_run handlers and the background
// scheduler loop never disagree about how a request gets turned into an
// allocation.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/slurmctld/core/internal/assoc"
	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/capability"
	"github.com/slurmctld/core/internal/jobstore"
	"github.com/slurmctld/core/internal/noderegistry"
	"github.com/slurmctld/core/internal/partregistry"
	"github.com/slurmctld/core/internal/qos"
	"github.com/slurmctld/core/internal/reservation"
	"github.com/slurmctld/core/internal/scheduler"
	"github.com/slurmctld/core/internal/types"
	"github.com/slurmctld/core/internal/usage"
	"github.com/slurmctld/core/pkg/logging"
	"github.com/slurmctld/core/pkg/metrics"
	"github.com/slurmctld/core/pkg/retry"
)

// agentRPCBackoff governs SignalJob's per-node agent-RPC suspension
// point. A launch agent hiccup is expected to clear
// in well under a second, so a short, few-attempt constant backoff is
// enough; anything still failing after that is treated as the agent
// being genuinely unreachable, not a retry candidate.
var agentRPCBackoff = retry.NewAgentRPCBackoff()

// Engine is the controller's in-memory working set plus the scheduling
// passes over it. The lock hierarchy its callers must respect is
// configuration, then Nodes, then Parts, then
// Assoc/QoS, then Jobs; Engine itself does not add a lock of its own
// since every component it wraps already serializes its own writers.
type Engine struct {
	Nodes *noderegistry.Registry
	Parts *partregistry.Registry
	Assoc *assoc.Tree
	QoS   *qos.Set
	Jobs  *jobstore.Store
	Bus   *bus.Bus

	// Reservations holds the controller's time-bounded node/partition
	// holds. It is nil-safe:
	// a nil Reservations behaves as if no reservation were ever created.
	Reservations *reservation.Registry

	// Agent delivers signals to the compute-node launch agents backing a
	// running job's steps. It is nil until cmd/slurmctld wires a concrete
	// implementation; SignalJob returns an error until then.
	Agent capability.LaunchAgent

	// Usage accumulates per-job consumption into the hourly roll-up
	// buckets. It is nil-safe: a nil Usage simply skips
	// sampling, the same nil-safe convention Reservations and Agent use.
	Usage *usage.Store

	// Metrics records scheduler-tick instrumentation (jobs started per
	// pass, pass duration) for each partition ScheduleTick/BackfillTick
	// visits. It defaults to a no-op collector, the same nil-safe
	// convention the rest of Engine's optional dependencies use.
	Metrics metrics.Collector

	log logging.Logger
}

// New wires an Engine over already-constructed components.
func New(nodes *noderegistry.Registry, parts *partregistry.Registry, tree *assoc.Tree, qset *qos.Set, jobs *jobstore.Store, b *bus.Bus, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Engine{Nodes: nodes, Parts: parts, Assoc: tree, QoS: qset, Jobs: jobs, Bus: b, Metrics: metrics.NoOpCollector{}, log: log.With("component", "engine")}
}

// Submit validates and enqueues a job, delegating straight to the job
// store's three-stage admission check.
func (e *Engine) Submit(p jobstore.SubmitParams) (int64, error) {
	jobID, err := e.Jobs.Submit(e.Parts, e.Assoc, e.QoS, p)
	if err == nil {
		if j, getErr := e.Jobs.Get(jobID); getErr == nil {
			e.Assoc.AddGroupUsage(j.AssocID, 0, 0, 0, 1)
		}
	}
	return jobID, err
}

// idleCandidates returns the bitmap of a partition's member nodes
// currently idle, the "available" definition run_now's selection kernel
// uses, with any nodes an active reservation has carved out from j's
// user/account cleared.
func (e *Engine) idleCandidates(part *types.Partition, j *types.Job, now time.Time) *bitmap.Set {
	cand := part.Members.Clone()
	usable := e.Nodes.Bitmap(func(n *types.Node) bool { return n.Idle() })
	cand.And(usable)
	e.excludeReserved(cand, part, j, now)
	return cand
}

// excludeReserved clears, in place, every node an active reservation
// holds against j's user/account in part. A nil Reservations registry
// (no reservations ever created) is a no-op.
func (e *Engine) excludeReserved(cand *bitmap.Set, part *types.Partition, j *types.Job, now time.Time) {
	if e.Reservations == nil {
		return
	}
	var user, account string
	if a, ok := e.Assoc.Get(j.AssocID); ok {
		user, account = a.User, a.Account
	}
	mask := e.Reservations.ExclusionMask(cand.Width(), part.Name, user, account, now)
	cand.AndNot(mask)
}

func (e *Engine) capacityFn(liveFree bool) scheduler.Capacity {
	return func(ordinal int) int32 {
		n, ok := e.Nodes.LookupOrdinal(ordinal)
		if !ok {
			return 0
		}
		if liveFree {
			return n.FreeCPUs()
		}
		return n.CPUs
	}
}

// allocate installs nodes as jobID's allocation: marks the job running
// in the job store and charges each chosen node's per-CPU counters,
// splitting the job's requested CPU count across the chosen nodes in
// bitmap order.
func (e *Engine) allocate(jobID int64, assocID int32, req *types.Request, nodes *bitmap.Set, now time.Time) error {
	remaining := req.NumProcs
	if remaining <= 0 {
		remaining = int32(nodes.PopCount())
	}
	ordinals := nodes.Slice()
	perNode := remaining / int32(len(ordinals))
	if perNode < 1 {
		perNode = 1
	}
	for i, ord := range ordinals {
		n, ok := e.Nodes.LookupOrdinal(ord)
		if !ok {
			return fmt.Errorf("engine: chosen ordinal %d has no node", ord)
		}
		cpus := perNode
		if i == len(ordinals)-1 {
			cpus = remaining - perNode*int32(len(ordinals)-1)
		}
		if cpus < 1 {
			cpus = 1
		}
		if err := e.Nodes.AllocateCPUs(n.Name, jobID, cpus); err != nil {
			return err
		}
	}
	if err := e.Jobs.MarkRunning(jobID, nodes, now); err != nil {
		return err
	}
	logging.LogJobTransition(e.log, jobID, string(types.JobPending), string(types.JobRunning), "nodes", nodes.PopCount())
	e.Assoc.AddGroupUsage(assocID, req.NumProcs, int32(nodes.PopCount()), 1, 0)
	return nil
}

// Release tears down jobID's allocation: clears every node's per-job
// counter. Callers move the job to its terminal state separately via
// jobstore.Complete, the same ordering the node registry's ReleaseJob
// doc comment requires.
func (e *Engine) Release(j *types.Job) {
	if j.Allocation == nil {
		return
	}
	nodeCount := int32(j.Allocation.PopCount())
	j.Allocation.ForEach(func(ord int) {
		if n, ok := e.Nodes.LookupOrdinal(ord); ok {
			_ = e.Nodes.ReleaseJob(n.Name, j.JobID)
		}
	})
	e.Assoc.AddGroupUsage(j.AssocID, -j.Req.NumProcs, -nodeCount, -1, 0)
}

// CancelJob requests cancellation of jobID, per the Cancel operation's
// two-phase rule: a pending job is cancelled immediately (and its
// submit-count contribution released), a running job is flagged and
// needsSignal comes back true, leaving the actual teardown to whatever
// capability.LaunchAgent acknowledgement or node-fail timeout calls
// CompleteJob next.
func (e *Engine) CancelJob(jobID int64, now time.Time) (needsSignal bool, err error) {
	j, getErr := e.Jobs.Get(jobID)
	needsSignal, err = e.Jobs.Cancel(jobID, now)
	if err == nil && !needsSignal && getErr == nil {
		e.Assoc.AddGroupUsage(j.AssocID, 0, 0, 0, -1)
	}
	return needsSignal, err
}

// SignalJob delivers signal to every step of jobID's running steps on
// every node in its current allocation, via the configured launch agent.
// It stops at the first per-node delivery failure and returns that
// error; callers see a partially-signalled job the same way a real
// agent timeout would leave one.
func (e *Engine) SignalJob(ctx context.Context, jobID int64, signal int) error {
	if e.Agent == nil {
		return fmt.Errorf("engine: no launch agent configured, cannot signal job %d", jobID)
	}
	j, err := e.Jobs.Get(jobID)
	if err != nil {
		return err
	}
	if j.State != types.JobRunning && j.State != types.JobSuspended {
		return fmt.Errorf("engine: job %d is not running, cannot signal", jobID)
	}
	if j.Allocation == nil {
		return nil
	}
	var sendErr error
	j.Allocation.ForEach(func(ord int) {
		if sendErr != nil {
			return
		}
		n, ok := e.Nodes.LookupOrdinal(ord)
		if !ok {
			return
		}
		for _, step := range j.Steps {
			step := step
			err := retry.Retry(ctx, agentRPCBackoff, func() error {
				return e.Agent.SignalStep(ctx, n.Name, jobID, step.StepID, signal)
			})
			if err != nil {
				sendErr = err
				return
			}
		}
	})
	return sendErr
}

// SuspendJob and ResumeJob implement the lateral running<->suspended
// transitions the RPC surface exposes directly.
func (e *Engine) SuspendJob(jobID int64) error { return e.Jobs.Suspend(jobID) }
func (e *Engine) ResumeJob(jobID int64) error  { return e.Jobs.Resume(jobID) }

// AllocateMode selects which of the three allocate_resources semantics
// AllocateResources runs.
type AllocateMode string

const (
	ModeRunNow   AllocateMode = "run_now"
	ModeTestOnly AllocateMode = "test_only"
	ModeWillRun  AllocateMode = "will_run"
)

// AllocateResult is AllocateResources's outcome: for ModeRunNow a true
// Started means the job was actually placed and is now running; for
// ModeTestOnly and ModeWillRun nothing is mutated and Started is always
// false, only Result/StartEstimate describe the outcome.
type AllocateResult struct {
	Result        scheduler.Result
	Started       bool
	StartEstimate time.Time // populated by ModeWillRun
}

// AllocateResources runs one of run_now/test_only/will_run against
// jobID's pending request, per the RPC surface's allocate_resources
// operation. run_now is the only mode that mutates
// anything; it installs the allocation and marks the job running exactly
// as ScheduleTick would for this one job, out of band from the regular
// per-partition sweep.
func (e *Engine) AllocateResources(jobID int64, mode AllocateMode, now time.Time) (AllocateResult, error) {
	j, err := e.Jobs.Get(jobID)
	if err != nil {
		return AllocateResult{}, err
	}
	part, ok := e.Parts.Lookup(j.Partition)
	if !ok {
		return AllocateResult{}, fmt.Errorf("engine: job %d's partition %q no longer exists", jobID, j.Partition)
	}
	members := part.Members.Clone()
	e.excludeReserved(members, part, j, now)

	switch mode {
	case ModeTestOnly:
		res := scheduler.TestOnly(e.Nodes, members, &j.Req)
		return AllocateResult{Result: res}, nil
	case ModeWillRun:
		var running []*types.Job
		e.Jobs.ForEach(func(other *types.Job) {
			if other.State == types.JobRunning && other.Partition == part.Name {
				running = append(running, other)
			}
		})
		t, res := scheduler.WillRun(e.Nodes, members, &j.Req, running, now)
		return AllocateResult{Result: res, StartEstimate: t}, nil
	case ModeRunNow:
		res := scheduler.RunNow(e.Nodes, members, &j.Req, true)
		if !res.OK {
			j.StateReason = string(res.Reason)
			return AllocateResult{Result: res}, nil
		}
		if err := e.allocate(jobID, j.AssocID, &j.Req, res.Nodes, now); err != nil {
			return AllocateResult{}, err
		}
		return AllocateResult{Result: res, Started: true}, nil
	default:
		return AllocateResult{}, fmt.Errorf("engine: unknown allocate mode %q", mode)
	}
}

// CompleteJob releases jobID's node allocation and moves it to a
// terminal state, in the order the node registry's ReleaseJob doc
// comment requires: release first, so no observer ever sees a terminal
// job still holding resources.
func (e *Engine) CompleteJob(jobID int64, final types.JobState, now time.Time) error {
	j, err := e.Jobs.Get(jobID)
	if err != nil {
		return err
	}
	from := j.State
	e.Release(j)
	e.recordUsage(j, now)
	e.Assoc.AddGroupUsage(j.AssocID, 0, 0, 0, -1)
	if err := e.Jobs.Complete(jobID, final, now); err != nil {
		return err
	}
	logging.LogJobTransition(e.log, jobID, string(from), string(final))
	return nil
}

// recordUsage charges jobID's wall-clock consumption to its association
// and the usage roll-up store, once it has an actual start time (a job
// that never started contributes nothing). Wall/CPU seconds are charged
// from StartTime to now, capped at the job's predicted EndTime, so a job
// completing early or by cancellation is never over-charged.
func (e *Engine) recordUsage(j *types.Job, now time.Time) {
	if j.StartTime.IsZero() {
		return
	}
	end := now
	if !j.EndTime.IsZero() && j.EndTime.Before(now) {
		end = j.EndTime
	}
	wall := end.Sub(j.StartTime)
	if wall < 0 {
		wall = 0
	}
	cpuSeconds := float64(j.Req.NumProcs) * wall.Seconds()
	e.Assoc.AddUsageRaw(j.AssocID, cpuSeconds)
	if e.Usage == nil {
		return
	}
	var cluster string
	if a, ok := e.Assoc.Get(j.AssocID); ok {
		cluster = a.Cluster
	}
	e.Usage.RollHourly([]usage.Sample{{
		AssocID:     j.AssocID,
		QoSID:       j.QoSID,
		Cluster:     cluster,
		WorkloadKey: j.Partition,
		CPUSeconds:  int64(cpuSeconds),
		WallSeconds: int64(wall.Seconds()),
		PeriodStart: j.StartTime,
		PeriodEnd:   end,
	}})
}

// prioritizedPending returns partition's pending jobs ordered by
// composed priority, highest first.
func (e *Engine) prioritizedPending(part *types.Partition, now time.Time) []*types.Job {
	pending := e.Jobs.PendingByPartition(part.Name)
	sort.Slice(pending, func(i, j int) bool {
		pi := scheduler.Priority(pending[i], e.Assoc, e.QoS, now)
		pj := scheduler.Priority(pending[j], e.Assoc, e.QoS, now)
		if pi != pj {
			return pi > pj
		}
		return pending[i].SubmitTime.Before(pending[j].SubmitTime)
	})
	return pending
}

// ScheduleTick runs one immediate-placement pass over every partition:
// for each, it walks the pending queue in priority order and greedily
// starts every job the selection kernel can place against currently
// idle nodes, stopping at the first job in a partition that cannot be
// placed.
func (e *Engine) ScheduleTick(now time.Time) (started []int64) {
	for _, name := range e.Parts.Names() {
		tickStart := time.Now()
		part, ok := e.Parts.Lookup(name)
		if !ok || !part.StateUp {
			continue
		}
		var partStarted int
		for _, j := range e.prioritizedPending(part, now) {
			if j.Held {
				continue
			}
			cand := e.idleCandidates(part, j, now)
			res := scheduler.SelectBest(&j.Req, cand, e.capacityFn(true))
			if !res.OK {
				j.StateReason = string(res.Reason)
				break
			}
			if err := e.allocate(j.JobID, j.AssocID, &j.Req, res.Nodes, now); err != nil {
				e.log.Error("allocate failed", "job_id", j.JobID, "error", err)
				break
			}
			started = append(started, j.JobID)
			partStarted++
		}
		d := time.Since(tickStart)
		e.Metrics.RecordSchedulerTick(name, partStarted, d)
		logging.LogSchedulerPass(e.log, name, partStarted, d)
	}
	return started
}

// BackfillTick runs one conservative backfill pass per partition.
// Every job the pass clears has its priority raised past the queue head
// and is started immediately, rather than waiting for the next
// ScheduleTick to observe the raised priority.
func (e *Engine) BackfillTick(now time.Time) (started []int64) {
	for _, name := range e.Parts.Names() {
		tickStart := time.Now()
		part, ok := e.Parts.Lookup(name)
		if !ok || !part.StateUp {
			continue
		}
		// Backfill only makes sense where nodes are held exclusively for
		// a bounded time; force-shared and exclusive partitions are
		// skipped.
		if part.Sharing == types.SharingForce || part.Sharing == types.SharingExclusive {
			continue
		}
		pending := e.Jobs.PendingByPartition(part.Name)
		if len(pending) < 2 {
			continue
		}
		var running []*types.Job
		e.Jobs.ForEach(func(j *types.Job) {
			if j.State == types.JobRunning && j.Partition == part.Name {
				running = append(running, j)
			}
		})
		members := part.Members.Clone()
		if e.Reservations != nil {
			members.AndNot(e.Reservations.ExclusionMask(members.Width(), part.Name, "", "", now))
		}
		decisions := scheduler.BackfillPass(e.Nodes, members, pending, running, now)
		var partStarted int
		for _, d := range decisions {
			j, err := e.Jobs.Get(d.JobID)
			if err != nil {
				continue
			}
			j.Priority = d.NewPriority
			if err := e.allocate(d.JobID, j.AssocID, &j.Req, d.Nodes, now); err != nil {
				e.log.Error("backfill allocate failed", "job_id", d.JobID, "error", err)
				continue
			}
			started = append(started, d.JobID)
			partStarted++
		}
		elapsed := time.Since(tickStart)
		e.Metrics.RecordSchedulerTick(name, partStarted, elapsed)
		logging.LogSchedulerPass(e.log, name, partStarted, elapsed)
	}
	return started
}
