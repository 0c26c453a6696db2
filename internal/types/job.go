// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"

	"github.com/slurmctld/core/internal/bitmap"
)

// JobState is a state in the job lifecycle state machine.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobStageIn   JobState = "STAGE_IN"
	JobRunning   JobState = "RUNNING"
	JobStageOut  JobState = "STAGE_OUT"
	JobComplete  JobState = "COMPLETE"
	JobSuspended JobState = "SUSPENDED"
	JobFailed    JobState = "FAILED"
	JobCancelled JobState = "CANCELLED"
	JobTimeout   JobState = "TIMEOUT"
	JobNodeFail  JobState = "NODE_FAIL"
)

// Terminal reports whether the state machine has no outgoing transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobComplete, JobFailed, JobCancelled, JobTimeout, JobNodeFail:
		return true
	default:
		return false
	}
}

// DistPolicy is the task distribution policy across allocated nodes.
type DistPolicy string

const (
	DistBlock     DistPolicy = "block"
	DistCyclic    DistPolicy = "cyclic"
	DistArbitrary DistPolicy = "arbitrary"
	DistPlane     DistPolicy = "plane"
)

// JobMagic is the sentinel word checked at every public Job Store entry
// point to catch use-after-free / corruption during development.
const JobMagic uint32 = 0x214b4a4f

// Shared is the job-level sharing preference, overridden by partition
// policy at submit time.
type Shared string

const (
	SharedUnset Shared = ""
	SharedNo    Shared = "no"
	SharedYes   Shared = "yes"
	SharedForce Shared = "force"
)

// Request is a job's resource and placement request.
type Request struct {
	NumProcs   int32
	NumNodes   int32       // minimum
	MaxNodes   int32
	Features   string      // feature boolean expression, e.g. "gpu&fast"
	ReqNodes   *bitmap.Set // explicit include, nil if unset
	ExcNodes   *bitmap.Set // explicit exclude, nil if unset
	Contiguous bool
	Shared     Shared
	MinProcs     int32
	MinMemory    int64
	MinTmpDisk   int64
	MinOSVersion string // dotted-decimal, e.g. "4.18"; "" means any
	TimeLimit    int32  // minutes

	ProcsPerTask int32
	Distribution DistPolicy
	PlaneSize    int32 // meaningful only when Distribution == DistPlane
}

// Step is a parallel sub-execution launched inside a job's allocation.
type Step struct {
	StepID    int32
	Name      string
	NumTasks  int32
	Nodes     *bitmap.Set
	StartTime time.Time
	EndTime   time.Time
	ExitCode  int32
}

// AccountingSample is one append-only per-period usage sample attached to
// a job.
type AccountingSample struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	CPUSeconds  int64
	MemoryMB    int64
	EnergyJ     int64 // optional; folded in from node energy counters
}

// Job is the full in-memory record for a submitted job.
type Job struct {
	Magic uint32

	JobID     int64
	AssocID   int32
	QoSID     int32 // 0 if unset
	Partition string
	UID, GID  int32

	Name string

	Req Request

	State       JobState
	StateReason string

	Priority   int64
	SubmitTime time.Time
	StartTime  time.Time
	EndTime    time.Time // predicted while running: StartTime + TimeLimit

	// Nodes currently allocated to this job. Nil while pending.
	Allocation *bitmap.Set

	Steps      []*Step
	Accounting []AccountingSample

	Held bool // base_prio = 0, skipped by all admission paths

	// reaping bookkeeping
	AccountingPersisted bool
	TerminalAt          time.Time
}

// EffectiveEnd returns the job's predicted completion time, used by the
// backfill node-space map and will_run mode.
func (j *Job) EffectiveEnd() time.Time {
	if !j.StartTime.IsZero() {
		return j.StartTime.Add(time.Duration(j.Req.TimeLimit) * time.Minute)
	}
	return j.EndTime
}

// JobSnapshot is a read-only view for RPC responses.
type JobSnapshot struct {
	JobID       int64
	Name        string
	AssocID     int32
	QoSID       int32
	Partition   string
	State       JobState
	StateReason string
	Priority    int64
	NumProcs    int32
	NumNodes    int32
	SubmitTime  time.Time
	StartTime   time.Time
	EndTime     time.Time
	NodeList    []int
}
