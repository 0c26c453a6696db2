// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package capability declares the behavior sets the core consumes from
// its external collaborators. Concrete
// implementations — the compute-node launch agent, the on-disk
// accounting store, and the credential signer — live outside the core;
// this package only fixes the boundary.
package capability

import (
	"context"
	"time"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/types"
)

// LaunchAgent is the process-launch agent running on each compute node.
type LaunchAgent interface {
	StartStep(ctx context.Context, node string, jobID int64, step *types.Step) error
	SignalStep(ctx context.Context, node string, jobID int64, stepID int32, signal int) error
	AttachIO(ctx context.Context, node string, jobID int64, stepID int32) (interface{ Close() error }, error)
	ReportState(ctx context.Context, node string) (types.NodeState, time.Time, error)
}

// AccountingStore is the on-disk accounting store.
type AccountingStore interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Commit(ctx context.Context, batch []bus.UpdateObject) error

	AddObject(ctx context.Context, kind bus.Kind, payload any) error
	ModifyObject(ctx context.Context, kind bus.Kind, key string, payload any) error
	RemoveObject(ctx context.Context, kind bus.Kind, key string) error
	GetObject(ctx context.Context, kind bus.Kind, key string) (any, error)

	RollUsage(ctx context.Context, window TimeWindow) error

	RecordJobStart(ctx context.Context, jobID int64, t time.Time) error
	RecordJobComplete(ctx context.Context, jobID int64, t time.Time, state types.JobState) error
	RecordJobSuspend(ctx context.Context, jobID int64, t time.Time, resumed bool) error
}

// TimeWindow bounds a roll-up pass; re-rolling the same window must be
// idempotent.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// KeySigner signs and verifies the partition key required on submit when
// a partition's RequireKey is set, and
// the munge-style credential that authenticates RPC callers. The core
// never implements cryptography itself; it only calls this boundary.
type KeySigner interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
	Verify(ctx context.Context, payload, signature []byte) error
}

// NodeHealthProbe is the external health-check collaborator. The node
// registry's SweepNonResponding only consumes the last-response
// timestamps this probe would maintain; the probe itself is never
// implemented by the core.
type NodeHealthProbe interface {
	Probe(ctx context.Context, node string) (healthy bool, respondedAt time.Time, err error)
}

// AllocationDelivery is the thin seam between the scheduler's run_now
// mode and the launch agents: once SelectBest returns a chosen bitmap,
// run_now hands it here to start the job's first step on every chosen
// node. Kept separate from LaunchAgent so the scheduler depends on one
// small interface instead of the agent's full surface.
type AllocationDelivery interface {
	Deliver(ctx context.Context, jobID int64, nodes *bitmap.Set, nodeNames func(idx int) (string, bool)) error
}
