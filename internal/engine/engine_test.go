// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slurmctld/core/internal/assoc"
	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/jobstore"
	"github.com/slurmctld/core/internal/noderegistry"
	"github.com/slurmctld/core/internal/partregistry"
	"github.com/slurmctld/core/internal/qos"
	"github.com/slurmctld/core/internal/types"
	"github.com/slurmctld/core/internal/usage"
)

func newTestEngine(t *testing.T, nodeCount int, cpusPerNode int32) (*Engine, string) {
	t.Helper()
	b := bus.New()
	nodes := noderegistry.New(b)
	for i := 0; i < nodeCount; i++ {
		name := "node" + string(rune('a'+i))
		_, err := nodes.Create(name, cpusPerNode, 8192)
		require.NoError(t, err)
		require.NoError(t, nodes.SetState(name, types.NodeStateIdle, ""))
	}
	parts := partregistry.New(b)
	_, err := parts.Create("debug", nodes.Width())
	require.NoError(t, err)
	for i := 0; i < nodeCount; i++ {
		require.NoError(t, parts.AddNode("debug", i))
	}
	require.NoError(t, parts.SetDefault("debug"))

	tree := assoc.New()
	rootID, err := tree.Insert(&types.Association{Cluster: "c", Account: "root", SharesRaw: 1})
	require.NoError(t, err)
	_, err = tree.Insert(&types.Association{Cluster: "c", Account: "root", User: "alice", ParentID: rootID, SharesRaw: 1})
	require.NoError(t, err)
	tree.RecomputeFairShare(0.5)

	qset := qos.New()
	jobs := jobstore.New(b, time.Hour)

	return New(nodes, parts, tree, qset, jobs, b, nil), "debug"
}

func TestScheduleTickStartsFittingJob(t *testing.T) {
	e, _ := newTestEngine(t, 2, 4)

	jobID, err := e.Submit(jobstore.SubmitParams{
		Name: "job1", UID: 1, GID: 1, Cluster: "c", Account: "root", User: "alice",
		Req: types.Request{NumProcs: 4, TimeLimit: 10},
	})
	require.NoError(t, err)

	started := e.ScheduleTick(time.Now())
	require.Contains(t, started, jobID)

	j, err := e.Jobs.Get(jobID)
	require.NoError(t, err)
	require.Equal(t, types.JobRunning, j.State)
	require.NotNil(t, j.Allocation)
}

func TestScheduleTickStopsAtHeadOfLineBlock(t *testing.T) {
	e, _ := newTestEngine(t, 1, 2)

	bigID, err := e.Submit(jobstore.SubmitParams{
		Name: "big", UID: 1, GID: 1, Cluster: "c", Account: "root", User: "alice",
		Req: types.Request{NumProcs: 100, TimeLimit: 10},
	})
	require.NoError(t, err)
	smallID, err := e.Submit(jobstore.SubmitParams{
		Name: "small", UID: 1, GID: 1, Cluster: "c", Account: "root", User: "alice",
		Req: types.Request{NumProcs: 1, TimeLimit: 10},
	})
	require.NoError(t, err)

	started := e.ScheduleTick(time.Now())
	require.Empty(t, started)

	big, _ := e.Jobs.Get(bigID)
	small, _ := e.Jobs.Get(smallID)
	require.Equal(t, types.JobPending, big.State)
	require.Equal(t, types.JobPending, small.State)
}

func TestCompleteJobChargesGroupUsageAndRollup(t *testing.T) {
	e, _ := newTestEngine(t, 2, 4)
	e.Usage = usage.New()

	alice, ok := e.Assoc.Find("c", "root", "alice", "")
	require.True(t, ok)
	root, ok := e.Assoc.Find("c", "root", "", "")
	require.True(t, ok)

	jobID, err := e.Submit(jobstore.SubmitParams{
		Name: "job1", UID: 1, GID: 1, Cluster: "c", Account: "root", User: "alice",
		Req: types.Request{NumProcs: 4, TimeLimit: 10},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, alice.Usage.GrpUsedSubmitJobs)

	start := time.Now()
	started := e.ScheduleTick(start)
	require.Contains(t, started, jobID)
	assert.EqualValues(t, 4, alice.Usage.GrpUsedCPUs)
	assert.EqualValues(t, 4, root.Usage.GrpUsedCPUs, "ancestor sums descendant usage")

	end := start.Add(10 * time.Minute)
	require.NoError(t, e.CompleteJob(jobID, types.JobComplete, end))

	assert.EqualValues(t, 0, alice.Usage.GrpUsedCPUs)
	assert.EqualValues(t, 0, root.Usage.GrpUsedCPUs)
	assert.EqualValues(t, 0, alice.Usage.GrpUsedSubmitJobs)
	assert.Greater(t, alice.UsageRaw, 0.0)

	pruned, err := e.Usage.ArchivePrune(usage.Hourly, end.Add(time.Hour), false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned, "CompleteJob should have rolled exactly one hourly bucket")
}

func TestBackfillTickPromotesSmallerJob(t *testing.T) {
	e, _ := newTestEngine(t, 2, 4)

	bigID, err := e.Submit(jobstore.SubmitParams{
		Name: "big", UID: 1, GID: 1, Cluster: "c", Account: "root", User: "alice",
		Req: types.Request{NumProcs: 100, TimeLimit: 10},
	})
	require.NoError(t, err)
	smallID, err := e.Submit(jobstore.SubmitParams{
		Name: "small", UID: 1, GID: 1, Cluster: "c", Account: "root", User: "alice",
		Req: types.Request{NumProcs: 2, TimeLimit: 10},
	})
	require.NoError(t, err)

	now := time.Now()
	e.ScheduleTick(now)
	started := e.BackfillTick(now)
	require.Contains(t, started, smallID)

	big, _ := e.Jobs.Get(bigID)
	small, _ := e.Jobs.Get(smallID)
	require.Equal(t, types.JobPending, big.State)
	require.Equal(t, types.JobRunning, small.State)
}
