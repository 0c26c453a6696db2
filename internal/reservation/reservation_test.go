// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/types"
)

func nodes(width int, ordinals ...int) *bitmap.Set {
	return bitmap.FromSlice(width, ordinals)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	r := New(nil)
	start := time.Now()
	res := &types.Reservation{Name: "maint1", StartTime: start, EndTime: start.Add(time.Hour), Nodes: nodes(8, 0, 1)}
	require.NoError(t, r.Create(res))

	err := r.Create(res)
	assert.Error(t, err)
}

func TestCreateRejectsBadWindow(t *testing.T) {
	r := New(nil)
	start := time.Now()
	res := &types.Reservation{Name: "maint1", StartTime: start, EndTime: start.Add(-time.Hour), Nodes: nodes(8, 0)}
	assert.Error(t, r.Create(res))
}

func TestExclusionMaskExcludesUnauthorizedUsers(t *testing.T) {
	r := New(nil)
	now := time.Now()
	res := &types.Reservation{
		Name:      "maint1",
		Partition: "batch",
		Users:     map[string]struct{}{"alice": {}},
		StartTime: now.Add(-time.Minute),
		EndTime:   now.Add(time.Hour),
		Nodes:     nodes(8, 0, 1, 2),
	}
	require.NoError(t, r.Create(res))

	mask := r.ExclusionMask(8, "batch", "bob", "acct", now)
	assert.True(t, mask.IsSet(0))
	assert.True(t, mask.IsSet(1))
	assert.True(t, mask.IsSet(2))
	assert.False(t, mask.IsSet(3))

	mask = r.ExclusionMask(8, "batch", "alice", "acct", now)
	assert.True(t, mask.IsEmpty())
}

func TestExclusionMaskIgnoresInactiveReservation(t *testing.T) {
	r := New(nil)
	now := time.Now()
	res := &types.Reservation{
		Name:      "future",
		Partition: "batch",
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(2 * time.Hour),
		Nodes:     nodes(8, 0, 1),
	}
	require.NoError(t, r.Create(res))

	mask := r.ExclusionMask(8, "batch", "bob", "acct", now)
	assert.True(t, mask.IsEmpty())
}

func TestExclusionMaskIgnoresOtherPartitions(t *testing.T) {
	r := New(nil)
	now := time.Now()
	res := &types.Reservation{
		Name:      "maint1",
		Partition: "gpu",
		StartTime: now.Add(-time.Minute),
		EndTime:   now.Add(time.Hour),
		Nodes:     nodes(8, 0),
	}
	require.NoError(t, r.Create(res))

	mask := r.ExclusionMask(8, "batch", "bob", "acct", now)
	assert.True(t, mask.IsEmpty())
}

func TestDeleteAndList(t *testing.T) {
	r := New(nil)
	now := time.Now()
	require.NoError(t, r.Create(&types.Reservation{Name: "r1", StartTime: now, EndTime: now.Add(time.Hour), Nodes: nodes(4, 0)}))
	require.NoError(t, r.Create(&types.Reservation{Name: "r2", StartTime: now, EndTime: now.Add(time.Hour), Nodes: nodes(4, 1)}))
	assert.Len(t, r.List(), 2)

	require.NoError(t, r.Delete("r1"))
	assert.Len(t, r.List(), 1)
	assert.Error(t, r.Delete("r1"))
}
