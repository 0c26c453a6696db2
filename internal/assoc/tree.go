// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package assoc maintains the association tree: the user/account/
// cluster/partition hierarchy that carries fair-share shares, usage
// accumulators, and the limit hierarchy jobs are admitted against.
// Membership changes are rare enough that the nested-set (lft, rgt)
// coordinates are recomputed by a full tree walk rather than patched
// incrementally, trading a little CPU on mutation for a coordinate
// scheme that can never drift.
package assoc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/slurmctld/core/internal/types"
)

// Tree is the association table.
type Tree struct {
	mu       sync.RWMutex
	byID     map[int32]*types.Association
	children map[int32][]int32
	nextID   int32
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{
		byID:     make(map[int32]*types.Association),
		children: make(map[int32][]int32),
		nextID:   1,
	}
}

// Insert adds a new association as a child of parentID (0 for a cluster
// root) and returns its assigned ID. The nested-set coordinates of every
// association are recomputed before Insert returns.
func (t *Tree) Insert(a *types.Association) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a.ParentID != 0 {
		if _, ok := t.byID[a.ParentID]; !ok {
			return 0, fmt.Errorf("assoc: parent %d not found", a.ParentID)
		}
	}

	id := t.nextID
	t.nextID++
	a.ID = id
	t.byID[id] = a
	t.children[a.ParentID] = append(t.children[a.ParentID], id)

	t.rebuildNestedSet()
	return id, nil
}

// Remove deletes an association. It is an error to remove one with
// children; reparent or remove them first.
func (t *Tree) Remove(id int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("assoc: %d not found", id)
	}
	if len(t.children[id]) > 0 {
		return fmt.Errorf("assoc: %d has children, cannot remove", id)
	}

	siblings := t.children[a.ParentID]
	for i, sid := range siblings {
		if sid == id {
			t.children[a.ParentID] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	delete(t.children, id)
	delete(t.byID, id)

	t.rebuildNestedSet()
	return nil
}

// Get returns the association with the given ID.
func (t *Tree) Get(id int32) (*types.Association, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.byID[id]
	return a, ok
}

// AddGroupUsage adjusts GrpUsedCPUs/GrpUsedNodes/GrpUsedJobs/
// GrpUsedSubmitJobs on id and every ancestor up to the cluster root by
// delta, maintaining the invariant that grp_used_* sums active-job
// contributions over the entire sub-tree. jobDelta and
// submitDelta are typically +1 on allocation/submit and -1 on release;
// cpus/nodes are typically the job's footprint on allocation and its
// negation on release.
func (t *Tree) AddGroupUsage(id int32, cpus, nodes, jobDelta, submitDelta int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.byID[id]
	for ok {
		cur.Usage.GrpUsedCPUs += cpus
		cur.Usage.GrpUsedNodes += nodes
		cur.Usage.GrpUsedJobs += jobDelta
		cur.Usage.GrpUsedSubmitJobs += submitDelta
		if cur.ParentID == 0 {
			break
		}
		cur, ok = t.byID[cur.ParentID]
	}
}

// AddUsageRaw adds cpuSeconds to id's long-lived UsageRaw accumulator,
// the input RecomputeFairShare normalizes against siblings. It does not
// itself renormalize; callers recompute fair-share on their own
// cadence.
func (t *Tree) AddUsageRaw(id int32, cpuSeconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.byID[id]; ok {
		a.UsageRaw += cpuSeconds
	}
}

// Find returns the association matching cluster/account/user/partition,
// the lookup path used at job submission to resolve a job's charge
// target.
func (t *Tree) Find(cluster, account, user, partition string) (*types.Association, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, a := range t.byID {
		if a.Cluster == cluster && a.Account == account && a.User == user && a.Partition == partition {
			return a, true
		}
	}
	return nil, false
}

// Children returns the direct children of id (0 for the roots).
func (t *Tree) Children(id int32) []*types.Association {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.children[id]
	out := make([]*types.Association, 0, len(ids))
	for _, cid := range ids {
		out = append(out, t.byID[cid])
	}
	return out
}

// rebuildNestedSet walks the tree depth-first assigning lft/rgt pairs.
// Caller must hold t.mu.
func (t *Tree) rebuildNestedSet() {
	counter := 0
	roots := append([]int32(nil), t.children[0]...)
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	var walk func(id int32)
	walk = func(id int32) {
		counter++
		a := t.byID[id]
		a.Lft = counter

		kids := append([]int32(nil), t.children[id]...)
		sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
		for _, kid := range kids {
			walk(kid)
		}

		counter++
		a.Rgt = counter
	}
	for _, id := range roots {
		walk(id)
	}
}

// ForEach calls f for every association. f must not mutate the tree.
func (t *Tree) ForEach(f func(*types.Association)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, a := range t.byID {
		f(a)
	}
}
