// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package noderegistry holds the controller's authoritative set of nodes:
// stable ordinal assignment, the name hash-index used by every other
// component to resolve a hostname into the ordinal a bitmap.Set bit
// refers to, and the state transitions driven by node registration and
// health-check timeouts.
package noderegistry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/types"
)

// Registry is the node table. Every node holds a stable ordinal
// (types.Node.Idx) assigned at Create time and held for the node's
// entire lifetime, including across a logical Remove: the ordinal is
// the coordinate used in every bitmap, and a bitmap
// snapshot taken before a Remove (a completed job's historical
// allocation, a reservation) must never point at a different node after
// one. Names resolve to nodes through the decimal-suffix hash index in
// nameindex.go rather than a plain map, keeping the trailing-decimal
// bucketing that fits how HPC clusters actually name nodes.
type Registry struct {
	mu    sync.RWMutex
	names *nameIndex
	byIdx []*types.Node // never shrinks; a removed node's slot stays populated with State=Down, Name=""
	bus   *bus.Bus
}

// New returns an empty Registry. b may be nil if update broadcasting is
// not needed (e.g. in tests).
func New(b *bus.Bus) *Registry {
	return &Registry{
		names: newNameIndex(minBuckets),
		bus:   b,
	}
}

// Create registers a new node, assigning it the next ordinal. Ordinals
// are never reused, even for names freed by a prior Remove, so a stale
// bitmap referencing an old ordinal can never silently resolve to an
// unrelated node. It returns an error if a node with the same name is
// currently registered.
func (r *Registry) Create(name string, cpus int32, realMemory int64) (*types.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names.get(name); exists {
		return nil, fmt.Errorf("noderegistry: node %q already registered", name)
	}

	idx := len(r.byIdx)
	node := types.NewNode(idx, name)
	node.CPUs = cpus
	node.RealMemory = realMemory

	r.byIdx = append(r.byIdx, node)
	r.names.put(node)
	r.maybeRebuildLocked()

	r.publish(bus.KindNodeState, name, node.Snapshot())
	return node, nil
}

// maybeRebuildLocked reallocates the name index once growth pushes its
// load factor past one entry per bucket. Callers must hold r.mu for
// writing; the table is reallocated and fully rebuilt before any
// lookup can observe a degraded chain, so the
// rebuild happens synchronously under the same lock Create took.
func (r *Registry) maybeRebuildLocked() {
	if !r.names.needsRebuild(len(r.byIdx)) {
		return
	}
	live := make([]*types.Node, 0, len(r.byIdx))
	for _, n := range r.byIdx {
		if n != nil && n.Name != "" {
			live = append(live, n)
		}
	}
	r.names = rebuildNameIndex(live)
}

// Lookup returns the node with the given name.
func (r *Registry) Lookup(name string) (*types.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names.get(name)
}

// LookupOrdinal returns the node occupying bitmap ordinal idx.
func (r *Registry) LookupOrdinal(idx int) (*types.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx < 0 || idx >= len(r.byIdx) || r.byIdx[idx] == nil {
		return nil, false
	}
	return r.byIdx[idx], true
}

// Remove is logical-only: the node is marked DOWN and its name is
// blanked so
// it no longer resolves by name, but its ordinal is never freed or
// reused. The node's byIdx slot keeps pointing at the same *types.Node
// forever, so any bitmap.Set computed before the Remove still names the
// same (now-down, now-nameless) node rather than whatever node a later
// Create happens to receive.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.names.get(name)
	if !ok {
		return fmt.Errorf("noderegistry: node %q not found", name)
	}

	r.names.remove(name)
	n.Name = ""
	n.State = types.NodeStateDown

	r.publish(bus.KindNodeState, name, nil)
	return nil
}

// Width returns one past the highest ordinal ever assigned; every
// bitmap.Set that indexes these nodes must have at least this width.
func (r *Registry) Width() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdx)
}

// Len returns the number of currently registered (non-removed) nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int
	for _, node := range r.byIdx {
		if node != nil && node.Name != "" {
			n++
		}
	}
	return n
}

// ForEach calls f for every registered (non-removed) node in ordinal
// order. f must not call back into the Registry.
func (r *Registry) ForEach(f func(*types.Node)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.byIdx {
		if n != nil && n.Name != "" {
			f(n)
		}
	}
}

// Names returns every registered node name, sorted. Used by RPC listing
// and by test fixtures; allocates, so it is not on the scheduler hot
// path.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byIdx))
	for _, n := range r.byIdx {
		if n != nil && n.Name != "" {
			names = append(names, n.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Bitmap returns a bitmap.Set sized to Width with bits set for every
// ordinal for which pred returns true.
func (r *Registry) Bitmap(pred func(*types.Node) bool) *bitmap.Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := bitmap.New(len(r.byIdx))
	for idx, n := range r.byIdx {
		if n != nil && pred(n) {
			set.Set(idx)
		}
	}
	return set
}

// SetState transitions a node's state and broadcasts the change.
func (r *Registry) SetState(name string, state types.NodeState, reason string) error {
	r.mu.Lock()
	n, ok := r.names.get(name)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("noderegistry: node %q not found", name)
	}
	n.State = state
	n.Reason = reason
	r.mu.Unlock()

	r.publish(bus.KindNodeState, name, n.Snapshot())
	return nil
}

// RecordResponse marks a node as having responded at t, clearing
// NotResponding if it was set.
func (r *Registry) RecordResponse(name string, t time.Time) error {
	r.mu.Lock()
	n, ok := r.names.get(name)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("noderegistry: node %q not found", name)
	}
	n.LastResponse = t
	n.NotResponding = false
	n.NotRespondSince = time.Time{}
	r.mu.Unlock()
	return nil
}

// SweepNonResponding marks nodes whose last response is older than
// threshold as not responding,
// transitioning healthy ones to DOWN. A DRAINED node's state is left
// alone: only an explicit operator action (UpdateNode) may move a
// drained node to down. It returns the names affected.
func (r *Registry) SweepNonResponding(now time.Time, threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []string
	for _, n := range r.byIdx {
		if n == nil || n.NotResponding {
			continue
		}
		if now.Sub(n.LastResponse) > threshold {
			n.NotResponding = true
			n.NotRespondSince = now
			if n.State != types.NodeStateDrained {
				n.State = types.NodeStateDown
			}
			affected = append(affected, n.Name)
		}
	}
	return affected
}

// AllocateCPUs records that job jobID has been allocated cpus CPUs on
// node name, updating the node's derived allocation state.
func (r *Registry) AllocateCPUs(name string, jobID int64, cpus int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.names.get(name)
	if !ok {
		return fmt.Errorf("noderegistry: node %q not found", name)
	}
	if n.AllocByJob == nil {
		n.AllocByJob = make(map[int64]int32)
	}
	n.AllocByJob[jobID] = cpus

	var used int32
	for _, c := range n.AllocByJob {
		used += c
	}
	switch {
	case used == 0:
		n.State = types.NodeStateIdle
	case used >= n.CPUs:
		n.State = types.NodeStateAlloc
	default:
		n.State = types.NodeStateMixed
	}

	r.publish(bus.KindNodeAlloc, name, n.Snapshot())
	return nil
}

// ReleaseJob clears any allocation job jobID holds on node name.
func (r *Registry) ReleaseJob(name string, jobID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.names.get(name)
	if !ok {
		return fmt.Errorf("noderegistry: node %q not found", name)
	}
	delete(n.AllocByJob, jobID)

	var used int32
	for _, c := range n.AllocByJob {
		used += c
	}
	switch {
	case used == 0:
		n.State = types.NodeStateIdle
	case used >= n.CPUs:
		n.State = types.NodeStateAlloc
	default:
		n.State = types.NodeStateMixed
	}

	r.publish(bus.KindNodeAlloc, name, n.Snapshot())
	return nil
}

func (r *Registry) publish(kind bus.Kind, key string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.UpdateObject{Kind: kind, Key: key, Payload: payload, Timestamp: time.Now()})
}
