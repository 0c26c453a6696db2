// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// NodeState is the dynamic state of a compute node.
type NodeState string

const (
	NodeStateUnknown  NodeState = "UNKNOWN"
	NodeStateIdle     NodeState = "IDLE"
	NodeStateAlloc    NodeState = "ALLOCATED"
	NodeStateMixed    NodeState = "MIXED"
	NodeStateDown     NodeState = "DOWN"
	NodeStateDraining NodeState = "DRAINING"
	NodeStateDrained  NodeState = "DRAINED"
	NodeStateFailing  NodeState = "FAILING"
)

// Node is a single compute node's identity, static capacity, and dynamic
// state. Idx is the stable ordinal used as the bitmap coordinate for this
// node for the lifetime of the registry; it survives a logical Remove so
// outstanding bitmaps never go stale.
type Node struct {
	Idx  int
	Name string

	// Static capacity.
	CPUs       int32
	CPUSpeed   float64
	RealMemory int64 // MB
	VirtMemory int64 // MB
	TmpDisk    int64 // MB
	OSVersion  string
	Features   map[string]struct{}

	// Dynamic state.
	State           NodeState
	Reason          string // operator-supplied note for the last state change
	LastResponse    time.Time
	NotResponding   bool
	NotRespondSince time.Time

	// Partition membership and per-job allocation counters.
	Partitions map[string]struct{}
	AllocByJob map[int64]int32 // job_id -> cpus held on this node
}

// NewNode constructs a Node with dynamic state defaulted the way a freshly
// configured, never-contacted node starts out.
func NewNode(idx int, name string) *Node {
	return &Node{
		Idx:        idx,
		Name:       name,
		Features:   make(map[string]struct{}),
		State:      NodeStateUnknown,
		Partitions: make(map[string]struct{}),
		AllocByJob: make(map[int64]int32),
	}
}

// HasFeature reports whether the node carries the given feature tag.
func (n *Node) HasFeature(f string) bool {
	_, ok := n.Features[f]
	return ok
}

// Idle reports whether the node can accept a new exclusive allocation.
func (n *Node) Idle() bool {
	return n.State == NodeStateIdle
}

// Usable reports whether the node can host work at all.
func (n *Node) Usable() bool {
	switch n.State {
	case NodeStateIdle, NodeStateAlloc, NodeStateMixed:
		return true
	default:
		return false
	}
}

// FreeCPUs returns CPUs not currently allocated to any job.
func (n *Node) FreeCPUs() int32 {
	var used int32
	for _, c := range n.AllocByJob {
		used += c
	}
	if free := n.CPUs - used; free > 0 {
		return free
	}
	return 0
}

// Snapshot is an immutable, read-only view of a node returned to RPC
// callers and the scheduler's bitmap construction pass.
type NodeSnapshot struct {
	Idx          int
	Name         string
	CPUs         int32
	RealMemory   int64
	TmpDisk      int64
	OSVersion    string
	Features     []string
	State        NodeState
	Reason       string
	LastResponse time.Time
	Partitions   []string
	FreeCPUs     int32
}

func (n *Node) Snapshot() NodeSnapshot {
	feats := make([]string, 0, len(n.Features))
	for f := range n.Features {
		feats = append(feats, f)
	}
	parts := make([]string, 0, len(n.Partitions))
	for p := range n.Partitions {
		parts = append(parts, p)
	}
	return NodeSnapshot{
		Idx:          n.Idx,
		Name:         n.Name,
		CPUs:         n.CPUs,
		RealMemory:   n.RealMemory,
		TmpDisk:      n.TmpDisk,
		OSVersion:    n.OSVersion,
		Features:     feats,
		State:        n.State,
		Reason:       n.Reason,
		LastResponse: n.LastResponse,
		Partitions:   parts,
		FreeCPUs:     n.FreeCPUs(),
	}
}
