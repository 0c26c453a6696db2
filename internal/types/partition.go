// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package types

import "github.com/slurmctld/core/internal/bitmap"

// SharingPolicy controls whether multiple jobs may share a node within a
// partition.
type SharingPolicy string

const (
	SharingNo        SharingPolicy = "no"
	SharingYes       SharingPolicy = "yes"
	SharingForce     SharingPolicy = "force"
	SharingExclusive SharingPolicy = "exclusive"
)

// Partition is a logical pool of nodes with admission rules.
type Partition struct {
	Name string

	MaxTime     int32 // minutes, 0 = unlimited
	MaxNodes    int32
	MinNodes    int32
	AllowGroups map[string]struct{} // empty/nil => all groups allowed
	RequireKey  bool
	StateUp     bool
	Sharing     SharingPolicy

	// Members is the bitmap of node ordinals belonging to this partition.
	Members *bitmap.Set
}

// NewPartition constructs a partition with its membership bitmap sized to
// the current node registry capacity.
func NewPartition(name string, width int) *Partition {
	return &Partition{
		Name:        name,
		StateUp:     true,
		Sharing:     SharingNo,
		AllowGroups: make(map[string]struct{}),
		Members:     bitmap.New(width),
	}
}

// AllowsGroup reports whether the given unix group may submit here.
func (p *Partition) AllowsGroup(groups []string) bool {
	if len(p.AllowGroups) == 0 {
		return true
	}
	for _, g := range groups {
		if _, ok := p.AllowGroups[g]; ok {
			return true
		}
	}
	return false
}

// TotalNodes returns the number of nodes currently in the partition.
func (p *Partition) TotalNodes() int {
	return p.Members.PopCount()
}

// PartitionSnapshot is a read-only view for RPC responses.
type PartitionSnapshot struct {
	Name       string
	MaxTime    int32
	MaxNodes   int32
	MinNodes   int32
	StateUp    bool
	Sharing    SharingPolicy
	TotalNodes int
	TotalCPUs  int32
}

// Snapshot returns a read-only view of the partition.
func (p *Partition) Snapshot() PartitionSnapshot {
	return PartitionSnapshot{
		Name:       p.Name,
		MaxTime:    p.MaxTime,
		MaxNodes:   p.MaxNodes,
		MinNodes:   p.MinNodes,
		StateUp:    p.StateUp,
		Sharing:    p.Sharing,
		TotalNodes: p.TotalNodes(),
	}
}
