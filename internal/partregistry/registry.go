// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package partregistry holds the controller's partition table: named
// groupings of nodes with their own scheduling policy (sharing, max
// wall-clock, access control) layered over the Node Registry's bitmap
// coordinate space.
package partregistry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/types"
)

// Registry is the partition table.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]*types.Partition
	defaultName string
	bus         *bus.Bus
}

// New returns an empty Registry.
func New(b *bus.Bus) *Registry {
	return &Registry{byName: make(map[string]*types.Partition), bus: b}
}

// Create registers a new partition with Members sized to width (the
// Node Registry's current Width()).
func (r *Registry) Create(name string, width int) (*types.Partition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("partregistry: partition %q already registered", name)
	}
	p := types.NewPartition(name, width)
	r.byName[name] = p
	return p, nil
}

// Lookup returns the partition with the given name.
func (r *Registry) Lookup(name string) (*types.Partition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Remove unregisters a partition.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("partregistry: partition %q not found", name)
	}
	delete(r.byName, name)
	return nil
}

// AddNode adds node ordinal idx to partition name's member set.
func (r *Registry) AddNode(name string, idx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("partregistry: partition %q not found", name)
	}
	if idx >= p.Members.Width() {
		p.Members.Grow(idx + 1)
	}
	p.Members.Set(idx)
	r.publish(name, p)
	return nil
}

// RemoveNode removes node ordinal idx from partition name's member set.
func (r *Registry) RemoveNode(name string, idx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("partregistry: partition %q not found", name)
	}
	p.Members.Clear(idx)
	r.publish(name, p)
	return nil
}

// GrowAll widens every partition's member bitmap to width, preserving
// membership. Called whenever the Node Registry's Width grows past what
// partitions were originally sized for.
func (r *Registry) GrowAll(width int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byName {
		p.Members.Grow(width)
	}
}

// Names returns every registered partition name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForEach calls f for every registered partition. f must not call back
// into the Registry.
func (r *Registry) ForEach(f func(*types.Partition)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.byName {
		f(p)
	}
}

// SetUp toggles whether partition name accepts new job submissions.
func (r *Registry) SetUp(name string, up bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("partregistry: partition %q not found", name)
	}
	p.StateUp = up
	r.publish(name, p)
	return nil
}

// SetDefault repoints the distinguished default partition. Configuration
// reload calls this after the rest of the table is updated, so a reader
// never observes a default name with no matching partition.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("partregistry: cannot set default to unknown partition %q", name)
	}
	r.defaultName = name
	return nil
}

// Default returns the distinguished default partition, used to resolve a
// job submission that names no partition explicitly.
func (r *Registry) Default() (*types.Partition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultName == "" {
		return nil, false
	}
	p, ok := r.byName[r.defaultName]
	return p, ok
}

func (r *Registry) publish(name string, p *types.Partition) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.UpdateObject{
		Kind:      bus.KindPartitionMeta,
		Key:       name,
		Payload:   p.Snapshot(),
		Timestamp: time.Now(),
	})
}
