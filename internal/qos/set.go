// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package qos holds the flat table of Quality-of-Service policies and the
// preemption bitstring test used by the scheduler's selection kernel.
package qos

import (
	"fmt"
	"sort"
	"sync"

	"github.com/slurmctld/core/internal/types"
)

// Set is the QoS table, keyed by name with a parallel ID index.
type Set struct {
	mu     sync.RWMutex
	byName map[string]*types.QoS
	byID   map[int32]*types.QoS
	nextID int32
}

// New returns an empty Set.
func New() *Set {
	return &Set{
		byName: make(map[string]*types.QoS),
		byID:   make(map[int32]*types.QoS),
		nextID: 1,
	}
}

// Create registers a new QoS policy.
func (s *Set) Create(name string) (*types.QoS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return nil, fmt.Errorf("qos: %q already exists", name)
	}
	q := &types.QoS{
		ID:          s.nextID,
		Name:        name,
		UsageFactor: 1.0,
		PreemptBits: make(map[int32]struct{}),
	}
	s.nextID++
	s.byName[name] = q
	s.byID[q.ID] = q
	return q, nil
}

// ByName returns the QoS with the given name.
func (s *Set) ByName(name string) (*types.QoS, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.byName[name]
	return q, ok
}

// ByID returns the QoS with the given ID.
func (s *Set) ByID(id int32) (*types.QoS, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.byID[id]
	return q, ok
}

// SetPreempt configures which QoS IDs holder may preempt.
func (s *Set) SetPreempt(holder string, victims ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.byName[holder]
	if !ok {
		return fmt.Errorf("qos: %q not found", holder)
	}
	bits := make(map[int32]struct{}, len(victims))
	for _, v := range victims {
		vq, ok := s.byName[v]
		if !ok {
			return fmt.Errorf("qos: preempt target %q not found", v)
		}
		bits[vq.ID] = struct{}{}
	}
	q.PreemptBits = bits
	return nil
}

// Names returns every registered QoS name, sorted.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForEach calls f for every QoS policy in the set, in no particular
// order. f must not call back into the Set.
func (s *Set) ForEach(f func(*types.QoS)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.byID {
		f(q)
	}
}

// CanPreempt reports whether holderID's QoS may preempt a job carrying
// victimID's QoS. Two jobs with no QoS (ID 0) never preempt each other
// through this path; priority-based preemption is handled separately by
// the scheduler.
func (s *Set) CanPreempt(holderID, victimID int32) bool {
	if holderID == 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	holder, ok := s.byID[holderID]
	if !ok {
		return false
	}
	return holder.CanPreempt(victimID)
}
