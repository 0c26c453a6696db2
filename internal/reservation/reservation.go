// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package reservation implements named, time-bounded node holds.
// A reservation carves a bitmap of nodes out of ordinary
// scheduling for a time window; the selection kernel treats an active
// reservation's nodes as unavailable to anyone but the reservation's own
// users/accounts; IGNORE_JOBS does not lift that exclusion.
package reservation

import (
	"fmt"
	"sync"
	"time"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/types"
)

// Registry holds the controller's named reservations, keyed by name like
// the Partition Registry keys partitions.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*types.Reservation
	bus    *bus.Bus
}

// New returns an empty Registry. b may be nil if update broadcasting is
// not needed (e.g. in tests).
func New(b *bus.Bus) *Registry {
	return &Registry{byName: make(map[string]*types.Reservation), bus: b}
}

// Create registers a new reservation. It is an error to reuse a name
// still present in the registry, mirroring the Partition Registry's
// and Node Registry's duplicate-name rejection.
func (r *Registry) Create(res *types.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[res.Name]; exists {
		return fmt.Errorf("reservation: %q already exists", res.Name)
	}
	if !res.EndTime.After(res.StartTime) {
		return fmt.Errorf("reservation: %q end time must be after start time", res.Name)
	}
	r.byName[res.Name] = res
	r.publish(res.Name, res)
	return nil
}

// Lookup returns the reservation named name, if any.
func (r *Registry) Lookup(name string) (*types.Reservation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.byName[name]
	return res, ok
}

// Delete removes a reservation. Deletion is immediate and unconditional;
// unlike a node's logical removal the ordinal-stability concern does not
// apply since reservations are not bitmap coordinates themselves.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("reservation: %q not found", name)
	}
	delete(r.byName, name)
	r.publish(name, nil)
	return nil
}

// List returns every reservation, sorted is not guaranteed; callers that
// need stable ordering (RPC responses) sort by name themselves.
func (r *Registry) List() []*types.Reservation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Reservation, 0, len(r.byName))
	for _, res := range r.byName {
		out = append(out, res)
	}
	return out
}

// ExclusionMask returns the bitmap of width-wide ordinals that must be
// cleared from a candidate set before the selection kernel runs for a
// job submitted by user/account in partition at time now: every node
// held by a reservation active at now that the job's user/account is
// not allowed into, unless that reservation carries IGNORE_JOBS (which
// only protects jobs already running inside it, not new placement — so
// IGNORE_JOBS reservations still exclude new jobs from everyone but
// their own holders).
func (r *Registry) ExclusionMask(width int, partition, user, account string, now time.Time) *bitmap.Set {
	mask := bitmap.New(width)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, res := range r.byName {
		if res.Partition != "" && res.Partition != partition {
			continue
		}
		if !res.Active(now) {
			continue
		}
		if res.AllowsUser(user, account) {
			continue
		}
		if res.Nodes == nil {
			continue
		}
		res.Nodes.ForEach(func(i int) {
			if i < width {
				mask.Set(i)
			}
		})
	}
	return mask
}

// Snapshot returns the read-only view RPC's get_reservations-style
// listing serializes.
func Snapshot(res *types.Reservation) types.ReservationSnapshot {
	count := 0
	if res.Nodes != nil {
		count = res.Nodes.PopCount()
	}
	return types.ReservationSnapshot{
		Name:      res.Name,
		Partition: res.Partition,
		StartTime: res.StartTime,
		EndTime:   res.EndTime,
		NodeCount: count,
	}
}

func (r *Registry) publish(name string, res *types.Reservation) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.UpdateObject{Kind: bus.KindReservation, Key: name, Payload: res, Timestamp: time.Now()})
}
