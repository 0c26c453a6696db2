// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/capability"
	"github.com/slurmctld/core/internal/types"
)

// MemStore is an in-memory capability.AccountingStore, the accounting
// backend the daemon falls back to when no external store is configured.
// It keeps every job_start/job_complete/job_suspend record and the
// generic object table in memory, enough to check that every running
// job has exactly one job_start and one job_complete record in that
// order.
type MemStore struct {
	mu sync.Mutex

	objects map[bus.Kind]map[string]any

	starts    map[int64]time.Time
	completes map[int64]time.Time
	suspends  []SuspendRecord

	committed int
}

// SuspendRecord is one append-only suspend/resume note.
type SuspendRecord struct {
	JobID   int64
	At      time.Time
	Resumed bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		objects:   make(map[bus.Kind]map[string]any),
		starts:    make(map[int64]time.Time),
		completes: make(map[int64]time.Time),
	}
}

func (m *MemStore) Open(ctx context.Context) error  { return nil }
func (m *MemStore) Close(ctx context.Context) error { return nil }

// Commit applies every update in the batch, dispatching job start and
// complete kinds to their ledgers and everything else to the generic
// object table.
func (m *MemStore) Commit(ctx context.Context, batch []bus.UpdateObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range batch {
		switch u.Kind {
		case bus.KindJobStart:
			if snap, ok := u.Payload.(types.JobSnapshot); ok {
				m.starts[snap.JobID] = u.Timestamp
			}
		case bus.KindJobComplete:
			if snap, ok := u.Payload.(types.JobSnapshot); ok {
				m.completes[snap.JobID] = u.Timestamp
			}
		default:
			table, ok := m.objects[u.Kind]
			if !ok {
				table = make(map[string]any)
				m.objects[u.Kind] = table
			}
			table[u.Key] = u.Payload
		}
		m.committed++
	}
	return nil
}

func (m *MemStore) AddObject(ctx context.Context, kind bus.Kind, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.objects[kind]
	if !ok {
		table = make(map[string]any)
		m.objects[kind] = table
	}
	table[fmt.Sprintf("%d", len(table))] = payload
	return nil
}

func (m *MemStore) ModifyObject(ctx context.Context, kind bus.Kind, key string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.objects[kind]
	if !ok {
		return fmt.Errorf("accounting: unknown kind %s", kind)
	}
	table[key] = payload
	return nil
}

func (m *MemStore) RemoveObject(ctx context.Context, kind bus.Kind, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects[kind], key)
	return nil
}

func (m *MemStore) GetObject(ctx context.Context, kind bus.Kind, key string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objects[kind][key]
	if !ok {
		return nil, fmt.Errorf("accounting: %s/%s not found", kind, key)
	}
	return v, nil
}

func (m *MemStore) RollUsage(ctx context.Context, window capability.TimeWindow) error {
	return nil
}

func (m *MemStore) RecordJobStart(ctx context.Context, jobID int64, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts[jobID] = t
	return nil
}

func (m *MemStore) RecordJobComplete(ctx context.Context, jobID int64, t time.Time, state types.JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.starts[jobID]; !ok {
		return fmt.Errorf("accounting: job %d completed without a recorded start", jobID)
	}
	m.completes[jobID] = t
	return nil
}

func (m *MemStore) RecordJobSuspend(ctx context.Context, jobID int64, t time.Time, resumed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspends = append(m.suspends, SuspendRecord{JobID: jobID, At: t, Resumed: resumed})
	return nil
}

// HasStartThenComplete reports whether jobID has exactly one recorded
// start strictly before its one recorded complete.
func (m *MemStore) HasStartThenComplete(jobID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, hasStart := m.starts[jobID]
	complete, hasComplete := m.completes[jobID]
	return hasStart && hasComplete && start.Before(complete)
}
