// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"sync"
	"time"
)

// ArchiveSink is the capability interface the archive_data flag writes
// through before a roll-up's oldest aggregates are pruned; the concrete
// destination (flat file, object store, accounting database) lives
// outside the core.
type ArchiveSink interface {
	Write(key BucketKey, b Bucket) error
}

// Store holds every granularity's buckets in memory. A daemon restart
// re-derives it by replaying accounting samples already persisted, so
// no on-disk format is defined for it here.
type Store struct {
	mu      sync.RWMutex
	hourly  map[BucketKey]Bucket
	daily   map[BucketKey]Bucket
	monthly map[BucketKey]Bucket
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		hourly:  make(map[BucketKey]Bucket),
		daily:   make(map[BucketKey]Bucket),
		monthly: make(map[BucketKey]Bucket),
	}
}

// RollHourly buckets samples into hourly aggregates and installs them,
// overwriting any existing bucket for the same key. Calling it twice
// with the same samples leaves the store in the same state both times,
// keeping the roll-up idempotent per window.
func (s *Store) RollHourly(samples []Sample) {
	buckets := make(map[BucketKey]Bucket)
	for _, smp := range samples {
		key := BucketKey{
			AssocID:     smp.AssocID,
			QoSID:       smp.QoSID,
			Cluster:     smp.Cluster,
			WorkloadKey: smp.WorkloadKey,
			Granularity: Hourly,
			Start:       truncate(smp.PeriodStart, Hourly),
		}
		b := buckets[key]
		b.CPUSeconds += smp.CPUSeconds
		b.WallSeconds += smp.WallSeconds
		b.MemoryMBSeconds += smp.MemoryMBSeconds
		b.EnergyJ += smp.EnergyJ
		b.JobCount++
		buckets[key] = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range buckets {
		s.hourly[k] = b
	}
}

// AggregateDaily recomputes the daily bucket for day from whatever
// hourly buckets currently fall within it, overwriting the previous
// value. Re-aggregating the same day after new hourly data lands for
// that day is expected and safe; re-aggregating with unchanged hourly
// input reproduces the same daily bucket.
func (s *Store) AggregateDaily(day time.Time) {
	day = truncate(day, Daily)
	s.aggregateInto(Hourly, Daily, day, day.AddDate(0, 0, 1))
}

// AggregateMonthly recomputes the monthly bucket for the month
// containing t from the current daily buckets.
func (s *Store) AggregateMonthly(t time.Time) {
	month := truncate(t, Monthly)
	s.aggregateInto(Daily, Monthly, month, month.AddDate(0, 1, 0))
}

func (s *Store) aggregateInto(from, to Granularity, start, end time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.hourly
	if from == Daily {
		src = s.daily
	}
	dst := s.daily
	if to == Monthly {
		dst = s.monthly
	}

	sums := make(map[BucketKey]Bucket)
	for k, b := range src {
		if k.Start.Before(start) || !k.Start.Before(end) {
			continue
		}
		agg := BucketKey{
			AssocID:     k.AssocID,
			QoSID:       k.QoSID,
			Cluster:     k.Cluster,
			WorkloadKey: k.WorkloadKey,
			Granularity: to,
			Start:       start,
		}
		sums[agg] = sums[agg].add(b)
	}
	for k, b := range sums {
		dst[k] = b
	}
}

// Get returns the bucket for key, if present.
func (s *Store) Get(key BucketKey) (Bucket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var table map[BucketKey]Bucket
	switch key.Granularity {
	case Hourly:
		table = s.hourly
	case Daily:
		table = s.daily
	default:
		table = s.monthly
	}
	b, ok := table[key]
	return b, ok
}

// ArchivePrune writes every bucket at granularity g older than cutoff to
// sink (when archiveData is true) and removes it from the store. It
// returns the number of buckets pruned.
func (s *Store) ArchivePrune(g Granularity, cutoff time.Time, archiveData bool, sink ArchiveSink) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var table map[BucketKey]Bucket
	switch g {
	case Hourly:
		table = s.hourly
	case Daily:
		table = s.daily
	default:
		table = s.monthly
	}

	var pruned int
	for k, b := range table {
		if !k.Start.Before(cutoff) {
			continue
		}
		if archiveData && sink != nil {
			if err := sink.Write(k, b); err != nil {
				return pruned, err
			}
		}
		delete(table, k)
		pruned++
	}
	return pruned, nil
}
