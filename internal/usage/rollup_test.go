// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(hour int, cpu int64) Sample {
	return Sample{
		AssocID:     1,
		Cluster:     "cl",
		WorkloadKey: "batch",
		CPUSeconds:  cpu,
		WallSeconds: cpu,
		PeriodStart: time.Date(2026, 1, 1, hour, 15, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 1, 1, hour, 45, 0, 0, time.UTC),
	}
}

func TestRollHourlyIsIdempotent(t *testing.T) {
	s := New()
	samples := []Sample{sampleAt(3, 100), sampleAt(3, 50)}

	s.RollHourly(samples)
	key := BucketKey{AssocID: 1, Cluster: "cl", WorkloadKey: "batch", Granularity: Hourly, Start: time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)}
	b1, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(150), b1.CPUSeconds)
	assert.Equal(t, int32(2), b1.JobCount)

	s.RollHourly(samples)
	b2, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, b1, b2)
}

func TestAggregateDailyFromHourly(t *testing.T) {
	s := New()
	s.RollHourly([]Sample{sampleAt(1, 10), sampleAt(2, 20), sampleAt(23, 5)})

	s.AggregateDaily(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	key := BucketKey{AssocID: 1, Cluster: "cl", WorkloadKey: "batch", Granularity: Daily, Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(35), b.CPUSeconds)
	assert.Equal(t, int32(3), b.JobCount)
}

func TestAggregateDailyReaggregationStable(t *testing.T) {
	s := New()
	s.RollHourly([]Sample{sampleAt(1, 10)})
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.AggregateDaily(day)
	s.AggregateDaily(day)

	key := BucketKey{AssocID: 1, Cluster: "cl", WorkloadKey: "batch", Granularity: Daily, Start: day}
	b, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(10), b.CPUSeconds)
}

func TestAggregateMonthlyFromDaily(t *testing.T) {
	s := New()
	s.RollHourly([]Sample{sampleAt(1, 10), sampleAt(2, 20)})
	s.AggregateDaily(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s.AggregateMonthly(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	key := BucketKey{AssocID: 1, Cluster: "cl", WorkloadKey: "batch", Granularity: Monthly, Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(30), b.CPUSeconds)
}

type fakeSink struct {
	written []BucketKey
}

func (f *fakeSink) Write(key BucketKey, b Bucket) error {
	f.written = append(f.written, key)
	return nil
}

func TestArchivePruneWritesWhenArchiveDataTrue(t *testing.T) {
	s := New()
	s.RollHourly([]Sample{sampleAt(1, 10)})

	sink := &fakeSink{}
	cutoff := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	n, err := s.ArchivePrune(Hourly, cutoff, true, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, sink.written, 1)

	key := BucketKey{AssocID: 1, Cluster: "cl", WorkloadKey: "batch", Granularity: Hourly, Start: time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)}
	_, ok := s.Get(key)
	assert.False(t, ok)
}

func TestArchivePruneSkipsSinkWhenArchiveDataFalse(t *testing.T) {
	s := New()
	s.RollHourly([]Sample{sampleAt(1, 10)})

	sink := &fakeSink{}
	cutoff := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	n, err := s.ArchivePrune(Hourly, cutoff, false, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, sink.written)
}
