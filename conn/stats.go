package conn

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// QueryStats holds execution statistics for a connection.
type QueryStats struct {
	// TotalOps is the total number of operations executed, counting a
	// batch as one operation.
	TotalOps atomic.Int64
	// TotalStatements counts individual statement executions,
	// including every tuple of a batch.
	TotalStatements atomic.Int64
	// TotalDuration is the total time spent executing, in nanoseconds.
	TotalDuration atomic.Int64
	// SlowOps is the count of operations exceeding the slow threshold.
	SlowOps atomic.Int64
	// Errors is the count of failed operations.
	Errors atomic.Int64
	// Rejected is the count of operations rejected before reaching the
	// backend, by an open circuit or the execution safeguard.
	Rejected atomic.Int64
}

// Snapshot returns a point-in-time copy of the statistics.
func (s *QueryStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalOps:        s.TotalOps.Load(),
		TotalStatements: s.TotalStatements.Load(),
		TotalDuration:   time.Duration(s.TotalDuration.Load()),
		SlowOps:         s.SlowOps.Load(),
		Errors:          s.Errors.Load(),
		Rejected:        s.Rejected.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalOps.Store(0)
	s.TotalStatements.Store(0)
	s.TotalDuration.Store(0)
	s.SlowOps.Store(0)
	s.Errors.Store(0)
	s.Rejected.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of query statistics.
type StatsSnapshot struct {
	TotalOps        int64
	TotalStatements int64
	TotalDuration   time.Duration
	SlowOps         int64
	Errors          int64
	Rejected        int64
}

// AvgDuration returns the average operation duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	if s.TotalOps == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.TotalOps)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"ops=%d statements=%d duration=%s avg=%s slow=%d errors=%d rejected=%d",
		s.TotalOps, s.TotalStatements, s.TotalDuration, s.AvgDuration(),
		s.SlowOps, s.Errors, s.Rejected,
	)
}

// SlowHook is called when an operation exceeds the slow threshold.
type SlowHook func(ctx context.Context, query string, duration time.Duration)
