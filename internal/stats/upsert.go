// Package stats tracks in-process counters for payment record writes,
// reported in the shutdown log.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// UpsertStats counts store upserts by outcome. Safe for concurrent use; the
// zero value is ready.
type UpsertStats struct {
	inserted atomic.Int64
	updated  atomic.Int64
	failed   atomic.Int64
}

// NewUpsertStats creates a new UpsertStats instance.
func NewUpsertStats() *UpsertStats {
	return &UpsertStats{}
}

// Record counts a successful upsert.
func (s *UpsertStats) Record(inserted bool) {
	if inserted {
		s.inserted.Add(1)
		return
	}
	s.updated.Add(1)
}

// RecordFailure counts an upsert the store rejected.
func (s *UpsertStats) RecordFailure() {
	s.failed.Add(1)
}

// Inserted returns the number of records created.
func (s *UpsertStats) Inserted() int64 { return s.inserted.Load() }

// Updated returns the number of existing records merged.
func (s *UpsertStats) Updated() int64 { return s.updated.Load() }

// Failed returns the number of failed upserts.
func (s *UpsertStats) Failed() int64 { return s.failed.Load() }

// Total returns inserts plus updates.
func (s *UpsertStats) Total() int64 {
	return s.Inserted() + s.Updated()
}

func (s *UpsertStats) String() string {
	return fmt.Sprintf("inserted=%d updated=%d failed=%d", s.Inserted(), s.Updated(), s.Failed())
}

// LogSummary logs the counters at INFO level.
func (s *UpsertStats) LogSummary(logger *slog.Logger, entity string) {
	logger.Info("upsert statistics",
		"entity", entity,
		"inserted", s.Inserted(),
		"updated", s.Updated(),
		"failed", s.Failed(),
	)
}
