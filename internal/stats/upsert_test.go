package stats

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestUpsertStats_Record(t *testing.T) {
	s := NewUpsertStats()
	s.Record(true)
	s.Record(false)
	s.Record(false)
	s.RecordFailure()

	if s.Inserted() != 1 {
		t.Errorf("Inserted() = %d, want 1", s.Inserted())
	}
	if s.Updated() != 2 {
		t.Errorf("Updated() = %d, want 2", s.Updated())
	}
	if s.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", s.Failed())
	}
	if s.Total() != 3 {
		t.Errorf("Total() = %d, want 3", s.Total())
	}
	if got := s.String(); got != "inserted=1 updated=2 failed=1" {
		t.Errorf("String() = %q", got)
	}
}

func TestUpsertStats_Concurrent(t *testing.T) {
	var s UpsertStats
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Record(i%2 == 0)
		}(i)
	}
	wg.Wait()

	if s.Total() != 50 {
		t.Errorf("Total() = %d, want 50", s.Total())
	}
	if s.Inserted() != 25 {
		t.Errorf("Inserted() = %d, want 25", s.Inserted())
	}
}

func TestUpsertStats_LogSummary(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s := NewUpsertStats()
	s.Record(true)
	s.LogSummary(logger, "payment_record")

	out := buf.String()
	for _, want := range []string{"upsert statistics", "entity=payment_record", "inserted=1", "failed=0"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
