package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStoreEvictsOldestWhenFull(t *testing.T) {
	s := NewStore(3, zap.NewNop())
	now := time.Now()

	for i := 0; i < 5; i++ {
		s.AddRequestMetric(RequestMetric{
			Path:      fmt.Sprintf("/v1/req-%d", i),
			Method:    "GET",
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	got := s.RequestsSince(time.Time{})
	if len(got) != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", len(got))
	}
	for i, m := range got {
		want := fmt.Sprintf("/v1/req-%d", i+2)
		if m.Path != want {
			t.Fatalf("expected oldest samples evicted: slot %d got %q, want %q", i, m.Path, want)
		}
	}
}

func TestStoreWindowedQueries(t *testing.T) {
	s := NewStore(100, zap.NewNop())
	now := time.Now()

	s.AddRequestMetric(RequestMetric{Path: "/old", Method: "GET", Timestamp: now.Add(-10 * time.Minute)})
	s.AddRequestMetric(RequestMetric{Path: "/fresh", Method: "GET", Timestamp: now})
	s.AddDatabaseMetric(DatabaseMetric{Table: "accounts", Operation: OpSelect, Timestamp: now.Add(-10 * time.Minute)})
	s.AddDatabaseMetric(DatabaseMetric{Table: "accounts", Operation: OpSelect, Timestamp: now})

	reqs := s.RequestsSince(now.Add(-time.Minute))
	if len(reqs) != 1 || reqs[0].Path != "/fresh" {
		t.Fatalf("expected only the fresh request, got %+v", reqs)
	}
	queries := s.QueriesSince(now.Add(-time.Minute))
	if len(queries) != 1 {
		t.Fatalf("expected only the fresh query, got %+v", queries)
	}
}

func TestStoreStampsMissingTimestamps(t *testing.T) {
	s := NewStore(10, zap.NewNop())

	s.AddRequestMetric(RequestMetric{Path: "/v1/accounts", Method: "GET"})

	got := s.RequestsSince(time.Now().Add(-time.Second))
	if len(got) != 1 || got[0].Timestamp.IsZero() {
		t.Fatalf("expected timestamp auto-filled, got %+v", got)
	}
}

func TestStoreActiveCounterAndRequestRate(t *testing.T) {
	s := NewStore(100, zap.NewNop())

	s.IncActive()
	s.IncActive()
	s.DecActive()

	s.AddRequestMetric(RequestMetric{Path: "/a", Method: "GET"})
	s.AddRequestMetric(RequestMetric{Path: "/b", Method: "GET"})

	snap := s.SystemHealth(context.Background())
	if snap.ActiveRequests != 1 {
		t.Fatalf("expected 1 request in flight, got %d", snap.ActiveRequests)
	}
	if snap.RequestRatePerMinute != 2 {
		t.Fatalf("expected rate 2 per minute, got %v", snap.RequestRatePerMinute)
	}
}

func TestStoreConcurrentWriters(t *testing.T) {
	s := NewStore(1000, zap.NewNop())

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				s.AddRequestMetric(RequestMetric{Path: "/v1/accounts", Method: "GET"})
				s.AddDatabaseMetric(DatabaseMetric{Table: "accounts", Operation: OpSelect})
			}
		}()
	}
	for w := 0; w < 4; w++ {
		<-done
	}

	if got := len(s.RequestsSince(time.Time{})); got != 400 {
		t.Fatalf("expected 400 request samples, got %d", got)
	}
	if got := len(s.QueriesSince(time.Time{})); got != 400 {
		t.Fatalf("expected 400 query samples, got %d", got)
	}
}
