package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestInstrumentRecordsCompletedRequests(t *testing.T) {
	store := NewStore(100, zap.NewNop())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mw := Instrument(store, nil, nil, false)

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", nil)
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)

	got := store.RequestsSince(time.Time{})
	if len(got) != 1 {
		t.Fatalf("expected one recorded request, got %d", len(got))
	}

	m := got[0]
	if m.Path != "/v1/transactions" || m.Method != http.MethodPost {
		t.Fatalf("unexpected metric identity: %+v", m)
	}
	if m.StatusCode != http.StatusTeapot {
		t.Fatalf("expected handler status recorded, got %d", m.StatusCode)
	}
	if m.DurationMs < 0 {
		t.Fatalf("duration must be non-negative, got %v", m.DurationMs)
	}
	if m.MemoryDeltaMB != nil {
		t.Fatalf("memory delta must be absent when tracking is off")
	}

	// Счетчик запросов в полете возвращается к нулю после ответа
	if snap := store.SystemHealth(req.Context()); snap.ActiveRequests != 0 {
		t.Fatalf("expected no requests in flight, got %d", snap.ActiveRequests)
	}
}

func TestInstrumentTracksMemoryDelta(t *testing.T) {
	store := NewStore(100, zap.NewNop())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := Instrument(store, nil, nil, true)

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	got := store.RequestsSince(time.Time{})
	if len(got) != 1 || got[0].MemoryDeltaMB == nil {
		t.Fatalf("expected memory delta recorded, got %+v", got)
	}
}

func TestObserveQuery(t *testing.T) {
	store := NewStore(100, zap.NewNop())

	start := time.Now().Add(-20 * time.Millisecond)
	ObserveQuery(store, "SELECT id FROM accounts WHERE tenant_id = $1", "accounts", OpSelect, start)

	got := store.QueriesSince(time.Time{})
	if len(got) != 1 {
		t.Fatalf("expected one query metric, got %d", len(got))
	}
	q := got[0]
	if q.Table != "accounts" || q.Operation != OpSelect {
		t.Fatalf("unexpected query metric: %+v", q)
	}
	if q.DurationMs < 20 {
		t.Fatalf("expected duration >= 20ms, got %v", q.DurationMs)
	}

	// nil-рекордер — допустимый no-op
	ObserveQuery(nil, "SELECT 1", "health", OpSelect, time.Now())
}
