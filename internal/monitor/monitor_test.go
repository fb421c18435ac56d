package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeSource — управляемый источник метрик для тестов анализа.
type fakeSource struct {
	requests    []RequestMetric
	queries     []DatabaseMetric
	snap        SystemSnapshot
	panicSystem bool
}

func (f *fakeSource) RequestsSince(since time.Time) []RequestMetric {
	var out []RequestMetric
	for _, m := range f.requests {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSource) QueriesSince(since time.Time) []DatabaseMetric {
	var out []DatabaseMetric
	for _, m := range f.queries {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSource) SystemHealth(_ context.Context) SystemSnapshot {
	if f.panicSystem {
		panic("sampler exploded")
	}
	return f.snap
}

func newTestMonitor(src MetricSource, th Thresholds, maxAlerts int) *Monitor {
	return NewMonitor(src, th, nil, zap.NewNop(), maxAlerts)
}

func requestBatch(n int, method, path string, durationMs float64, status int, at time.Time) []RequestMetric {
	out := make([]RequestMetric, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, RequestMetric{
			Path:       path,
			Method:     method,
			StatusCode: status,
			DurationMs: durationMs,
			Timestamp:  at,
		})
	}
	return out
}

func alertsByType(alerts []Alert) map[AlertType][]Alert {
	out := make(map[AlertType][]Alert)
	for _, a := range alerts {
		out[a.Type] = append(out[a.Type], a)
	}
	return out
}

func TestAnalyzeHighLatencyAboveThreshold(t *testing.T) {
	th := DefaultThresholds()
	th.MaxAvgLatencyMs = 500

	src := &fakeSource{
		requests: requestBatch(5, "GET", "/v1/reports", 800, 200, time.Now().Add(-time.Second)),
	}
	m := newTestMonitor(src, th, 0)

	alerts := m.AnalyzePerformance(context.Background())
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d: %+v", len(alerts), alerts)
	}

	a := alerts[0]
	if a.Type != AlertHighLatency {
		t.Fatalf("expected %s, got %s", AlertHighLatency, a.Type)
	}
	if a.Severity != SeverityMedium {
		t.Fatalf("800ms vs 500ms threshold is medium, got %s", a.Severity)
	}
	if got := a.Details["avg_latency_ms"].(float64); got != 800 {
		t.Fatalf("expected avg_latency_ms 800, got %v", got)
	}
	if got := a.Details["sample_count"].(int); got != 5 {
		t.Fatalf("expected sample_count 5, got %v", got)
	}
}

func TestAnalyzeHighLatencySeverityEscalation(t *testing.T) {
	th := DefaultThresholds()
	th.MaxAvgLatencyMs = 500

	src := &fakeSource{
		requests: requestBatch(5, "GET", "/v1/reports", 1200, 200, time.Now().Add(-time.Second)),
	}
	alerts := newTestMonitor(src, th, 0).AnalyzePerformance(context.Background())

	if len(alerts) != 1 || alerts[0].Severity != SeverityHigh {
		t.Fatalf("avg above twice the threshold must be high severity, got %+v", alerts)
	}
}

func TestAnalyzeLatencyBelowThresholdIsQuiet(t *testing.T) {
	th := DefaultThresholds()
	th.MaxAvgLatencyMs = 500

	src := &fakeSource{
		requests: requestBatch(5, "GET", "/v1/reports", 400, 200, time.Now().Add(-time.Second)),
	}
	if alerts := newTestMonitor(src, th, 0).AnalyzePerformance(context.Background()); len(alerts) != 0 {
		t.Fatalf("expected no alerts below threshold, got %+v", alerts)
	}
}

func TestAnalyzeErrorRate(t *testing.T) {
	th := DefaultThresholds()
	now := time.Now().Add(-time.Second)

	src := &fakeSource{}
	src.requests = append(src.requests, requestBatch(7, "GET", "/v1/accounts", 10, 200, now)...)
	src.requests = append(src.requests, requestBatch(3, "GET", "/v1/accounts", 10, 500, now)...)

	alerts := newTestMonitor(src, th, 0).AnalyzePerformance(context.Background())
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d: %+v", len(alerts), alerts)
	}

	a := alerts[0]
	if a.Type != AlertHighErrorRate || a.Severity != SeverityHigh {
		t.Fatalf("unexpected alert: %+v", a)
	}
	if got := a.Details["error_rate_percent"].(float64); got != 30 {
		t.Fatalf("expected error_rate_percent 30, got %v", got)
	}
	if got := a.Details["error_count"].(int); got != 3 {
		t.Fatalf("expected error_count 3, got %v", got)
	}
	if got := a.Details["total_requests"].(int); got != 10 {
		t.Fatalf("expected total_requests 10, got %v", got)
	}
}

func TestAnalyzeErrorRateCountsOnly5xx(t *testing.T) {
	th := DefaultThresholds()
	now := time.Now().Add(-time.Second)

	// 4xx — клиентские ошибки, в error rate не входят
	src := &fakeSource{requests: requestBatch(10, "GET", "/v1/accounts", 10, 404, now)}
	if alerts := newTestMonitor(src, th, 0).AnalyzePerformance(context.Background()); len(alerts) != 0 {
		t.Fatalf("4xx must not count towards error rate, got %+v", alerts)
	}
}

func TestAnalyzeSlowDatabase(t *testing.T) {
	th := DefaultThresholds() // MaxQueryTimeMs 500
	now := time.Now().Add(-time.Second)

	src := &fakeSource{queries: []DatabaseMetric{
		{Query: "SELECT * FROM reports WHERE tenant_id = $1", DurationMs: 1400, Timestamp: now, Table: "reports", Operation: OpSelect},
		{Query: "SELECT * FROM reports WHERE id = $1", DurationMs: 1000, Timestamp: now, Table: "reports", Operation: OpSelect},
		{Query: "SELECT 1", DurationMs: 5, Timestamp: now, Table: "health", Operation: OpSelect},
	}}

	alerts := newTestMonitor(src, th, 0).AnalyzePerformance(context.Background())
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d: %+v", len(alerts), alerts)
	}

	a := alerts[0]
	if a.Type != AlertSlowDatabase {
		t.Fatalf("expected %s, got %s", AlertSlowDatabase, a.Type)
	}
	if a.Severity != SeverityHigh { // avg 1200 > 2×500
		t.Fatalf("expected high severity, got %s", a.Severity)
	}
	if got := a.Details["slow_query_count"].(int); got != 2 {
		t.Fatalf("expected 2 slow queries, got %v", got)
	}
	if got := a.Details["avg_duration_ms"].(float64); got != 1200 {
		t.Fatalf("expected avg 1200, got %v", got)
	}

	slowest := a.Details["slowest_queries"].([]map[string]any)
	if len(slowest) != 2 || slowest[0]["duration_ms"].(float64) != 1400 {
		t.Fatalf("slowest queries must be sorted desc: %+v", slowest)
	}
}

func TestDetectNPlusOneTriggersAboveCount(t *testing.T) {
	th := DefaultThresholds() // NPlusOneQueryCount 10
	ts := time.Now().Add(-time.Second)

	mkQueries := func(n int) []DatabaseMetric {
		out := make([]DatabaseMetric, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, DatabaseMetric{
				Query:      "SELECT * FROM transactions WHERE account_id = $1",
				DurationMs: 5,
				Timestamp:  ts,
				Table:      "transactions",
				Operation:  OpSelect,
			})
		}
		return out
	}

	alerts := newTestMonitor(&fakeSource{queries: mkQueries(12)}, th, 0).AnalyzePerformance(context.Background())
	if len(alerts) != 1 {
		t.Fatalf("12 identical queries in one second must trigger once, got %+v", alerts)
	}
	a := alerts[0]
	if a.Type != AlertQueryNPlusOne || a.Severity != SeverityMedium {
		t.Fatalf("unexpected alert: %+v", a)
	}
	if got := a.Details["pattern"].(string); got != "SELECT:transactions" {
		t.Fatalf("expected pattern SELECT:transactions, got %q", got)
	}
	if got := a.Details["query_count"].(int); got != 12 {
		t.Fatalf("expected query_count 12, got %v", got)
	}

	// 9 запросов — ниже порога, тишина
	if alerts := newTestMonitor(&fakeSource{queries: mkQueries(9)}, th, 0).AnalyzePerformance(context.Background()); len(alerts) != 0 {
		t.Fatalf("9 queries must stay quiet, got %+v", alerts)
	}
}

func TestDetectNPlusOneDedupesAcrossBuckets(t *testing.T) {
	th := DefaultThresholds()
	first := time.Now().Add(-10 * time.Second)
	second := first.Add(3 * time.Second)

	var queries []DatabaseMetric
	for _, ts := range []time.Time{first, second} {
		for i := 0; i < 12; i++ {
			queries = append(queries, DatabaseMetric{
				Query:     "SELECT * FROM transactions WHERE account_id = $1",
				Timestamp: ts,
				Table:     "transactions",
				Operation: OpSelect,
			})
		}
	}

	alerts := newTestMonitor(&fakeSource{queries: queries}, th, 0).AnalyzePerformance(context.Background())
	if len(alerts) != 1 {
		t.Fatalf("same pattern in two buckets must produce one alert, got %+v", alerts)
	}
}

func TestAnalyzeSystemThresholds(t *testing.T) {
	th := DefaultThresholds() // 80% CPU / 85% mem / 100 concurrent

	src := &fakeSource{snap: SystemSnapshot{
		CPUPercent:           95,
		MemoryPercent:        90,
		MemoryUsedMB:         2048,
		ActiveRequests:       150,
		RequestRatePerMinute: 40,
	}}

	alerts := newTestMonitor(src, th, 0).AnalyzePerformance(context.Background())
	byType := alertsByType(alerts)

	if len(alerts) != 3 {
		t.Fatalf("expected cpu+memory+concurrency alerts, got %+v", alerts)
	}
	for _, typ := range []AlertType{AlertHighCPU, AlertHighMemory, AlertConcurrentRequests} {
		got, ok := byType[typ]
		if !ok || len(got) != 1 || got[0].Severity != SeverityHigh {
			t.Fatalf("expected one high %s alert, got %+v", typ, got)
		}
	}
	if got := byType[AlertHighMemory][0].Details["memory_used_mb"].(float64); got != 2048 {
		t.Fatalf("expected memory_used_mb 2048, got %v", got)
	}
}

func TestAnalyzeTrendsDetectsDegradation(t *testing.T) {
	th := DefaultThresholds() // trending 15m, ratio 2.0, min 3 samples
	now := time.Now()

	src := &fakeSource{}
	src.requests = append(src.requests, requestBatch(3, "GET", "/v1/accounts", 100, 200, now.Add(-10*time.Minute))...)
	src.requests = append(src.requests, requestBatch(3, "GET", "/v1/accounts", 300, 200, now.Add(-time.Minute))...)

	alerts := newTestMonitor(src, th, 0).AnalyzePerformance(context.Background())
	if len(alerts) != 1 {
		t.Fatalf("expected one trend alert, got %+v", alerts)
	}

	a := alerts[0]
	if a.Type != AlertHighLatency || a.Severity != SeverityMedium {
		t.Fatalf("unexpected trend alert: %+v", a)
	}
	if got := a.Details["degradation_percent"].(float64); got != 200 {
		t.Fatalf("300ms vs 100ms is +200%%, got %v", got)
	}
	if got := a.Details["current_avg_ms"].(float64); got != 300 {
		t.Fatalf("expected current_avg_ms 300, got %v", got)
	}
}

func TestAnalyzeTrendsIgnoresMildSlowdown(t *testing.T) {
	th := DefaultThresholds()
	now := time.Now()

	src := &fakeSource{}
	src.requests = append(src.requests, requestBatch(3, "GET", "/v1/accounts", 100, 200, now.Add(-10*time.Minute))...)
	src.requests = append(src.requests, requestBatch(3, "GET", "/v1/accounts", 150, 200, now.Add(-time.Minute))...)

	if alerts := newTestMonitor(src, th, 0).AnalyzePerformance(context.Background()); len(alerts) != 0 {
		t.Fatalf("1.5x slowdown is below the degradation ratio, got %+v", alerts)
	}
}

func TestAnalyzePassPanicIsIsolated(t *testing.T) {
	th := DefaultThresholds()
	th.MaxAvgLatencyMs = 500

	src := &fakeSource{
		requests:    requestBatch(5, "GET", "/v1/reports", 1200, 200, time.Now().Add(-time.Second)),
		panicSystem: true,
	}

	alerts := newTestMonitor(src, th, 0).AnalyzePerformance(context.Background())
	if len(alerts) != 1 || alerts[0].Type != AlertHighLatency {
		t.Fatalf("panicking system pass must not suppress other passes, got %+v", alerts)
	}
}

func TestEmptyWindowIsHealthy(t *testing.T) {
	m := newTestMonitor(&fakeSource{}, DefaultThresholds(), 0)

	if alerts := m.AnalyzePerformance(context.Background()); len(alerts) != 0 {
		t.Fatalf("empty window must produce no alerts, got %+v", alerts)
	}

	s := m.Summary()
	if s.Status != "healthy" || s.AlertCount != 0 {
		t.Fatalf("expected healthy summary, got %+v", s)
	}
}

func TestAlertBufferEvictsFIFO(t *testing.T) {
	m := newTestMonitor(&fakeSource{}, DefaultThresholds(), 5)
	now := time.Now()

	for i := 0; i < 10; i++ {
		m.addAlert(Alert{
			Type:      AlertHighLatency,
			Severity:  SeverityMedium,
			Message:   fmt.Sprintf("alert-%d", i),
			Timestamp: now,
		})
	}

	alerts := m.RecentAlerts(time.Hour)
	if len(alerts) != 5 {
		t.Fatalf("expected buffer capped at 5, got %d", len(alerts))
	}
	for i, a := range alerts {
		want := fmt.Sprintf("alert-%d", i+5)
		if a.Message != want {
			t.Fatalf("expected oldest entries evicted first: slot %d got %q, want %q", i, a.Message, want)
		}
	}
}

func TestRecentAlertsFiltersByWindow(t *testing.T) {
	m := newTestMonitor(&fakeSource{}, DefaultThresholds(), 0)
	now := time.Now()

	m.addAlert(Alert{Type: AlertHighLatency, Severity: SeverityMedium, Message: "old", Timestamp: now.Add(-2 * time.Hour)})
	m.addAlert(Alert{Type: AlertHighLatency, Severity: SeverityMedium, Message: "fresh", Timestamp: now})

	alerts := m.RecentAlerts(time.Hour)
	if len(alerts) != 1 || alerts[0].Message != "fresh" {
		t.Fatalf("expected only the fresh alert, got %+v", alerts)
	}
}

func TestSummaryAggregatesSeverity(t *testing.T) {
	m := newTestMonitor(&fakeSource{}, DefaultThresholds(), 0)
	now := time.Now()

	m.addAlert(Alert{Type: AlertHighLatency, Severity: SeverityMedium, Timestamp: now})
	m.addAlert(Alert{Type: AlertHighErrorRate, Severity: SeverityHigh, Timestamp: now})
	m.addAlert(Alert{Type: AlertQueryNPlusOne, Severity: SeverityMedium, Timestamp: now})

	s := m.Summary()
	if s.Status != "issues_detected" || s.AlertCount != 3 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.OverallSeverity != SeverityHigh {
		t.Fatalf("overall severity must be the max, got %s", s.OverallSeverity)
	}
	if s.SeverityBreakdown[SeverityMedium] != 2 || s.SeverityBreakdown[SeverityHigh] != 1 {
		t.Fatalf("unexpected breakdown: %+v", s.SeverityBreakdown)
	}
}
