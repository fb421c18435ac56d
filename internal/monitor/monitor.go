package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultMaxAlerts = 100

// MetricSource описывает, что монитору нужно от хранилища метрик.
// Реализуется Store; в тестах подменяется фейком.
type MetricSource interface {
	RequestsSince(since time.Time) []RequestMetric
	QueriesSince(since time.Time) []DatabaseMetric
	SystemHealth(ctx context.Context) SystemSnapshot
}

// Monitor прогоняет независимые проходы анализа над окном метрик
// и накапливает алерты в ограниченном FIFO-буфере.
// Состояния между проходами нет: каждый вызов AnalyzePerformance
// идемпотентен относительно своего окна.
type Monitor struct {
	source     MetricSource
	thresholds Thresholds
	metrics    *Metrics
	logger     *zap.Logger

	mu        sync.Mutex
	alerts    []Alert
	maxAlerts int
}

func NewMonitor(source MetricSource, th Thresholds, metrics *Metrics, logger *zap.Logger, maxAlerts int) *Monitor {
	if maxAlerts <= 0 {
		maxAlerts = defaultMaxAlerts
	}
	return &Monitor{
		source:     source,
		thresholds: th,
		metrics:    metrics,
		logger:     logger.Named("perf-monitor"),
		alerts:     make([]Alert, 0, maxAlerts),
		maxAlerts:  maxAlerts,
	}
}

// AnalyzePerformance запускает все проходы, складывает найденные алерты
// в историю и возвращает их список. Пустое окно — пустой список, не ошибка.
// Падение одного прохода изолируется и не мешает остальным.
func (m *Monitor) AnalyzePerformance(ctx context.Context) []Alert {
	now := time.Now()

	var found []Alert
	found = append(found, m.runPass("request_latency", func() []Alert { return m.analyzeRequestLatency(now) })...)
	found = append(found, m.runPass("error_rate", func() []Alert { return m.analyzeErrorRate(now) })...)
	found = append(found, m.runPass("database", func() []Alert { return m.analyzeDatabase(now) })...)
	found = append(found, m.runPass("n_plus_one", func() []Alert { return m.detectNPlusOne(now) })...)
	found = append(found, m.runPass("system", func() []Alert { return m.analyzeSystem(ctx) })...)
	found = append(found, m.runPass("trend", func() []Alert { return m.analyzeTrends(now) })...)

	for _, a := range found {
		m.addAlert(a)
	}
	return found
}

// runPass — граница отказа одного прохода: паника внутри логируется,
// проход просто не дает алертов, остальные продолжают работать.
func (m *Monitor) runPass(name string, fn func() []Alert) (alerts []Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("analysis pass failed",
				zap.String("pass", name),
				zap.Any("panic", r))
			alerts = nil
		}
	}()
	return fn()
}

// Проход 1а: средняя задержка по каждой группе (method, path) в окне анализа.
func (m *Monitor) analyzeRequestLatency(now time.Time) []Alert {
	samples := m.source.RequestsSince(now.Add(-m.thresholds.AnalysisWindow))

	groups := make(map[string][]float64)
	for _, s := range samples {
		key := s.Method + " " + s.Path
		groups[key] = append(groups[key], s.DurationMs)
	}

	var alerts []Alert
	for endpoint, durations := range groups {
		avg := mean(durations)
		if avg <= m.thresholds.MaxAvgLatencyMs {
			continue
		}
		severity := SeverityMedium
		if avg > 2*m.thresholds.MaxAvgLatencyMs {
			severity = SeverityHigh
		}
		alerts = append(alerts, Alert{
			Type:     AlertHighLatency,
			Severity: severity,
			Message:  fmt.Sprintf("high average latency on %s: %.1fms", endpoint, avg),
			Details: map[string]any{
				"endpoint":       endpoint,
				"avg_latency_ms": avg,
				"sample_count":   len(durations),
			},
			Timestamp: now,
		})
	}
	return alerts
}

// Проход 1б: доля 5xx по всему окну (не по эндпоинтам).
func (m *Monitor) analyzeErrorRate(now time.Time) []Alert {
	samples := m.source.RequestsSince(now.Add(-m.thresholds.AnalysisWindow))
	if len(samples) == 0 {
		return nil
	}

	errorCount := 0
	for _, s := range samples {
		if s.StatusCode >= 500 {
			errorCount++
		}
	}

	rate := float64(errorCount) / float64(len(samples)) * 100
	if rate <= m.thresholds.MaxErrorRatePercent {
		return nil
	}
	return []Alert{{
		Type:     AlertHighErrorRate,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("error rate %.1f%% exceeds threshold", rate),
		Details: map[string]any{
			"error_rate_percent": rate,
			"error_count":        errorCount,
			"total_requests":     len(samples),
		},
		Timestamp: now,
	}}
}

// Проход 2: медленные запросы к БД.
func (m *Monitor) analyzeDatabase(now time.Time) []Alert {
	queries := m.source.QueriesSince(now.Add(-m.thresholds.AnalysisWindow))

	var slow []DatabaseMetric
	for _, q := range queries {
		if q.DurationMs > m.thresholds.MaxQueryTimeMs {
			slow = append(slow, q)
		}
	}
	if len(slow) == 0 {
		return nil
	}

	sort.Slice(slow, func(i, j int) bool { return slow[i].DurationMs > slow[j].DurationMs })

	total := 0.0
	for _, q := range slow {
		total += q.DurationMs
	}
	avg := total / float64(len(slow))

	severity := SeverityMedium
	if avg > 2*m.thresholds.MaxQueryTimeMs {
		severity = SeverityHigh
	}

	limit := m.thresholds.SlowQueryReportLimit
	if limit <= 0 || limit > len(slow) {
		limit = len(slow)
	}
	slowest := make([]map[string]any, 0, limit)
	for _, q := range slow[:limit] {
		slowest = append(slowest, map[string]any{
			"query":       truncateQuery(q.Query),
			"table":       q.Table,
			"duration_ms": q.DurationMs,
		})
	}

	return []Alert{{
		Type:     AlertSlowDatabase,
		Severity: severity,
		Message:  fmt.Sprintf("%d slow queries, avg %.1fms", len(slow), avg),
		Details: map[string]any{
			"avg_duration_ms":  avg,
			"slow_query_count": len(slow),
			"slowest_queries":  slowest,
		},
		Timestamp: now,
	}}
}

// Проход 3: детекция N+1 — много структурно одинаковых запросов
// (операция + таблица) внутри одной секундной корзины.
func (m *Monitor) detectNPlusOne(now time.Time) []Alert {
	queries := m.source.QueriesSince(now.Add(-m.thresholds.AnalysisWindow))

	type bucketKey struct {
		pattern string
		bucket  int64
	}
	counts := make(map[bucketKey]int)
	for _, q := range queries {
		key := bucketKey{
			pattern: string(q.Operation) + ":" + q.Table,
			bucket:  q.Timestamp.Unix(),
		}
		counts[key]++
	}

	// Один алерт на паттерн, даже если он сработал в нескольких корзинах
	worst := make(map[string]int)
	for key, n := range counts {
		if n > m.thresholds.NPlusOneQueryCount && n > worst[key.pattern] {
			worst[key.pattern] = n
		}
	}

	var alerts []Alert
	for pattern, n := range worst {
		alerts = append(alerts, Alert{
			Type:     AlertQueryNPlusOne,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("possible N+1 query pattern: %s", pattern),
			Details: map[string]any{
				"pattern":     pattern,
				"query_count": n,
			},
			Timestamp: now,
		})
	}
	return alerts
}

// Проход 4: текущее состояние ресурсов системы.
func (m *Monitor) analyzeSystem(ctx context.Context) []Alert {
	snap := m.source.SystemHealth(ctx)
	now := time.Now()

	var alerts []Alert
	if snap.CPUPercent > m.thresholds.MaxCPUPercent {
		alerts = append(alerts, Alert{
			Type:      AlertHighCPU,
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("CPU usage %.1f%% exceeds threshold", snap.CPUPercent),
			Details:   map[string]any{"cpu_percent": snap.CPUPercent},
			Timestamp: now,
		})
	}
	if snap.MemoryPercent > m.thresholds.MaxMemoryPercent {
		alerts = append(alerts, Alert{
			Type:     AlertHighMemory,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("memory usage %.1f%% exceeds threshold", snap.MemoryPercent),
			Details: map[string]any{
				"memory_percent": snap.MemoryPercent,
				"memory_used_mb": snap.MemoryUsedMB,
			},
			Timestamp: now,
		})
	}
	if snap.ActiveRequests > m.thresholds.MaxConcurrentRequests {
		alerts = append(alerts, Alert{
			Type:     AlertConcurrentRequests,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("%d concurrent requests exceed threshold", snap.ActiveRequests),
			Details: map[string]any{
				"active_requests":         snap.ActiveRequests,
				"request_rate_per_minute": snap.RequestRatePerMinute,
			},
			Timestamp: now,
		})
	}
	return alerts
}

// Проход 5: деградация тренда — сравниваем свежую половину trending-окна
// с более старой половиной той же длины по каждому эндпоинту.
func (m *Monitor) analyzeTrends(now time.Time) []Alert {
	start := now.Add(-m.thresholds.TrendingWindow)
	mid := now.Add(-m.thresholds.TrendingWindow / 2)

	samples := m.source.RequestsSince(start)

	historical := make(map[string][]float64)
	recent := make(map[string][]float64)
	for _, s := range samples {
		key := s.Method + " " + s.Path
		if s.Timestamp.Before(mid) {
			historical[key] = append(historical[key], s.DurationMs)
		} else {
			recent[key] = append(recent[key], s.DurationMs)
		}
	}

	var alerts []Alert
	for endpoint, cur := range recent {
		hist, ok := historical[endpoint]
		if !ok || len(cur) < m.thresholds.TrendMinSamples || len(hist) < m.thresholds.TrendMinSamples {
			continue
		}
		curAvg, histAvg := mean(cur), mean(hist)
		if histAvg <= 0 || curAvg <= histAvg*m.thresholds.LatencyDegradationRatio {
			continue
		}
		degradation := (curAvg/histAvg - 1) * 100
		alerts = append(alerts, Alert{
			Type:     AlertHighLatency,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("latency degradation on %s: +%.0f%% vs previous window", endpoint, degradation),
			Details: map[string]any{
				"endpoint":            endpoint,
				"degradation_percent": degradation,
				"current_avg_ms":      curAvg,
				"historical_avg_ms":   histAvg,
			},
			Timestamp: now,
		})
	}
	return alerts
}

// addAlert дописывает алерт в историю, строго FIFO-вытеснение при переполнении.
func (m *Monitor) addAlert(a Alert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > m.maxAlerts {
		m.alerts = append(m.alerts[:0:0], m.alerts[len(m.alerts)-m.maxAlerts:]...)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.AlertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

// RecentAlerts возвращает алерты не старше указанного окна.
func (m *Monitor) RecentAlerts(window time.Duration) []Alert {
	cutoff := time.Now().Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.Timestamp.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// Summary — сводка для операторского /health.
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.alerts) == 0 {
		return Summary{Status: "healthy", AlertCount: 0}
	}

	breakdown := make(map[Severity]int)
	overall := SeverityLow
	for _, a := range m.alerts {
		breakdown[a.Severity]++
		if severityRank[a.Severity] > severityRank[overall] {
			overall = a.Severity
		}
	}
	return Summary{
		Status:            "issues_detected",
		AlertCount:        len(m.alerts),
		OverallSeverity:   overall,
		SeverityBreakdown: breakdown,
	}
}

// StartLoop гоняет анализ по тикеру до отмены контекста.
func (m *Monitor) StartLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("performance monitor loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("performance monitor loop stopping by context...")
			return
		case <-ticker.C:
			if found := m.AnalyzePerformance(ctx); len(found) > 0 {
				m.logger.Warn("performance issues detected", zap.Int("alerts", len(found)))
			}
		}
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return total / float64(len(vals))
}

func truncateQuery(q string) string {
	const maxLen = 200
	if len(q) > maxLen {
		return q[:maxLen] + "..."
	}
	return q
}
