package monitor

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// Detector — низкоуровневые эвристики поверх того же хранилища метрик.
// Вызывается независимо от монитора (операторский эндпоинт /v1/bottlenecks),
// состояния не держит.
type Detector struct {
	source     MetricSource
	thresholds Thresholds
	logger     *zap.Logger
}

func NewDetector(source MetricSource, th Thresholds, logger *zap.Logger) *Detector {
	return &Detector{
		source:     source,
		thresholds: th,
		logger:     logger.Named("bottleneck-detector"),
	}
}

// DetectAll собирает находки всех трех эвристик.
func (d *Detector) DetectAll() []Bottleneck {
	var out []Bottleneck
	out = append(out, d.DetectResourceContention()...)
	out = append(out, d.DetectMemoryLeaks()...)
	out = append(out, d.DetectDatabaseHotspots()...)
	return out
}

// DetectResourceContention ищет секундные кластеры, где одновременно
// высокая конкурентность и высокая средняя задержка.
func (d *Detector) DetectResourceContention() []Bottleneck {
	now := time.Now()
	samples := d.source.RequestsSince(now.Add(-d.thresholds.AnalysisWindow))

	type cluster struct {
		durations []float64
		endpoints map[string]struct{}
	}
	clusters := make(map[int64]*cluster)
	for _, s := range samples {
		bucket := s.Timestamp.Unix()
		c, ok := clusters[bucket]
		if !ok {
			c = &cluster{endpoints: make(map[string]struct{})}
			clusters[bucket] = c
		}
		c.durations = append(c.durations, s.DurationMs)
		c.endpoints[s.Method+" "+s.Path] = struct{}{}
	}

	var out []Bottleneck
	for _, c := range clusters {
		if len(c.durations) < d.thresholds.ContentionMinConcurrent {
			continue
		}
		avg := mean(c.durations)
		if avg <= d.thresholds.ContentionLatencyMs {
			continue
		}

		endpoints := make([]string, 0, len(c.endpoints))
		for e := range c.endpoints {
			endpoints = append(endpoints, e)
		}
		sort.Strings(endpoints)

		out = append(out, Bottleneck{
			Type: "high_concurrency_latency",
			Details: map[string]any{
				"concurrent_requests": len(c.durations),
				"avg_latency_ms":      avg,
				"endpoints":           endpoints,
			},
			Timestamp: now,
		})
	}
	return out
}

// DetectMemoryLeaks группирует запросы по корзинам фиксированной длины
// и ищет монотонный рост среднего memory_delta_mb на протяжении
// нескольких корзин подряд.
func (d *Detector) DetectMemoryLeaks() []Bottleneck {
	now := time.Now()
	samples := d.source.RequestsSince(now.Add(-d.thresholds.LeakHorizon))

	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	for _, s := range samples {
		if s.MemoryDeltaMB == nil {
			continue
		}
		bucket := s.Timestamp.Truncate(d.thresholds.LeakBucket).Unix()
		sums[bucket] += *s.MemoryDeltaMB
		counts[bucket]++
	}
	if len(counts) < d.thresholds.LeakMinBuckets {
		return nil
	}

	buckets := make([]int64, 0, len(counts))
	for b := range counts {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	averages := make([]float64, len(buckets))
	for i, b := range buckets {
		averages[i] = sums[b] / float64(counts[b])
	}

	// Ищем самый длинный хвостовой участок строгого роста
	run := 1
	var increases []float64
	for i := len(averages) - 1; i > 0; i-- {
		if averages[i] <= averages[i-1] {
			break
		}
		run++
		increases = append(increases, averages[i]-averages[i-1])
	}
	if run < d.thresholds.LeakMinBuckets {
		return nil
	}

	return []Bottleneck{{
		Type: "memory_leak_trend",
		Details: map[string]any{
			"avg_increase_mb":    mean(increases),
			"increasing_buckets": run,
			"bucket_minutes":     d.thresholds.LeakBucket.Minutes(),
		},
		Timestamp: now,
	}}
}

// DetectDatabaseHotspots находит таблицы с аномально высокой частотой
// запросов либо аномально высокой средней длительностью — на фоне
// остальных таблиц в окне. Частотный и «медленный» хотспоты репортятся
// отдельными записями.
func (d *Detector) DetectDatabaseHotspots() []Bottleneck {
	now := time.Now()
	queries := d.source.QueriesSince(now.Add(-d.thresholds.AnalysisWindow))

	counts := make(map[string]int)
	sums := make(map[string]float64)
	for _, q := range queries {
		counts[q.Table]++
		sums[q.Table] += q.DurationMs
	}
	if len(counts) < 2 {
		// Одна таблица — нет фона для сравнения
		return nil
	}

	totalCount := 0
	avgByTable := make(map[string]float64, len(counts))
	totalAvg := 0.0
	for table, n := range counts {
		totalCount += n
		avgByTable[table] = sums[table] / float64(n)
		totalAvg += avgByTable[table]
	}

	var out []Bottleneck
	for table, n := range counts {
		avgDur := avgByTable[table]

		// Фон: остальные таблицы без текущей
		otherMeanCount := float64(totalCount-n) / float64(len(counts)-1)
		otherMeanDur := (totalAvg - avgDur) / float64(len(counts)-1)

		if n >= d.thresholds.HotspotMinQueries && float64(n) > d.thresholds.HotspotFactor*otherMeanCount {
			out = append(out, Bottleneck{
				Type: "database_frequency_hotspot",
				Details: map[string]any{
					"table":           table,
					"query_count":     n,
					"avg_duration_ms": avgDur,
				},
				Timestamp: now,
			})
		}
		if otherMeanDur > 0 && avgDur > d.thresholds.HotspotFactor*otherMeanDur {
			out = append(out, Bottleneck{
				Type: "database_slow_hotspot",
				Details: map[string]any{
					"table":           table,
					"query_count":     n,
					"avg_duration_ms": avgDur,
				},
				Timestamp: now,
			})
		}
	}
	return out
}
