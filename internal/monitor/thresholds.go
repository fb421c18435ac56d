package monitor

import "time"

// Thresholds — value object с порогами анализа производительности.
// Создается один раз при старте монитора и дальше не изменяется.
// Эвристические константы детекторов (N+1, деградация, contention)
// вынесены сюда же, чтобы их можно было тюнить без правки кода.
type Thresholds struct {
	MaxAvgLatencyMs       float64       `mapstructure:"max_avg_latency_ms"`
	MaxP95LatencyMs       float64       `mapstructure:"max_p95_latency_ms"`
	MaxErrorRatePercent   float64       `mapstructure:"max_error_rate_percent"`
	MaxQueryTimeMs        float64       `mapstructure:"max_query_time_ms"`
	MaxQueriesPerRequest  int           `mapstructure:"max_queries_per_request"`
	MaxCPUPercent         float64       `mapstructure:"max_cpu_percent"`
	MaxMemoryPercent      float64       `mapstructure:"max_memory_percent"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	AnalysisWindow        time.Duration `mapstructure:"analysis_window"`
	TrendingWindow        time.Duration `mapstructure:"trending_window"`

	// Эвристики детекторов
	NPlusOneQueryCount      int           `mapstructure:"n_plus_one_query_count"`
	LatencyDegradationRatio float64       `mapstructure:"latency_degradation_ratio"`
	TrendMinSamples         int           `mapstructure:"trend_min_samples"`
	ContentionMinConcurrent int           `mapstructure:"contention_min_concurrent"`
	ContentionLatencyMs     float64       `mapstructure:"contention_latency_ms"`
	LeakBucket              time.Duration `mapstructure:"leak_bucket"`
	LeakMinBuckets          int           `mapstructure:"leak_min_buckets"`
	LeakHorizon             time.Duration `mapstructure:"leak_horizon"`
	HotspotFactor           float64       `mapstructure:"hotspot_factor"`
	HotspotMinQueries       int           `mapstructure:"hotspot_min_queries"`
	SlowQueryReportLimit    int           `mapstructure:"slow_query_report_limit"`
}

// DefaultThresholds возвращает задокументированные дефолты:
// 1000ms / 2000ms / 5% / 500ms / 10 / 80% / 85% / 100 / 5min / 15min.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxAvgLatencyMs:       1000,
		MaxP95LatencyMs:       2000,
		MaxErrorRatePercent:   5,
		MaxQueryTimeMs:        500,
		MaxQueriesPerRequest:  10,
		MaxCPUPercent:         80,
		MaxMemoryPercent:      85,
		MaxConcurrentRequests: 100,
		AnalysisWindow:        5 * time.Minute,
		TrendingWindow:        15 * time.Minute,

		NPlusOneQueryCount:      10, // срабатывание при строго большем количестве
		LatencyDegradationRatio: 2.0,
		TrendMinSamples:         3,
		ContentionMinConcurrent: 10,
		ContentionLatencyMs:     2000,
		LeakBucket:              5 * time.Minute,
		LeakMinBuckets:          3,
		LeakHorizon:             30 * time.Minute,
		HotspotFactor:           2.0,
		HotspotMinQueries:       10,
		SlowQueryReportLimit:    5,
	}
}
