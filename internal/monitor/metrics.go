package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка запроса
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов в разрезе арендатора
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов ядра
	ErrorTotal *prometheus.CounterVec

	// Saturation: запросы в полете
	ActiveRequests prometheus.Gauge

	// Алерты монитора по типу и серьезности
	AlertsTotal *prometheus.CounterVec

	// Размер in-memory блэклиста (следим за его ограниченностью)
	BlacklistSize prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Histogram of request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of processed requests.",
		}, []string{"tenant", "method"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: unauthorized, not_found, rate_limited, server_error

		ActiveRequests: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_requests",
			Help: "Current number of in-flight requests.",
		}),

		AlertsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_performance_alerts_total",
			Help: "Performance alerts raised by the monitor.",
		}, []string{"type", "severity"}),

		BlacklistSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gateway_token_blacklist_size",
			Help: "Current number of entries in the in-memory token blacklist.",
		}),
	}
}
