package monitor

import "time"

// DBOperation — тип SQL-операции в метрике запроса к базе.
type DBOperation string

const (
	OpSelect DBOperation = "SELECT"
	OpInsert DBOperation = "INSERT"
	OpUpdate DBOperation = "UPDATE"
	OpDelete DBOperation = "DELETE"
)

// RequestMetric — один завершенный HTTP-запрос.
// Пишется интерцептором на горячем пути, поэтому структура плоская и дешевая.
type RequestMetric struct {
	Path          string    `json:"path"`
	Method        string    `json:"method"`
	StatusCode    int       `json:"status_code"`
	DurationMs    float64   `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
	MemoryDeltaMB *float64  `json:"memory_delta_mb,omitempty"`
}

// DatabaseMetric — один запрос к базе данных арендатора.
type DatabaseMetric struct {
	Query      string      `json:"query"`
	DurationMs float64     `json:"duration_ms"`
	Timestamp  time.Time   `json:"timestamp"`
	Table      string      `json:"table"`
	Operation  DBOperation `json:"operation"`
}

// SystemSnapshot — срез ресурсов процесса/хоста на момент чтения.
// Исторически не хранится: монитор запрашивает его заново при каждом анализе.
type SystemSnapshot struct {
	CPUPercent           float64 `json:"cpu_percent"`
	MemoryPercent        float64 `json:"memory_percent"`
	MemoryUsedMB         float64 `json:"memory_used_mb"`
	DiskUsagePercent     float64 `json:"disk_usage_percent"`
	ActiveRequests       int     `json:"active_requests"`
	RequestRatePerMinute float64 `json:"request_rate_per_minute"`
}

// AlertType — закрытое множество типов алертов монитора.
type AlertType string

const (
	AlertHighLatency        AlertType = "high_latency"
	AlertHighErrorRate      AlertType = "high_error_rate"
	AlertSlowDatabase       AlertType = "slow_database"
	AlertQueryNPlusOne      AlertType = "query_n_plus_one"
	AlertHighCPU            AlertType = "high_cpu"
	AlertHighMemory         AlertType = "high_memory"
	AlertConcurrentRequests AlertType = "concurrent_requests"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank задает порядок для выбора максимальной серьезности в сводке.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Alert — неизменяемый результат одного срабатывания анализа.
// Владелец — кольцевой буфер монитора (FIFO-вытеснение, без учета severity).
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Bottleneck — находка низкоуровневого детектора (contention, утечки, хотспоты).
type Bottleneck struct {
	Type      string         `json:"type"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Summary — агрегированное состояние для /health.
type Summary struct {
	Status            string           `json:"status"` // "healthy" либо "issues_detected"
	AlertCount        int              `json:"alert_count"`
	OverallSeverity   Severity         `json:"overall_severity,omitempty"`
	SeverityBreakdown map[Severity]int `json:"severity_breakdown,omitempty"`
}
