package monitor

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Instrument записывает RequestMetric для каждого завершенного запроса
// и зеркалит базовые показатели в Prometheus. Запись метрики — копейки:
// append в кольцо под мьютексом, ответ клиенту не ждет никаких sink-ов.
//
// tenantLabel извлекает метку арендатора для Prometheus (может вернуть "").
// trackMemory включает замер memory_delta_mb через ReadMemStats —
// замер недешевый, поэтому по умолчанию выключен.
func Instrument(store *Store, metrics *Metrics, tenantLabel func(*http.Request) string, trackMemory bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var memBefore runtime.MemStats
			if trackMemory {
				runtime.ReadMemStats(&memBefore)
			}

			store.IncActive()
			if metrics != nil {
				metrics.ActiveRequests.Inc()
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				store.DecActive()
				if metrics != nil {
					metrics.ActiveRequests.Dec()
				}

				duration := time.Since(start)
				m := RequestMetric{
					Path:       r.URL.Path,
					Method:     r.Method,
					StatusCode: ww.Status(),
					DurationMs: float64(duration.Microseconds()) / 1000,
					Timestamp:  start,
				}
				if trackMemory {
					var memAfter runtime.MemStats
					runtime.ReadMemStats(&memAfter)
					delta := (float64(memAfter.HeapAlloc) - float64(memBefore.HeapAlloc)) / 1024 / 1024
					m.MemoryDeltaMB = &delta
				}
				store.AddRequestMetric(m)

				if metrics != nil {
					metrics.RequestDuration.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Observe(duration.Seconds())

					tenant := ""
					if tenantLabel != nil {
						tenant = tenantLabel(r)
					}
					metrics.TotalRequests.WithLabelValues(tenant, r.Method).Inc()

					if errType := classifyError(ww.Status()); errType != "" {
						metrics.ErrorTotal.WithLabelValues(errType).Inc()
					}
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// classifyError маппит статус ответа в метку для счетчика ошибок.
func classifyError(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	default:
		return ""
	}
}

// QueryRecorder — то, что нужно слою репозиториев, чтобы репортить
// свои запросы в хранилище метрик. Реализуется Store.
type QueryRecorder interface {
	AddDatabaseMetric(m DatabaseMetric)
}

// ObserveQuery — хелпер для репозиториев: фиксирует длительность запроса
// от start до текущего момента.
func ObserveQuery(rec QueryRecorder, query, table string, op DBOperation, start time.Time) {
	if rec == nil {
		return
	}
	rec.AddDatabaseMetric(DatabaseMetric{
		Query:      query,
		Table:      table,
		Operation:  op,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:  start,
	})
}
