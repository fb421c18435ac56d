package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

const defaultMaxSamples = 10000

// ring — кольцевой буфер фиксированной емкости.
// При переполнении затирает самый старый элемент, снимок отдается
// в хронологическом порядке добавления.
type ring[T any] struct {
	buf  []T
	head int // индекс самого старого элемента
	n    int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring[T]) snapshot() []T {
	out := make([]T, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

// Store — общее in-memory хранилище метрик: запросы, обращения к БД
// и счетчик активных запросов. Запись идет на горячем пути каждого
// запроса, поэтому критическая секция — только append в кольцо.
// Персистентности нет: это диагностический буфер, не audit log.
type Store struct {
	mu       sync.RWMutex
	requests *ring[RequestMetric]
	queries  *ring[DatabaseMetric]

	active atomic.Int64
	logger *zap.Logger
}

func NewStore(maxSamples int, logger *zap.Logger) *Store {
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	return &Store{
		requests: newRing[RequestMetric](maxSamples),
		queries:  newRing[DatabaseMetric](maxSamples),
		logger:   logger.Named("metrics-store"),
	}
}

// AddRequestMetric — O(1) append с вытеснением самого старого сэмпла.
func (s *Store) AddRequestMetric(m RequestMetric) {
	// Убеждаемся, что таймстемп всегда проставлен
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.requests.push(m)
	s.mu.Unlock()
}

// AddDatabaseMetric — O(1) append с вытеснением самого старого сэмпла.
func (s *Store) AddDatabaseMetric(m DatabaseMetric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.queries.push(m)
	s.mu.Unlock()
}

// RequestsSince возвращает копию сэмплов с timestamp >= since.
// Монитор читает редко и в фоне; копия снимается под коротким RLock,
// чтобы не задерживать конкурентных писателей.
func (s *Store) RequestsSince(since time.Time) []RequestMetric {
	s.mu.RLock()
	all := s.requests.snapshot()
	s.mu.RUnlock()

	out := make([]RequestMetric, 0, len(all))
	for _, m := range all {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out
}

// QueriesSince возвращает копию метрик БД с timestamp >= since.
func (s *Store) QueriesSince(since time.Time) []DatabaseMetric {
	s.mu.RLock()
	all := s.queries.snapshot()
	s.mu.RUnlock()

	out := make([]DatabaseMetric, 0, len(all))
	for _, m := range all {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out
}

// IncActive/DecActive ведут счетчик запросов в полете для SystemSnapshot.
func (s *Store) IncActive() { s.active.Add(1) }
func (s *Store) DecActive() { s.active.Add(-1) }

// SystemHealth снимает текущий срез ресурсов. Ошибки сэмплирования
// не поднимаются наверх: соответствующее поле остается нулевым,
// а проблема логируется — мониторинг не должен ронять запрос.
func (s *Store) SystemHealth(ctx context.Context) SystemSnapshot {
	snap := SystemSnapshot{
		ActiveRequests:       int(s.active.Load()),
		RequestRatePerMinute: float64(len(s.RequestsSince(time.Now().Add(-time.Minute)))),
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	} else if err != nil {
		s.logger.Debug("cpu sampling failed", zap.Error(err))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryPercent = vm.UsedPercent
		snap.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
	} else {
		s.logger.Debug("memory sampling failed", zap.Error(err))
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snap.DiskUsagePercent = du.UsedPercent
	} else {
		s.logger.Debug("disk sampling failed", zap.Error(err))
	}

	return snap
}
