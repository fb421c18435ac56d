package tenant

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterStore хранит token-bucket лимитер на каждого арендатора.
// Простаивающие лимитеры выметаются по idle TTL, чтобы мапа
// не росла бесконечно вместе с числом когда-либо виденных арендаторов.
type LimiterStore struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry

	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewLimiterStore(rps float64, burst int) *LimiterStore {
	return &LimiterStore{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
	}
}

// Get возвращает лимитер арендатора, создавая его при первом обращении.
func (s *LimiterStore) Get(tenantID string) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tenantID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(s.rps, s.burst)}
		s.entries[tenantID] = e
	}
	e.lastSeen = now
	return e.lim
}

// Cleanup удаляет лимитеры, к которым давно не обращались.
func (s *LimiterStore) Cleanup() int {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// StartCleanup гоняет Cleanup по тикеру до отмены контекста.
func (s *LimiterStore) StartCleanup(done <-chan struct{}) {
	ticker := time.NewTicker(s.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// RateLimitMiddleware отсекает превышение лимита конкретного арендатора.
// Ставится после tenant-middleware: без контекста арендатора пропускает
// запрос дальше (публичные роуты не лимитируем здесь).
func RateLimitMiddleware(store *LimiterStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, ok := FromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !store.Get(tc.TenantID).Allow() {
				writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "tenant request rate exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
