package auth

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kaleho/amber-ant-sub001/internal/domain"
	"github.com/kaleho/amber-ant-sub001/internal/infra"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultUserRevokeTTL = 7 * 24 * time.Hour
)

// RevocationStore — минимальная поверхность Redis, нужная блэклисту
// (SETEX/GET/EXISTS семантика). Реализуется *redis.Client;
// в тестах подменяется фейком с ошибками.
type RevocationStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// BlacklistOptions настраивает политику блэклиста.
type BlacklistOptions struct {
	// FailClosed: при недоступности Redis отклонять токены вместо
	// «доверяем токену». По умолчанию false — осознанный размен
	// строгости на доступность; строгий режим для чувствительных
	// инсталляций включается конфигом.
	FailClosed    bool
	SweepInterval time.Duration
	UserRevokeTTL time.Duration
}

// Blacklist отслеживает отозванные JWT: по jti и по пользовательской
// отметке «все сессии отозваны с момента T».
//
// Двухуровневая схема как у кэшей состояния в шлюзе:
// L1 — локальная мапа jti → expiry (горячий путь, ноль I/O),
// L2 — durable-маркер в Redis с TTL до естественного истечения токена.
// Redis-путь закрыт circuit breaker-ом, чтобы деградация стора
// не сериализовала чужие запросы.
//
// Экземпляр создается один раз при старте процесса и передается через
// DI — никаких пакетных синглтонов.
type Blacklist struct {
	mu      sync.RWMutex
	revoked map[string]time.Time // jti -> expiry токена

	store  RevocationStore // nil допустим: memory-only режим
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger

	failClosed    bool
	sweepInterval time.Duration
	userRevokeTTL time.Duration
}

func NewBlacklist(store RevocationStore, logger *zap.Logger, opts BlacklistOptions) *Blacklist {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.UserRevokeTTL <= 0 {
		opts.UserRevokeTTL = defaultUserRevokeTTL
	}

	// Настройка предохранителя вокруг холодного пути в Redis
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "token-blacklist-redis",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Blacklist{
		revoked:       make(map[string]time.Time),
		store:         store,
		cb:            cb,
		logger:        logger.Named("token-blacklist"),
		failClosed:    opts.FailClosed,
		sweepInterval: opts.SweepInterval,
		userRevokeTTL: opts.UserRevokeTTL,
	}
}

// RevokeToken помечает токен недействительным до его естественного истечения.
// Память обновляется всегда и сразу (текущий процесс начнет отклонять токен
// без единого I/O); durable-маркер пишется best-effort: при недоступности
// Redis операция НЕ фейлит вызывающего — логируем и живем на памяти.
func (b *Blacklist) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}

	b.mu.Lock()
	b.revoked[jti] = expiresAt
	b.mu.Unlock()

	ttl := time.Until(expiresAt)
	if ttl <= 0 || b.store == nil {
		// Токен уже истек либо durable-стора нет — памяти достаточно
		return
	}

	r := retry.New(retry.Context(ctx), retry.Attempts(3))
	err := r.Do(func() error {
		return b.store.Set(ctx, infra.RedisKeyRevokedJTI(jti), expiresAt.Unix(), ttl).Err()
	})
	if err != nil {
		// Кросс-процессный отзыв становится best-effort до восстановления стора
		b.logger.Warn("durable revocation write failed, relying on memory set",
			zap.String("jti", jti),
			zap.Error(err))
	}
}

// IsTokenRevoked вызывается на каждом аутентифицированном запросе.
// Быстрый путь — локальная мапа; промах уходит в Redis через breaker,
// попадание прогревает память. Ошибка стора по умолчанию → «не отозван»
// (fail-open); в строгом режиме → «отозван».
func (b *Blacklist) IsTokenRevoked(ctx context.Context, jti string) bool {
	if jti == "" {
		return false
	}

	b.mu.RLock()
	_, hit := b.revoked[jti]
	b.mu.RUnlock()
	if hit {
		return true
	}

	if b.store == nil {
		return false
	}

	res, err := b.cb.Execute(func() (interface{}, error) {
		val, err := b.store.Get(ctx, infra.RedisKeyRevokedJTI(jti)).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil // промах кэша — не ошибка, breaker не трогаем
		}
		return val, err
	})
	if err != nil {
		b.logger.Warn("revocation check degraded", zap.Error(err), zap.Bool("fail_closed", b.failClosed))
		return b.failClosed
	}

	val, _ := res.(string)
	if val == "" {
		return false
	}

	// Прогреваем L1 настоящим expiry, чтобы sweep знал, когда удалить
	expiry := time.Now().Add(time.Hour)
	if unix, perr := strconv.ParseInt(val, 10, 64); perr == nil {
		expiry = time.Unix(unix, 0)
	}
	b.mu.Lock()
	b.revoked[jti] = expiry
	b.mu.Unlock()

	return true
}

// RevokeUserTokens — «выйти везде»: любые токены пользователя, выпущенные
// до revokedAt, считаются отозванными. Отметка живет 7 дней (TTL).
func (b *Blacklist) RevokeUserTokens(ctx context.Context, userID string, revokedAt time.Time) {
	if revokedAt.IsZero() {
		revokedAt = time.Now()
	}
	if b.store == nil {
		b.logger.Warn("user revocation without durable store is a no-op", zap.String("user_id", userID))
		return
	}

	r := retry.New(retry.Context(ctx), retry.Attempts(3))
	err := r.Do(func() error {
		return b.store.Set(ctx, infra.RedisKeyUserRevoked(userID), revokedAt.Unix(), b.userRevokeTTL).Err()
	})
	if err != nil {
		b.logger.Error("user revocation write failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// IsUserTokenRevoked: true, если отметка существует И токен выпущен
// не позже нее. Отсутствие отметки (включая ошибки стора) → false,
// та же fail-open политика, что и у IsTokenRevoked.
func (b *Blacklist) IsUserTokenRevoked(ctx context.Context, userID string, issuedAt time.Time) bool {
	if b.store == nil || userID == "" {
		return false
	}

	res, err := b.cb.Execute(func() (interface{}, error) {
		val, err := b.store.Get(ctx, infra.RedisKeyUserRevoked(userID)).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return val, err
	})
	if err != nil {
		b.logger.Warn("user revocation check degraded", zap.Error(err), zap.Bool("fail_closed", b.failClosed))
		return b.failClosed
	}

	val, _ := res.(string)
	if val == "" {
		return false
	}
	revokedAt, perr := strconv.ParseInt(val, 10, 64)
	if perr != nil {
		b.logger.Error("malformed user revocation marker", zap.String("user_id", userID), zap.String("value", val))
		return false
	}

	// Токены, выпущенные строго после отметки, не затронуты
	return issuedAt.Unix() <= revokedAt
}

// CleanupExpiredTokens выметает из памяти jti, чьи токены уже истекли.
// Durable-сторона чистится сама через TTL; без этой уборки локальная
// мапа росла бы до рестарта процесса.
func (b *Blacklist) CleanupExpiredTokens() int {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for jti, expiry := range b.revoked {
		if expiry.Before(now) {
			delete(b.revoked, jti)
			removed++
		}
	}
	return removed
}

// StartSweeper запускает периодическую уборку до отмены контекста.
func (b *Blacklist) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()

	b.logger.Info("blacklist sweeper started", zap.Duration("interval", b.sweepInterval))
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("blacklist sweeper stopping by context...")
			return
		case <-ticker.C:
			if removed := b.CleanupExpiredTokens(); removed > 0 {
				b.logger.Debug("expired revocations swept", zap.Int("removed", removed))
			}
		}
	}
}

// Stats — интроспекция для health-эндпоинта.
func (b *Blacklist) Stats(ctx context.Context) domain.BlacklistStats {
	b.mu.RLock()
	size := len(b.revoked)
	b.mu.RUnlock()

	available := false
	if b.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		available = b.store.Ping(pingCtx).Err() == nil
		cancel()
	}

	return domain.BlacklistStats{
		MemoryBlacklistSize: size,
		RedisAvailable:      available,
	}
}
