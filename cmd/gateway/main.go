package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kaleho/amber-ant-sub001/internal/auth"
	"github.com/kaleho/amber-ant-sub001/internal/infra"
	"github.com/kaleho/amber-ant-sub001/internal/monitor"
	"github.com/kaleho/amber-ant-sub001/internal/repository/postgres"
	"github.com/kaleho/amber-ant-sub001/internal/server"
	"github.com/kaleho/amber-ant-sub001/internal/server/handler"
	"github.com/kaleho/amber-ant-sub001/internal/tenant"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура: Redis + control-plane Postgres
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if cfg.Database.URL == "" {
		logger.Fatal("database.url (control-plane registry) is required")
	}
	pool, err := postgres.NewPool(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to init postgres pool", zap.Error(err))
	}
	defer pool.Close()

	// 3. Метрики: локальное хранилище + Prometheus
	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(reg)
	store := monitor.NewStore(cfg.Monitor.MaxSamples, logger)

	// Экспортируем метрики для Prometheus на отдельном порту
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()

	// 4. Репозитории и резолвер арендаторов
	tenantRepo := postgres.NewTenantRepo(pool, store)
	userRepo := postgres.NewUserRepo(pool, store)

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := tenantRepo.Ping(pingCtx); err != nil {
		logger.Fatal("control-plane database unreachable", zap.Error(err))
	}
	pingCancel()

	resolver := tenant.NewResolver(tenantRepo, logger)

	// 5. Блэклист токенов + sweeper
	blacklist := auth.NewBlacklist(rdb, logger, auth.BlacklistOptions{
		FailClosed:    cfg.Blacklist.FailClosed,
		SweepInterval: cfg.Blacklist.SweepInterval,
		UserRevokeTTL: cfg.Blacklist.UserRevokeTTL,
	})
	go blacklist.StartSweeper(appCtx)

	// Зеркалим размер блэклиста в Prometheus тем же темпом, что и уборку
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				metrics.BlacklistSize.Set(float64(blacklist.Stats(appCtx).MemoryBlacklistSize))
			}
		}
	}()

	// 6. Аутентификация: RS256 ключи + сервис выпуска токенов
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse auth private key", zap.Error(err))
	}

	validator := auth.NewBaseValidator(publicKey)
	tokenService := auth.NewTokenService(userRepo, privateKey, blacklist, cfg.Auth.TokenTTL, logger)

	// 7. Монитор производительности и детектор боттлнеков
	thresholds := monitor.DefaultThresholds()
	perfMonitor := monitor.NewMonitor(store, thresholds, metrics, logger, cfg.Monitor.MaxAlerts)
	detector := monitor.NewDetector(store, thresholds, logger)
	go perfMonitor.StartLoop(appCtx, cfg.Monitor.AnalyzeInterval)

	// 8. Per-tenant rate limiting
	limiters := tenant.NewLimiterStore(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiters.StartCleanup(appCtx.Done())

	// 9. Сборка HTTP-поверхности
	tenantLabel := func(r *http.Request) string {
		if tc, ok := tenant.FromContext(r.Context()); ok {
			return tc.TenantSlug
		}
		return ""
	}

	srvHandler := server.NewServer(
		logger,
		handler.NewAuthHandler(tokenService, logger),
		handler.NewOpsHandler(perfMonitor, detector, store, blacklist, logger),
		monitor.Instrument(store, metrics, tenantLabel, cfg.Monitor.TrackMemoryDelta),
		tenant.NewMiddleware(resolver, tenant.MiddlewareOptions{}, logger),
		tenant.RateLimitMiddleware(limiters),
		auth.NewMiddleware(validator, blacklist, logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	cancel() // Останавливаем sweeper, монитор и уборку лимитеров
	logger.Info("gateway exited properly")
}
