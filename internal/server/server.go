package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kaleho/amber-ant-sub001/internal/server/handler"
)

// Middleware — общий тип для слоев обработки запроса.
type Middleware = func(http.Handler) http.Handler

// Server собирает HTTP-поверхность шлюза. Бизнес-роуты арендаторов
// монтируются снаружи (Mount) — ядро отвечает только за изоляцию,
// аутентификацию и операторские эндпоинты.
type Server struct {
	router *chi.Mux
	logger *zap.Logger
}

// NewServer инициализирует роутер со всеми зависимостями.
// Порядок защитной цепочки: Trace → Instrument → Tenant → RateLimit → Auth.
func NewServer(
	logger *zap.Logger,
	authH *handler.AuthHandler,
	opsH *handler.OpsHandler,
	instrumentMW Middleware,
	tenantMW Middleware,
	rateLimitMW Middleware,
	authMW Middleware,
) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger.Named("gateway-api"),
	}

	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)
	r.Use(instrumentMW)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (без арендатора и токена) ---
	r.Group(func(r chi.Router) {
		// Операторская поверхность: health читают балансировщики и дежурные
		r.Get("/health", opsH.Health)
	})

	// --- 3. ПЕРИМЕТР АРЕНДАТОРА (резолвинг обязателен до любой логики) ---
	r.Group(func(r chi.Router) {
		r.Use(tenantMW)
		r.Use(rateLimitMW)

		// Логин доступен без токена, но уже в рамках арендатора
		r.Post("/auth/token", authH.Login)

		// --- 4. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (требует валидный неотозванный токен) ---
		r.Group(func(r chi.Router) {
			r.Use(authMW)

			r.Post("/auth/logout", authH.Logout)
			r.Post("/auth/revoke-all", authH.RevokeAll)

			// Операторские эндпоинты мониторинга
			r.Get("/v1/alerts", opsH.Alerts)
			r.Get("/v1/bottlenecks", opsH.Bottlenecks)
			r.Get("/v1/blacklist/stats", opsH.BlacklistStats)
		})
	})

	return s
}

// Mount подключает тенантские бизнес-роуты (CRUD-слой) под общей защитой.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Mount(pattern, h)
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Пытаемся достать ID из заголовка (если пришел от прокси)
		traceID := r.Header.Get("X-Trace-ID")

		// 2. Если его нет — генерируем новый
		if traceID == "" {
			traceID = uuid.New().String()
		}

		// 3. Кладем в контекст
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)

		// 4. Добавляем в ответ, чтобы клиент тоже знал ID своего запроса
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraceIDFromContext помогает безопасно достать ID в любом месте кода
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000" // Fallback
}
