package tenant

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/kaleho/amber-ant-sub001/internal/domain"
	"go.uber.org/zap"
)

// HeaderTenantID — основной способ передачи идентификатора арендатора.
const HeaderTenantID = "X-Tenant-ID"

// MiddlewareOptions настраивает host-based маршрутизацию.
// При пустом BaseDomain работает только заголовок X-Tenant-ID.
type MiddlewareOptions struct {
	// BaseDomain включает резолвинг по хосту: slug.<BaseDomain> → slug,
	// любой другой хост → кастомный домен арендатора.
	BaseDomain string
}

// NewMiddleware резолвит TenantContext до любой бизнес-логики.
// Порядок: заголовок → поддомен (slug) → кастомный домен.
// Отсутствие идентификатора — 400 (ошибка валидации, резолвинг даже
// не начинается); неизвестный или неактивный арендатор — 404.
func NewMiddleware(resolver *Resolver, opts MiddlewareOptions, logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("tenant-middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var (
				tc  domain.TenantContext
				err error
			)

			switch {
			case r.Header.Get(HeaderTenantID) != "":
				tc, err = resolver.ResolveByID(ctx, r.Header.Get(HeaderTenantID))

			case opts.BaseDomain != "" && r.Host != "":
				host := stripPort(r.Host)
				if slug, ok := strings.CutSuffix(host, "."+opts.BaseDomain); ok {
					tc, err = resolver.ResolveBySlug(ctx, slug)
				} else {
					tc, err = resolver.ResolveByDomain(ctx, host)
				}

			default:
				writeJSONError(w, http.StatusBadRequest, "missing_tenant", "X-Tenant-ID header is required")
				return
			}

			if err != nil {
				if domain.IsTenantNotFound(err) {
					// Детали (нет записи vs деактивирован) остаются в логах
					log.Warn("tenant resolution rejected", zap.Error(err))
					writeJSONError(w, http.StatusNotFound, "tenant_not_found", "tenant not found")
					return
				}
				log.Error("tenant resolution failed", zap.Error(err))
				writeJSONError(w, http.StatusServiceUnavailable, "tenant_registry_unavailable", "try again later")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithContext(ctx, tc)))
		})
	}
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}
