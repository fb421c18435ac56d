package tenant

import (
	"context"
	"fmt"

	"github.com/kaleho/amber-ant-sub001/internal/domain"
	"go.uber.org/zap"
)

// TenantStore описывает требования резолвера к control-plane реестру.
// Реализуется postgres-репозиторием; nil вместо записи — «не найдено».
type TenantStore interface {
	GetTenantByID(ctx context.Context, id string) (*domain.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
	GetTenantByDomain(ctx context.Context, customDomain string) (*domain.Tenant, error)
}

// Resolver превращает идентификатор арендатора (id, slug или домен)
// в валидный TenantContext. Резолвинг stateless: один вызов — один
// поход в реестр, никакого кэша между запросами.
// Единственный инвариант: контекст НИКОГДА не возвращается для
// неактивного арендатора.
type Resolver struct {
	store  TenantStore
	logger *zap.Logger
}

func NewResolver(store TenantStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.Named("tenant-resolver"),
	}
}

func (r *Resolver) ResolveByID(ctx context.Context, tenantID string) (domain.TenantContext, error) {
	t, err := r.store.GetTenantByID(ctx, tenantID)
	return r.buildContext(t, err, tenantID)
}

func (r *Resolver) ResolveBySlug(ctx context.Context, slug string) (domain.TenantContext, error) {
	t, err := r.store.GetTenantBySlug(ctx, slug)
	return r.buildContext(t, err, slug)
}

func (r *Resolver) ResolveByDomain(ctx context.Context, customDomain string) (domain.TenantContext, error) {
	t, err := r.store.GetTenantByDomain(ctx, customDomain)
	return r.buildContext(t, err, customDomain)
}

// buildContext — общая точка всех трех входов. Сообщения для «нет записи»
// и «деактивирован» различаются ради диагностики, снаружи оба — 404.
func (r *Resolver) buildContext(t *domain.Tenant, err error, key string) (domain.TenantContext, error) {
	if err != nil {
		r.logger.Error("tenant registry lookup failed", zap.String("key", key), zap.Error(err))
		return domain.TenantContext{}, fmt.Errorf("tenant registry lookup: %w", err)
	}
	if t == nil {
		return domain.TenantContext{}, &domain.TenantNotFoundError{Key: key, Reason: "no tenant record"}
	}
	if !t.IsActive {
		return domain.TenantContext{}, &domain.TenantNotFoundError{Key: key, Reason: "tenant is inactive"}
	}

	tc, err := domain.NewTenantContext(t.ID, t.Slug, t.DatabaseURL)
	if err != nil {
		// Запись реестра битая (пустой database_url) — это не 404, это инцидент
		r.logger.Error("tenant record is malformed", zap.String("tenant_id", t.ID), zap.Error(err))
		return domain.TenantContext{}, fmt.Errorf("malformed tenant record %s: %w", t.ID, err)
	}
	return tc, nil
}
