package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaleho/amber-ant-sub001/internal/domain"
	"github.com/kaleho/amber-ant-sub001/internal/monitor"
)

// TenantRepo читает control-plane реестр арендаторов.
// Каждый запрос репортится в хранилище метрик (recorder может быть nil).
type TenantRepo struct {
	pool     *pgxpool.Pool
	recorder monitor.QueryRecorder
}

// NewTenantRepo создает репозиторий поверх готового пула соединений.
func NewTenantRepo(pool *pgxpool.Pool, recorder monitor.QueryRecorder) *TenantRepo {
	return &TenantRepo{pool: pool, recorder: recorder}
}

// NewPool собирает pgx-пул с лимитами из конфигурации.
func NewPool(ctx context.Context, url string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid control-plane url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	return pool, nil
}

const tenantColumns = `id, slug, database_url, is_active, COALESCE(custom_domain, ''), created_at, updated_at`

func (r *TenantRepo) GetTenantByID(ctx context.Context, id string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return r.scanTenant(ctx, query, id)
}

func (r *TenantRepo) GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`
	return r.scanTenant(ctx, query, slug)
}

func (r *TenantRepo) GetTenantByDomain(ctx context.Context, customDomain string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE custom_domain = $1`
	return r.scanTenant(ctx, query, customDomain)
}

// scanTenant — общий сканер всех трех выборок. Отсутствие строки — это
// nil без ошибки: «не найдено» решает резолвер, а не слой хранения.
func (r *TenantRepo) scanTenant(ctx context.Context, query string, arg string) (*domain.Tenant, error) {
	start := time.Now()
	defer monitor.ObserveQuery(r.recorder, query, "tenants", monitor.OpSelect, start)

	t := &domain.Tenant{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&t.ID, &t.Slug, &t.DatabaseURL, &t.IsActive, &t.CustomDomain, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: tenant lookup failed: %w", err)
	}
	return t, nil
}

// Ping проверяет доступность базы при старте
func (r *TenantRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
