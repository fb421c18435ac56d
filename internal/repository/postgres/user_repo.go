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

// UserRepo отдает учетные записи для выпуска токенов.
// Пользователи живут в control-plane базе рядом с реестром арендаторов:
// логин происходит до того, как известна база самого арендатора.
type UserRepo struct {
	pool     *pgxpool.Pool
	recorder monitor.QueryRecorder
}

func NewUserRepo(pool *pgxpool.Pool, recorder monitor.QueryRecorder) *UserRepo {
	return &UserRepo{pool: pool, recorder: recorder}
}

func (r *UserRepo) GetUserByUsername(ctx context.Context, tenantID, username string) (*domain.User, error) {
	query := `
		SELECT id, tenant_id, email, username, password_hash, role, scopes, created_at, updated_at
		FROM users WHERE tenant_id = $1 AND username = $2`

	start := time.Now()
	defer monitor.ObserveQuery(r.recorder, query, "users", monitor.OpSelect, start)

	u := &domain.User{}
	err := r.pool.QueryRow(ctx, query, tenantID, username).Scan(
		&u.ID, &u.TenantID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &u.Scopes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: user lookup failed: %w", err)
	}
	return u, nil
}
