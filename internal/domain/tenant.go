package domain

import (
	"errors"
	"fmt"
	"time"
)

// Tenant — запись арендатора из control-plane реестра (глобальная БД).
// Ядро читает её только для маршрутизации, никогда не изменяет.
type Tenant struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	DatabaseURL  string    `json:"-"` // Строка подключения не уходит наружу
	IsActive     bool      `json:"is_active"`
	CustomDomain string    `json:"custom_domain,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TenantContext — неизменяемый контекст запроса после резолвинга арендатора.
// Все последующие обращения к данным в рамках запроса обязаны идти
// через DatabaseURL именно этого контекста (никаких fallback-баз).
type TenantContext struct {
	TenantID    string
	TenantSlug  string
	DatabaseURL string
	UserID      string // Пустой до прохождения аутентификации
}

// NewTenantContext собирает контекст и проверяет инвариант непустых полей.
func NewTenantContext(tenantID, slug, databaseURL string) (TenantContext, error) {
	if tenantID == "" || slug == "" || databaseURL == "" {
		return TenantContext{}, errors.New("tenant context requires tenant_id, slug and database_url")
	}
	return TenantContext{
		TenantID:    tenantID,
		TenantSlug:  slug,
		DatabaseURL: databaseURL,
	}, nil
}

// WithUser возвращает копию контекста с идентификатором пользователя.
// Исходный контекст не мутируется.
func (c TenantContext) WithUser(userID string) TenantContext {
	c.UserID = userID
	return c
}

// Equal — два контекста равны только при совпадении всех полей.
func (c TenantContext) Equal(other TenantContext) bool {
	return c == other
}

// TenantNotFoundError возвращается, когда идентификатор не резолвится
// в активного арендатора. Снаружи всегда маппится в 404, но Reason
// различает «нет записи» и «арендатор деактивирован» для диагностики.
type TenantNotFoundError struct {
	Key    string // Что искали: id, slug или домен
	Reason string
}

func (e *TenantNotFoundError) Error() string {
	return fmt.Sprintf("tenant %q: %s", e.Key, e.Reason)
}

// IsTenantNotFound помогает на границе HTTP отличить 404 от прочих ошибок.
func IsTenantNotFound(err error) bool {
	var tnf *TenantNotFoundError
	return errors.As(err, &tnf)
}
