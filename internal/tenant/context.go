package tenant

import (
	"context"

	"github.com/kaleho/amber-ant-sub001/internal/domain"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const tenantCtxKey ctxKey = "tenant_context"

// WithContext кладет резолвнутый TenantContext в context запроса.
func WithContext(ctx context.Context, tc domain.TenantContext) context.Context {
	return context.WithValue(ctx, tenantCtxKey, tc)
}

// FromContext достает TenantContext; ok=false означает, что запрос
// не прошел через tenant-middleware и трогать данные арендатора нельзя.
func FromContext(ctx context.Context) (domain.TenantContext, bool) {
	tc, ok := ctx.Value(tenantCtxKey).(domain.TenantContext)
	return tc, ok
}
