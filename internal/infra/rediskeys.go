package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "amberant"
)

// Ключи для durable-маркеров отзыва токенов.
// TTL маркера равен остатку жизни самого токена, поэтому хранилище
// очищается ровно в момент, когда токен и так перестал бы действовать.
const (
	redisKeyRevokedJTIPrefix  = RedisNamespace + ":auth:revoked_jti:"
	redisKeyUserRevokedPrefix = RedisNamespace + ":auth:user_revoked:"
)

// RedisKeyRevokedJTI — маркер «токен отозван» по его jti.
func RedisKeyRevokedJTI(jti string) string {
	return redisKeyRevokedJTIPrefix + jti
}

// RedisKeyUserRevoked — отметка «все сессии пользователя отозваны с момента T».
func RedisKeyUserRevoked(userID string) string {
	return redisKeyUserRevokedPrefix + userID
}

// GetLockKey Генератор ключей для распределенных блокировок (если нужны динамические)
func GetLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:%s", RedisNamespace, resource)
}
