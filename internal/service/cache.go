// Пакет service — бизнес-логика Datastore Gateway.
// AuthCache — LRU-кэш успешных аутентификаций с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
//
// Ключ кэша — PBKDF2-дайджест пары логин/пароль с серверной солью:
// plaintext-учётные данные в структуру кэша не попадают. Попадание
// в кэш позволяет не дёргать upstream /auth при быстрых повторных
// login-запросах с теми же данными.
package service

import (
	"crypto/sha512"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/bigkaa/dsgateway/internal/upstream"
)

// pbkdf2Iterations — число итераций деривации ключа кэша.
// Меньше парольного хэширования general-purpose: ключ живёт максимум
// TTL кэша и не покидает память процесса.
const pbkdf2Iterations = 10000

// Prometheus-метрики кэша.
var (
	authCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsg_auth_cache_hits_total",
		Help: "Общее количество попаданий в кэш успешных аутентификаций.",
	})
	authCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsg_auth_cache_misses_total",
		Help: "Общее количество промахов кэша успешных аутентификаций.",
	})
)

// AuthCache — LRU-кэш успешных аутентификаций с автоматическим TTL.
// Каждый экземпляр gateway имеет собственный in-memory кэш.
type AuthCache struct {
	cache *expirable.LRU[string, struct{}]
	salt  []byte
}

// NewAuthCache создаёт кэш указанного размера с указанным TTL.
// salt — серверная соль деривации ключей (берётся из JWT-секрета,
// отдельного секрета для кэша конфигурация не вводит).
func NewAuthCache(maxSize int, ttl time.Duration, salt string) *AuthCache {
	return &AuthCache{
		cache: expirable.NewLRU[string, struct{}](maxSize, nil, ttl),
		salt:  []byte(salt),
	}
}

// key выводит ключ кэша из учётных данных.
// Разделитель \x00 исключает склейку ("ab"+"c" против "a"+"bc").
func (c *AuthCache) key(creds upstream.Credentials) string {
	material := []byte(creds.Username + "\x00" + creds.Password)
	digest := pbkdf2.Key(material, c.salt, pbkdf2Iterations, 32, sha512.New)
	return hex.EncodeToString(digest)
}

// Contains проверяет, была ли эта пара учётных данных недавно
// подтверждена upstream. Обновляет метрики hit/miss.
func (c *AuthCache) Contains(creds upstream.Credentials) bool {
	if _, ok := c.cache.Get(c.key(creds)); ok {
		authCacheHitsTotal.Inc()
		return true
	}
	authCacheMissesTotal.Inc()
	return false
}

// Remember фиксирует успешную аутентификацию.
func (c *AuthCache) Remember(creds upstream.Credentials) {
	c.cache.Add(c.key(creds), struct{}{})
}

// Forget инвалидирует запись (например после 401 от upstream
// по данным, которые раньше проходили).
func (c *AuthCache) Forget(creds upstream.Credentials) {
	c.cache.Remove(c.key(creds))
}
