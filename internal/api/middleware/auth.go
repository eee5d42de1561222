// auth.go — Bearer middleware защищённых маршрутов gateway.
// Проверяет access-токен, подписанный самим gateway (HS256), разрешает
// серверную сессию и помещает claims с учётными данными в контекст.
// Отсутствие токена, истёкший и невалидный токены различаются кодами
// NO_TOKEN / TOKEN_EXPIRED / INVALID_TOKEN.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/dsgateway/internal/api/errors"
	"github.com/bigkaa/dsgateway/internal/session"
	"github.com/bigkaa/dsgateway/internal/token"
	"github.com/bigkaa/dsgateway/internal/upstream"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — проверенные claims access-токена в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
	// ContextKeyCredentials — учётные данные сессии для запросов к upstream.
	ContextKeyCredentials contextKey = "session_credentials"
)

// JWTAuth — middleware проверки access-токенов gateway.
type JWTAuth struct {
	tokens   *token.Manager
	sessions *session.Store
	logger   *slog.Logger
}

// NewJWTAuth создаёт JWT middleware.
func NewJWTAuth(tokens *token.Manager, sessions *session.Store, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		tokens:   tokens,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для проверки Bearer-токена.
// Токен обязан быть access-токеном (claim use), сессия из claim sid —
// живой: access-токен без сессии бесполезен, upstream требует
// Basic-Auth на каждый запрос.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearer(r)
			if !ok {
				apierrors.NoToken(w, "Отсутствует Bearer token в заголовке Authorization")
				return
			}

			claims, err := j.tokens.Verify(tokenString, token.UseAccess)
			if err != nil {
				j.logger.Debug("отказ проверки access-токена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				if errors.Is(err, token.ErrExpired) {
					apierrors.TokenExpired(w, "Срок действия токена истёк")
					return
				}
				apierrors.InvalidToken(w, "Невалидный токен")
				return
			}

			creds, ok := j.sessions.Get(claims.SessionID)
			if !ok {
				j.logger.Debug("access-токен ссылается на несуществующую сессию",
					slog.String("username", claims.Username),
				)
				apierrors.InvalidToken(w, "Сессия истекла, требуется повторный вход")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			ctx = context.WithValue(ctx, ContextKeyCredentials, creds)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearer достаёт токен из заголовка Authorization.
// Отсутствующий заголовок, не-Bearer схема и пустой токен
// эквивалентны: токена нет.
func extractBearer(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// --- Context helpers ---

// ClaimsFromContext извлекает claims access-токена из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(ContextKeyClaims).(*token.Claims)
	return claims
}

// CredentialsFromContext извлекает учётные данные сессии из контекста.
func CredentialsFromContext(ctx context.Context) (upstream.Credentials, bool) {
	creds, ok := ctx.Value(ContextKeyCredentials).(upstream.Credentials)
	return creds, ok
}
