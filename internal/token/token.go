// Пакет token — выпуск и проверка локально подписанных JWT gateway.
// Access-токен (короткий, в заголовке Authorization) и refresh-токен
// (длинный, в httpOnly cookie) подписываются HS256 одним секретом
// из конфигурации и различаются claim "use".
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Назначения токенов (claim "use").
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Ошибки проверки токена.
var (
	// ErrExpired — срок действия токена истёк.
	ErrExpired = errors.New("срок действия токена истёк")
	// ErrInvalid — токен не прошёл проверку (подпись, формат, назначение).
	ErrInvalid = errors.New("невалидный токен")
)

// Claims — claim-набор токенов gateway.
// Subject — имя пользователя, SessionID связывает токен с серверной сессией.
type Claims struct {
	jwt.RegisteredClaims
	// Username — имя пользователя (дублирует Subject для читаемости клиентом)
	Username string `json:"username"`
	// SessionID — идентификатор серверной сессии
	SessionID string `json:"sid"`
	// Use — назначение токена (access или refresh)
	Use string `json:"use"`
}

// Manager выпускает и проверяет токены gateway.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
}

// NewManager создаёт менеджер токенов.
func NewManager(secret string, accessTTL, refreshTTL, leeway time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		leeway:     leeway,
	}
}

// IssueAccess выпускает access-токен для пользователя и сессии.
func (m *Manager) IssueAccess(username, sessionID string) (string, error) {
	signed, _, _, err := m.issue(username, sessionID, UseAccess, m.accessTTL)
	return signed, err
}

// IssueRefresh выпускает refresh-токен. Возвращает подписанный токен,
// его jti (для серверного реестра) и время истечения.
func (m *Manager) IssueRefresh(username, sessionID string) (string, string, time.Time, error) {
	return m.issue(username, sessionID, UseRefresh, m.refreshTTL)
}

func (m *Manager) issue(username, sessionID, use string, ttl time.Duration) (string, string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	jti := uuid.NewString()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username:  username,
		SessionID: sessionID,
		Use:       use,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("подпись токена: %w", err)
	}
	return signed, jti, expiresAt, nil
}

// Verify проверяет подпись, срок действия и назначение токена.
// Истёкший токен различим от прочих отказов: ErrExpired против ErrInvalid.
func (m *Manager) Verify(tokenString, expectedUse string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if claims.Use != expectedUse {
		return nil, fmt.Errorf("%w: ожидался %s-токен, получен %q", ErrInvalid, expectedUse, claims.Use)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: отсутствует sub или sid", ErrInvalid)
	}

	return claims, nil
}
