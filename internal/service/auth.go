// auth.go — сервис аутентификации gateway.
// Проверяет учётные данные через upstream, ведёт серверные сессии
// и выпускает пару access/refresh токенов. Refresh-токены одноразовые:
// каждый Refresh гасит старый jti и выдаёт новый.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dsgateway/internal/session"
	"github.com/bigkaa/dsgateway/internal/token"
	"github.com/bigkaa/dsgateway/internal/upstream"
)

// Ошибки сервисного слоя.
var (
	// ErrUpstreamFailure — upstream вернул неожиданный статус при проверке.
	ErrUpstreamFailure = errors.New("ошибка upstream при проверке учётных данных")
)

// AuthFailedError — upstream отклонил учётные данные.
// Messages — сообщения upstream для передачи клиенту.
type AuthFailedError struct {
	Messages []string
}

func (e *AuthFailedError) Error() string {
	return "отказ аутентификации: " + strings.Join(e.Messages, "; ")
}

// Prometheus-метрики аутентификации.
var (
	loginTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsg_login_total",
		Help: "Общее количество попыток входа.",
	})
	loginFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsg_login_failures_total",
		Help: "Общее количество отклонённых попыток входа.",
	})
	tokenRefreshTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsg_token_refresh_total",
		Help: "Общее количество ротаций refresh-токена.",
	})
)

// CredentialsVerifier проверяет учётные данные через upstream.
type CredentialsVerifier interface {
	Verify(ctx context.Context, creds upstream.Credentials) (*upstream.AuthOutcome, error)
}

// TokenPair — результат входа или ротации: пара токенов для клиента.
type TokenPair struct {
	// AccessToken — короткоживущий токен для заголовка Authorization
	AccessToken string
	// RefreshToken — одноразовый токен ротации (httpOnly cookie)
	RefreshToken string
	// RefreshExpiresAt — срок действия refresh-токена (для Max-Age cookie)
	RefreshExpiresAt time.Time
	// Username — имя аутентифицированного пользователя
	Username string
}

// AuthService — вход, ротация токенов и выход.
type AuthService struct {
	verifier CredentialsVerifier
	cache    *AuthCache
	tokens   *token.Manager
	sessions *session.Store
	refresh  *token.RefreshStore
	logger   *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(
	verifier CredentialsVerifier,
	cache *AuthCache,
	tokens *token.Manager,
	sessions *session.Store,
	refresh *token.RefreshStore,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		verifier: verifier,
		cache:    cache,
		tokens:   tokens,
		sessions: sessions,
		refresh:  refresh,
		logger:   logger.With(slog.String("component", "auth_service")),
	}
}

// Login проверяет учётные данные и выпускает пару токенов.
// callerIP — адрес клиента для fallback-сообщения об отказе, когда
// upstream не прислал свои сообщения.
//
// Недавно подтверждённые пары логин/пароль проходят через кэш
// без обращения к upstream.
func (s *AuthService) Login(ctx context.Context, creds upstream.Credentials, callerIP string) (*TokenPair, error) {
	loginTotal.Inc()

	if err := creds.Validate(); err != nil {
		loginFailuresTotal.Inc()
		return nil, err
	}

	if !s.cache.Contains(creds) {
		outcome, err := s.verifier.Verify(ctx, creds)
		if err != nil {
			return nil, fmt.Errorf("проверка учётных данных: %w", err)
		}

		switch outcome.Kind {
		case upstream.OutcomeSuccess:
			s.cache.Remember(creds)
		case upstream.OutcomeAuthError:
			loginFailuresTotal.Inc()
			messages := outcome.Messages
			if len(messages) == 0 {
				messages = []string{fmt.Sprintf("аутентификация отклонена для %s", callerIP)}
			}
			s.logger.Warn("отказ аутентификации",
				slog.String("username", creds.Username),
				slog.String("caller_ip", callerIP))
			return nil, &AuthFailedError{Messages: messages}
		default:
			return nil, fmt.Errorf("%w: статус %d", ErrUpstreamFailure, outcome.StatusCode)
		}
	}

	pair, err := s.issuePair(creds.Username, s.sessions.Create(creds))
	if err != nil {
		return nil, err
	}

	s.logger.Info("пользователь вошёл",
		slog.String("username", creds.Username),
		slog.String("caller_ip", callerIP))
	return pair, nil
}

// Refresh гасит предъявленный refresh-токен и выпускает новую пару.
// Повторное предъявление того же токена (кража, replay) отклоняется:
// jti одноразовый. Продлевает TTL серверной сессии.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken, token.UseRefresh)
	if err != nil {
		return nil, err
	}

	sessionID, ok := s.refresh.Consume(claims.ID)
	if !ok || sessionID != claims.SessionID {
		s.logger.Warn("повторное или отозванное предъявление refresh-токена",
			slog.String("username", claims.Username))
		return nil, fmt.Errorf("%w: токен уже использован или отозван", token.ErrInvalid)
	}

	if !s.sessions.Extend(sessionID) {
		return nil, fmt.Errorf("%w: сессия истекла", token.ErrInvalid)
	}

	pair, err := s.issuePair(claims.Username, sessionID)
	if err != nil {
		return nil, err
	}

	tokenRefreshTotal.Inc()
	s.logger.Debug("refresh-токен ротирован", slog.String("username", claims.Username))
	return pair, nil
}

// Logout гасит refresh-токен и серверную сессию.
// Идемпотентен: невалидный или уже погашенный токен — не ошибка.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	claims, err := s.tokens.Verify(refreshToken, token.UseRefresh)
	if err != nil {
		s.logger.Debug("logout с невалидным refresh-токеном", slog.String("error", err.Error()))
		return
	}

	s.refresh.Consume(claims.ID)
	s.refresh.EvictSession(claims.SessionID)
	s.sessions.Evict(claims.SessionID)

	s.logger.Info("пользователь вышел", slog.String("username", claims.Username))
}

// issuePair выпускает access+refresh и регистрирует jti refresh-токена.
func (s *AuthService) issuePair(username, sessionID string) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(username, sessionID)
	if err != nil {
		return nil, fmt.Errorf("выпуск access-токена: %w", err)
	}

	refresh, jti, expiresAt, err := s.tokens.IssueRefresh(username, sessionID)
	if err != nil {
		return nil, fmt.Errorf("выпуск refresh-токена: %w", err)
	}
	s.refresh.Store(jti, sessionID, expiresAt)

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshExpiresAt: expiresAt,
		Username:         username,
	}, nil
}
