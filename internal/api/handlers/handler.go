// handler.go — основной обработчик API Datastore Gateway.
// Объединяет auth-, datastore- и health-обработчики, содержит общий
// маппинг сервисных ошибок в HTTP-ответы.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/dsgateway/internal/api/errors"
	"github.com/bigkaa/dsgateway/internal/relay"
	"github.com/bigkaa/dsgateway/internal/service"
	"github.com/bigkaa/dsgateway/internal/token"
	"github.com/bigkaa/dsgateway/internal/upstream"
	"github.com/bigkaa/dsgateway/internal/whereclause"
)

// APIHandler — основной обработчик API Datastore Gateway.
// Делегирует запросы в сервисный слой.
type APIHandler struct {
	auth   *service.AuthService
	files  *service.FilesService
	relay  *relay.Relay
	health *HealthHandler

	// cookieSecure — выставлять ли Secure на refresh-cookie
	cookieSecure bool
	logger       *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	auth *service.AuthService,
	files *service.FilesService,
	rl *relay.Relay,
	health *HealthHandler,
	cookieSecure bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		auth:         auth,
		files:        files,
		relay:        rl,
		health:       health,
		cookieSecure: cookieSecure,
		logger:       logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError маппит ошибку сервисного слоя в HTTP-ответ
// стандартного формата. Порядок проверок — от специфичных к общим.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	var authErr *service.AuthFailedError
	var wcErr *whereclause.Error

	switch {
	case errors.As(err, &authErr):
		apierrors.AuthenticationFailed(w, "Upstream отклонил учётные данные", authErr.Messages)
	case errors.As(err, &wcErr):
		apierrors.UnsafeWhereClause(w, wcErr.Error())
	case errors.Is(err, upstream.ErrInvalidCredentialsFormat):
		apierrors.InvalidCredentialsFormat(w, "Логин и пароль обязательны и не должны содержать управляющих символов")
	case errors.Is(err, token.ErrExpired):
		apierrors.TokenExpired(w, "Срок действия токена истёк")
	case errors.Is(err, token.ErrInvalid):
		apierrors.InvalidToken(w, "Невалидный или отозванный токен")
	case errors.Is(err, upstream.ErrUpstreamTimeout):
		apierrors.UpstreamTimeout(w, "Upstream не ответил в отведённое время")
	case errors.Is(err, upstream.ErrUpstreamUnreachable):
		apierrors.UpstreamUnreachable(w, "Upstream недоступен")
	case errors.Is(err, service.ErrUpstreamFailure):
		apierrors.UpstreamUnreachable(w, "Upstream вернул ошибку при проверке учётных данных")
	default:
		h.logger.Error("необработанная ошибка сервисного слоя", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка gateway")
	}
}

// refreshCookie собирает httpOnly cookie с refresh-токеном.
// Путь ограничен /auth: защищённые маршруты cookie не видят.
func (h *APIHandler) refreshCookie(value string, expiresAt time.Time) *http.Cookie {
	maxAge := int(time.Until(expiresAt).Seconds())
	if value == "" {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     "refresh_token",
		Value:    value,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge,
	}
}
