// auth.go — обработчики /auth/login, /auth/refresh, /auth/logout.
// Refresh-токен живёт в httpOnly cookie и никогда не попадает в тело
// ответа; access-токен клиент получает в JSON и носит в Authorization.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/dsgateway/internal/api/errors"
	"github.com/bigkaa/dsgateway/internal/api/middleware"
	"github.com/bigkaa/dsgateway/internal/service"
	"github.com/bigkaa/dsgateway/internal/upstream"
)

// loginRequest — тело POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authUser — блок user в ответах auth endpoints.
type authUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// authResponse — тело успешного ответа login/refresh.
type authResponse struct {
	Success     bool     `json:"success"`
	AccessToken string   `json:"accessToken"`
	User        authUser `json:"user"`
}

// HandleLogin — POST /auth/login.
// Проверяет учётные данные через upstream и выпускает пару токенов.
func (h *APIHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	if req.Username == "" || req.Password == "" {
		apierrors.MissingCredentials(w, "Поля username и password обязательны")
		return
	}

	creds := upstream.Credentials{Username: req.Username, Password: req.Password}
	pair, err := h.auth.Login(r.Context(), creds, middleware.CallerIP(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeAuthResponse(w, pair)
}

// HandleRefresh — POST /auth/refresh.
// Гасит cookie-borne refresh-токен и выдаёт новую пару (ротация).
func (h *APIHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("refresh_token")
	if err != nil || cookie.Value == "" {
		apierrors.NoToken(w, "Отсутствует refresh_token cookie")
		return
	}

	pair, err := h.auth.Refresh(r.Context(), cookie.Value)
	if err != nil {
		// Погасший или украденный токен бесполезен — чистим cookie
		http.SetCookie(w, h.refreshCookie("", time.Time{}))
		h.writeServiceError(w, err)
		return
	}

	h.writeAuthResponse(w, pair)
}

// HandleLogout — POST /auth/logout.
// Идемпотентен: без cookie или с погасшим токеном тоже отвечает успехом.
func (h *APIHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("refresh_token"); err == nil && cookie.Value != "" {
		h.auth.Logout(r.Context(), cookie.Value)
	}

	http.SetCookie(w, h.refreshCookie("", time.Time{}))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeAuthResponse выставляет refresh-cookie и отдаёт access-токен.
func (h *APIHandler) writeAuthResponse(w http.ResponseWriter, pair *service.TokenPair) {
	http.SetCookie(w, h.refreshCookie(pair.RefreshToken, pair.RefreshExpiresAt))
	writeJSON(w, http.StatusOK, authResponse{
		Success:     true,
		AccessToken: pair.AccessToken,
		User: authUser{
			ID:       pair.Username,
			Username: pair.Username,
		},
	})
}
