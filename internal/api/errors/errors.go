// Пакет errors — конструкторы стандартных ошибок Datastore Gateway.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // имя пакета повторяет соглашение api/errors, конфликт со stdlib осознанный

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок клиентского контракта gateway.
const (
	CodeMissingCredentials       = "MISSING_CREDENTIALS"
	CodeInvalidCredentialsFormat = "INVALID_CREDENTIALS_FORMAT"
	CodeAuthenticationFailed     = "AUTHENTICATION_FAILED"
	CodeNoToken                  = "NO_TOKEN"
	CodeInvalidToken             = "INVALID_TOKEN"
	CodeTokenExpired             = "TOKEN_EXPIRED"
	CodeUpstreamUnreachable      = "UPSTREAM_UNREACHABLE"
	CodeUpstreamTimeout          = "UPSTREAM_TIMEOUT"
	CodeUnsafeWhereClause        = "UNSAFE_WHERE_CLAUSE"
	CodeRateLimited              = "RATE_LIMITED"
	CodeValidationError          = "VALIDATION_ERROR"
	CodeNotFound                 = "NOT_FOUND"
	CodeInternalError            = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате gateway.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteErrorDetails записывает ошибку с дополнительным списком сообщений.
// Используется для проброса upstream message-массива при отказе аутентификации.
func WriteErrorDetails(w http.ResponseWriter, statusCode int, code, message string, details []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// MissingCredentials — 400 логин или пароль не переданы.
func MissingCredentials(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeMissingCredentials, message)
}

// InvalidCredentialsFormat — 400 учётные данные содержат недопустимые символы.
func InvalidCredentialsFormat(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeInvalidCredentialsFormat, message)
}

// AuthenticationFailed — 401 upstream отклонил учётные данные.
// details — message-массив upstream, если он был в ответе.
func AuthenticationFailed(w http.ResponseWriter, message string, details []string) {
	WriteErrorDetails(w, http.StatusUnauthorized, CodeAuthenticationFailed, message, details)
}

// NoToken — 401 отсутствует Bearer token.
func NoToken(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeNoToken, message)
}

// InvalidToken — 401 токен не прошёл валидацию.
func InvalidToken(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeInvalidToken, message)
}

// TokenExpired — 401 срок действия токена истёк.
func TokenExpired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeTokenExpired, message)
}

// UpstreamUnreachable — 502 upstream недоступен на сетевом уровне.
func UpstreamUnreachable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeUpstreamUnreachable, message)
}

// UpstreamTimeout — 504 upstream не ответил в отведённое время.
func UpstreamTimeout(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGatewayTimeout, CodeUpstreamTimeout, message)
}

// UnsafeWhereClause — 400 where-выражение не прошло проверку.
// message обязан называть конкретное нарушенное правило.
func UnsafeWhereClause(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeUnsafeWhereClause, message)
}

// RateLimited — 429 превышен лимит запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// InternalError — 500 внутренняя ошибка. Детали не уходят клиенту.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
