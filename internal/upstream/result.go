// result.go — нормализация ответов upstream в теговые варианты.
// Upstream отдаёт отказ аутентификации непоследовательно: иногда HTTP 401,
// иногда HTTP 200 с телом {"status":"UNAUTHORIZED","message":[...]}.
// Вся интерпретация этих форм собрана здесь, в одной функции.
package upstream

import (
	"encoding/json"
	"io"
	"net/http"
)

// Result — сырой ответ upstream для проброса клиенту.
// Body — streaming, закрывает вызывающий код.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// OutcomeKind — тег варианта результата проверки аутентификации.
type OutcomeKind string

const (
	// OutcomeSuccess — upstream принял учётные данные.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeAuthError — upstream отклонил учётные данные (любая из форм).
	OutcomeAuthError OutcomeKind = "auth_error"
	// OutcomeOtherError — upstream вернул иную ошибку (5xx, неожиданный статус).
	OutcomeOtherError OutcomeKind = "other_error"
)

// AuthOutcome — нормализованный результат проверки аутентификации.
type AuthOutcome struct {
	// Kind — тег варианта
	Kind OutcomeKind
	// Messages — message-массив upstream при отказе (может быть пуст)
	Messages []string
	// StatusCode — исходный HTTP-статус upstream
	StatusCode int
	// Body — буферизованное тело ответа (для OtherError-диагностики)
	Body []byte
}

// authBody — форма тела с embedded статусом, которую upstream
// может вернуть и с HTTP 200.
type authBody struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
}

// normalizeAuth приводит ответ upstream /auth к одному из трёх вариантов.
// Единственное место, где распознаются обе формы отказа.
func normalizeAuth(resp *http.Response) (*AuthOutcome, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, ClassifyTransportError(err)
	}

	// Явный 401 — отказ, независимо от тела
	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthOutcome{
			Kind:       OutcomeAuthError,
			Messages:   extractMessages(body),
			StatusCode: resp.StatusCode,
		}, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// 2xx с embedded {"status":"UNAUTHORIZED"} — тоже отказ
		var parsed authBody
		if json.Unmarshal(body, &parsed) == nil && parsed.Status == "UNAUTHORIZED" {
			return &AuthOutcome{
				Kind:       OutcomeAuthError,
				Messages:   parsed.Message,
				StatusCode: resp.StatusCode,
			}, nil
		}
		return &AuthOutcome{
			Kind:       OutcomeSuccess,
			StatusCode: resp.StatusCode,
		}, nil
	}

	return &AuthOutcome{
		Kind:       OutcomeOtherError,
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// extractMessages достаёт message-массив из тела отказа, если он там есть.
func extractMessages(body []byte) []string {
	var parsed authBody
	if json.Unmarshal(body, &parsed) == nil {
		return parsed.Message
	}
	return nil
}
