// retry.go — явная политика повторов для идемпотентных запросов к upstream.
// Политика описывается объектом Policy и применяется через withRetry,
// поэтому тестируется отдельно от мест вызова.
package upstream

import (
	"context"
	"errors"
	"time"
)

// Policy — политика повторов.
type Policy struct {
	// MaxAttempts — общее число попыток, включая первую (минимум 1)
	MaxAttempts int
	// BaseDelay — задержка перед второй попыткой; далее удваивается
	BaseDelay time.Duration
	// IsRetryable — решает, стоит ли повторять после данной ошибки.
	// nil — используется DefaultRetryable.
	IsRetryable func(error) bool
}

// DefaultRetryable повторяет только сетевую недоступность upstream.
// Таймауты не повторяются (бюджет времени уже исчерпан), отказы
// аутентификации не повторяются никогда — это не transient-сбой.
func DefaultRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnreachable)
}

// withRetry выполняет fn с повторами по политике.
// Между попытками — экспоненциальная задержка (BaseDelay, x2 за попытку),
// прерываемая отменой контекста.
func withRetry[T any](ctx context.Context, policy Policy, fn func() (T, error)) (T, error) {
	var zero T

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := policy.IsRetryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	delay := policy.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts || !retryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return zero, lastErr
}
