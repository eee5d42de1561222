// dephealth.go — проверка готовности upstream для readiness probe.
package service

import (
	"context"
	"fmt"
	"time"
)

// Статусы проверки зависимостей.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// UpstreamPinger проверяет сетевую доступность upstream.
type UpstreamPinger interface {
	Ping(ctx context.Context) (int, error)
}

// UpstreamReadinessChecker — проверка доступности upstream API.
// Любой HTTP-ответ (включая 401 на запрос без учётных данных) —
// признак живого upstream; 5xx — degraded; сетевая ошибка — fail.
type UpstreamReadinessChecker struct {
	pinger  UpstreamPinger
	timeout time.Duration
}

// NewUpstreamReadinessChecker создаёт checker доступности upstream.
func NewUpstreamReadinessChecker(pinger UpstreamPinger, timeout time.Duration) *UpstreamReadinessChecker {
	return &UpstreamReadinessChecker{
		pinger:  pinger,
		timeout: timeout,
	}
}

// CheckReady проверяет доступность upstream.
func (c *UpstreamReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	code, err := c.pinger.Ping(ctx)
	if err != nil {
		return statusFail, fmt.Sprintf("upstream недоступен: %v", err)
	}
	if code >= 500 {
		return statusDegraded, fmt.Sprintf("upstream вернул статус %d", code)
	}
	return statusOK, fmt.Sprintf("upstream отвечает, статус %d", code)
}
