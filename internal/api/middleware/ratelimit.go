// ratelimit.go — per-IP ограничение частоты запросов (token bucket).
// Каждый клиентский адрес получает собственный limiter; записи,
// не использовавшиеся дольше staleAfter, вычищаются фоновой горутиной.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/dsgateway/internal/api/errors"
)

// staleAfter — возраст неактивной записи limiter до вычистки.
const staleAfter = 10 * time.Minute

var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dsg_rate_limited_total",
	Help: "Общее количество запросов, отклонённых по лимиту частоты.",
})

// limiterEntry — limiter одного клиентского адреса.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter — per-IP ограничитель частоты запросов.
type RateLimiter struct {
	mu       sync.Mutex
	entries  map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter создаёт ограничитель: rps запросов в секунду
// с допустимым всплеском burst на каждый клиентский адрес.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  logger.With(slog.String("component", "rate_limiter")),
		stop:    make(chan struct{}),
	}
	go rl.sweeper()
	return rl
}

// Middleware возвращает HTTP middleware ограничения частоты.
// Превышение лимита — 429 RATE_LIMITED.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := CallerIP(r)
			if !rl.allow(ip) {
				rateLimitedTotal.Inc()
				rl.logger.Warn("запрос отклонён по лимиту частоты",
					slog.String("caller_ip", ip),
					slog.String("path", r.URL.Path),
				)
				apierrors.RateLimited(w, "Превышен лимит запросов, повторите позже")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow проверяет и расходует токен limiter-а адреса.
func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.entries[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// Len возвращает количество отслеживаемых адресов.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Shutdown останавливает фоновую вычистку.
func (rl *RateLimiter) Shutdown() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// sweeper периодически вычищает неактивные записи.
func (rl *RateLimiter) sweeper() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-staleAfter)
			for ip, entry := range rl.entries {
				if entry.lastSeen.Before(cutoff) {
					delete(rl.entries, ip)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}
