// Пакет relay — проброс ответа upstream клиенту gateway.
// Две стратегии: Buffered (прочитать целиком, отдать одним куском) и
// Stream (отдавать чанки по мере чтения — меньше latency-to-first-byte
// на больших выборках). Обе сохраняют тело байт-в-байт и пробрасывают
// content type. Никаких трансформаций содержимого relay не делает —
// reshape принадлежит сервисному слою.
package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dsgateway/internal/upstream"
)

// ErrTruncated — upstream-соединение оборвалось посреди streaming-ответа.
// Заголовки к этому моменту уже отправлены: клиент видит несовпадение
// Content-Length, а не молча закрытое соединение.
var ErrTruncated = errors.New("upstream оборвал ответ, передана усечённая выборка")

// Prometheus-метрики relay.
var (
	relayBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsg_relay_bytes_total",
		Help: "Общее количество байт, переданных клиентам через relay.",
	})
	activeRelays = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dsg_active_relays",
		Help: "Количество активных (in-progress) streaming relay.",
	})
	relayTruncatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsg_relay_truncated_total",
		Help: "Количество ответов, оборванных upstream посреди передачи.",
	})
)

// headersToProxy — заголовки upstream, пробрасываемые клиенту.
var headersToProxy = []string{
	"Content-Type",
	"Content-Length",
	"Content-Disposition",
	"ETag",
	"Last-Modified",
	"Cache-Control",
}

// Relay пробрасывает ответы upstream клиентам gateway.
type Relay struct {
	logger *slog.Logger
}

// New создаёт relay.
func New(logger *slog.Logger) *Relay {
	return &Relay{
		logger: logger.With(slog.String("component", "relay")),
	}
}

// Buffered читает тело upstream целиком и отдаёт клиенту одним Write.
// Рекомендуемая стратегия для небольших JSON-ответов: ошибка чтения
// обнаруживается ДО отправки заголовков, клиент получает чистый 502/504.
func (rl *Relay) Buffered(w http.ResponseWriter, res *upstream.Result) error {
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		// Заголовки ещё не отправлены — вызывающий код отдаст клиенту
		// 502/504 по классифицированной ошибке, а не чистое 500
		return fmt.Errorf("чтение тела upstream: %w", upstream.ClassifyTransportError(err))
	}

	copyHeaders(w, res.Header)
	w.WriteHeader(res.StatusCode)
	n, err := w.Write(body)
	relayBytesTotal.Add(float64(n))
	if err != nil {
		// Клиент gateway ушёл — логируем и не более
		rl.logger.Debug("Клиент прервал приём ответа",
			slog.Int("written", n),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Stream пробрасывает тело upstream клиенту по мере чтения.
// Для больших выборок файловых записей. При обрыве upstream посреди
// передачи возвращает ErrTruncated — относящийся к передаче ответ
// завершается, а не висит.
func (rl *Relay) Stream(w http.ResponseWriter, res *upstream.Result) error {
	defer res.Body.Close()

	activeRelays.Inc()
	defer activeRelays.Dec()

	copyHeaders(w, res.Header)
	w.WriteHeader(res.StatusCode)

	written, err := io.Copy(w, res.Body)
	relayBytesTotal.Add(float64(written))
	if err != nil {
		relayTruncatedTotal.Inc()
		rl.logger.Error("Обрыв streaming relay",
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: передано %d байт", ErrTruncated, written)
	}

	return nil
}

// copyHeaders пробрасывает релевантные заголовки upstream в ответ клиенту.
// Content-Type выставляется по умолчанию, если upstream его не прислал.
func copyHeaders(w http.ResponseWriter, h http.Header) {
	for _, name := range headersToProxy {
		if v := h.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
}
