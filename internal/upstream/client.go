// Пакет upstream — HTTP-клиент фиксированного upstream REST API.
// Транслирует учётные данные сессии в Basic-Auth запросы, поддерживает
// TLS с кастомным CA (DSG_UPSTREAM_CA_CERT_PATH) и явный отказ от
// проверки сертификата для внутренних self-signed endpoints
// (DSG_UPSTREAM_INSECURE_SKIP_VERIFY).
package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/dsgateway/internal/config"
)

// Ошибки уровня клиента.
var (
	// ErrInvalidCredentialsFormat — учётные данные пусты или содержат управляющие символы.
	ErrInvalidCredentialsFormat = errors.New("некорректный формат учётных данных")
	// ErrUpstreamTimeout — upstream не ответил в отведённое время.
	ErrUpstreamTimeout = errors.New("таймаут запроса к upstream")
	// ErrUpstreamUnreachable — сетевая ошибка при обращении к upstream.
	ErrUpstreamUnreachable = errors.New("upstream недоступен")
)

// Credentials — пара логин/пароль для Basic-Auth к upstream.
// Живёт только в памяти процесса, никогда не логируется и не сериализуется.
type Credentials struct {
	Username string
	Password string
}

// Validate проверяет формат учётных данных перед кодированием в заголовок:
// обе строки непустые и не содержат управляющих символов.
func (c Credentials) Validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("%w: логин и пароль обязательны", ErrInvalidCredentialsFormat)
	}
	for _, s := range []string{c.Username, c.Password} {
		for _, r := range s {
			if r < 0x20 || r == 0x7f {
				return fmt.Errorf("%w: управляющие символы запрещены", ErrInvalidCredentialsFormat)
			}
		}
	}
	if strings.Contains(c.Username, ":") {
		return fmt.Errorf("%w: ':' в логине ломает Basic-кодирование", ErrInvalidCredentialsFormat)
	}
	return nil
}

// basicAuthHeader кодирует учётные данные в значение заголовка Authorization.
func (c Credentials) basicAuthHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.Username+":"+c.Password))
}

// Client — HTTP-клиент upstream API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	retry      Policy
	logger     *slog.Logger
}

// Options — параметры создания клиента.
type Options struct {
	// BaseURL — базовый URL upstream API (без trailing slash)
	BaseURL string
	// Timeout — таймаут одного HTTP-запроса
	Timeout time.Duration
	// CACertPath — путь к CA-сертификату (пустая строка — системный пул)
	CACertPath string
	// InsecureSkipVerify — отключение проверки сертификата upstream.
	// Явный opt-in, взаимоисключим с CACertPath, логируется как предупреждение.
	InsecureSkipVerify bool
	// Retry — политика повторов идемпотентных GET
	Retry Policy
}

// New создаёт upstream-клиент.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		// Пул idle-соединений для переиспользования keep-alive
		MaxIdleConnsPerHost: 10,
	}

	switch {
	case opts.InsecureSkipVerify:
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // G402: явный opt-in для self-signed endpoints
		}
		logger.Warn("Проверка TLS-сертификата upstream ОТКЛЮЧЕНА (DSG_UPSTREAM_INSECURE_SKIP_VERIFY)",
			slog.String("base_url", opts.BaseURL),
		)
	case opts.CACertPath != "":
		tlsConfig, err := buildTLSConfig(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата upstream: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат upstream добавлен в пул доверия",
			slog.String("ca_cert", opts.CACertPath),
		)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		retry:   opts.Retry,
		logger:  logger.With(slog.String("component", "upstream_client")),
	}, nil
}

// Fetch выполняет GET {baseURL}{path}?{query} с Basic-Auth заголовком.
// Возвращает *Result со streaming-телом — вызывающий код ОБЯЗАН закрыть Body.
// Non-2xx статусы НЕ являются ошибкой: статус и тело пробрасываются как есть,
// интерпретация остаётся за gateway. Ошибкой являются только проблемы
// формата учётных данных и сетевого уровня (timeout/unreachable).
// Идемпотентный GET повторяется по политике retry при сетевых сбоях.
func (c *Client) Fetch(ctx context.Context, path string, creds Credentials, query url.Values) (*Result, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	resp, err := withRetry(ctx, c.retry, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if reqErr != nil {
			return nil, fmt.Errorf("создание запроса к upstream: %w", reqErr)
		}
		c.setHeaders(req, creds)

		r, doErr := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации upstream
		if doErr != nil {
			return nil, ClassifyTransportError(doErr)
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}

	// Body не закрываем — ответственность вызывающего кода (streaming)
	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Verify проверяет учётные данные через upstream /auth и нормализует
// разнобой форматов отказа (401 либо 200 с embedded UNAUTHORIZED)
// в один AuthOutcome. Тело буферизуется целиком — ответы /auth малы.
// Отказ аутентификации НЕ повторяется по retry-политике.
func (c *Client) Verify(ctx context.Context, creds Credentials) (*AuthOutcome, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса /auth: %w", err)
	}
	c.setHeaders(req, creds)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации upstream
	if err != nil {
		return nil, ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	outcome, err := normalizeAuth(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Проверка учётных данных завершена",
		slog.String("kind", string(outcome.Kind)),
		slog.Int("upstream_status", resp.StatusCode),
	)

	return outcome, nil
}

// Ping проверяет сетевую доступность upstream без учётных данных.
// Возвращает HTTP-статус ответа: для readiness важен сам факт ответа,
// 401 от /auth без Basic-заголовка — признак живого upstream.
func (c *Client) Ping(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth", http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("создание ping-запроса: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", "dsgateway/"+config.Version)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации upstream
	if err != nil {
		return 0, ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// setHeaders выставляет стандартные заголовки запроса к upstream.
func (c *Client) setHeaders(req *http.Request, creds Credentials) {
	req.Header.Set("Authorization", creds.basicAuthHeader())
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", "dsgateway/"+config.Version)
}

// ClassifyTransportError различает таймаут и сетевую недоступность.
// Экспортирована для relay: обрыв чтения тела upstream классифицируется
// теми же sentinel-ошибками, что и отказ самого запроса.
func ClassifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
