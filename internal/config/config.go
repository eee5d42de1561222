// Пакет config — загрузка и валидация конфигурации Datastore Gateway
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Datastore Gateway.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- Upstream API ---

	// Базовый URL upstream REST API (обязательный)
	UpstreamBaseURL string
	// Таймаут запросов к upstream (по умолчанию 10s)
	UpstreamTimeout time.Duration
	// Путь к CA-сертификату для TLS к upstream (пустая строка — системный пул)
	UpstreamCACertPath string
	// Отключение проверки TLS-сертификата upstream.
	// Только явный opt-in для внутренних self-signed endpoints,
	// при включении пишется предупреждение в лог.
	UpstreamInsecureSkipVerify bool

	// --- Сессии и токены ---

	// Секрет подписи JWT (обязательный, минимум 32 байта)
	JWTSecret string
	// Время жизни access-токена (по умолчанию 15m)
	AccessTokenTTL time.Duration
	// Время жизни refresh-токена (по умолчанию 168h)
	RefreshTokenTTL time.Duration
	// Допустимое отклонение времени при проверке JWT (по умолчанию 10s)
	JWTLeeway time.Duration

	// --- Кэш успешных аутентификаций ---

	// Максимальное количество записей auth-кэша (по умолчанию 1024)
	AuthCacheSize int
	// TTL записи auth-кэша (по умолчанию 1h)
	AuthCacheTTL time.Duration

	// --- Rate limiting ---

	// Запросов в секунду на один client IP (по умолчанию 50)
	RateLimitRPS float64
	// Burst на один client IP (по умолчанию 10)
	RateLimitBurst int

	// --- Retry к upstream ---

	// Максимальное количество попыток идемпотентных GET (по умолчанию 3)
	RetryMaxAttempts int
	// Базовая задержка между попытками (по умолчанию 500ms)
	RetryBaseDelay time.Duration

	// --- CORS ---

	// Разрешённый origin фронтенда (по умолчанию http://localhost:3000)
	CORSAllowedOrigin string

	// --- Cookie ---

	// Ставить ли флаг Secure на refresh-cookie (по умолчанию false:
	// TLS терминируется на ingress, локальная разработка идёт по http)
	CookieSecure bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("DSG_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("DSG_PORT: %w", err)
	}

	logLevel := getEnvDefault("DSG_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("DSG_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DSG_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DSG_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DSG_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DSG_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("DSG_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DSG_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("DSG_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DSG_HTTP_IDLE_TIMEOUT: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("DSG_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DSG_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Upstream API ---

	cfg.UpstreamBaseURL, err = getEnvRequired("DSG_UPSTREAM_BASE_URL")
	if err != nil {
		return nil, err
	}
	if _, parseErr := url.ParseRequestURI(cfg.UpstreamBaseURL); parseErr != nil {
		return nil, fmt.Errorf("DSG_UPSTREAM_BASE_URL: некорректный URL %q", cfg.UpstreamBaseURL)
	}
	cfg.UpstreamBaseURL = strings.TrimRight(cfg.UpstreamBaseURL, "/")

	cfg.UpstreamTimeout, err = getEnvDuration("DSG_UPSTREAM_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DSG_UPSTREAM_TIMEOUT: %w", err)
	}

	cfg.UpstreamCACertPath = getEnvDefault("DSG_UPSTREAM_CA_CERT_PATH", "")

	cfg.UpstreamInsecureSkipVerify, err = getEnvBool("DSG_UPSTREAM_INSECURE_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("DSG_UPSTREAM_INSECURE_SKIP_VERIFY: %w", err)
	}
	if cfg.UpstreamInsecureSkipVerify && cfg.UpstreamCACertPath != "" {
		return nil, fmt.Errorf("DSG_UPSTREAM_INSECURE_SKIP_VERIFY и DSG_UPSTREAM_CA_CERT_PATH взаимоисключающие")
	}

	// --- Сессии и токены ---

	cfg.JWTSecret, err = getEnvRequired("DSG_JWT_SECRET")
	if err != nil {
		return nil, err
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("DSG_JWT_SECRET: секрет короче 32 байт")
	}

	cfg.AccessTokenTTL, err = getEnvDuration("DSG_ACCESS_TOKEN_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DSG_ACCESS_TOKEN_TTL: %w", err)
	}

	cfg.RefreshTokenTTL, err = getEnvDuration("DSG_REFRESH_TOKEN_TTL", 168*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DSG_REFRESH_TOKEN_TTL: %w", err)
	}
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return nil, fmt.Errorf("DSG_REFRESH_TOKEN_TTL должен быть больше DSG_ACCESS_TOKEN_TTL")
	}

	cfg.JWTLeeway, err = getEnvDuration("DSG_JWT_LEEWAY", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DSG_JWT_LEEWAY: %w", err)
	}

	// --- Кэш успешных аутентификаций ---

	cfg.AuthCacheSize, err = getEnvInt("DSG_AUTH_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("DSG_AUTH_CACHE_SIZE: %w", err)
	}
	if cfg.AuthCacheSize < 1 {
		return nil, fmt.Errorf("DSG_AUTH_CACHE_SIZE: значение должно быть >= 1")
	}

	cfg.AuthCacheTTL, err = getEnvDuration("DSG_AUTH_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DSG_AUTH_CACHE_TTL: %w", err)
	}

	// --- Rate limiting ---

	cfg.RateLimitRPS, err = getEnvFloat("DSG_RATE_LIMIT_RPS", 50)
	if err != nil {
		return nil, fmt.Errorf("DSG_RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitRPS <= 0 {
		return nil, fmt.Errorf("DSG_RATE_LIMIT_RPS: значение должно быть > 0")
	}

	cfg.RateLimitBurst, err = getEnvInt("DSG_RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("DSG_RATE_LIMIT_BURST: %w", err)
	}
	if cfg.RateLimitBurst < 1 {
		return nil, fmt.Errorf("DSG_RATE_LIMIT_BURST: значение должно быть >= 1")
	}

	// --- Retry к upstream ---

	cfg.RetryMaxAttempts, err = getEnvInt("DSG_RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("DSG_RETRY_MAX_ATTEMPTS: %w", err)
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("DSG_RETRY_MAX_ATTEMPTS: значение должно быть >= 1")
	}

	cfg.RetryBaseDelay, err = getEnvDuration("DSG_RETRY_BASE_DELAY", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("DSG_RETRY_BASE_DELAY: %w", err)
	}

	// --- CORS ---

	cfg.CORSAllowedOrigin = getEnvDefault("DSG_CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	// --- Cookie ---

	cfg.CookieSecure, err = getEnvBool("DSG_COOKIE_SECURE", false)
	if err != nil {
		return nil, fmt.Errorf("DSG_COOKIE_SECURE: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvFloat возвращает float64 из переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
