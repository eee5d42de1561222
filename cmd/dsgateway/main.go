// main.go — точка входа Datastore Gateway.
// Сборка графа зависимостей: config → logger → stores → upstream-клиент →
// сервисы → middleware → HTTP-сервер.
package main

import (
	"log"
	"log/slog"
	"time"

	"github.com/bigkaa/dsgateway/internal/api/handlers"
	"github.com/bigkaa/dsgateway/internal/api/middleware"
	"github.com/bigkaa/dsgateway/internal/config"
	"github.com/bigkaa/dsgateway/internal/relay"
	"github.com/bigkaa/dsgateway/internal/server"
	"github.com/bigkaa/dsgateway/internal/service"
	"github.com/bigkaa/dsgateway/internal/session"
	"github.com/bigkaa/dsgateway/internal/token"
	"github.com/bigkaa/dsgateway/internal/upstream"
)

// sweepInterval — период фоновой вычистки истёкших записей in-memory
// хранилищ (сессии, реестр refresh-токенов).
const sweepInterval = time.Minute

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Datastore Gateway запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("upstream", cfg.UpstreamBaseURL),
	)

	// 3. Upstream-клиент
	upstreamClient, err := upstream.New(upstream.Options{
		BaseURL:            cfg.UpstreamBaseURL,
		Timeout:            cfg.UpstreamTimeout,
		CACertPath:         cfg.UpstreamCACertPath,
		InsecureSkipVerify: cfg.UpstreamInsecureSkipVerify,
		Retry: upstream.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			IsRetryable: upstream.DefaultRetryable,
		},
	}, logger)
	if err != nil {
		log.Fatalf("Ошибка создания upstream-клиента: %v", err)
	}

	// 4. In-memory хранилища: сессии (учётные данные живут только в
	// памяти процесса) и реестр одноразовых refresh-токенов
	sessions := session.New(cfg.RefreshTokenTTL, sweepInterval)
	defer sessions.Shutdown()

	refreshStore := token.NewRefreshStore(sweepInterval)
	defer refreshStore.Shutdown()

	tokens := token.NewManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.JWTLeeway)

	// 5. Сервисный слой
	authCache := service.NewAuthCache(cfg.AuthCacheSize, cfg.AuthCacheTTL, cfg.JWTSecret)
	authSvc := service.NewAuthService(upstreamClient, authCache, tokens, sessions, refreshStore, logger)
	filesSvc := service.NewFilesService(upstreamClient, authCache, logger)

	// 6. Обработчики
	readiness := service.NewUpstreamReadinessChecker(upstreamClient, cfg.UpstreamTimeout)
	healthHandler := handlers.NewHealthHandler(readiness)
	apiHandler := handlers.NewAPIHandler(authSvc, filesSvc, relay.New(logger), healthHandler, cfg.CookieSecure, logger)

	// 7. Middleware
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	defer rateLimiter.Shutdown()

	jwtAuth := middleware.NewJWTAuth(tokens, sessions, logger)

	// 8. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler, server.Middlewares{
		Logging:   middleware.RequestLogger(logger),
		Metrics:   middleware.MetricsMiddleware(),
		RateLimit: rateLimiter.Middleware(),
		JWTAuth:   jwtAuth.Middleware(),
	})

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	logger.Info("Datastore Gateway остановлен")
}
