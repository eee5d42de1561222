// Пакет server — HTTP-сервер Datastore Gateway с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на ingress.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	apierrors "github.com/bigkaa/dsgateway/internal/api/errors"
	"github.com/bigkaa/dsgateway/internal/api/handlers"
	"github.com/bigkaa/dsgateway/internal/config"
)

// Middlewares — прикладные middleware, собираемые в main.
type Middlewares struct {
	// Logging — логирование запросов (глобально)
	Logging func(http.Handler) http.Handler
	// Metrics — Prometheus-метрики (глобально, после Logging)
	Metrics func(http.Handler) http.Handler
	// RateLimit — per-IP лимит частоты (на /auth и /api)
	RateLimit func(http.Handler) http.Handler
	// JWTAuth — проверка access-токена (только на /api)
	JWTAuth func(http.Handler) http.Handler
}

// Server — HTTP-сервер Datastore Gateway.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// Health и metrics endpoints не проходят через rate limit и JWT:
// probes kubelet не должны упираться в лимиты.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, mw Middlewares) *Server {
	router := chi.NewRouter()

	router.Use(mw.Logging)
	router.Use(mw.Metrics)

	if cfg.CORSAllowedOrigin != "" {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{cfg.CORSAllowedOrigin},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Route("/auth", func(r chi.Router) {
		r.Use(mw.RateLimit)
		r.Post("/login", h.HandleLogin)
		r.Post("/refresh", h.HandleRefresh)
		r.Post("/logout", h.HandleLogout)
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit)
		r.Use(mw.JWTAuth)
		r.Get("/datastores", h.HandleListDatastores)
		r.Get("/datastores/{id}/files", h.HandleListFiles)
	})

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	// 404 в том же конверте ошибок, что и остальные ответы gateway
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.NotFound(w, "Неизвестный путь "+r.URL.Path)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
