// Pacote server — servidor HTTP do serviço de anexos com graceful shutdown.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prefeiturasp/sme-anexos-service/internal/api/handlers"
	"github.com/prefeiturasp/sme-anexos-service/internal/api/middleware"
	"github.com/prefeiturasp/sme-anexos-service/internal/config"
)

// Handlers — conjunto de handlers montados no roteador.
type Handlers struct {
	Anexos *handlers.AnexosHandler
	Health *handlers.HealthHandler
	System *handlers.SystemHandler
	// Auth — middleware de autenticação das rotas de anexos
	Auth *middleware.Auth
}

// Server — servidor HTTP do serviço de anexos.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New monta o roteador e cria o servidor.
//
// Rotas públicas: /health/live, /health/ready, /metrics, /api/v1/info.
// Rotas autenticadas: tudo sob /api/v1/anexos.
func New(cfg *config.Config, logger *slog.Logger, h Handlers) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/api/v1/info", h.System.GetInfo)

	router.Route("/api/v1/anexos", func(r chi.Router) {
		r.Use(h.Auth.Middleware)
		r.Get("/", h.Anexos.List)
		r.Post("/", h.Anexos.Create)
		r.Get("/categorias-disponiveis", h.Anexos.CategoriasDisponiveis)
		r.Post("/validar-limite", h.Anexos.ValidarLimite)
		r.Get("/intercorrencia/{uuid}", h.Anexos.PorIntercorrencia)
		r.Get("/intercorrencia/{uuid}/url-download-todos", h.Anexos.URLDownloadTodos)
		r.Get("/{uuid}", h.Anexos.Get)
		r.Patch("/{uuid}", h.Anexos.Patch)
		r.Delete("/{uuid}", h.Anexos.Delete)
		r.Get("/{uuid}/download", h.Anexos.Download)
		r.Get("/{uuid}/url-download", h.Anexos.URLDownload)
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

// Run inicia o servidor e aguarda sinal de término (SIGINT, SIGTERM).
// Ao receber o sinal, executa graceful shutdown com o timeout configurado.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("servidor HTTP iniciado", slog.String("addr", s.httpServer.Addr))

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("sinal de término recebido", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("erro do servidor HTTP: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("executando graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("erro no graceful shutdown: %w", err)
	}

	s.logger.Info("servidor HTTP encerrado")
	return nil
}
