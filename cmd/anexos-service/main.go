// Ponto de entrada do serviço de anexos de intercorrências.
package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/prefeiturasp/sme-anexos-service/internal/api/handlers"
	"github.com/prefeiturasp/sme-anexos-service/internal/api/middleware"
	"github.com/prefeiturasp/sme-anexos-service/internal/auth"
	"github.com/prefeiturasp/sme-anexos-service/internal/config"
	"github.com/prefeiturasp/sme-anexos-service/internal/server"
	"github.com/prefeiturasp/sme-anexos-service/internal/service"
	"github.com/prefeiturasp/sme-anexos-service/internal/storage/metadb"
	"github.com/prefeiturasp/sme-anexos-service/internal/storage/miniostore"
)

func main() {
	// Configuração via variáveis de ambiente
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Erro de configuração: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("serviço de anexos iniciando",
		slog.String("service_id", cfg.ServiceID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("minio_endpoint", cfg.MinioEndpoint),
	)

	ctx := context.Background()

	// 1. Banco de metadados
	db, err := metadb.Open(cfg.DBPath)
	if err != nil {
		logger.Error("erro ao abrir banco de metadados", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	// 2. Armazenamento de objetos
	store, err := miniostore.New(ctx, miniostore.Config{
		Endpoint:   cfg.MinioEndpoint,
		AccessKey:  cfg.MinioAccessKey,
		SecretKey:  cfg.MinioSecretKey,
		Bucket:     cfg.MinioBucket,
		UseHTTPS:   cfg.MinioUseHTTPS,
		BaseURL:    cfg.MinioBaseURL,
		PresignTTL: cfg.MinioPresignTTL,
		Timeout:    cfg.MinioTimeout,
	}, logger)
	if err != nil {
		logger.Error("erro ao inicializar armazenamento de objetos", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Autenticação
	var publicKey *rsa.PublicKey
	if cfg.JWTPublicKeyPath != "" {
		pem, readErr := os.ReadFile(cfg.JWTPublicKeyPath)
		if readErr != nil {
			logger.Error("erro ao ler chave pública JWT", slog.String("error", readErr.Error()))
			os.Exit(1)
		}
		publicKey, err = jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			logger.Error("erro ao interpretar chave pública JWT", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	verifier := auth.NewVerifier(auth.VerifierConfig{
		VerifyURL: cfg.AuthVerifyURL,
		Secret:    cfg.JWTSecret,
		PublicKey: publicKey,
	}, logger)

	var enricher *auth.Enricher
	if cfg.AuthMeURL != "" {
		enricher = auth.NewEnricher(cfg.AuthMeURL, logger)
	} else {
		logger.Warn("endpoint de identidade não configurado, usuários sem enriquecimento")
	}
	authenticator := auth.NewAuthenticator(verifier, enricher)

	// 4. Serviços
	quota := service.NewQuotaService(db, logger)

	var intercorrencias *service.IntercorrenciaService
	if cfg.IntercorrenciasAPIURL != "" {
		intercorrencias = service.NewIntercorrenciaService(cfg.IntercorrenciasAPIURL, logger)
	} else {
		logger.Warn("API de intercorrências não configurada, verificação de existência desativada")
	}

	anexos := service.NewAnexoService(db, store, quota, intercorrencias, logger)

	// 5. Conciliação em background bucket × metadados
	var reconcileSvc *service.ReconcileService
	if cfg.ReconcileInterval > 0 {
		reconcileSvc = service.NewReconcileService(db, store, cfg.ReconcileInterval, logger)
		reconcileSvc.Start(ctx)
	}

	// 6. Monitoramento de dependências externas
	deps := []service.Dependency{
		{Name: "auth-verify", URL: cfg.AuthVerifyURL},
	}
	if cfg.IntercorrenciasAPIURL != "" {
		deps = append(deps, service.Dependency{Name: "intercorrencias-api", URL: cfg.IntercorrenciasAPIURL})
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(
		dephealthName(cfg.DephealthName, cfg.ServiceID),
		cfg.DephealthGroup,
		deps,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("monitoramento de dependências indisponível",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("erro ao iniciar monitoramento de dependências",
			slog.String("error", startErr.Error()),
		)
	}

	// 7. Handlers e servidor
	h := server.Handlers{
		Anexos: handlers.NewAnexosHandler(anexos, quota, logger),
		Health: handlers.NewHealthHandler(db, store),
		System: handlers.NewSystemHandler(cfg),
		Auth:   middleware.NewAuth(authenticator, logger),
	}

	srv := server.New(cfg, logger, h)
	if err := srv.Run(); err != nil {
		logger.Error("erro do servidor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if reconcileSvc != nil {
		reconcileSvc.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("serviço de anexos encerrado")
}
