// dephealth.go — integração com o SDK topologymetrics para monitoramento
// das dependências externas.
//
// O serviço de anexos monitora:
//   - endpoint de verificação de token do serviço de autenticação (critical)
//   - API de intercorrências (critical)
//
// As métricas ficam em /metrics junto com as demais métricas Prometheus:
//   - app_dependency_health — estado da dependência (1 = ok, 0 = falha)
//   - app_dependency_latency_seconds — latência da verificação
//   - app_dependency_status — categoria do status
//   - app_dependency_status_detail — status detalhado
//
// Usa o HTTP checker embutido do SDK dephealth.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks" // Registro das factories de checkers (HTTP e outros)
	"github.com/prometheus/client_golang/prometheus"
)

// Dependency — dependência externa monitorada.
type Dependency struct {
	// Name — nome da dependência no grafo de métricas
	Name string
	// URL — endpoint verificado pelo HTTP checker
	URL string
}

// DephealthService — serviço de monitoramento de dependências.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService cria o serviço de monitoramento.
// As métricas são registradas no registry global do Prometheus.
//
// Parâmetros:
//   - serviceID — nome do vértice da aplicação no grafo (ANEXOS_SERVICE_ID)
//   - group — nome do grupo nas métricas (ANEXOS_DEPHEALTH_GROUP)
//   - deps — dependências monitoradas (auth, intercorrências)
//   - checkInterval — intervalo entre verificações (ANEXOS_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	serviceID string,
	group string,
	deps []Dependency,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer cria o serviço com um registerer
// Prometheus próprio. Usado nos testes para isolar métricas.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	deps []Dependency,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — construtor interno.
func newDephealthService(
	serviceID string,
	group string,
	deps []Dependency,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	// Monta as opções: um HTTP checker por dependência, com intervalo comum
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
	}
	for _, dep := range deps {
		opts = append(opts, dephealth.HTTP(dep.Name,
			dephealth.FromURL(dep.URL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(true), // Ambiente de dev: certificados self-signed
		))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(
		serviceID,
		group,
		opts...,
	)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start inicia a verificação periódica das dependências.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Monitoramento de dependências iniciado")
	return ds.dh.Start(ctx)
}

// Stop interrompe o monitoramento.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Monitoramento de dependências encerrado")
}

// Health retorna o estado atual das dependências.
// Chave — nome da dependência, valor — true se ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
