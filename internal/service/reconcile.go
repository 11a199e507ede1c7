// reconcile.go — serviço de conciliação em background entre o bucket de
// objetos e o banco de metadados.
//
// A conciliação compara:
//   - Objetos do bucket com as chaves referenciadas nos registros
//   - Chaves dos registros com os objetos presentes no bucket
//
// Problemas detectados:
//   - orphan_object: objeto no bucket sem registro (removido após o período
//     de carência)
//   - missing_object: registro aponta para objeto inexistente (apenas
//     reportado; a remoção do registro é decisão operacional)
//
// Roda como goroutine com ticker periódico (ANEXOS_RECONCILE_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/prefeiturasp/sme-anexos-service/internal/storage"
	"github.com/prefeiturasp/sme-anexos-service/internal/storage/metadb"
)

// orphanGracePeriod — carência antes de tratar um objeto sem registro como
// órfão. Um upload em andamento grava o objeto antes de inserir a linha; a
// carência evita apagar esse objeto no meio da criação.
const orphanGracePeriod = time.Hour

// Métricas Prometheus da conciliação.
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anexos_reconcile_runs_total",
		Help: "Total de execuções da conciliação.",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anexos_reconcile_issues_total",
		Help: "Total de problemas detectados pela conciliação.",
	}, []string{"type"})

	reconcileOrphansDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anexos_reconcile_orphans_deleted_total",
		Help: "Total de objetos órfãos removidos do bucket.",
	})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anexos_reconcile_duration_seconds",
		Help:    "Duração da execução da conciliação em segundos.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ReconcileResult — resultado de uma execução da conciliação.
type ReconcileResult struct {
	// OrphanObjects — objetos sem registro encontrados
	OrphanObjects int
	// OrphansDeleted — órfãos efetivamente removidos do bucket
	OrphansDeleted int
	// MissingObjects — registros apontando para objeto inexistente
	MissingObjects int
	// Errors — erros durante o processamento
	Errors int
	// Duration — duração da execução
	Duration time.Duration
}

// ObjectStore — operações de bucket usadas pela conciliação.
type ObjectStore interface {
	storage.Lister
	Delete(ctx context.Context, key string) error
}

// ReconcileService — serviço de conciliação bucket × metadados.
type ReconcileService struct {
	db          *metadb.Store
	store       ObjectStore
	interval    time.Duration
	gracePeriod time.Duration
	logger      *slog.Logger

	mu     sync.Mutex // proteção contra execução paralela de RunOnce
	cancel context.CancelFunc
}

// NewReconcileService cria o serviço de conciliação.
func NewReconcileService(
	db *metadb.Store,
	store ObjectStore,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		db:          db,
		store:       store,
		interval:    interval,
		gracePeriod: orphanGracePeriod,
		logger:      logger.With(slog.String("component", "reconcile")),
	}
}

// Start inicia a goroutine de conciliação com ticker periódico.
// Chamado uma vez na subida da aplicação.
func (rc *ReconcileService) Start(ctx context.Context) {
	rcCtx, cancel := context.WithCancel(ctx)
	rc.cancel = cancel

	go rc.run(rcCtx)

	rc.logger.Info("conciliação iniciada",
		slog.String("interval", rc.interval.String()),
	)
}

// Stop encerra o processo de conciliação.
func (rc *ReconcileService) Stop() {
	if rc.cancel != nil {
		rc.cancel()
	}
	rc.logger.Info("conciliação encerrada")
}

// run — laço principal da goroutine.
func (rc *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.RunOnce(ctx)
		}
	}
}

// RunOnce executa um ciclo de conciliação.
// Seguro contra execução paralela via mutex.
func (rc *ReconcileService) RunOnce(ctx context.Context) *ReconcileResult {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	start := time.Now()
	result := &ReconcileResult{}

	rc.logger.Debug("conciliação iniciando ciclo")

	objects, err := rc.store.ListObjects(ctx)
	if err != nil {
		rc.logger.Error("conciliação: erro ao listar objetos do bucket",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}

	keys, err := rc.db.ArquivoKeys(ctx)
	if err != nil {
		rc.logger.Error("conciliação: erro ao listar chaves dos registros",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}

	now := time.Now().UTC()

	// Fase 1: objetos órfãos (no bucket, sem registro)
	inBucket := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		inBucket[obj.Key] = struct{}{}
		if _, ok := keys[obj.Key]; ok {
			continue
		}

		result.OrphanObjects++
		reconcileIssuesTotal.WithLabelValues("orphan_object").Inc()

		if now.Sub(obj.LastModified) < rc.gracePeriod {
			// Possível upload em andamento; fica para o próximo ciclo.
			continue
		}

		if err := rc.store.Delete(ctx, obj.Key); err != nil {
			rc.logger.Error("conciliação: erro ao remover objeto órfão",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		rc.logger.Info("conciliação: objeto órfão removido",
			slog.String("key", obj.Key),
		)
		result.OrphansDeleted++
		reconcileOrphansDeletedTotal.Inc()
	}

	// Fase 2: registros apontando para objeto inexistente
	for key := range keys {
		if _, ok := inBucket[key]; ok {
			continue
		}
		result.MissingObjects++
		reconcileIssuesTotal.WithLabelValues("missing_object").Inc()
		rc.logger.Warn("conciliação: registro aponta para objeto inexistente",
			slog.String("key", key),
		)
	}

	result.Duration = time.Since(start)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(result.Duration.Seconds())

	rc.logger.Info("conciliação concluída",
		slog.Int("orphan_objects", result.OrphanObjects),
		slog.Int("orphans_deleted", result.OrphansDeleted),
		slog.Int("missing_objects", result.MissingObjects),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}
