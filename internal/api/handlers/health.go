// health.go — handlers dos health endpoints para probes do Kubernetes.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/prefeiturasp/sme-anexos-service/internal/config"
)

// statusFail — status "fail" nos health checks.
const statusFail = "fail"

// Pinger — verificação de disponibilidade de uma dependência.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler implementa os endpoints /health/live e /health/ready.
type HealthHandler struct {
	version string
	// db — banco de metadados (nil desabilita a verificação)
	db Pinger
	// store — armazenamento de objetos (nil desabilita a verificação)
	store Pinger
}

// NewHealthHandler cria o handler de health checks.
func NewHealthHandler(db, store Pinger) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		db:      db,
		store:   store,
	}
}

// HealthLive trata GET /health/live.
// Retorna 200 se o processo está vivo. Não verifica dependências.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "anexos-service",
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthReady trata GET /health/ready.
// Verifica o banco de metadados e o bucket de objetos.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	overallStatus := "ok"
	httpStatus := http.StatusOK

	dbCheck := h.checkPinger(ctx, h.db, "Banco de metadados indisponível")
	if dbCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	storeCheck := h.checkPinger(ctx, h.store, "Armazenamento de objetos indisponível")
	if storeCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "anexos-service",
		"checks": map[string]any{
			"metadados":     dbCheck,
			"armazenamento": storeCheck,
		},
	}
	writeJSON(w, httpStatus, resp)
}

func (h *HealthHandler) checkPinger(ctx context.Context, p Pinger, failMsg string) map[string]any {
	if p == nil {
		return map[string]any{
			"status":  "ok",
			"message": "Verificação não configurada",
		}
	}
	if err := p.Ping(ctx); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": failMsg + ": " + err.Error(),
		}
	}
	return map[string]any{
		"status": "ok",
	}
}
