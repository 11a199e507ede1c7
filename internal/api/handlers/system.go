// system.go — handler de GET /api/v1/info (informações do serviço).
// Endpoint público (sem autenticação) para service discovery e monitoramento.
package handlers

import (
	"net/http"

	"github.com/prefeiturasp/sme-anexos-service/internal/config"
	"github.com/prefeiturasp/sme-anexos-service/internal/domain/model"
)

// SystemHandler — handler dos endpoints de sistema.
type SystemHandler struct {
	cfg *config.Config
}

// NewSystemHandler cria o handler de endpoints de sistema.
func NewSystemHandler(cfg *config.Config) *SystemHandler {
	return &SystemHandler{cfg: cfg}
}

// GetInfo trata GET /api/v1/info.
// Sem autenticação. Expõe limites e perfis aceitos pelo serviço.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"service":                      "anexos-service",
		"service_id":                   h.cfg.ServiceID,
		"version":                      config.Version,
		"limite_total_mb":              model.LimiteMB,
		"tamanho_maximo_arquivo_bytes": model.TamanhoMaximoArquivo,
		"extensoes_permitidas":         model.ExtensoesPermitidas,
		"perfis":                       model.Perfis,
	}
	writeJSON(w, http.StatusOK, resp)
}
