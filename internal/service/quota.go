// quota.go — controle do limite total de anexos por intercorrência.
package service

import (
	"context"
	"log/slog"
	"math"

	"github.com/prefeiturasp/sme-anexos-service/internal/domain/model"
	"github.com/prefeiturasp/sme-anexos-service/internal/storage/metadb"
)

// LimiteResult — resultado da validação de limite, no formato da resposta
// de POST /anexos/validar-limite. Tamanhos em MB com duas casas decimais.
type LimiteResult struct {
	PodeAdicionar        bool    `json:"pode_adicionar"`
	TamanhoAtualMB       float64 `json:"tamanho_atual_mb"`
	TamanhoNovoArquivoMB float64 `json:"tamanho_novo_arquivo_mb"`
	TamanhoFinalMB       float64 `json:"tamanho_final_mb"`
	LimiteMB             float64 `json:"limite_mb"`
	Mensagem             string  `json:"mensagem"`
}

// QuotaService calcula o espaço consumido por intercorrência e decide se um
// novo arquivo cabe no limite.
type QuotaService struct {
	db     *metadb.Store
	logger *slog.Logger
}

// NewQuotaService cria o serviço de limite.
func NewQuotaService(db *metadb.Store, logger *slog.Logger) *QuotaService {
	return &QuotaService{
		db:     db,
		logger: logger.With(slog.String("component", "quota_service")),
	}
}

// TamanhoTotal retorna o total de bytes dos anexos ativos da intercorrência.
func (s *QuotaService) TamanhoTotal(ctx context.Context, intercorrenciaUUID string) (int64, error) {
	return s.db.TamanhoTotal(ctx, intercorrenciaUUID)
}

// PodeAdicionar verifica se um arquivo de tamanho dado cabe no limite da
// intercorrência. O limite é inclusivo: um arquivo que fecha exatamente os
// 10 MiB é aceito. tamanho deve ser positivo.
func (s *QuotaService) PodeAdicionar(ctx context.Context, intercorrenciaUUID string, tamanho int64) (bool, error) {
	if tamanho <= 0 {
		return false, nil
	}
	atual, err := s.db.TamanhoTotal(ctx, intercorrenciaUUID)
	if err != nil {
		return false, err
	}
	return atual+tamanho <= model.LimiteTotalBytes, nil
}

// ValidarLimite monta a resposta completa de validação de limite.
func (s *QuotaService) ValidarLimite(ctx context.Context, intercorrenciaUUID string, tamanhoBytes int64) (*LimiteResult, error) {
	atual, err := s.db.TamanhoTotal(ctx, intercorrenciaUUID)
	if err != nil {
		return nil, err
	}

	pode := tamanhoBytes > 0 && atual+tamanhoBytes <= model.LimiteTotalBytes
	mensagem := "OK"
	if !pode {
		mensagem = "Limite de 10MB seria ultrapassado"
	}

	return &LimiteResult{
		PodeAdicionar:        pode,
		TamanhoAtualMB:       roundMB(atual),
		TamanhoNovoArquivoMB: roundMB(tamanhoBytes),
		TamanhoFinalMB:       roundMB(atual + tamanhoBytes),
		LimiteMB:             model.LimiteMB,
		Mensagem:             mensagem,
	}, nil
}

// roundMB converte bytes em MB com duas casas decimais.
func roundMB(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}
