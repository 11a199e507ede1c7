// intercorrencia.go — verificação da existência da intercorrência no
// serviço externo antes de aceitar um anexo.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/prefeiturasp/sme-anexos-service/internal/api/errors"
)

// intercorrenciaTimeout — timeout da chamada ao serviço de intercorrências.
const intercorrenciaTimeout = 5 * time.Second

// IntercorrenciaService consulta o serviço externo de intercorrências.
type IntercorrenciaService struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewIntercorrenciaService cria o serviço. baseURL é a raiz da API de
// intercorrências, sem barra final.
func NewIntercorrenciaService(baseURL string, logger *slog.Logger) *IntercorrenciaService {
	return &IntercorrenciaService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: intercorrenciaTimeout},
		logger:  logger.With(slog.String("component", "intercorrencia_service")),
	}
}

// Verificar confirma que a intercorrência existe e está acessível ao
// portador do token. token vazio pula a verificação: só faz sentido quando a
// requisição trouxe uma credencial a repassar.
//
// Status fora de 2xx rejeita com o corpo remoto (JSON ou texto); falha de
// transporte rejeita com mensagem genérica de indisponibilidade.
func (s *IntercorrenciaService) Verificar(ctx context.Context, intercorrenciaUUID, token string) *OpError {
	if token == "" {
		return nil
	}

	url := fmt.Sprintf("%s/verify-intercorrencia/%s/", s.baseURL, intercorrenciaUUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return s.unavailable(intercorrenciaUUID, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return s.unavailable(intercorrenciaUUID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := remoteDetail(resp.Body)
		s.logger.Error("intercorrência rejeitada pelo serviço externo",
			slog.String("intercorrencia_uuid", intercorrenciaUUID),
			slog.Int("status", resp.StatusCode),
			slog.String("detail", detail),
		)
		if detail == "" {
			detail = fmt.Sprintf("verificação da intercorrência retornou status %d", resp.StatusCode)
		}
		return &OpError{
			StatusCode: http.StatusBadGateway,
			Code:       apierrors.CodeExternalServiceError,
			Message:    detail,
		}
	}
	return nil
}

// unavailable — falha de transporte: o serviço não respondeu.
func (s *IntercorrenciaService) unavailable(intercorrenciaUUID string, err error) *OpError {
	s.logger.Error("erro ao consultar serviço de intercorrências",
		slog.String("intercorrencia_uuid", intercorrenciaUUID),
		slog.String("error", err.Error()),
	)
	return &OpError{
		StatusCode: http.StatusBadGateway,
		Code:       apierrors.CodeExternalServiceError,
		Message:    "Não foi possível obter detalhes da intercorrência: serviço indisponível",
	}
}

// remoteDetail extrai a mensagem do corpo remoto. Corpo JSON com campo
// "detail" vira a própria mensagem; caso contrário o corpo bruto é usado.
func remoteDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if detail, ok := parsed["detail"].(string); ok && detail != "" {
			return detail
		}
		return string(raw)
	}
	return strings.TrimSpace(string(raw))
}
