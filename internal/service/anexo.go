// anexo.go — ciclo de vida do anexo: criação com a cadeia completa de
// validações, atualização parcial, exclusão física e geração de URLs de
// download.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/prefeiturasp/sme-anexos-service/internal/api/errors"
	"github.com/prefeiturasp/sme-anexos-service/internal/domain/model"
	"github.com/prefeiturasp/sme-anexos-service/internal/storage"
	"github.com/prefeiturasp/sme-anexos-service/internal/storage/metadb"
)

// CriarParams — parâmetros de criação de anexo.
type CriarParams struct {
	// IntercorrenciaUUID — registro ao qual o anexo pertence
	IntercorrenciaUUID string
	// Perfil — perfil de quem anexa (diretor, assistente, dre, gipe)
	Perfil string
	// Categoria — categoria do documento, válida para o perfil
	Categoria string
	// Conteudo — stream do arquivo enviado
	Conteudo io.Reader
	// NomeOriginal — nome do arquivo como enviado
	NomeOriginal string
	// TipoMime — Content-Type da part multipart
	TipoMime string
	// Tamanho — tamanho declarado do arquivo em bytes
	Tamanho int64
	// Username / Nome — usuário autenticado, para auditoria
	Username string
	Nome     string
	// Token — credencial repassada na verificação da intercorrência;
	// vazio pula a verificação
	Token string
}

// AtualizarParams — parâmetros de atualização parcial. Campos nil/vazios
// permanecem inalterados.
type AtualizarParams struct {
	IntercorrenciaUUID *string
	Perfil             *string
	Categoria          *string
	// Conteudo != nil substitui o arquivo; os demais campos de arquivo
	// acompanham
	Conteudo     io.Reader
	NomeOriginal string
	TipoMime     string
	Tamanho      int64
}

// URLDownloadResult — resposta de GET /anexos/{uuid}/url-download.
type URLDownloadResult struct {
	UUID             string `json:"uuid"`
	NomeArquivo      string `json:"nome_arquivo"`
	TamanhoBytes     int64  `json:"tamanho_bytes"`
	TamanhoFormatado string `json:"tamanho_formatado"`
	TipoMime         string `json:"tipo_mime"`
	URLDownload      string `json:"url_download"`
	ExpiraEm         string `json:"expira_em"`
	Categoria        string `json:"categoria"`
	Perfil           string `json:"perfil"`
}

// AnexoURL — item da listagem de URLs em lote.
type AnexoURL struct {
	UUID             string    `json:"uuid"`
	NomeArquivo      string    `json:"nome_arquivo"`
	TamanhoBytes     int64     `json:"tamanho_bytes"`
	TamanhoFormatado string    `json:"tamanho_formatado"`
	TipoMime         string    `json:"tipo_mime"`
	Categoria        string    `json:"categoria"`
	CategoriaValue   string    `json:"categoria_value"`
	Perfil           string    `json:"perfil"`
	PerfilValue      string    `json:"perfil_value"`
	URLDownload      string    `json:"url_download"`
	CriadoEm         time.Time `json:"criado_em"`
	UsuarioNome      string    `json:"usuario_nome"`
}

// URLErro — anexo cuja URL não pôde ser gerada.
type URLErro struct {
	UUID        string `json:"uuid"`
	NomeArquivo string `json:"nome_arquivo"`
	Erro        string `json:"erro"`
}

// URLDownloadTodosResult — resposta de url-download-todos.
type URLDownloadTodosResult struct {
	IntercorrenciaUUID string     `json:"intercorrencia_uuid"`
	Count              int        `json:"count"`
	TotalAnexos        int        `json:"total_anexos"`
	Anexos             []AnexoURL `json:"anexos"`
	ExpiraEm           string     `json:"expira_em"`
	Erros              []URLErro  `json:"erros,omitempty"`
	CountErros         int        `json:"count_erros,omitempty"`
}

// AnexoService — operações de negócio sobre anexos.
type AnexoService struct {
	db              *metadb.Store
	store           storage.Storage
	quota           *QuotaService
	intercorrencias *IntercorrenciaService
	logger          *slog.Logger
}

// NewAnexoService cria o serviço de anexos. intercorrencias pode ser nil
// quando o serviço externo não está configurado.
func NewAnexoService(
	db *metadb.Store,
	store storage.Storage,
	quota *QuotaService,
	intercorrencias *IntercorrenciaService,
	logger *slog.Logger,
) *AnexoService {
	return &AnexoService{
		db:              db,
		store:           store,
		quota:           quota,
		intercorrencias: intercorrencias,
		logger:          logger.With(slog.String("component", "anexo_service")),
	}
}

// Criar valida e persiste um novo anexo.
//
// Cadeia de validação, na ordem:
//  1. Extensão do arquivo
//  2. Tamanho individual do arquivo
//  3. Categoria compatível com o perfil
//  4. Limite total da intercorrência
//  5. Existência da intercorrência no serviço externo (com token)
//
// Depois: gravação no armazenamento de objetos (com resolução de nome) e
// inserção dos metadados. Falha na inserção remove o objeto gravado.
func (s *AnexoService) Criar(ctx context.Context, params CriarParams) (*model.Anexo, *OpError) {
	if params.IntercorrenciaUUID == "" {
		return nil, &OpError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    "intercorrencia_uuid é obrigatório.",
		}
	}

	if opErr := validarArquivo(params.NomeOriginal, params.Tamanho); opErr != nil {
		return nil, opErr
	}
	if opErr := validarCategoria(params.Perfil, params.Categoria); opErr != nil {
		return nil, opErr
	}

	pode, err := s.quota.PodeAdicionar(ctx, params.IntercorrenciaUUID, params.Tamanho)
	if err != nil {
		return nil, s.internal("erro ao calcular limite da intercorrência", err)
	}
	if !pode {
		atual, _ := s.quota.TamanhoTotal(ctx, params.IntercorrenciaUUID)
		return nil, &OpError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeLimitExceeded,
			Message: fmt.Sprintf(
				"Limite de 10MB por intercorrência seria ultrapassado. Atualmente: %.2fMB de 10MB.",
				float64(atual)/(1024*1024),
			),
		}
	}

	if s.intercorrencias != nil {
		if opErr := s.intercorrencias.Verificar(ctx, params.IntercorrenciaUUID, params.Token); opErr != nil {
			return nil, opErr
		}
	}

	key, err := s.store.Save(ctx,
		storage.DatedKey(time.Now().UTC(), params.NomeOriginal),
		params.Conteudo, params.Tamanho, params.TipoMime,
	)
	if err != nil {
		s.logger.Error("erro ao gravar arquivo no armazenamento",
			slog.String("nome_original", params.NomeOriginal),
			slog.String("error", err.Error()),
		)
		return nil, &OpError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeStorageError,
			Message:    "Erro ao salvar arquivo no armazenamento.",
		}
	}

	anexo := &model.Anexo{
		UUID:               uuid.New().String(),
		IntercorrenciaUUID: params.IntercorrenciaUUID,
		Perfil:             params.Perfil,
		Categoria:          params.Categoria,
		ArquivoKey:         key,
		NomeOriginal:       params.NomeOriginal,
		TamanhoBytes:       params.Tamanho,
		TipoMime:           params.TipoMime,
		UsuarioUsername:    params.Username,
		UsuarioNome:        params.Nome,
		Ativo:              true,
	}

	if err := s.db.Create(ctx, anexo); err != nil {
		// Objeto sem linha é lixo: remove antes de desistir.
		_ = s.store.Delete(ctx, key)
		return nil, s.internal("erro ao inserir metadados do anexo", err)
	}

	s.logger.Info("anexo criado",
		slog.String("uuid", anexo.UUID),
		slog.String("intercorrencia_uuid", anexo.IntercorrenciaUUID),
		slog.String("nome_original", anexo.NomeOriginal),
		slog.Int64("tamanho_bytes", anexo.TamanhoBytes),
		slog.String("usuario", anexo.UsuarioUsername),
	)
	return anexo, nil
}

// Obter carrega um anexo ativo pelo UUID.
func (s *AnexoService) Obter(ctx context.Context, anexoUUID string) (*model.Anexo, *OpError) {
	anexo, err := s.db.GetByUUID(ctx, anexoUUID)
	if err != nil {
		return nil, s.internal("erro ao consultar anexo", err)
	}
	if anexo == nil {
		return nil, &OpError{
			StatusCode: http.StatusNotFound,
			Code:       apierrors.CodeNotFound,
			Message:    "Anexo não encontrado.",
		}
	}
	return anexo, nil
}

// Listar retorna os anexos ativos conforme o filtro.
func (s *AnexoService) Listar(ctx context.Context, filter metadb.ListFilter) ([]*model.Anexo, *OpError) {
	anexos, err := s.db.List(ctx, filter)
	if err != nil {
		return nil, s.internal("erro ao listar anexos", err)
	}
	return anexos, nil
}

// Atualizar aplica uma atualização parcial. Troca de arquivo repete as
// validações de arquivo e remove o objeto antigo (best-effort).
func (s *AnexoService) Atualizar(ctx context.Context, anexoUUID string, params AtualizarParams) (*model.Anexo, *OpError) {
	anexo, opErr := s.Obter(ctx, anexoUUID)
	if opErr != nil {
		return nil, opErr
	}

	if params.IntercorrenciaUUID != nil {
		anexo.IntercorrenciaUUID = *params.IntercorrenciaUUID
	}
	if params.Perfil != nil {
		anexo.Perfil = *params.Perfil
	}
	if params.Categoria != nil {
		anexo.Categoria = *params.Categoria
	}
	// A categoria final deve valer para o perfil final, seja qual dos dois
	// tiver mudado.
	if params.Perfil != nil || params.Categoria != nil {
		if opErr := validarCategoria(anexo.Perfil, anexo.Categoria); opErr != nil {
			return nil, opErr
		}
	}

	if params.Conteudo != nil {
		if opErr := validarArquivo(params.NomeOriginal, params.Tamanho); opErr != nil {
			return nil, opErr
		}

		// O arquivo atual sai da conta: está sendo substituído.
		atual, err := s.quota.TamanhoTotal(ctx, anexo.IntercorrenciaUUID)
		if err != nil {
			return nil, s.internal("erro ao calcular limite da intercorrência", err)
		}
		if atual-anexo.TamanhoBytes+params.Tamanho > model.LimiteTotalBytes {
			return nil, &OpError{
				StatusCode: http.StatusBadRequest,
				Code:       apierrors.CodeLimitExceeded,
				Message: fmt.Sprintf(
					"Limite de 10MB por intercorrência seria ultrapassado. Atualmente: %.2fMB de 10MB.",
					float64(atual)/(1024*1024),
				),
			}
		}

		key, err := s.store.Save(ctx,
			storage.DatedKey(time.Now().UTC(), params.NomeOriginal),
			params.Conteudo, params.Tamanho, params.TipoMime,
		)
		if err != nil {
			return nil, &OpError{
				StatusCode: http.StatusInternalServerError,
				Code:       apierrors.CodeStorageError,
				Message:    "Erro ao salvar arquivo no armazenamento.",
			}
		}

		antigo := anexo.ArquivoKey
		anexo.ArquivoKey = key
		anexo.NomeOriginal = params.NomeOriginal
		anexo.TamanhoBytes = params.Tamanho
		anexo.TipoMime = params.TipoMime

		if antigo != "" {
			if err := s.store.Delete(ctx, antigo); err != nil {
				s.logger.Error("erro ao remover arquivo substituído",
					slog.String("uuid", anexo.UUID),
					slog.String("key", antigo),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if err := s.db.Update(ctx, anexo); err != nil {
		return nil, s.internal("erro ao atualizar metadados do anexo", err)
	}

	s.logger.Info("anexo atualizado", slog.String("uuid", anexo.UUID))
	return anexo, nil
}

// Excluir remove o anexo permanentemente: o objeto sai do armazenamento
// (best-effort, falha apenas logada) e a linha é sempre removida.
func (s *AnexoService) Excluir(ctx context.Context, anexoUUID, username string) *OpError {
	anexo, opErr := s.Obter(ctx, anexoUUID)
	if opErr != nil {
		return opErr
	}

	s.logger.Info("iniciando exclusão do anexo",
		slog.String("uuid", anexo.UUID),
		slog.String("nome_original", anexo.NomeOriginal),
		slog.String("usuario", username),
	)

	if anexo.ArquivoKey != "" {
		if err := s.store.Delete(ctx, anexo.ArquivoKey); err != nil {
			s.logger.Error("erro ao excluir arquivo físico",
				slog.String("uuid", anexo.UUID),
				slog.String("key", anexo.ArquivoKey),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.db.Delete(ctx, anexo.UUID); err != nil {
		return s.internal("erro ao remover metadados do anexo", err)
	}

	s.logger.Info("anexo excluído",
		slog.String("uuid", anexo.UUID),
		slog.String("usuario", username),
	)
	return nil
}

// Download abre o conteúdo do anexo para streaming.
func (s *AnexoService) Download(ctx context.Context, anexoUUID string) (*model.Anexo, io.ReadSeeker, *OpError) {
	anexo, opErr := s.Obter(ctx, anexoUUID)
	if opErr != nil {
		return nil, nil, opErr
	}
	if anexo.ArquivoKey == "" {
		return nil, nil, &OpError{
			StatusCode: http.StatusNotFound,
			Code:       apierrors.CodeNotFound,
			Message:    "Anexo não possui arquivo associado.",
		}
	}

	content, err := s.store.Open(ctx, anexo.ArquivoKey)
	if err != nil {
		s.logger.Error("erro ao abrir arquivo do anexo",
			slog.String("uuid", anexo.UUID),
			slog.String("key", anexo.ArquivoKey),
			slog.String("error", err.Error()),
		)
		return nil, nil, &OpError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeStorageError,
			Message:    "Erro ao recuperar arquivo do armazenamento.",
		}
	}
	return anexo, content, nil
}

// URLDownload gera a URL pré-assinada de download de um anexo.
func (s *AnexoService) URLDownload(ctx context.Context, anexoUUID string) (*URLDownloadResult, *OpError) {
	anexo, opErr := s.Obter(ctx, anexoUUID)
	if opErr != nil {
		return nil, opErr
	}
	if anexo.ArquivoKey == "" {
		return nil, &OpError{
			StatusCode: http.StatusNotFound,
			Code:       apierrors.CodeNotFound,
			Message:    "Anexo não possui arquivo associado.",
		}
	}

	url, err := s.store.URL(ctx, anexo.ArquivoKey)
	if err != nil {
		s.logger.Error("erro ao gerar URL de download",
			slog.String("uuid", anexo.UUID),
			slog.String("error", err.Error()),
		)
		return nil, &OpError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeStorageError,
			Message:    "Erro ao gerar URL de download. Tente novamente.",
		}
	}

	return &URLDownloadResult{
		UUID:             anexo.UUID,
		NomeArquivo:      anexo.NomeOriginal,
		TamanhoBytes:     anexo.TamanhoBytes,
		TamanhoFormatado: anexo.TamanhoFormatado(),
		TipoMime:         anexo.TipoMime,
		URLDownload:      url,
		ExpiraEm:         "1 hora",
		Categoria:        model.CategoriaLabel(anexo.Categoria),
		Perfil:           model.PerfilLabels[anexo.Perfil],
	}, nil
}

// ArquivoURL gera a URL pré-assinada do arquivo para serialização.
// Melhor esforço: anexo sem arquivo ou falha na geração resultam em string
// vazia, nunca em erro.
func (s *AnexoService) ArquivoURL(ctx context.Context, anexo *model.Anexo) string {
	if anexo.ArquivoKey == "" {
		return ""
	}
	url, err := s.store.URL(ctx, anexo.ArquivoKey)
	if err != nil {
		s.logger.Warn("erro ao gerar URL do arquivo",
			slog.String("uuid", anexo.UUID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return url
}

// URLDownloadTodos gera URLs pré-assinadas para todos os anexos de uma
// intercorrência. Falha individual não aborta o lote: vai para a lista de
// erros. Intercorrência sem anexos retorna 404.
func (s *AnexoService) URLDownloadTodos(ctx context.Context, intercorrenciaUUID string) (*URLDownloadTodosResult, *OpError) {
	anexos, err := s.db.List(ctx, metadb.ListFilter{
		IntercorrenciaUUID: intercorrenciaUUID,
		OrdenarPorPerfil:   true,
	})
	if err != nil {
		return nil, s.internal("erro ao listar anexos da intercorrência", err)
	}
	if len(anexos) == 0 {
		return nil, &OpError{
			StatusCode: http.StatusNotFound,
			Code:       apierrors.CodeNotFound,
			Message:    "Nenhum anexo encontrado para esta intercorrência.",
		}
	}

	result := &URLDownloadTodosResult{
		IntercorrenciaUUID: intercorrenciaUUID,
		TotalAnexos:        len(anexos),
		Anexos:             []AnexoURL{},
		ExpiraEm:           "1 hora",
	}

	for _, anexo := range anexos {
		if anexo.ArquivoKey == "" {
			result.Erros = append(result.Erros, URLErro{
				UUID:        anexo.UUID,
				NomeArquivo: anexo.NomeOriginal,
				Erro:        "Anexo não possui arquivo associado",
			})
			continue
		}

		url, err := s.store.URL(ctx, anexo.ArquivoKey)
		if err != nil {
			s.logger.Error("erro ao gerar URL para anexo",
				slog.String("uuid", anexo.UUID),
				slog.String("error", err.Error()),
			)
			result.Erros = append(result.Erros, URLErro{
				UUID:        anexo.UUID,
				NomeArquivo: anexo.NomeOriginal,
				Erro:        "Erro ao gerar URL de download",
			})
			continue
		}

		usuarioNome := anexo.UsuarioNome
		if usuarioNome == "" {
			usuarioNome = anexo.UsuarioUsername
		}
		result.Anexos = append(result.Anexos, AnexoURL{
			UUID:             anexo.UUID,
			NomeArquivo:      anexo.NomeOriginal,
			TamanhoBytes:     anexo.TamanhoBytes,
			TamanhoFormatado: anexo.TamanhoFormatado(),
			TipoMime:         anexo.TipoMime,
			Categoria:        model.CategoriaLabel(anexo.Categoria),
			CategoriaValue:   anexo.Categoria,
			Perfil:           model.PerfilLabels[anexo.Perfil],
			PerfilValue:      anexo.Perfil,
			URLDownload:      url,
			CriadoEm:         anexo.CriadoEm,
			UsuarioNome:      usuarioNome,
		})
	}

	result.Count = len(result.Anexos)
	result.CountErros = len(result.Erros)

	s.logger.Info("URLs de download geradas",
		slog.String("intercorrencia_uuid", intercorrenciaUUID),
		slog.Int("count", result.Count),
		slog.Int("erros", result.CountErros),
	)
	return result, nil
}

// internal — erro inesperado de infraestrutura, logado e mascarado.
func (s *AnexoService) internal(msg string, err error) *OpError {
	s.logger.Error(msg, slog.String("error", err.Error()))
	return &OpError{
		StatusCode: http.StatusInternalServerError,
		Code:       apierrors.CodeInternalError,
		Message:    "Erro interno. Tente novamente.",
	}
}

// validarArquivo valida extensão e tamanho individual do arquivo.
func validarArquivo(nome string, tamanho int64) *OpError {
	if !model.ExtensaoPermitida(nome) {
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(nome)), ".")
		return &OpError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message: fmt.Sprintf("Extensão .%s não permitida. Extensões permitidas: %s",
				ext, strings.Join(model.ExtensoesPermitidas, ", ")),
		}
	}
	if tamanho > model.TamanhoMaximoArquivo {
		return &OpError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Code:       apierrors.CodeFileTooLarge,
			Message:    "Arquivo muito grande. Tamanho máximo permitido: 10MB.",
		}
	}
	if tamanho <= 0 {
		return &OpError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    "Arquivo vazio não é permitido.",
		}
	}
	return nil
}

// validarCategoria valida o par perfil × categoria.
func validarCategoria(perfil, categoria string) *OpError {
	if !model.PerfilValido(perfil) {
		return &OpError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Perfil '%s' inválido.", perfil),
		}
	}
	if !model.CategoriaValida(perfil, categoria) {
		return &OpError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Categoria '%s' não é válida para o perfil '%s'.", categoria, perfil),
		}
	}
	return nil
}
