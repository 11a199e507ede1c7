// anexos.go — handlers HTTP das operações sobre anexos.
// Validação de entrada e serialização ficam aqui; regra de negócio fica na
// camada de serviço, que devolve OpError já com status e código.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/prefeiturasp/sme-anexos-service/internal/api/errors"
	"github.com/prefeiturasp/sme-anexos-service/internal/api/middleware"
	"github.com/prefeiturasp/sme-anexos-service/internal/domain/model"
	"github.com/prefeiturasp/sme-anexos-service/internal/service"
	"github.com/prefeiturasp/sme-anexos-service/internal/storage/metadb"
)

// maxMultipartMemory — memória máxima do parse multipart; o excedente vai
// para disco temporário.
const maxMultipartMemory = 11 << 20

// AnexosHandler — handlers das rotas /api/v1/anexos*.
type AnexosHandler struct {
	anexos *service.AnexoService
	quota  *service.QuotaService
	logger *slog.Logger
}

// NewAnexosHandler cria o handler de anexos.
func NewAnexosHandler(anexos *service.AnexoService, quota *service.QuotaService, logger *slog.Logger) *AnexosHandler {
	return &AnexosHandler{
		anexos: anexos,
		quota:  quota,
		logger: logger.With(slog.String("component", "anexos_handler")),
	}
}

// --- Serialização ---

// anexoDetail — representação completa de um anexo.
type anexoDetail struct {
	UUID               string     `json:"uuid"`
	IntercorrenciaUUID string     `json:"intercorrencia_uuid"`
	Perfil             string     `json:"perfil"`
	PerfilDisplay      string     `json:"perfil_display"`
	Categoria          string     `json:"categoria"`
	CategoriaDisplay   string     `json:"categoria_display"`
	ArquivoURL         string     `json:"arquivo_url,omitempty"`
	NomeOriginal       string     `json:"nome_original"`
	TamanhoBytes       int64      `json:"tamanho_bytes"`
	TamanhoFormatado   string     `json:"tamanho_formatado"`
	TipoMime           string     `json:"tipo_mime"`
	Extensao           string     `json:"extensao"`
	EImagem            bool       `json:"e_imagem"`
	EVideo             bool       `json:"e_video"`
	EDocumento         bool       `json:"e_documento"`
	UsuarioUsername    string     `json:"usuario_username"`
	UsuarioNome        string     `json:"usuario_nome,omitempty"`
	Ativo              bool       `json:"ativo"`
	CriadoEm           time.Time  `json:"criado_em"`
	AtualizadoEm       time.Time  `json:"atualizado_em"`
}

// anexoListItem — representação resumida para listagens.
type anexoListItem struct {
	UUID             string    `json:"uuid"`
	NomeOriginal     string    `json:"nome_original"`
	Categoria        string    `json:"categoria"`
	CategoriaDisplay string    `json:"categoria_display"`
	Perfil           string    `json:"perfil"`
	PerfilDisplay    string    `json:"perfil_display"`
	TamanhoFormatado string    `json:"tamanho_formatado"`
	Extensao         string    `json:"extensao"`
	ArquivoURL       string    `json:"arquivo_url,omitempty"`
	CriadoEm         time.Time `json:"criado_em"`
	UsuarioUsername  string    `json:"usuario_username"`
}

func (h *AnexosHandler) toDetail(r *http.Request, a *model.Anexo) anexoDetail {
	return anexoDetail{
		UUID:               a.UUID,
		IntercorrenciaUUID: a.IntercorrenciaUUID,
		Perfil:             a.Perfil,
		PerfilDisplay:      model.PerfilLabels[a.Perfil],
		Categoria:          a.Categoria,
		CategoriaDisplay:   model.CategoriaLabel(a.Categoria),
		ArquivoURL:         h.anexos.ArquivoURL(r.Context(), a),
		NomeOriginal:       a.NomeOriginal,
		TamanhoBytes:       a.TamanhoBytes,
		TamanhoFormatado:   a.TamanhoFormatado(),
		TipoMime:           a.TipoMime,
		Extensao:           a.Extensao(),
		EImagem:            a.EImagem(),
		EVideo:             a.EVideo(),
		EDocumento:         a.EDocumento(),
		UsuarioUsername:    a.UsuarioUsername,
		UsuarioNome:        a.UsuarioNome,
		Ativo:              a.Ativo,
		CriadoEm:           a.CriadoEm,
		AtualizadoEm:       a.AtualizadoEm,
	}
}

func (h *AnexosHandler) toListItem(r *http.Request, a *model.Anexo) anexoListItem {
	return anexoListItem{
		UUID:             a.UUID,
		NomeOriginal:     a.NomeOriginal,
		Categoria:        a.Categoria,
		CategoriaDisplay: model.CategoriaLabel(a.Categoria),
		Perfil:           a.Perfil,
		PerfilDisplay:    model.PerfilLabels[a.Perfil],
		TamanhoFormatado: a.TamanhoFormatado(),
		Extensao:         a.Extensao(),
		ArquivoURL:       h.anexos.ArquivoURL(r.Context(), a),
		CriadoEm:         a.CriadoEm,
		UsuarioUsername:  a.UsuarioUsername,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOpError(w http.ResponseWriter, opErr *service.OpError) {
	apierrors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
}

// --- Rotas ---

// List trata GET /api/v1/anexos.
// Filtros: intercorrencia_uuid, perfil (incluindo o pseudo-perfil UE) e
// categoria.
func (h *AnexosHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := metadb.ListFilter{
		IntercorrenciaUUID: r.URL.Query().Get("intercorrencia_uuid"),
		Perfil:             r.URL.Query().Get("perfil"),
		Categoria:          r.URL.Query().Get("categoria"),
	}

	anexos, opErr := h.anexos.Listar(r.Context(), filter)
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}

	items := make([]anexoListItem, 0, len(anexos))
	for _, a := range anexos {
		items = append(items, h.toListItem(r, a))
	}
	writeJSON(w, http.StatusOK, items)
}

// Create trata POST /api/v1/anexos (multipart/form-data).
func (h *AnexosHandler) Create(w http.ResponseWriter, r *http.Request) {
	file, header, opErr := parseArquivo(r, true)
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}
	defer file.Close()

	user := middleware.UserFromContext(r.Context())
	params := service.CriarParams{
		IntercorrenciaUUID: r.FormValue("intercorrencia_uuid"),
		Perfil:             r.FormValue("perfil"),
		Categoria:          r.FormValue("categoria"),
		Conteudo:           file,
		NomeOriginal:       header.Filename,
		TipoMime:           partContentType(header),
		Tamanho:            header.Size,
		Token:              middleware.TokenFromContext(r.Context()),
	}
	if user != nil {
		params.Username = user.Username
		params.Nome = user.Nome
	}

	anexo, opErr := h.anexos.Criar(r.Context(), params)
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}

	middleware.OperationsTotal.WithLabelValues("create", "success").Inc()
	middleware.UploadBytesTotal.Add(float64(anexo.TamanhoBytes))
	writeJSON(w, http.StatusCreated, h.toDetail(r, anexo))
}

// Get trata GET /api/v1/anexos/{uuid}.
func (h *AnexosHandler) Get(w http.ResponseWriter, r *http.Request) {
	anexo, opErr := h.anexos.Obter(r.Context(), chi.URLParam(r, "uuid"))
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}
	writeJSON(w, http.StatusOK, h.toDetail(r, anexo))
}

// patchBody — corpo JSON do PATCH.
type patchBody struct {
	IntercorrenciaUUID *string `json:"intercorrencia_uuid"`
	Perfil             *string `json:"perfil"`
	Categoria          *string `json:"categoria"`
}

// Patch trata PATCH /api/v1/anexos/{uuid}.
// Aceita JSON (campos de metadados) ou multipart (metadados + arquivo novo).
func (h *AnexosHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var params service.AtualizarParams

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "multipart/") {
		file, header, opErr := parseArquivo(r, false)
		if opErr != nil {
			writeOpError(w, opErr)
			return
		}
		if file != nil {
			defer file.Close()
			params.Conteudo = file
			params.NomeOriginal = header.Filename
			params.TipoMime = partContentType(header)
			params.Tamanho = header.Size
		}
		params.IntercorrenciaUUID = formValuePtr(r, "intercorrencia_uuid")
		params.Perfil = formValuePtr(r, "perfil")
		params.Categoria = formValuePtr(r, "categoria")
	} else {
		var body patchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			apierrors.ValidationError(w, "Corpo JSON inválido.")
			return
		}
		params.IntercorrenciaUUID = body.IntercorrenciaUUID
		params.Perfil = body.Perfil
		params.Categoria = body.Categoria
	}

	anexo, opErr := h.anexos.Atualizar(r.Context(), chi.URLParam(r, "uuid"), params)
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}
	writeJSON(w, http.StatusOK, h.toDetail(r, anexo))
}

// Delete trata DELETE /api/v1/anexos/{uuid}. Exclusão física: 204.
func (h *AnexosHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var username string
	if user := middleware.UserFromContext(r.Context()); user != nil {
		username = user.Username
	}

	if opErr := h.anexos.Excluir(r.Context(), chi.URLParam(r, "uuid"), username); opErr != nil {
		writeOpError(w, opErr)
		return
	}

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// Download trata GET /api/v1/anexos/{uuid}/download?inline=.
// O arquivo passa pelo serviço em vez de redirecionar ao MinIO, evitando
// conflito de autenticação no cliente.
func (h *AnexosHandler) Download(w http.ResponseWriter, r *http.Request) {
	anexo, content, opErr := h.anexos.Download(r.Context(), chi.URLParam(r, "uuid"))
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}

	contentType := anexo.TipoMime
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	disposition := "attachment"
	if strings.EqualFold(r.URL.Query().Get("inline"), "true") {
		disposition = "inline"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, anexo.NomeOriginal))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, anexo.NomeOriginal, anexo.AtualizadoEm, content)

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
}

// URLDownload trata GET /api/v1/anexos/{uuid}/url-download.
func (h *AnexosHandler) URLDownload(w http.ResponseWriter, r *http.Request) {
	res, opErr := h.anexos.URLDownload(r.Context(), chi.URLParam(r, "uuid"))
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PorIntercorrencia trata GET /api/v1/anexos/intercorrencia/{uuid}.
func (h *AnexosHandler) PorIntercorrencia(w http.ResponseWriter, r *http.Request) {
	intercorrenciaUUID := chi.URLParam(r, "uuid")
	anexos, opErr := h.anexos.Listar(r.Context(), metadb.ListFilter{
		IntercorrenciaUUID: intercorrenciaUUID,
		OrdenarPorPerfil:   true,
	})
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}

	items := make([]anexoListItem, 0, len(anexos))
	for _, a := range anexos {
		items = append(items, h.toListItem(r, a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":               len(items),
		"intercorrencia_uuid": intercorrenciaUUID,
		"anexos":              items,
	})
}

// URLDownloadTodos trata GET /api/v1/anexos/intercorrencia/{uuid}/url-download-todos.
func (h *AnexosHandler) URLDownloadTodos(w http.ResponseWriter, r *http.Request) {
	intercorrenciaUUID := chi.URLParam(r, "uuid")
	res, opErr := h.anexos.URLDownloadTodos(r.Context(), intercorrenciaUUID)
	if opErr != nil {
		if opErr.StatusCode == http.StatusNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"detail":              opErr.Message,
				"intercorrencia_uuid": intercorrenciaUUID,
				"count":               0,
				"anexos":              []any{},
			})
			return
		}
		writeOpError(w, opErr)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CategoriasDisponiveis trata GET /api/v1/anexos/categorias-disponiveis?perfil=.
func (h *AnexosHandler) CategoriasDisponiveis(w http.ResponseWriter, r *http.Request) {
	perfil := r.URL.Query().Get("perfil")
	if perfil == "" {
		apierrors.ValidationError(w, "Parâmetro perfil é obrigatório.")
		return
	}
	if !model.PerfilValido(perfil) {
		apierrors.ValidationError(w,
			fmt.Sprintf("Perfil %s inválido. Valores válidos: %s", perfil, strings.Join(model.Perfis, ", ")))
		return
	}

	categorias := model.CategoriasPorPerfil(perfil)
	if categorias == nil {
		categorias = []model.Categoria{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"perfil":     perfil,
		"categorias": categorias,
	})
}

// validarLimiteBody — corpo JSON de POST /anexos/validar-limite.
type validarLimiteBody struct {
	IntercorrenciaUUID string `json:"intercorrencia_uuid"`
	TamanhoBytes       int64  `json:"tamanho_bytes"`
}

// ValidarLimite trata POST /api/v1/anexos/validar-limite.
func (h *AnexosHandler) ValidarLimite(w http.ResponseWriter, r *http.Request) {
	var body validarLimiteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "Corpo JSON inválido.")
		return
	}
	if body.IntercorrenciaUUID == "" || body.TamanhoBytes == 0 {
		apierrors.ValidationError(w, "intercorrencia_uuid e tamanho_bytes são obrigatórios.")
		return
	}

	res, err := h.quota.ValidarLimite(r.Context(), body.IntercorrenciaUUID, body.TamanhoBytes)
	if err != nil {
		h.logger.Error("erro ao validar limite", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Erro interno. Tente novamente.")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Auxiliares de multipart ---

// parseArquivo extrai a part "arquivo" do formulário multipart.
// required define se a ausência do arquivo é erro; quando false, retorna
// (nil, nil, nil) para PATCH sem substituição de arquivo.
func parseArquivo(r *http.Request, required bool) (multipart.File, *multipart.FileHeader, *service.OpError) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, nil, &service.OpError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    "Requisição multipart inválida.",
		}
	}

	file, header, err := r.FormFile("arquivo")
	if err != nil {
		if !required && err == http.ErrMissingFile {
			return nil, nil, nil
		}
		return nil, nil, &service.OpError{
			StatusCode: http.StatusBadRequest,
			Code:       apierrors.CodeValidationError,
			Message:    "Campo arquivo é obrigatório.",
		}
	}
	return file, header, nil
}

// partContentType extrai o Content-Type da part, com fallback genérico.
func partContentType(header *multipart.FileHeader) string {
	ct := header.Header.Get("Content-Type")
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

// formValuePtr retorna o valor do campo como ponteiro, ou nil quando o campo
// não veio no formulário.
func formValuePtr(r *http.Request, key string) *string {
	if r.MultipartForm == nil {
		return nil
	}
	vals, ok := r.MultipartForm.Value[key]
	if !ok || len(vals) == 0 {
		return nil
	}
	return &vals[0]
}
