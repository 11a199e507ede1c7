package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/prefeiturasp/sme-anexos-service/internal/api/middleware"
	"github.com/prefeiturasp/sme-anexos-service/internal/auth"
	"github.com/prefeiturasp/sme-anexos-service/internal/domain/model"
	"github.com/prefeiturasp/sme-anexos-service/internal/service"
	"github.com/prefeiturasp/sme-anexos-service/internal/storage"
	"github.com/prefeiturasp/sme-anexos-service/internal/storage/metadb"
)

// fakeStore — armazenamento em memória para os testes de handler.
type fakeStore struct {
	objects map[string][]byte
	failURL bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Save(_ context.Context, name string, content io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", &storage.WriteError{Key: name, Err: err}
	}
	f.objects[name] = data
	return name, nil
}

func (f *fakeStore) Open(_ context.Context, key string) (io.ReadSeeker, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, &storage.ReadError{Key: key, Err: fmt.Errorf("não encontrado")}
	}
	return bytes.NewReader(data), nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) Exists(_ context.Context, key string) bool {
	_, ok := f.objects[key]
	return ok
}

func (f *fakeStore) Size(_ context.Context, key string) int64 {
	return int64(len(f.objects[key]))
}

func (f *fakeStore) URL(_ context.Context, key string) (string, error) {
	if f.failURL {
		return "", fmt.Errorf("backend indisponível")
	}
	return "https://objetos.example/" + key, nil
}

func (f *fakeStore) AvailableName(_ context.Context, candidate string) (string, error) {
	return candidate, nil
}

func (f *fakeStore) Ping(_ context.Context) error { return nil }

type testEnv struct {
	router *chi.Mux
	db     *metadb.Store
	store  *fakeStore
}

// newTestEnv monta o roteador com os handlers e um usuário de teste injetado
// no contexto, sem passar pelo verificador remoto.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	db, err := metadb.Open(filepath.Join(t.TempDir(), "anexos.db"))
	if err != nil {
		t.Fatalf("abrindo banco de metadados: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := newFakeStore()
	quota := service.NewQuotaService(db, logger)
	svc := service.NewAnexoService(db, store, quota, nil, logger)
	h := NewAnexosHandler(svc, quota, logger)
	health := NewHealthHandler(db, store)

	injectUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := &auth.ExternalUser{Username: "maria.souza", Nome: "Maria Souza"}
			ctx := context.WithValue(r.Context(), middleware.ContextKeyUser, user)
			ctx = context.WithValue(ctx, middleware.ContextKeyToken, "token-de-teste")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	router := chi.NewRouter()
	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Route("/api/v1/anexos", func(r chi.Router) {
		r.Use(injectUser)
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/categorias-disponiveis", h.CategoriasDisponiveis)
		r.Post("/validar-limite", h.ValidarLimite)
		r.Get("/intercorrencia/{uuid}", h.PorIntercorrencia)
		r.Get("/intercorrencia/{uuid}/url-download-todos", h.URLDownloadTodos)
		r.Get("/{uuid}", h.Get)
		r.Patch("/{uuid}", h.Patch)
		r.Delete("/{uuid}", h.Delete)
		r.Get("/{uuid}/download", h.Download)
		r.Get("/{uuid}/url-download", h.URLDownload)
	})

	return &testEnv{router: router, db: db, store: store}
}

// multipartUpload monta um corpo multipart com os campos e a part "arquivo".
func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("escrevendo campo %s: %v", k, err)
		}
	}
	if filename != "" {
		part, err := w.CreateFormFile("arquivo", filename)
		if err != nil {
			t.Fatalf("criando part do arquivo: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("escrevendo arquivo: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("fechando multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decodificando resposta %q: %v", rec.Body.String(), err)
	}
	return body
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("resposta sem objeto error: %q", rec.Body.String())
	}
	msg, _ := errObj["message"].(string)
	return msg
}

// criarAnexo cria um anexo pela API e retorna o corpo decodificado.
func (e *testEnv) criarAnexo(t *testing.T, intercorrenciaUUID, perfil, categoria, nome string) map[string]any {
	t.Helper()

	body, ct := multipartUpload(t, map[string]string{
		"intercorrencia_uuid": intercorrenciaUUID,
		"perfil":              perfil,
		"categoria":           categoria,
	}, nome, []byte("conteúdo de teste"))

	rec := e.do(t, http.MethodPost, "/api/v1/anexos/", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("criação: status = %d, corpo %q", rec.Code, rec.Body.String())
	}
	return decodeBody(t, rec)
}

func TestCreate(t *testing.T) {
	env := newTestEnv(t)
	intercorrencia := uuid.New().String()

	created := env.criarAnexo(t, intercorrencia, "diretor", "boletim_ocorrencia", "boletim.pdf")

	if created["uuid"] == "" {
		t.Error("uuid vazio na resposta")
	}
	if created["nome_original"] != "boletim.pdf" {
		t.Errorf("nome_original = %v", created["nome_original"])
	}
	if created["categoria_display"] != "Boletim de ocorrência" {
		t.Errorf("categoria_display = %v", created["categoria_display"])
	}
	if created["perfil_display"] != "Diretor" {
		t.Errorf("perfil_display = %v", created["perfil_display"])
	}
	if created["usuario_username"] != "maria.souza" {
		t.Errorf("usuario_username = %v", created["usuario_username"])
	}
	url, _ := created["arquivo_url"].(string)
	if !strings.HasPrefix(url, "https://objetos.example/") {
		t.Errorf("arquivo_url = %q", url)
	}
	if created["e_documento"] != true {
		t.Errorf("e_documento = %v", created["e_documento"])
	}
}

func TestCreate_SemArquivo(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, map[string]string{
		"intercorrencia_uuid": uuid.New().String(),
		"perfil":              "diretor",
		"categoria":           "boletim_ocorrencia",
	}, "", nil)

	rec := env.do(t, http.MethodPost, "/api/v1/anexos/", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Campo arquivo é obrigatório." {
		t.Errorf("message = %q", msg)
	}
}

func TestCreate_CategoriaInvalida(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, map[string]string{
		"intercorrencia_uuid": uuid.New().String(),
		"perfil":              "diretor",
		"categoria":           "relatorio_naapa",
	}, "boletim.pdf", []byte("x"))

	rec := env.do(t, http.MethodPost, "/api/v1/anexos/", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, corpo %q", rec.Code, rec.Body.String())
	}
	want := "Categoria 'relatorio_naapa' não é válida para o perfil 'diretor'."
	if msg := errorMessage(t, rec); msg != want {
		t.Errorf("message = %q, esperado %q", msg, want)
	}
}

func TestGet(t *testing.T) {
	env := newTestEnv(t)
	created := env.criarAnexo(t, uuid.New().String(), "dre", "relatorio_cefai", "relatorio.docx")

	rec := env.do(t, http.MethodGet, "/api/v1/anexos/"+created["uuid"].(string), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["uuid"] != created["uuid"] {
		t.Errorf("uuid = %v", body["uuid"])
	}
	if body["extensao"] != ".docx" {
		t.Errorf("extensao = %v", body["extensao"])
	}
}

func TestGet_NaoEncontrado(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/anexos/"+uuid.New().String(), nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Anexo não encontrado." {
		t.Errorf("message = %q", msg)
	}
}

func TestList_FiltroPerfilUE(t *testing.T) {
	env := newTestEnv(t)
	intercorrencia := uuid.New().String()

	env.criarAnexo(t, intercorrencia, "diretor", "boletim_ocorrencia", "a.pdf")
	env.criarAnexo(t, intercorrencia, "assistente", "boletim_ocorrencia", "b.pdf")
	env.criarAnexo(t, intercorrencia, "gipe", "relatorio_naapa", "c.pdf")

	rec := env.do(t, http.MethodGet, "/api/v1/anexos/?perfil=UE&intercorrencia_uuid="+intercorrencia, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var items []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decodificando lista: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, esperado 2", len(items))
	}
	for _, item := range items {
		perfil := item["perfil"].(string)
		if perfil != "diretor" && perfil != "assistente" {
			t.Errorf("perfil inesperado no filtro UE: %q", perfil)
		}
	}
}

func TestPorIntercorrencia(t *testing.T) {
	env := newTestEnv(t)
	intercorrencia := uuid.New().String()

	env.criarAnexo(t, intercorrencia, "diretor", "boletim_ocorrencia", "a.pdf")
	env.criarAnexo(t, intercorrencia, "gipe", "relatorio_naapa", "b.pdf")
	env.criarAnexo(t, uuid.New().String(), "dre", "relatorio_cefai", "outro.pdf")

	rec := env.do(t, http.MethodGet, "/api/v1/anexos/intercorrencia/"+intercorrencia, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(2) {
		t.Errorf("count = %v", body["count"])
	}
	if body["intercorrencia_uuid"] != intercorrencia {
		t.Errorf("intercorrencia_uuid = %v", body["intercorrencia_uuid"])
	}
	anexos, _ := body["anexos"].([]any)
	if len(anexos) != 2 {
		t.Errorf("len(anexos) = %d", len(anexos))
	}
}

func TestCategoriasDisponiveis(t *testing.T) {
	env := newTestEnv(t)

	t.Run("perfil válido", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/anexos/categorias-disponiveis?perfil=diretor", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["perfil"] != "diretor" {
			t.Errorf("perfil = %v", body["perfil"])
		}
		categorias, _ := body["categorias"].([]any)
		if len(categorias) != len(model.CategoriasPorPerfil("diretor")) {
			t.Errorf("len(categorias) = %d", len(categorias))
		}
	})

	t.Run("perfil ausente", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/anexos/categorias-disponiveis", nil, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		if msg := errorMessage(t, rec); msg != "Parâmetro perfil é obrigatório." {
			t.Errorf("message = %q", msg)
		}
	})

	t.Run("perfil inválido", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/anexos/categorias-disponiveis?perfil=coordenador", nil, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		want := "Perfil coordenador inválido. Valores válidos: diretor, assistente, dre, gipe"
		if msg := errorMessage(t, rec); msg != want {
			t.Errorf("message = %q", msg)
		}
	})
}

func TestValidarLimite(t *testing.T) {
	env := newTestEnv(t)

	t.Run("dentro do limite", func(t *testing.T) {
		payload := fmt.Sprintf(`{"intercorrencia_uuid":%q,"tamanho_bytes":1048576}`, uuid.New().String())
		rec := env.do(t, http.MethodPost, "/api/v1/anexos/validar-limite", strings.NewReader(payload), "application/json")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, corpo %q", rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		if body["pode_adicionar"] != true {
			t.Errorf("pode_adicionar = %v", body["pode_adicionar"])
		}
		if body["limite_mb"] != float64(10) {
			t.Errorf("limite_mb = %v", body["limite_mb"])
		}
	})

	t.Run("campos ausentes", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/anexos/validar-limite", strings.NewReader(`{}`), "application/json")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		if msg := errorMessage(t, rec); msg != "intercorrencia_uuid e tamanho_bytes são obrigatórios." {
			t.Errorf("message = %q", msg)
		}
	})
}

func TestPatch_JSON(t *testing.T) {
	env := newTestEnv(t)
	created := env.criarAnexo(t, uuid.New().String(), "diretor", "boletim_ocorrencia", "boletim.pdf")

	payload := `{"categoria":"registro_ocorrencia_interno"}`
	rec := env.do(t, http.MethodPatch, "/api/v1/anexos/"+created["uuid"].(string),
		strings.NewReader(payload), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, corpo %q", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["categoria"] != "registro_ocorrencia_interno" {
		t.Errorf("categoria = %v", body["categoria"])
	}
}

func TestPatch_CategoriaIncompativel(t *testing.T) {
	env := newTestEnv(t)
	created := env.criarAnexo(t, uuid.New().String(), "diretor", "boletim_ocorrencia", "boletim.pdf")

	payload := `{"categoria":"relatorio_naapa"}`
	rec := env.do(t, http.MethodPatch, "/api/v1/anexos/"+created["uuid"].(string),
		strings.NewReader(payload), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, corpo %q", rec.Code, rec.Body.String())
	}
}

func TestPatch_MultipartComArquivo(t *testing.T) {
	env := newTestEnv(t)
	created := env.criarAnexo(t, uuid.New().String(), "diretor", "boletim_ocorrencia", "boletim.pdf")

	body, ct := multipartUpload(t, nil, "novo.pdf", []byte("conteúdo substituto"))
	rec := env.do(t, http.MethodPatch, "/api/v1/anexos/"+created["uuid"].(string), body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, corpo %q", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if resp["nome_original"] != "novo.pdf" {
		t.Errorf("nome_original = %v", resp["nome_original"])
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	created := env.criarAnexo(t, uuid.New().String(), "diretor", "boletim_ocorrencia", "boletim.pdf")
	anexoUUID := created["uuid"].(string)

	rec := env.do(t, http.MethodDelete, "/api/v1/anexos/"+anexoUUID, nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, corpo %q", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/anexos/"+anexoUUID, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET após exclusão: status = %d", rec.Code)
	}
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	created := env.criarAnexo(t, uuid.New().String(), "diretor", "boletim_ocorrencia", "boletim.pdf")
	anexoUUID := created["uuid"].(string)

	t.Run("attachment", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/anexos/"+anexoUUID+"/download", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if got := rec.Body.String(); got != "conteúdo de teste" {
			t.Errorf("corpo = %q", got)
		}
		cd := rec.Header().Get("Content-Disposition")
		if !strings.HasPrefix(cd, "attachment;") || !strings.Contains(cd, `"boletim.pdf"`) {
			t.Errorf("Content-Disposition = %q", cd)
		}
		if cc := rec.Header().Get("Cache-Control"); cc != "private, max-age=3600" {
			t.Errorf("Cache-Control = %q", cc)
		}
	})

	t.Run("inline", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/anexos/"+anexoUUID+"/download?inline=true", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "inline;") {
			t.Errorf("Content-Disposition = %q", cd)
		}
	})
}

func TestURLDownload(t *testing.T) {
	env := newTestEnv(t)
	created := env.criarAnexo(t, uuid.New().String(), "gipe", "relatorio_naapa", "relatorio.pdf")

	rec := env.do(t, http.MethodGet, "/api/v1/anexos/"+created["uuid"].(string)+"/url-download", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	url, _ := body["url_download"].(string)
	if !strings.HasPrefix(url, "https://objetos.example/") {
		t.Errorf("url_download = %q", url)
	}
	if body["expira_em"] != "1 hora" {
		t.Errorf("expira_em = %v", body["expira_em"])
	}
}

func TestURLDownloadTodos_SemAnexos(t *testing.T) {
	env := newTestEnv(t)
	intercorrencia := uuid.New().String()

	rec := env.do(t, http.MethodGet, "/api/v1/anexos/intercorrencia/"+intercorrencia+"/url-download-todos", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["detail"] != "Nenhum anexo encontrado para esta intercorrência." {
		t.Errorf("detail = %v", body["detail"])
	}
	if body["count"] != float64(0) {
		t.Errorf("count = %v", body["count"])
	}
}

func TestURLDownloadTodos(t *testing.T) {
	env := newTestEnv(t)
	intercorrencia := uuid.New().String()

	env.criarAnexo(t, intercorrencia, "diretor", "boletim_ocorrencia", "a.pdf")
	env.criarAnexo(t, intercorrencia, "gipe", "relatorio_naapa", "b.pdf")

	rec := env.do(t, http.MethodGet, "/api/v1/anexos/intercorrencia/"+intercorrencia+"/url-download-todos", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, corpo %q", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(2) {
		t.Errorf("count = %v", body["count"])
	}
	if body["total_anexos"] != float64(2) {
		t.Errorf("total_anexos = %v", body["total_anexos"])
	}
}

func TestHealthLive(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health/live", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["service"] != "anexos-service" {
		t.Errorf("service = %v", body["service"])
	}
}

func TestHealthReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health/ready", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, corpo %q", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	checks, _ := body["checks"].(map[string]any)
	if len(checks) != 2 {
		t.Errorf("len(checks) = %d", len(checks))
	}
}
