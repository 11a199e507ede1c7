// Pacote model — modelo de domínio do serviço de anexos de intercorrências.
// anexo.go — entidade Anexo, perfis, categorias e limites de armazenamento.
package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Limites de armazenamento por intercorrência (bytes).
const (
	// TamanhoMaximoArquivo — tamanho máximo de um arquivo individual (10 MiB).
	TamanhoMaximoArquivo = 10 * 1024 * 1024
	// LimiteTotalBytes — soma máxima dos anexos ativos de uma intercorrência (10 MiB).
	LimiteTotalBytes = 10 * 1024 * 1024
	// LimiteMB — limite em MB, exposto nas respostas de validação.
	LimiteMB = 10.0
)

// Perfis que podem anexar arquivos.
const (
	PerfilDiretor    = "diretor"
	PerfilAssistente = "assistente"
	PerfilDRE        = "dre"
	PerfilGIPE       = "gipe"
	// PerfilUE — pseudo-perfil de leitura (diretor + assistente).
	// Aceito apenas como filtro de listagem, nunca em escritas.
	PerfilUE = "UE"
)

// Perfis válidos para escrita, na ordem de exibição.
var Perfis = []string{PerfilDiretor, PerfilAssistente, PerfilDRE, PerfilGIPE}

// PerfilLabels — nomes amigáveis dos perfis.
var PerfilLabels = map[string]string{
	PerfilDiretor:    "Diretor",
	PerfilAssistente: "Assistente",
	PerfilDRE:        "DRE",
	PerfilGIPE:       "GIPE",
}

// Categoria — par valor/rótulo de uma categoria de anexo.
type Categoria struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Categorias por perfil. Diretor e assistente compartilham a mesma tabela;
// GIPE tem interseção com as duas anteriores.
var (
	categoriasDiretor = []Categoria{
		{"boletim_ocorrencia", "Boletim de ocorrência"},
		{"registro_ocorrencia_interno", "Registro de ocorrência interno"},
		{"protocolo_conselho_tutelar", "Protocolo do Conselho Tutelar"},
		{"instrucao_normativa_20_2020", "Instrução normativa 20/2020"},
	}

	categoriasDRE = []Categoria{
		{"relatorio_naapa", "Relatório do NAAPA"},
		{"relatorio_cefai", "Relatório do CEFAI"},
		{"relatorio_sts", "Relatório do STS"},
		{"relatorio_cpca", "Relatório do CPCA"},
		{"oficio_gcm", "Ofício Guarda Civil Metropolitana (GCM)"},
	}

	categoriasGIPE = []Categoria{
		{"boletim_ocorrencia", "Boletim de ocorrência"},
		{"registro_intercorrencia", "Registro de intercorrência"},
		{"protocolo_conselho_tutelar", "Protocolo Conselho Tutelar"},
		{"instrucao_normativa_20_2020", "Instrução Normativa 20/2020"},
		{"relatorio_naapa", "Relatório do NAAPA"},
		{"relatorio_supervisao_escolar", "Relatório da Supervisão Escolar"},
		{"relatorio_cefai", "Relatório do CEFAI"},
		{"relatorio_sts", "Relatório do STS"},
		{"relatorio_cpca", "Relatório do CPCA"},
		{"oficio_gcm", "Ofício Guarda Civil Metropolitana (GCM)"},
	}
)

// ExtensoesPermitidas — extensões aceitas para upload (sem ponto, minúsculas).
var ExtensoesPermitidas = []string{"jpeg", "jpg", "png", "mp4", "pdf", "xlsx", "docx", "txt"}

// PerfilValido informa se o perfil é aceito em operações de escrita.
func PerfilValido(perfil string) bool {
	for _, p := range Perfis {
		if p == perfil {
			return true
		}
	}
	return false
}

// CategoriasPorPerfil retorna a tabela de categorias válidas para o perfil.
// Assistente herda exatamente a tabela do diretor. Perfil desconhecido
// retorna lista vazia (nunca erro): a validação do enum acontece antes.
func CategoriasPorPerfil(perfil string) []Categoria {
	switch perfil {
	case PerfilDiretor, PerfilAssistente:
		return categoriasDiretor
	case PerfilDRE:
		return categoriasDRE
	case PerfilGIPE:
		return categoriasGIPE
	}
	return nil
}

// CategoriaValida informa se a categoria pertence à tabela do perfil.
func CategoriaValida(perfil, categoria string) bool {
	for _, c := range CategoriasPorPerfil(perfil) {
		if c.Value == categoria {
			return true
		}
	}
	return false
}

// CategoriaLabel retorna o rótulo amigável da categoria, pesquisando em todas
// as tabelas. Categoria desconhecida retorna o próprio valor.
func CategoriaLabel(categoria string) string {
	for _, tabela := range [][]Categoria{categoriasDiretor, categoriasDRE, categoriasGIPE} {
		for _, c := range tabela {
			if c.Value == categoria {
				return c.Label
			}
		}
	}
	return categoria
}

// ExtensaoPermitida verifica a extensão do nome de arquivo contra a lista
// de extensões aceitas.
func ExtensaoPermitida(nome string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(nome)), ".")
	for _, e := range ExtensoesPermitidas {
		if e == ext {
			return true
		}
	}
	return false
}

// Anexo — registro de metadados de um arquivo anexado a uma intercorrência.
// O arquivo em si vive no MinIO; ArquivoKey é uma referência fraca (apagar o
// registro não apaga o objeto e vice-versa).
type Anexo struct {
	UUID               string     `json:"uuid"`
	IntercorrenciaUUID string     `json:"intercorrencia_uuid"`
	Perfil             string     `json:"perfil"`
	Categoria          string     `json:"categoria"`
	ArquivoKey         string     `json:"-"`
	NomeOriginal       string     `json:"nome_original"`
	TamanhoBytes       int64      `json:"tamanho_bytes"`
	TipoMime           string     `json:"tipo_mime"`
	UsuarioUsername    string     `json:"usuario_username"`
	UsuarioNome        string     `json:"usuario_nome"`
	Ativo              bool       `json:"ativo"`
	CriadoEm           time.Time  `json:"criado_em"`
	AtualizadoEm       time.Time  `json:"atualizado_em"`
	ExcluidoEm         *time.Time `json:"excluido_em,omitempty"`
	ExcluidoPor        string     `json:"excluido_por,omitempty"`
}

// TamanhoFormatado retorna o tamanho em bytes, KB ou MB para exibição.
func (a *Anexo) TamanhoFormatado() string {
	switch {
	case a.TamanhoBytes < 1024:
		return fmt.Sprintf("%d bytes", a.TamanhoBytes)
	case a.TamanhoBytes < 1024*1024:
		return fmt.Sprintf("%.2f KB", float64(a.TamanhoBytes)/1024)
	default:
		return fmt.Sprintf("%.2f MB", float64(a.TamanhoBytes)/(1024*1024))
	}
}

// Extensao retorna a extensão do nome original, com ponto e em minúsculas.
func (a *Anexo) Extensao() string {
	return strings.ToLower(filepath.Ext(a.NomeOriginal))
}

// EImagem informa se o anexo é uma imagem.
func (a *Anexo) EImagem() bool {
	switch a.Extensao() {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// EVideo informa se o anexo é um vídeo.
func (a *Anexo) EVideo() bool {
	return a.Extensao() == ".mp4"
}

// EDocumento informa se o anexo é um documento.
func (a *Anexo) EDocumento() bool {
	switch a.Extensao() {
	case ".pdf", ".xlsx", ".docx", ".txt":
		return true
	}
	return false
}

// ExcluirLogicamente marca o anexo como inativo, registrando autor e momento
// da exclusão. A remoção física do objeto fica a cargo do chamador.
func (a *Anexo) ExcluirLogicamente(username string) {
	now := time.Now().UTC()
	a.Ativo = false
	a.ExcluidoEm = &now
	a.ExcluidoPor = username
}
