// Pacote metadb — persistência dos metadados de anexos em SQLite.
// O registro guarda apenas uma referência fraca (arquivo_key) ao objeto no
// MinIO: apagar a linha não apaga o objeto e vice-versa.
package metadb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/prefeiturasp/sme-anexos-service/internal/domain/model"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute
)

const anexoColumns = `uuid, intercorrencia_uuid, perfil, categoria, arquivo_key,
	nome_original, tamanho_bytes, tipo_mime, usuario_username, usuario_nome,
	ativo, criado_em, atualizado_em, excluido_em, excluido_por`

const schema = `
CREATE TABLE IF NOT EXISTS anexos (
	uuid               TEXT PRIMARY KEY,
	intercorrencia_uuid TEXT NOT NULL,
	perfil             TEXT NOT NULL,
	categoria          TEXT NOT NULL,
	arquivo_key        TEXT NOT NULL,
	nome_original      TEXT NOT NULL,
	tamanho_bytes      INTEGER NOT NULL,
	tipo_mime          TEXT NOT NULL,
	usuario_username   TEXT NOT NULL,
	usuario_nome       TEXT NOT NULL DEFAULT '',
	ativo              INTEGER NOT NULL DEFAULT 1,
	criado_em          TEXT NOT NULL,
	atualizado_em      TEXT NOT NULL,
	excluido_em        TEXT,
	excluido_por       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_anexos_intercorrencia_perfil ON anexos (intercorrencia_uuid, perfil);
CREATE INDEX IF NOT EXISTS idx_anexos_intercorrencia_ativo ON anexos (intercorrencia_uuid, ativo);
CREATE INDEX IF NOT EXISTS idx_anexos_usuario ON anexos (usuario_username);
CREATE INDEX IF NOT EXISTS idx_anexos_categoria ON anexos (categoria);
`

// Store encapsula o banco SQLite de metadados.
type Store struct {
	db *sql.DB
}

// Open abre o banco e inicializa o schema.
func Open(path string) (*Store, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metadb: inicialização do schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close fecha a conexão com o banco.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifica a conexão com o banco (usado no health check).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("metadb: caminho do banco é obrigatório")
	}
	return "file:" + url.PathEscape(path) + "?_pragma=busy_timeout(5000)", nil
}

// Create insere um novo registro de anexo.
func (s *Store) Create(ctx context.Context, a *model.Anexo) error {
	if a == nil {
		return fmt.Errorf("metadb: anexo é obrigatório")
	}
	now := time.Now().UTC()
	if a.CriadoEm.IsZero() {
		a.CriadoEm = now
	}
	if a.AtualizadoEm.IsZero() {
		a.AtualizadoEm = a.CriadoEm
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anexos (`+anexoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UUID, a.IntercorrenciaUUID, a.Perfil, a.Categoria, a.ArquivoKey,
		a.NomeOriginal, a.TamanhoBytes, a.TipoMime, a.UsuarioUsername, a.UsuarioNome,
		boolToInt(a.Ativo), formatTime(a.CriadoEm), formatTime(a.AtualizadoEm),
		formatTimePtr(a.ExcluidoEm), a.ExcluidoPor,
	)
	if err != nil {
		return fmt.Errorf("metadb: inserção do anexo %s: %w", a.UUID, err)
	}
	return nil
}

// GetByUUID retorna o anexo ativo com o UUID informado, ou (nil, nil) se não
// existir.
func (s *Store) GetByUUID(ctx context.Context, uuid string) (*model.Anexo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anexoColumns+` FROM anexos WHERE uuid = ? AND ativo = 1`, uuid)
	a, err := scanAnexo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadb: consulta do anexo %s: %w", uuid, err)
	}
	return a, nil
}

// ListFilter — filtros opcionais de listagem.
type ListFilter struct {
	IntercorrenciaUUID string
	// Perfil aceita também o pseudo-perfil UE (diretor + assistente)
	Perfil    string
	Categoria string
	// OrdenarPorPerfil ordena por perfil, categoria, -criado_em
	// (listagem por intercorrência); caso contrário por -criado_em.
	OrdenarPorPerfil bool
}

// List retorna os anexos ativos que casam com o filtro.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*model.Anexo, error) {
	query := `SELECT ` + anexoColumns + ` FROM anexos WHERE ativo = 1`
	var args []any

	if filter.IntercorrenciaUUID != "" {
		query += " AND intercorrencia_uuid = ?"
		args = append(args, filter.IntercorrenciaUUID)
	}
	if filter.Perfil != "" {
		if strings.EqualFold(filter.Perfil, model.PerfilUE) {
			query += " AND perfil IN (?, ?)"
			args = append(args, model.PerfilDiretor, model.PerfilAssistente)
		} else {
			query += " AND perfil = ?"
			args = append(args, filter.Perfil)
		}
	}
	if filter.Categoria != "" {
		query += " AND categoria = ?"
		args = append(args, filter.Categoria)
	}

	if filter.OrdenarPorPerfil {
		query += " ORDER BY perfil, categoria, criado_em DESC"
	} else {
		query += " ORDER BY criado_em DESC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metadb: listagem de anexos: %w", err)
	}
	defer rows.Close()

	var anexos []*model.Anexo
	for rows.Next() {
		a, err := scanAnexo(rows)
		if err != nil {
			return nil, fmt.Errorf("metadb: leitura de linha: %w", err)
		}
		anexos = append(anexos, a)
	}
	return anexos, rows.Err()
}

// Update persiste os campos mutáveis do anexo (perfil, categoria,
// intercorrência, arquivo e metadados derivados).
func (s *Store) Update(ctx context.Context, a *model.Anexo) error {
	a.AtualizadoEm = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE anexos SET intercorrencia_uuid = ?, perfil = ?, categoria = ?,
			arquivo_key = ?, nome_original = ?, tamanho_bytes = ?, tipo_mime = ?,
			ativo = ?, atualizado_em = ?, excluido_em = ?, excluido_por = ?
		WHERE uuid = ?`,
		a.IntercorrenciaUUID, a.Perfil, a.Categoria,
		a.ArquivoKey, a.NomeOriginal, a.TamanhoBytes, a.TipoMime,
		boolToInt(a.Ativo), formatTime(a.AtualizadoEm),
		formatTimePtr(a.ExcluidoEm), a.ExcluidoPor,
		a.UUID,
	)
	if err != nil {
		return fmt.Errorf("metadb: atualização do anexo %s: %w", a.UUID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("metadb: anexo %s não encontrado", a.UUID)
	}
	return nil
}

// Delete remove fisicamente o registro.
func (s *Store) Delete(ctx context.Context, uuid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM anexos WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("metadb: exclusão do anexo %s: %w", uuid, err)
	}
	return nil
}

// TamanhoTotal soma os bytes dos anexos ativos da intercorrência.
// Intercorrência sem anexos retorna 0.
func (s *Store) TamanhoTotal(ctx context.Context, intercorrenciaUUID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(tamanho_bytes) FROM anexos WHERE intercorrencia_uuid = ? AND ativo = 1`,
		intercorrenciaUUID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("metadb: soma de tamanhos da intercorrência %s: %w", intercorrenciaUUID, err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}

// ArquivoKeys retorna o conjunto de chaves de objeto referenciadas por algum
// registro. Usado pela reconciliação para detectar objetos órfãos.
func (s *Store) ArquivoKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT arquivo_key FROM anexos WHERE arquivo_key != ''`)
	if err != nil {
		return nil, fmt.Errorf("metadb: listagem de chaves de arquivo: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("metadb: leitura de chave de arquivo: %w", err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadb: iteração de chaves de arquivo: %w", err)
	}
	return keys, nil
}

// --- helpers de conversão ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnexo(row rowScanner) (*model.Anexo, error) {
	var (
		a          model.Anexo
		ativo      int
		criadoEm   string
		atualizado string
		excluidoEm sql.NullString
	)
	err := row.Scan(
		&a.UUID, &a.IntercorrenciaUUID, &a.Perfil, &a.Categoria, &a.ArquivoKey,
		&a.NomeOriginal, &a.TamanhoBytes, &a.TipoMime, &a.UsuarioUsername, &a.UsuarioNome,
		&ativo, &criadoEm, &atualizado, &excluidoEm, &a.ExcluidoPor,
	)
	if err != nil {
		return nil, err
	}
	a.Ativo = ativo != 0
	a.CriadoEm = parseTime(criadoEm)
	a.AtualizadoEm = parseTime(atualizado)
	if excluidoEm.Valid && excluidoEm.String != "" {
		t := parseTime(excluidoEm.String)
		a.ExcluidoEm = &t
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
