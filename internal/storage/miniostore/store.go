// Pacote miniostore — adaptador de armazenamento de objetos sobre um bucket
// compatível com S3, via SDK do MinIO. Implementa o contrato storage.Storage:
// save/open/delete/exists/size/url e resolução de nome livre.
package miniostore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/prefeiturasp/sme-anexos-service/internal/storage"
)

// maxProbes — teto de tentativas de sufixo em AvailableName. O algoritmo
// original não tem limite; aqui falhamos com WriteError depois de esgotar
// as tentativas em vez de laçar para sempre.
const maxProbes = 1000

// Config — parâmetros de conexão com o MinIO.
type Config struct {
	// Endpoint host:porta, sem esquema
	Endpoint string
	// Credenciais de acesso
	AccessKey string
	SecretKey string
	// Nome do bucket (criado automaticamente se não existir)
	Bucket string
	// TLS na conexão com o MinIO
	UseHTTPS bool
	// Base para a URL determinística de fallback quando a pré-assinatura falha
	BaseURL string
	// Validade da URL pré-assinada
	PresignTTL time.Duration
	// Timeout por chamada ao backend
	Timeout time.Duration
}

// Store implementa storage.Storage sobre um bucket S3-compatível.
type Store struct {
	client *minio.Client
	cfg    Config
	logger *slog.Logger
}

var _ storage.Storage = (*Store)(nil)
var _ storage.Lister = (*Store)(nil)

// New cria o cliente MinIO e garante a existência do bucket.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("miniostore: endpoint é obrigatório")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("miniostore: bucket é obrigatório")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseHTTPS,
	})
	if err != nil {
		return nil, fmt.Errorf("miniostore: criação do cliente: %w", err)
	}

	s := &Store{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "minio_storage")),
	}

	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("MinioStorage inicializado",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bucket", cfg.Bucket),
		slog.Duration("presign_ttl", cfg.PresignTTL),
	)

	return s, nil
}

// ensureBucket cria o bucket se não existir.
func (s *Store) ensureBucket(ctx context.Context) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("miniostore: verificação do bucket %s: %w", s.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("miniostore: criação do bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// Ping verifica a disponibilidade do backend consultando o bucket.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("miniostore: ping: %w", err)
	}
	if !exists {
		return fmt.Errorf("miniostore: bucket %s não existe", s.cfg.Bucket)
	}
	return nil
}

// callCtx aplica o timeout por chamada ao backend.
func (s *Store) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// Save resolve um nome livre para o candidato e grava o conteúdo sob a chave
// resolvida. Objetos existentes nunca são sobrescritos: a colisão é resolvida
// por renomeação (_1, _2, ...) antes da gravação.
func (s *Store) Save(ctx context.Context, name string, content io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key, err := s.AvailableName(ctx, name)
	if err != nil {
		return "", err
	}
	if key != name {
		// Dois escritores concorrentes podem resolver o mesmo sufixo; o
		// renomeio fica registrado para a colisão ser ao menos observável.
		s.logger.Warn("nome candidato ocupado, renomeado",
			slog.String("candidato", name),
			slog.String("resolvido", key),
		)
	}

	putCtx, cancel := s.callCtx(ctx)
	defer cancel()

	_, err = s.client.PutObject(putCtx, s.cfg.Bucket, key, content, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", &storage.WriteError{Key: key, Err: err}
	}
	return key, nil
}

// Open carrega o objeto inteiro em memória e retorna um stream posicionável.
// O buffer integral é aceitável apenas por causa do teto de 10 MiB por
// arquivo; não reutilizar para objetos maiores.
func (s *Store) Open(ctx context.Context, key string) (io.ReadSeeker, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, &storage.ReadError{Key: key, Err: err}
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, &storage.ReadError{Key: key, Err: err}
	}
	return bytes.NewReader(data), nil
}

// Delete remove o objeto. Idempotente: "não encontrado" é absorvido e logado,
// porque o chamador pode correr com uma exclusão concorrente. Falhas de
// backend sobem como *storage.DeleteError; a política de seguir em frente
// mesmo assim fica com o chamador.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			s.logger.Debug("delete de objeto inexistente ignorado", slog.String("key", key))
			return nil
		}
		return &storage.DeleteError{Key: key, Err: err}
	}
	return nil
}

// Exists informa se a chave está ocupada. Qualquer erro de backend é tratado
// como "ausente" — perda de precisão conhecida: uma indisponibilidade do
// backend aparece como falso negativo. O erro mascarado é logado em debug.
func (s *Store) Exists(ctx context.Context, key string) bool {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	_, err := s.client.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if !isNotFound(err) {
			s.logger.Debug("erro de backend mascarado como ausência em Exists",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	return true
}

// Size retorna o tamanho do objeto, ou 0 quando ausente (espelha a semântica
// de Exists, inclusive a perda de precisão sob falha de backend).
func (s *Store) Size(ctx context.Context, key string) int64 {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	stat, err := s.client.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0
	}
	return stat.Size
}

// URL emite uma URL pré-assinada de GET com a validade configurada. Se a
// pré-assinatura falhar, cai na composição determinística base/bucket/key —
// comportamento herdado do sistema original: a URL de fallback pode não ser
// acessível em bucket privado.
func (s *Store) URL(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()

	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, s.cfg.PresignTTL, nil)
	if err != nil {
		s.logger.Warn("falha ao pré-assinar URL, usando fallback",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return s.fallbackURL(key), nil
	}
	return u.String(), nil
}

// fallbackURL compõe a URL determinística e sem expiração base/bucket/key.
func (s *Store) fallbackURL(key string) string {
	base := strings.TrimSuffix(s.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/%s/%s", base, s.cfg.Bucket, key)
}

// AvailableName resolve o candidato para uma chave livre. Se o candidato está
// ocupado, prova base_1.ext, base_2.ext, ... em ordem estritamente crescente e
// retorna a primeira chave livre. Inerentemente sujeito a corrida entre
// escritores concorrentes do mesmo candidato.
func (s *Store) AvailableName(ctx context.Context, candidate string) (string, error) {
	if !s.Exists(ctx, candidate) {
		return candidate, nil
	}

	dir := path.Dir(candidate)
	base := path.Base(candidate)
	ext := path.Ext(base)
	root := strings.TrimSuffix(base, ext)

	for count := 1; count <= maxProbes; count++ {
		probe := fmt.Sprintf("%s_%d%s", root, count, ext)
		if dir != "." {
			probe = path.Join(dir, probe)
		}
		if !s.Exists(ctx, probe) {
			return probe, nil
		}
	}
	return "", &storage.WriteError{
		Key: candidate,
		Err: fmt.Errorf("nenhum nome livre após %d tentativas", maxProbes),
	}
}

// ListObjects enumera todas as chaves do bucket, para a reconciliação.
// Sem o timeout por chamada: a listagem completa pode demorar mais que uma
// operação pontual.
func (s *Store) ListObjects(ctx context.Context) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, &storage.ReadError{Key: obj.Key, Err: obj.Err}
		}
		objects = append(objects, storage.ObjectInfo{
			Key:          obj.Key,
			LastModified: obj.LastModified,
		})
	}
	return objects, nil
}

// isNotFound identifica respostas 404/NoSuchKey do backend.
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}
