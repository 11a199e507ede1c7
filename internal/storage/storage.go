// Pacote storage — contrato genérico de armazenamento de arquivos consumido
// pelo caminho de escrita de anexos. A implementação concreta (MinIO) vive em
// storage/miniostore.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Storage — contrato de armazenamento de objetos.
//
// Semântica de ausência: ausência nunca é erro. Exists responde false, Size
// responde 0 e Delete é idempotente. Falhas de backend são sinalizadas por
// *WriteError, *ReadError e *DeleteError.
type Storage interface {
	// Save grava o conteúdo sob a chave resolvida por AvailableName e a
	// retorna. Nunca sobrescreve silenciosamente: colisões são resolvidas
	// por renomeação antes da gravação.
	Save(ctx context.Context, name string, content io.Reader, size int64, contentType string) (string, error)
	// Open carrega o objeto inteiro em memória e o devolve como stream
	// posicionável. Aceitável apenas por causa do teto de 10 MiB por arquivo.
	Open(ctx context.Context, key string) (io.ReadSeeker, error)
	// Delete remove o objeto. "Não encontrado" é absorvido e logado;
	// falhas de backend sobem como *DeleteError.
	Delete(ctx context.Context, key string) error
	// Exists informa se a chave está ocupada.
	Exists(ctx context.Context, key string) bool
	// Size retorna o tamanho do objeto, ou 0 se ausente.
	Size(ctx context.Context, key string) int64
	// URL emite uma URL pré-assinada de download com validade limitada.
	URL(ctx context.Context, key string) (string, error)
	// AvailableName resolve um nome candidato para uma chave livre,
	// sufixando _1, _2, ... enquanto houver colisão.
	AvailableName(ctx context.Context, candidate string) (string, error)
}

// ObjectInfo — chave e data de modificação de um objeto, para varreduras de
// reconciliação.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// Lister — enumeração das chaves do bucket. Implementado pelo backend MinIO e
// consumido pela reconciliação; separado de Storage porque o caminho de
// requisições nunca enumera o bucket.
type Lister interface {
	ListObjects(ctx context.Context) ([]ObjectInfo, error)
}

// WriteError — falha de transporte, autenticação ou capacidade do backend
// durante uma gravação.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("erro ao salvar arquivo no MinIO (%s): %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError — falha de backend durante uma leitura. Distinto de "não
// encontrado", que é sinalizado via Exists.
type ReadError struct {
	Key string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("erro ao abrir arquivo do MinIO (%s): %v", e.Key, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// DeleteError — falha de backend durante uma remoção. "Não encontrado" não é
// DeleteError: remoções são idempotentes.
type DeleteError struct {
	Key string
	Err error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("erro ao deletar arquivo do MinIO (%s): %v", e.Key, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// DatedKey monta a chave de armazenamento com o layout anexos/AAAA/MM/DD/nome,
// espelhando o upload_to do sistema original.
func DatedKey(now time.Time, filename string) string {
	return fmt.Sprintf("anexos/%04d/%02d/%02d/%s", now.Year(), int(now.Month()), now.Day(), filename)
}
