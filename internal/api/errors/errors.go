// Pacote errors — construtores das respostas de erro padrão da API.
// Formato único: {"error": {"code": "...", "message": "..."}}.
// Toda resposta HTTP de erro deve passar por WriteError.
package errors //nolint:revive // TODO: renomear o pacote errors, conflita com a stdlib

import (
	"encoding/json"
	"net/http"
)

// Códigos de erro da API.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeLimitExceeded        = "LIMIT_EXCEEDED"
	CodeExternalServiceError = "EXTERNAL_SERVICE_ERROR"
	CodeStorageError         = "STORAGE_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — estrutura do corpo da resposta de erro.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — detalhes do erro.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError escreve a resposta de erro no formato padrão.
// statusCode — status HTTP, code — código legível por máquina, message — descrição.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Construtores para os erros típicos ---

// ValidationError — 400 dados de entrada inválidos.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 recurso não encontrado.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 autenticação necessária.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 permissões insuficientes.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// FileTooLarge — 413 arquivo excede o tamanho máximo.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// LimitExceeded — 400 o limite total da intercorrência seria ultrapassado.
func LimitExceeded(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeLimitExceeded, message)
}

// ExternalServiceError — 502 falha em serviço externo.
func ExternalServiceError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeExternalServiceError, message)
}

// StorageError — 500 falha no armazenamento de objetos.
func StorageError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeStorageError, message)
}

// InternalError — 500 erro interno.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
