// Pacote service — lógica de negócio do serviço de anexos.
// errors.go — erro de operação com código HTTP, consumido pelos handlers.
package service

import "fmt"

// OpError — falha de operação de negócio com o status HTTP e o código de
// erro da API já resolvidos. Os handlers apenas repassam.
type OpError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
