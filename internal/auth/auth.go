// Pacote auth — autenticação de requisições via serviço de identidade remoto.
//
// O fluxo por requisição é:
//  1. Extração do Bearer token (ausência = anônimo, não é erro)
//  2. Verifier: verificação remota + decodificação local do JWT, com cache
//  3. Enricher: enriquecimento best-effort via endpoint /me, com cache
//
// Falhas nas etapas 1-2 são fatais (AuthError); falhas de enriquecimento são
// absorvidas. Nenhuma chamada remota é repetida: a responsabilidade de retry
// fica com a próxima requisição.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ExternalUser — identidade canônica produzida pelo gateway de autenticação.
type ExternalUser struct {
	Username         string
	Nome             string
	CargoCodigo      int
	UnidadeCodigoEOL string
	DRECodigoEOL     string
	IsAuthenticated  bool
}

// AuthError — falha fatal de autenticação, com motivo legível para o usuário.
// Nunca é repetida automaticamente.
type AuthError struct {
	Motivo string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("autenticação falhou: %s", e.Motivo)
}

// Authenticator compõe Verifier e Enricher na operação única de autenticar
// uma requisição. Sem estado entre requisições além dos caches internos.
type Authenticator struct {
	verifier *Verifier
	enricher *Enricher
}

// NewAuthenticator cria o gateway de autenticação. enricher pode ser nil
// quando o endpoint /me não está configurado.
func NewAuthenticator(verifier *Verifier, enricher *Enricher) *Authenticator {
	return &Authenticator{verifier: verifier, enricher: enricher}
}

// TokenFromHeader extrai o Bearer token do header Authorization. Retorna ""
// quando o header está ausente ou o esquema não é Bearer.
func TokenFromHeader(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// Authenticate autentica a requisição. Retorna (nil, nil) quando não há
// credencial (anônimo — distinto de credencial inválida) e (nil, *AuthError)
// quando a credencial é rejeitada.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*ExternalUser, error) {
	token := TokenFromHeader(r)
	if token == "" {
		return nil, nil
	}

	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	username := firstString(claims, "username", "sub", "user_id")
	if username == "" {
		return nil, &AuthError{Motivo: "token sem 'username' ou 'sub'"}
	}

	var info Identity
	if a.enricher != nil {
		info = a.enricher.Enrich(ctx, token, username)
	}

	user := &ExternalUser{
		Username:         username,
		Nome:             firstString(claims, "name"),
		CargoCodigo:      firstInt(claims, "perfil_codigo", "cargo_codigo"),
		UnidadeCodigoEOL: info.UnidadeCodigoEOL,
		DRECodigoEOL:     info.DRECodigoEOL,
		IsAuthenticated:  true,
	}
	if user.Nome == "" {
		user.Nome = info.Nome
	}
	if user.CargoCodigo == 0 {
		user.CargoCodigo = info.CargoCodigo
	}
	return user, nil
}

// firstString retorna o primeiro valor string não vazio entre as chaves.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// firstInt retorna o primeiro valor numérico não zero entre as chaves.
// Números JSON chegam como float64.
func firstInt(m map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			if v != 0 {
				return int(v)
			}
		case int:
			if v != 0 {
				return v
			}
		}
	}
	return 0
}
