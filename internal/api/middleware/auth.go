// auth.go — middleware de autenticação via serviço de identidade remoto.
// Delega ao gateway do pacote auth: verificação remota do token,
// decodificação local do JWT e enriquecimento do usuário.
// Endpoints públicos (health, info, metrics) ficam fora do middleware.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/prefeiturasp/sme-anexos-service/internal/api/errors"
	"github.com/prefeiturasp/sme-anexos-service/internal/auth"
)

// contextKey — tipo para as chaves de contexto (evita colisões).
type contextKey string

// ContextKeyUser — chave do usuário autenticado no contexto da requisição.
const ContextKeyUser contextKey = "auth_user"

// ContextKeyToken — chave do token bruto no contexto; repassado às chamadas
// a serviços externos feitas em nome do usuário.
const ContextKeyToken contextKey = "auth_token"

// Auth — middleware de autenticação obrigatória.
type Auth struct {
	authenticator *auth.Authenticator
	logger        *slog.Logger
}

// NewAuth cria o middleware de autenticação.
func NewAuth(authenticator *auth.Authenticator, logger *slog.Logger) *Auth {
	return &Auth{
		authenticator: authenticator,
		logger:        logger.With(slog.String("component", "auth_middleware")),
	}
}

// Middleware autentica a requisição e injeta o usuário no contexto.
// Requisição sem credencial ou com credencial rejeitada recebe 401.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.authenticator.Authenticate(r.Context(), r)
		if err != nil {
			a.logger.Warn("autenticação rejeitada",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			apierrors.Unauthorized(w, "As credenciais de autenticação não foram fornecidas ou são inválidas.")
			return
		}
		if user == nil {
			apierrors.Unauthorized(w, "As credenciais de autenticação não foram fornecidas.")
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyUser, user)
		ctx = context.WithValue(ctx, ContextKeyToken, auth.TokenFromHeader(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext recupera o usuário autenticado do contexto.
func UserFromContext(ctx context.Context) *auth.ExternalUser {
	user, _ := ctx.Value(ContextKeyUser).(*auth.ExternalUser)
	return user
}

// TokenFromContext recupera o token bruto do contexto.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(ContextKeyToken).(string)
	return token
}
