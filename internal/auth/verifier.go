// verifier.go — verificação de tokens contra o serviço de autenticação
// remoto, com decodificação local do JWT e cache com TTL limitado pela vida
// restante do token.
package auth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// claimsCacheMaxTTL — teto do TTL do cache de claims. Um token de vida
	// longa nunca é confiado a partir do cache por mais que esta janela,
	// limitando o estrago de um token revogado mas ainda cacheado.
	claimsCacheMaxTTL = 60 * time.Second
	// claimsCacheMinTTL — piso do TTL: entradas vivem ao menos 1s.
	claimsCacheMinTTL = time.Second
	// claimsCacheSize — número máximo de entradas no cache de claims.
	claimsCacheSize = 4096
	// verifyTimeout — timeout da chamada ao endpoint de verificação.
	verifyTimeout = 3 * time.Second
)

// Métricas do cache de claims.
var (
	claimsCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anexos_auth_claims_cache_hits_total",
		Help: "Total de acertos no cache de claims de tokens.",
	})
	claimsCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anexos_auth_claims_cache_misses_total",
		Help: "Total de falhas no cache de claims de tokens.",
	})
)

// VerifierConfig — parâmetros do verificador de tokens.
type VerifierConfig struct {
	// URL do endpoint remoto de verificação (POST {"token": ...})
	VerifyURL string
	// Segredo HS256
	Secret string
	// Chave pública RS256 (opcional; habilita a segunda família de assinatura)
	PublicKey *rsa.PublicKey
}

// claimsEntry — entrada do cache de claims com prazo próprio. O LRU expira
// tudo no teto de 60s; o prazo por entrada encurta para tokens que expiram
// antes disso.
type claimsEntry struct {
	claims   jwt.MapClaims
	deadline time.Time
}

// Verifier verifica tokens no serviço remoto e valida assinatura e claims
// localmente. Seguro para uso concorrente.
type Verifier struct {
	cfg    VerifierConfig
	client *http.Client
	cache  *expirable.LRU[string, claimsEntry]
	logger *slog.Logger
}

// NewVerifier cria o verificador de tokens.
func NewVerifier(cfg VerifierConfig, logger *slog.Logger) *Verifier {
	return &Verifier{
		cfg:    cfg,
		client: &http.Client{Timeout: verifyTimeout},
		cache:  expirable.NewLRU[string, claimsEntry](claimsCacheSize, nil, claimsCacheMaxTTL),
		logger: logger.With(slog.String("component", "token_verifier")),
	}
}

// Verify verifica o token e retorna as claims decodificadas.
//
// Em cache miss: chama o serviço remoto de verificação; resposta não-200 ou
// falha de transporte rejeitam o token. Em seguida decodifica e valida a
// assinatura localmente (HS256 e RS256); falha de decodificação rejeita com
// "token malformado". As claims entram no cache com
// ttl = clamp(exp - now, 1s, 60s).
func (v *Verifier) Verify(ctx context.Context, token string) (jwt.MapClaims, error) {
	key := tokenHash(token)
	if entry, ok := v.cache.Get(key); ok && time.Now().Before(entry.deadline) {
		claimsCacheHits.Inc()
		return entry.claims, nil
	}
	claimsCacheMisses.Inc()

	if err := v.verifyRemote(ctx, token); err != nil {
		return nil, err
	}

	claims, err := v.decode(token)
	if err != nil {
		v.logger.Debug("decodificação do token falhou", slog.String("error", err.Error()))
		return nil, &AuthError{Motivo: "token malformado"}
	}

	ttl := clampTTL(claims, time.Now())
	v.cache.Add(key, claimsEntry{claims: claims, deadline: time.Now().Add(ttl)})
	return claims, nil
}

// verifyRemote submete o token ao serviço de autenticação. Apenas o status
// da resposta importa; o corpo é ignorado.
func (v *Verifier) verifyRemote(ctx context.Context, token string) error {
	body, _ := json.Marshal(map[string]string{"token": token})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.VerifyURL, bytes.NewReader(body))
	if err != nil {
		return &AuthError{Motivo: "falha ao contatar serviço de autenticação: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("serviço de autenticação inacessível", slog.String("error", err.Error()))
		return &AuthError{Motivo: "falha ao contatar serviço de autenticação: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger.Debug("token rejeitado pelo serviço de autenticação",
			slog.Int("status", resp.StatusCode),
		)
		return &AuthError{Motivo: "token inválido ou expirado"}
	}
	return nil
}

// decode valida assinatura e claims do token localmente.
func (v *Verifier) decode(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods([]string{"HS256", "RS256"}),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// keyFunc escolhe a chave de validação conforme a família de assinatura.
func (v *Verifier) keyFunc(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodRSA:
		if v.cfg.PublicKey == nil {
			return nil, &AuthError{Motivo: "chave pública RS256 não configurada"}
		}
		return v.cfg.PublicKey, nil
	default:
		return []byte(v.cfg.Secret), nil
	}
}

// clampTTL calcula o TTL do cache para as claims: o tempo restante do token,
// limitado entre 1s e 60s. Token sem exp usa o teto.
func clampTTL(claims jwt.MapClaims, now time.Time) time.Duration {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return claimsCacheMaxTTL
	}
	ttl := exp.Sub(now)
	if ttl > claimsCacheMaxTTL {
		ttl = claimsCacheMaxTTL
	}
	if ttl < claimsCacheMinTTL {
		ttl = claimsCacheMinTTL
	}
	return ttl
}

// tokenHash deriva a chave de cache do token.
func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
