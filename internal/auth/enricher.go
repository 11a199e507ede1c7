// enricher.go — enriquecimento best-effort da identidade via endpoint /me do
// serviço de identidade. Normaliza as diversas formas de resposta em um
// registro canônico e cacheia por uma janela curta fixa.
package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// identityCacheTTL — TTL fixo do cache de identidade. Independe da
	// expiração do token: os campos de perfil mudam em ciclo próprio.
	identityCacheTTL = 30 * time.Second
	// identityCacheSize — número máximo de entradas no cache de identidade.
	identityCacheSize = 4096
	// enrichTimeout — timeout da chamada ao endpoint /me.
	enrichTimeout = 3 * time.Second
)

var (
	identityCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anexos_auth_identity_cache_hits_total",
		Help: "Total de acertos no cache de identidade enriquecida.",
	})
	identityCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anexos_auth_identity_cache_misses_total",
		Help: "Total de falhas no cache de identidade enriquecida.",
	})
)

// Identity — campos de perfil normalizados do endpoint /me.
type Identity struct {
	Nome             string
	CargoCodigo      int
	UnidadeCodigoEOL string
	DRECodigoEOL     string
}

// Enricher consulta o endpoint /me e normaliza a resposta. Seguro para uso
// concorrente; falhas nunca são fatais.
type Enricher struct {
	meURL  string
	client *http.Client
	cache  *expirable.LRU[string, Identity]
	logger *slog.Logger
}

// NewEnricher cria o enriquecedor de identidade.
func NewEnricher(meURL string, logger *slog.Logger) *Enricher {
	return &Enricher{
		meURL:  meURL,
		client: &http.Client{Timeout: enrichTimeout},
		cache:  expirable.NewLRU[string, Identity](identityCacheSize, nil, identityCacheTTL),
		logger: logger.With(slog.String("component", "identity_enricher")),
	}
}

// Enrich busca os campos de perfil do usuário. Best-effort: qualquer status
// não-200 ou falha de transporte retorna enriquecimento vazio, nunca erro —
// a autenticação prossegue com menos campos preenchidos.
func (e *Enricher) Enrich(ctx context.Context, token, username string) Identity {
	key := username + ":" + tokenHash(token)
	if info, ok := e.cache.Get(key); ok {
		identityCacheHits.Inc()
		return info
	}
	identityCacheMisses.Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.meURL, nil)
	if err != nil {
		return Identity{}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("erro ao buscar informações do usuário", slog.String("error", err.Error()))
		return Identity{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("falha ao buscar dados do usuário",
			slog.Int("status", resp.StatusCode),
			slog.String("username", username),
		)
		return Identity{}
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		e.logger.Warn("resposta do /me ilegível", slog.String("error", err.Error()))
		return Identity{}
	}

	info := normalizeIdentity(data)
	e.cache.Add(key, info)
	return info
}

// normalizeIdentity reduz as várias formas de resposta do /me ao registro
// canônico:
//   - nome: name ou first_name
//   - cargo: cargo_codigo ou perfil_codigo
//   - unidade: codigo_eol no topo, ou aninhado em unidade/escola
//     (codigo_eol ou codigo), possivelmente com a DRE aninhada dentro
//   - DRE: codigo_eol no topo, aninhada na unidade ou objeto dre no topo
func normalizeIdentity(data map[string]any) Identity {
	info := Identity{
		Nome:             firstString(data, "name", "first_name"),
		CargoCodigo:      firstInt(data, "cargo_codigo", "perfil_codigo"),
		UnidadeCodigoEOL: firstString(data, "unidade_codigo_eol"),
		DRECodigoEOL:     firstString(data, "dre_codigo_eol"),
	}

	// Objeto presente mas vazio conta como ausente, para cair no próximo
	// campo da cadeia unidade -> escola.
	unidade := nestedObject(data, "unidade")
	if len(unidade) == 0 {
		unidade = nestedObject(data, "escola")
	}
	if len(unidade) > 0 {
		info.UnidadeCodigoEOL = firstString(unidade, "codigo_eol", "codigo")
		if dre := nestedObject(unidade, "dre"); len(dre) > 0 {
			info.DRECodigoEOL = firstString(dre, "codigo_eol", "codigo")
		}
	}

	if dre := nestedObject(data, "dre"); len(dre) > 0 {
		info.DRECodigoEOL = firstString(dre, "codigo_eol", "codigo")
	}

	return info
}

// nestedObject extrai um sub-objeto JSON, ou nil quando ausente ou de outro
// tipo.
func nestedObject(data map[string]any, key string) map[string]any {
	obj, _ := data[key].(map[string]any)
	return obj
}
