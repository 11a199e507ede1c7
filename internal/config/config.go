// Pacote config — carga e validação da configuração do serviço de anexos
// a partir de variáveis de ambiente.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Versão da aplicação, definida no build via -ldflags.
var Version = "dev"

// Config contém todos os parâmetros de configuração do serviço de anexos.
type Config struct {
	// Porta do servidor HTTP
	Port int
	// Timeouts do servidor HTTP
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Identificador do serviço no grafo de dependências (ex.: "anexos-service-01")
	ServiceID string

	// Endpoint do MinIO (host:porta, sem esquema)
	MinioEndpoint string
	// Credenciais do MinIO
	MinioAccessKey string
	MinioSecretKey string
	// Bucket dos anexos
	MinioBucket string
	// Usar HTTPS no acesso ao MinIO
	MinioUseHTTPS bool
	// URL base externa para o fallback de URLs (quando a pré-assinatura falha)
	MinioBaseURL string
	// Validade das URLs pré-assinadas
	MinioPresignTTL time.Duration
	// Timeout das operações contra o MinIO
	MinioTimeout time.Duration

	// Caminho do banco SQLite de metadados
	DBPath string

	// URL do endpoint remoto de verificação de token
	AuthVerifyURL string
	// URL do endpoint /me para enriquecimento (opcional)
	AuthMeURL string
	// Segredo HS256 de decodificação do JWT
	JWTSecret string
	// Caminho da chave pública RS256 em PEM (opcional)
	JWTPublicKeyPath string

	// URL base da API de intercorrências (opcional; vazio desliga a verificação)
	IntercorrenciasAPIURL string

	// Nível de log (debug, info, warn, error)
	LogLevel slog.Level
	// Formato dos logs (json, text)
	LogFormat string

	// Intervalo da conciliação bucket × metadados (0 desativa)
	ReconcileInterval time.Duration

	// Timeout do graceful shutdown do servidor HTTP.
	// Deve ser menor que o terminationGracePeriodSeconds do K8s.
	ShutdownTimeout time.Duration

	// Intervalo de verificação de dependências do topologymetrics
	DephealthCheckInterval time.Duration
	// Nome do grupo nas métricas topologymetrics (ANEXOS_DEPHEALTH_GROUP)
	DephealthGroup string
	// Nome do dono do pod para a label name no topologymetrics (DEPHEALTH_NAME)
	DephealthName string
}

// Load carrega a configuração das variáveis de ambiente, valida os campos
// obrigatórios e retorna o Config ou um erro.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// ANEXOS_PORT — porta do servidor HTTP (padrão 8080)
	cfg.Port, err = getEnvInt("ANEXOS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("ANEXOS_PORT: valor %d fora do intervalo 1-65535", cfg.Port)
	}

	// ANEXOS_HTTP_READ_TIMEOUT — leitura da requisição, corpo incluído (padrão 30s)
	cfg.HTTPReadTimeout, err = getEnvDuration("ANEXOS_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_HTTP_READ_TIMEOUT: %w", err)
	}

	// ANEXOS_HTTP_WRITE_TIMEOUT — escrita da resposta, download incluído (padrão 60s)
	cfg.HTTPWriteTimeout, err = getEnvDuration("ANEXOS_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// ANEXOS_HTTP_IDLE_TIMEOUT — conexões keep-alive ociosas (padrão 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("ANEXOS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// ANEXOS_SERVICE_ID — identificador no grafo de dependências
	cfg.ServiceID = getEnvDefault("ANEXOS_SERVICE_ID", "anexos-service")

	// ANEXOS_MINIO_ENDPOINT — obrigatório
	cfg.MinioEndpoint, err = getEnvRequired("ANEXOS_MINIO_ENDPOINT")
	if err != nil {
		return nil, err
	}

	// ANEXOS_MINIO_ACCESS_KEY — obrigatório
	cfg.MinioAccessKey, err = getEnvRequired("ANEXOS_MINIO_ACCESS_KEY")
	if err != nil {
		return nil, err
	}

	// ANEXOS_MINIO_SECRET_KEY — obrigatório
	cfg.MinioSecretKey, err = getEnvRequired("ANEXOS_MINIO_SECRET_KEY")
	if err != nil {
		return nil, err
	}

	// ANEXOS_MINIO_BUCKET — bucket dos anexos (padrão "anexos")
	cfg.MinioBucket = getEnvDefault("ANEXOS_MINIO_BUCKET", "anexos")

	// ANEXOS_MINIO_USE_HTTPS — HTTPS contra o MinIO (padrão false)
	cfg.MinioUseHTTPS, err = getEnvBool("ANEXOS_MINIO_USE_HTTPS", false)
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_MINIO_USE_HTTPS: %w", err)
	}

	// ANEXOS_MINIO_BASE_URL — base do fallback de URLs (opcional)
	cfg.MinioBaseURL = getEnvDefault("ANEXOS_MINIO_BASE_URL", "")

	// ANEXOS_MINIO_PRESIGN_TTL — validade das URLs pré-assinadas (padrão 1h)
	cfg.MinioPresignTTL, err = getEnvDuration("ANEXOS_MINIO_PRESIGN_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_MINIO_PRESIGN_TTL: %w", err)
	}

	// ANEXOS_MINIO_TIMEOUT — timeout das operações (padrão 10s)
	cfg.MinioTimeout, err = getEnvDuration("ANEXOS_MINIO_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_MINIO_TIMEOUT: %w", err)
	}

	// ANEXOS_DB_PATH — obrigatório
	cfg.DBPath, err = getEnvRequired("ANEXOS_DB_PATH")
	if err != nil {
		return nil, err
	}

	// ANEXOS_AUTH_VERIFY_URL — obrigatório
	cfg.AuthVerifyURL, err = getEnvRequired("ANEXOS_AUTH_VERIFY_URL")
	if err != nil {
		return nil, err
	}

	// ANEXOS_AUTH_ME_URL — endpoint /me (opcional, desliga o enriquecimento)
	cfg.AuthMeURL = getEnvDefault("ANEXOS_AUTH_ME_URL", "")

	// ANEXOS_JWT_SECRET — obrigatório
	cfg.JWTSecret, err = getEnvRequired("ANEXOS_JWT_SECRET")
	if err != nil {
		return nil, err
	}

	// ANEXOS_JWT_PUBLIC_KEY — chave pública RS256 em PEM (opcional)
	cfg.JWTPublicKeyPath = getEnvDefault("ANEXOS_JWT_PUBLIC_KEY", "")

	// ANEXOS_INTERCORRENCIAS_API_URL — opcional
	cfg.IntercorrenciasAPIURL = getEnvDefault("ANEXOS_INTERCORRENCIAS_API_URL", "")

	// ANEXOS_LOG_LEVEL — nível de log (padrão info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("ANEXOS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_LOG_LEVEL: %w", err)
	}

	// ANEXOS_LOG_FORMAT — formato dos logs (padrão json)
	cfg.LogFormat = getEnvDefault("ANEXOS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ANEXOS_LOG_FORMAT: valor inválido %q, valores aceitos: json, text", cfg.LogFormat)
	}

	// ANEXOS_RECONCILE_INTERVAL — intervalo da conciliação bucket × metadados
	// (padrão 6h; 0 desativa)
	cfg.ReconcileInterval, err = getEnvDuration("ANEXOS_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_RECONCILE_INTERVAL: %w", err)
	}

	// ANEXOS_SHUTDOWN_TIMEOUT — timeout do graceful shutdown (padrão 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("ANEXOS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// ANEXOS_DEPHEALTH_CHECK_INTERVAL — intervalo de verificação (padrão 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("ANEXOS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANEXOS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// ANEXOS_DEPHEALTH_GROUP — nome do grupo nas métricas (padrão "anexos-service")
	cfg.DephealthGroup = getEnvDefault("ANEXOS_DEPHEALTH_GROUP", "anexos-service")

	// DEPHEALTH_NAME — nome do dono do pod para a label name (sem prefixo do módulo)
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	return cfg, nil
}

// SetupLogger configura o slog global a partir da configuração.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Funções auxiliares ---

// getEnvRequired retorna o valor da variável de ambiente ou erro se ausente.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: variável de ambiente obrigatória não definida", key)
	}
	return val, nil
}

// getEnvDefault retorna o valor da variável de ambiente ou o padrão.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt retorna o valor inteiro da variável de ambiente ou o padrão.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("inteiro inválido: %q", val)
	}
	return n, nil
}

// getEnvBool retorna o valor booleano da variável de ambiente ou o padrão.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("booleano inválido: %q", val)
	}
	return b, nil
}

// getEnvDuration retorna time.Duration da variável de ambiente ou o padrão.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("duração inválida: %q (use o formato Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel converte a string do nível de log em slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("nível de log inválido %q, valores aceitos: debug, info, warn, error", level)
	}
}
