package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// setEnvVars define variáveis de ambiente para o teste e retorna a função
// de limpeza. Sempre chamar com defer cleanup().
func setEnvVars(t *testing.T, vars map[string]string) func() {
	t.Helper()

	// Guarda os valores originais
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for k := range vars {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
	}

	for k, v := range vars {
		os.Setenv(k, v)
	}

	return func() {
		for k := range vars {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// clearAllAnexosEnvVars limpa todas as variáveis ANEXOS_* para um teste limpo.
func clearAllAnexosEnvVars(t *testing.T) func() {
	t.Helper()
	keys := []string{
		"ANEXOS_PORT", "ANEXOS_SERVICE_ID",
		"ANEXOS_HTTP_READ_TIMEOUT", "ANEXOS_HTTP_WRITE_TIMEOUT", "ANEXOS_HTTP_IDLE_TIMEOUT",
		"ANEXOS_MINIO_ENDPOINT", "ANEXOS_MINIO_ACCESS_KEY", "ANEXOS_MINIO_SECRET_KEY",
		"ANEXOS_MINIO_BUCKET", "ANEXOS_MINIO_USE_HTTPS", "ANEXOS_MINIO_BASE_URL",
		"ANEXOS_MINIO_PRESIGN_TTL", "ANEXOS_MINIO_TIMEOUT",
		"ANEXOS_DB_PATH",
		"ANEXOS_AUTH_VERIFY_URL", "ANEXOS_AUTH_ME_URL",
		"ANEXOS_JWT_SECRET", "ANEXOS_JWT_PUBLIC_KEY",
		"ANEXOS_INTERCORRENCIAS_API_URL",
		"ANEXOS_LOG_LEVEL", "ANEXOS_LOG_FORMAT",
		"ANEXOS_RECONCILE_INTERVAL", "ANEXOS_SHUTDOWN_TIMEOUT",
		"ANEXOS_DEPHEALTH_CHECK_INTERVAL", "ANEXOS_DEPHEALTH_GROUP", "DEPHEALTH_NAME",
	}
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// requiredEnvVars retorna o conjunto mínimo de variáveis obrigatórias.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"ANEXOS_MINIO_ENDPOINT":   "minio.local:9000",
		"ANEXOS_MINIO_ACCESS_KEY": "minio",
		"ANEXOS_MINIO_SECRET_KEY": "minio123",
		"ANEXOS_DB_PATH":          "/data/anexos.db",
		"ANEXOS_AUTH_VERIFY_URL":  "https://auth.local/api/token/verify/",
		"ANEXOS_JWT_SECRET":       "segredo",
	}
}

func TestLoad_Defaults(t *testing.T) {
	restore := clearAllAnexosEnvVars(t)
	defer restore()
	cleanup := setEnvVars(t, requiredEnvVars())
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, esperado 8080", cfg.Port)
	}
	if cfg.ServiceID != "anexos-service" {
		t.Errorf("ServiceID = %q", cfg.ServiceID)
	}
	if cfg.HTTPReadTimeout != 30*time.Second {
		t.Errorf("HTTPReadTimeout = %v", cfg.HTTPReadTimeout)
	}
	if cfg.HTTPWriteTimeout != 60*time.Second {
		t.Errorf("HTTPWriteTimeout = %v", cfg.HTTPWriteTimeout)
	}
	if cfg.HTTPIdleTimeout != 120*time.Second {
		t.Errorf("HTTPIdleTimeout = %v", cfg.HTTPIdleTimeout)
	}
	if cfg.MinioBucket != "anexos" {
		t.Errorf("MinioBucket = %q", cfg.MinioBucket)
	}
	if cfg.MinioUseHTTPS {
		t.Error("MinioUseHTTPS = true, esperado false")
	}
	if cfg.MinioPresignTTL != time.Hour {
		t.Errorf("MinioPresignTTL = %v", cfg.MinioPresignTTL)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.DephealthCheckInterval != 15*time.Second {
		t.Errorf("DephealthCheckInterval = %v", cfg.DephealthCheckInterval)
	}
	if cfg.ReconcileInterval != 6*time.Hour {
		t.Errorf("ReconcileInterval = %v", cfg.ReconcileInterval)
	}
	if cfg.IntercorrenciasAPIURL != "" {
		t.Errorf("IntercorrenciasAPIURL = %q, esperado vazio", cfg.IntercorrenciasAPIURL)
	}
}

func TestLoad_ObrigatoriasAusentes(t *testing.T) {
	restore := clearAllAnexosEnvVars(t)
	defer restore()

	required := requiredEnvVars()
	for missing := range required {
		t.Run(missing, func(t *testing.T) {
			vars := make(map[string]string, len(required)-1)
			for k, v := range required {
				if k != missing {
					vars[k] = v
				}
			}
			cleanup := setEnvVars(t, vars)
			defer cleanup()

			if _, err := Load(); err == nil {
				t.Errorf("Load sem %s deveria falhar", missing)
			}
		})
	}
}

func TestLoad_ValoresCustomizados(t *testing.T) {
	restore := clearAllAnexosEnvVars(t)
	defer restore()

	vars := requiredEnvVars()
	vars["ANEXOS_PORT"] = "9090"
	vars["ANEXOS_MINIO_USE_HTTPS"] = "true"
	vars["ANEXOS_MINIO_PRESIGN_TTL"] = "30m"
	vars["ANEXOS_LOG_LEVEL"] = "debug"
	vars["ANEXOS_LOG_FORMAT"] = "text"
	vars["ANEXOS_INTERCORRENCIAS_API_URL"] = "https://intercorrencias.local/api"
	vars["ANEXOS_HTTP_WRITE_TIMEOUT"] = "90s"
	cleanup := setEnvVars(t, vars)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if !cfg.MinioUseHTTPS {
		t.Error("MinioUseHTTPS = false")
	}
	if cfg.MinioPresignTTL != 30*time.Minute {
		t.Errorf("MinioPresignTTL = %v", cfg.MinioPresignTTL)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.HTTPWriteTimeout != 90*time.Second {
		t.Errorf("HTTPWriteTimeout = %v", cfg.HTTPWriteTimeout)
	}
}

func TestLoad_ValoresInvalidos(t *testing.T) {
	restore := clearAllAnexosEnvVars(t)
	defer restore()

	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"porta não numérica", "ANEXOS_PORT", "abc"},
		{"porta fora do intervalo", "ANEXOS_PORT", "70000"},
		{"booleano inválido", "ANEXOS_MINIO_USE_HTTPS", "talvez"},
		{"duração inválida", "ANEXOS_SHUTDOWN_TIMEOUT", "5 segundos"},
		{"timeout HTTP inválido", "ANEXOS_HTTP_READ_TIMEOUT", "trinta"},
		{"nível de log inválido", "ANEXOS_LOG_LEVEL", "verbose"},
		{"formato de log inválido", "ANEXOS_LOG_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := requiredEnvVars()
			vars[tt.key] = tt.val
			cleanup := setEnvVars(t, vars)
			defer cleanup()

			if _, err := Load(); err == nil {
				t.Errorf("Load com %s=%q deveria falhar", tt.key, tt.val)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if err != nil {
			t.Errorf("parseLogLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, esperado %v", tt.in, got, tt.want)
		}
	}
}
