// metrics.go — métricas Prometheus HTTP do serviço de anexos.
// Registra anexos_http_requests_total e anexos_http_request_duration_seconds.
// Métricas de negócio (anexos_total, anexos_bytes_total) são registradas
// aqui e atualizadas a partir da camada de serviço.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Métricas HTTP
var (
	// httpRequestsTotal — total de requisições HTTP.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anexos_http_requests_total",
			Help: "Total de requisições HTTP ao serviço de anexos",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — histograma de duração das requisições.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anexos_http_request_duration_seconds",
			Help:    "Duração das requisições HTTP ao serviço de anexos em segundos",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Métricas de negócio (exportadas para atualização pela camada de serviço)
var (
	// OperationsTotal — total de operações sobre anexos.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anexos_operations_total",
			Help: "Total de operações sobre anexos",
		},
		[]string{"operation", "result"},
	)

	// UploadBytesTotal — bytes recebidos em uploads aceitos.
	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anexos_upload_bytes_total",
			Help: "Total de bytes recebidos em uploads aceitos",
		},
	)
)

// MetricsMiddleware retorna o middleware de coleta de métricas Prometheus.
// Registra quantidade e duração das requisições por endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Normaliza o caminho para os labels
			// (UUIDs viram {id} para conter a cardinalidade)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — wrapper para interceptar o status.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap permite que http.ResponseController alcance o ResponseWriter original.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath troca segmentos UUID por {id} para evitar explosão de
// cardinalidade nas métricas.
// /api/v1/anexos/a1b2c3d4-e5f6-7890-abcd-ef1234567890 → /api/v1/anexos/{id}
func normalizePath(path string) string {
	switch {
	case path == "/health/live",
		path == "/health/ready",
		path == "/metrics",
		path == "/api/v1/info",
		path == "/api/v1/anexos",
		path == "/api/v1/anexos/categorias-disponiveis",
		path == "/api/v1/anexos/validar-limite":
		return path
	case strings.HasPrefix(path, "/api/v1/anexos/intercorrencia/"):
		suffix := path[len("/api/v1/anexos/intercorrencia/"):]
		if strings.HasSuffix(suffix, "/url-download-todos") {
			return "/api/v1/anexos/intercorrencia/{id}/url-download-todos"
		}
		return "/api/v1/anexos/intercorrencia/{id}"
	case len(path) > len("/api/v1/anexos/") && isUUIDSegment(path, "/api/v1/anexos/"):
		// /api/v1/anexos/{uuid}[/download | /url-download]
		suffix := path[len("/api/v1/anexos/")+36:]
		switch suffix {
		case "":
			return "/api/v1/anexos/{id}"
		case "/download":
			return "/api/v1/anexos/{id}/download"
		case "/url-download":
			return "/api/v1/anexos/{id}/url-download"
		}
	}
	return path
}

// isUUIDSegment verifica se o segmento após prefix começa com um UUID.
func isUUIDSegment(path, prefix string) bool {
	if len(path) < len(prefix)+36 {
		return false
	}
	segment := path[len(prefix) : len(prefix)+36]
	// Formato UUID: 8-4-4-4-12
	for i, c := range segment {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
		} else {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return false
			}
		}
	}
	return true
}
