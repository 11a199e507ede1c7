package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apierrors "github.com/prefeiturasp/sme-anexos-service/internal/api/errors"
)

func TestIntercorrenciaService_Verificar(t *testing.T) {
	t.Run("intercorrência válida", func(t *testing.T) {
		var gotPath, gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		s := NewIntercorrenciaService(srv.URL, quotaTestLogger())
		if opErr := s.Verificar(context.Background(), "abc-123", "tok"); opErr != nil {
			t.Fatalf("Verificar: %v", opErr)
		}
		if gotPath != "/verify-intercorrencia/abc-123/" {
			t.Errorf("path = %q", gotPath)
		}
		if gotAuth != "Bearer tok" {
			t.Errorf("Authorization = %q", gotAuth)
		}
	})

	t.Run("sem token pula a verificação", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		defer srv.Close()

		s := NewIntercorrenciaService(srv.URL, quotaTestLogger())
		if opErr := s.Verificar(context.Background(), "abc-123", ""); opErr != nil {
			t.Fatalf("Verificar sem token: %v", opErr)
		}
		if called {
			t.Error("serviço externo foi chamado sem token")
		}
	})

	t.Run("rejeição carrega o detail remoto", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail": "Intercorrência não encontrada."}`))
		}))
		defer srv.Close()

		s := NewIntercorrenciaService(srv.URL, quotaTestLogger())
		opErr := s.Verificar(context.Background(), "abc-123", "tok")
		if opErr == nil {
			t.Fatal("esperado erro para status 404")
		}
		if opErr.Code != apierrors.CodeExternalServiceError {
			t.Errorf("Code = %q", opErr.Code)
		}
		if opErr.Message != "Intercorrência não encontrada." {
			t.Errorf("Message = %q", opErr.Message)
		}
	})

	t.Run("corpo não-JSON vira a própria mensagem", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("acesso negado"))
		}))
		defer srv.Close()

		s := NewIntercorrenciaService(srv.URL, quotaTestLogger())
		opErr := s.Verificar(context.Background(), "abc-123", "tok")
		if opErr == nil {
			t.Fatal("esperado erro para status 403")
		}
		if opErr.Message != "acesso negado" {
			t.Errorf("Message = %q", opErr.Message)
		}
	})

	t.Run("falha de transporte", func(t *testing.T) {
		s := NewIntercorrenciaService("http://127.0.0.1:1", quotaTestLogger())
		opErr := s.Verificar(context.Background(), "abc-123", "tok")
		if opErr == nil {
			t.Fatal("esperado erro de transporte")
		}
		if !strings.Contains(opErr.Message, "serviço indisponível") {
			t.Errorf("Message = %q", opErr.Message)
		}
	})
}
