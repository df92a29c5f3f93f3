package middleware_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shannynalayna/grid/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func TestGetSubjectFromContext(t *testing.T) {
	tests := []struct {
		name            string
		ctx             context.Context
		expectedSubject string
		expectedOK      bool
	}{
		{
			name:            "Контекст с субъектом",
			ctx:             context.WithValue(context.Background(), middleware.SubjectKey, "sync-daemon"),
			expectedSubject: "sync-daemon",
			expectedOK:      true,
		},
		{
			name:            "Пустой контекст",
			ctx:             context.Background(),
			expectedSubject: "",
			expectedOK:      false,
		},
		{
			name:            "Субъект неверного типа",
			ctx:             context.WithValue(context.Background(), middleware.SubjectKey, 123),
			expectedSubject: "",
			expectedOK:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, ok := middleware.GetSubjectFromContext(tt.ctx)
			assert.Equal(t, tt.expectedSubject, subject)
			assert.Equal(t, tt.expectedOK, ok)
		})
	}
}

// Вспомогательная функция для генерации JWT токена.
func generateTestToken(subject, secretKey string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now()),
		Issuer:    "test-issuer",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

func TestNewAuthenticator(t *testing.T) {
	// Обработчик, который будет вызван после middleware
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := middleware.GetSubjectFromContext(r.Context())
		assert.True(t, ok, "Субъект должен быть в контексте")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fmt.Sprintf("OK for %s", subject)))
	})

	authMiddleware := middleware.NewAuthenticator(testSecret)(nextHandler)

	server := httptest.NewServer(authMiddleware)
	defer server.Close()

	tests := []struct {
		name           string
		header         string // Содержимое заголовка Authorization
		expectedStatus int
		expectedBody   string // Подстрока в теле ответа
	}{
		{
			name:           "Успешная аутентификация",
			header:         generateAuthHeader(t, "sync-daemon", testSecret, time.Now().Add(time.Hour)),
			expectedStatus: http.StatusOK,
			expectedBody:   "OK for sync-daemon",
		},
		{
			name:           "Нет заголовка Authorization",
			header:         "",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Требуется аутентификация",
		},
		{
			name:           "Неверный формат заголовка (нет Bearer)",
			header:         generateTestTokenOnly(t, "sync-daemon", testSecret, time.Now().Add(time.Hour)),
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Неверный формат токена",
		},
		{
			name:           "Невалидный токен (неверный секрет)",
			header:         generateAuthHeader(t, "sync-daemon", "wrong-secret", time.Now().Add(time.Hour)),
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Невалидный токен",
		},
		{
			name:           "Истекший токен",
			header:         generateAuthHeader(t, "sync-daemon", testSecret, time.Now().Add(-time.Hour)),
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Невалидный токен",
		},
		{
			name:           "Невалидный токен (мусор)",
			header:         "Bearer garbage",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Невалидный токен",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := server.Client().Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			bodyBytes, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(bodyBytes), tt.expectedBody)
		})
	}
}

// Вспомогательная функция для генерации токена и заголовка.
func generateAuthHeader(t *testing.T, subject, secretKey string, expiresAt time.Time) string {
	t.Helper()
	token, err := generateTestToken(subject, secretKey, expiresAt)
	require.NoError(t, err, "Ошибка генерации тестового токена")
	return "Bearer " + token
}

// Вспомогательная функция для генерации только токена (тесты неверного формата заголовка).
func generateTestTokenOnly(t *testing.T, subject, secretKey string, expiresAt time.Time) string {
	t.Helper()
	token, err := generateTestToken(subject, secretKey, expiresAt)
	require.NoError(t, err, "Ошибка генерации тестового токена")
	return token
}
