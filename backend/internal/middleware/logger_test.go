package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAccessLogger_RedactsEventStreamToken(t *testing.T) {
	var out bytes.Buffer
	router := setupTestGin()
	router.Use(AccessLogger(&out))
	router.GET("/ws", func(c *gin.Context) {
		c.Status(http.StatusUnauthorized)
	})

	req := httptest.NewRequest(http.MethodGet, "/ws?token=eyJhbGciOi.secret.sig&since=4", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	line := out.String()
	assert.NotContains(t, line, "eyJhbGciOi")
	assert.Contains(t, line, "token=REDACTED")
	assert.Contains(t, line, "since=4")
	assert.Contains(t, line, "401")
}

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/tasks", "/api/tasks"},
		{"/api/tasks?status=Todo", "/api/tasks?status=Todo"},
		{"/ws?token=abc", "/ws?token=REDACTED"},
		{"/api/auth/refresh?refresh_token=abc&x=1", "/api/auth/refresh?refresh_token=REDACTED&x=1"},
		{"/ws?token=%zz", "/ws?REDACTED"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, redactQuery(tt.in), tt.in)
	}
}
