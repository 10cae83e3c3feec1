package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"certops/internal/auth"
	"certops/internal/httpx"

	"github.com/gin-gonic/gin"
)

func setupProtectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", AuthRequired(), func(c *gin.Context) {
		operator, _ := c.Get("operator")
		httpx.OK(c, gin.H{"operator": operator})
	})
	return r
}

func TestAuthRequired(t *testing.T) {
	auth.InitJWT("test-secret")

	valid, err := auth.GenerateToken("ops", "operator", time.Now().Add(time.Hour), "certops")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	expired, err := auth.GenerateToken("ops", "operator", time.Now().Add(-time.Minute), "certops")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid token", header: "Bearer " + valid, wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, wantStatus: http.StatusUnauthorized},
		{name: "expired token", header: "Bearer " + expired, wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not.a.token", wantStatus: http.StatusUnauthorized},
	}

	r := setupProtectedRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
