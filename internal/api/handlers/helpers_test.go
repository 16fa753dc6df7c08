package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MacJediWizard/aegis/internal/api/middleware"
	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type routeRegistrar interface {
	RegisterRoutes(r *gin.RouterGroup)
}

func testIdentity(role auth.Role) *auth.Identity {
	return &auth.Identity{UserID: uuid.New(), TenantID: uuid.New(), Role: role, Email: "user@example.com"}
}

// setupTestRouter mounts h under /api/v1 with identity injected as the auth
// middleware would. A nil identity leaves the request anonymous.
func setupTestRouter(h routeRegistrar, identity *auth.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if identity != nil {
			c.Set(string(middleware.IdentityContextKey), identity)
		}
		c.Next()
	})
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func expectErrorCode(t *testing.T, w *httptest.ResponseRecorder, want apperr.Code) {
	t.Helper()
	var body apperr.Body
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal error body %q: %v", w.Body.String(), err)
	}
	if body.ErrorCode != want {
		t.Fatalf("expected error_code %q, got %q (%s)", want, body.ErrorCode, body.Message)
	}
	if body.Message == "" {
		t.Fatal("expected a non-empty message")
	}
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
}
