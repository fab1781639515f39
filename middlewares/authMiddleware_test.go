package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/stretchr/testify/require"
)

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/whoami", func(c *gin.Context) {
		ctx := c.Request.Context()
		username, _ := utils.GetUsernameFromContext(ctx)
		role, _ := utils.GetRoleFromContext(ctx)
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		device, _ := utils.GetDeviceIdFromContext(ctx)
		c.JSON(http.StatusOK, gin.H{"username": username, "role": role, "correlation_id": cid, "device_id": device})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	t.Setenv("API_SECRET", "test-secret")
	r := newTestRouter(AuthMiddleware(), RequireUser(), RequireRole("SUPERVISOR", "ADMIN"))

	token, err := utils.JwtGenerate(7, "sam", "supervisor")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"username":"sam"`)

	operator, err := utils.JwtGenerate(8, "olga", "OPERATOR")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+operator)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestContext(t *testing.T) {
	r := newTestRouter(RequestContext())

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("x-correlation-id", "cid-1")
	req.Header.Set("x-device-id", "RF-09")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "cid-1", w.Header().Get("x-correlation-id"))
	require.Contains(t, w.Body.String(), `"device_id":"RF-09"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.NotEmpty(t, w.Header().Get("x-correlation-id"))
}
