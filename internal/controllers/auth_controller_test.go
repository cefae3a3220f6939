package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/middleware"
	"github.com/findoc/backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour}
	conn := openTestDB(t)
	ac := NewAuthController(conn, cfg)
	uc := NewUserController(conn)

	r := gin.New()
	r.POST("/auth/register", ac.Register)
	r.POST("/auth/login", ac.Login)
	protected := r.Group("/", middleware.AuthMiddleware(cfg))
	protected.POST("/auth/change-password", ac.ChangePassword)
	protected.GET("/users/me", uc.GetCurrentUser)
	return r
}

func postJSON(r *gin.Engine, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return serve(r, req)
}

func TestRegisterAndLogin(t *testing.T) {
	r := authRouter(t)

	w := postJSON(r, "/auth/register", `{"email":"Ana@Example.com","password":"secret1","firstName":"Ana","lastName":"Lyst"}`, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reg AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "ana@example.com", reg.User.Email)
	assert.Equal(t, models.RoleUser, reg.User.Role)

	w = postJSON(r, "/auth/register", `{"email":"ana@example.com","password":"secret1","firstName":"Ana","lastName":"Lyst"}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = postJSON(r, "/auth/login", `{"email":"ana@example.com","password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(r, "/auth/login", `{"email":"ana@example.com","password":"secret1"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	require.NotNil(t, login.User.LastLoginAt)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "ana@example.com")
}

func TestChangePassword(t *testing.T) {
	r := authRouter(t)

	w := postJSON(r, "/auth/register", `{"email":"bo@example.com","password":"secret1","firstName":"Bo","lastName":"B"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var reg AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))

	w = postJSON(r, "/auth/change-password", `{"currentPassword":"nope","newPassword":"secret2"}`, reg.Token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(r, "/auth/change-password", `{"currentPassword":"secret1","newPassword":"secret2"}`, reg.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postJSON(r, "/auth/login", `{"email":"bo@example.com","password":"secret2"}`, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	r := authRouter(t)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/users/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
