package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropgate/dropgate/config"
	"github.com/dropgate/dropgate/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	config.SetForTesting(config.AppConfig{
		JWTSecret:      "test-secret",
		AdminUsernames: []string{"root"},
	})
}

func authRig(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mw, func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"user_id": CallerID(ctx),
			"admin":   IsAdmin(ctx),
		})
	})
	r.GET("/whoami", handlers...)
	return r
}

func get(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	r := authRig(AuthRequired())

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	})
	t.Run("not bearer", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(r, "Basic abc").Code)
	})
	t.Run("garbage token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer not.a.jwt").Code)
	})
	t.Run("valid token", func(t *testing.T) {
		token, err := utils.GenerateToken("user-1", "", time.Hour)
		require.NoError(t, err)
		rec := get(r, "Bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"user_id":"user-1"`)
		assert.Contains(t, rec.Body.String(), `"admin":false`)
	})
	t.Run("expired token", func(t *testing.T) {
		token, err := utils.GenerateToken("user-1", "", -time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer "+token).Code)
	})
}

func TestOptionalAuth(t *testing.T) {
	r := authRig(OptionalAuth())

	t.Run("anonymous passes through", func(t *testing.T) {
		rec := get(r, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"user_id":""`)
	})
	t.Run("bad token is ignored", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get(r, "Bearer junk").Code)
	})
	t.Run("valid token attaches identity", func(t *testing.T) {
		token, err := utils.GenerateToken("user-2", "", time.Hour)
		require.NoError(t, err)
		rec := get(r, "Bearer "+token)
		assert.Contains(t, rec.Body.String(), `"user_id":"user-2"`)
	})
}

func TestAdminRequired(t *testing.T) {
	r := authRig(AuthRequired(), AdminRequired())

	t.Run("plain user rejected", func(t *testing.T) {
		token, err := utils.GenerateToken("user-1", "", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, get(r, "Bearer "+token).Code)
	})
	t.Run("role claim grants access", func(t *testing.T) {
		token, err := utils.GenerateToken("user-1", RoleAdmin, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, get(r, "Bearer "+token).Code)
	})
	t.Run("allow-listed subject grants access", func(t *testing.T) {
		token, err := utils.GenerateToken("root", "", time.Hour)
		require.NoError(t, err)
		rec := get(r, "Bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"admin":true`)
	})
}
