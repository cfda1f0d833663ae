package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	token, err := tm.Issue(100, "sess-1")
	require.NoError(t, err)

	claims, err := tm.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(100), claims.CourierID)
	assert.Equal(t, "sess-1", claims.SessionID)
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewTokenManager("secret-a", time.Hour).Issue(100, "sess-1")
	require.NoError(t, err)

	_, err = NewTokenManager("secret-b", time.Hour).Verify(token)
	assert.Error(t, err)
}

func TestVerifyExpiredToken(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)
	tm.ttl = -time.Minute

	token, err := tm.Issue(100, "sess-1")
	require.NoError(t, err)

	_, err = tm.Verify(token)
	assert.Error(t, err)
}

func TestMiddlewareSetsIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tm := NewTokenManager("test-secret", time.Hour)

	router := gin.New()
	router.Use(tm.Middleware())
	router.GET("/whoami", func(c *gin.Context) {
		courierID, sessionID, ok := CourierFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"courier_id": courierID, "session_id": sessionID})
	})

	token, err := tm.Issue(100, "sess-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"courier_id":100`)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tm := NewTokenManager("test-secret", time.Hour)

	router := gin.New()
	router.Use(tm.Middleware())
	router.GET("/whoami", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsGarbageToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tm := NewTokenManager("test-secret", time.Hour)

	router := gin.New()
	router.Use(tm.Middleware())
	router.GET("/whoami", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
