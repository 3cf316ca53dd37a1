package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-analyst/internal/pkg/jwtutil"
)

const testSecret = "test-secret"

func whoami(enabled bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", Authenticate(enabled, testSecret), func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.String(http.StatusInternalServerError, "missing")
			return
		}
		c.String(http.StatusOK, id)
	})
	return router
}

func get(router http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticateWithJWT(t *testing.T) {
	token, err := jwtutil.GenerateToken(testSecret, time.Minute, "analyst@corp")
	require.NoError(t, err)

	rec := get(whoami(true), "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "analyst@corp", rec.Body.String())
}

func TestAuthenticateRejects(t *testing.T) {
	router := whoami(true)

	assert.Equal(t, http.StatusUnauthorized, get(router, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "Authorization", "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "Authorization", "Bearer not-a-token").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, UserIDHeader, "analyst@corp").Code,
		"the identity header is ignored when authentication is on")
}

func TestAuthenticateDisabledTrustsHeader(t *testing.T) {
	router := whoami(false)

	rec := get(router, UserIDHeader, " analyst@corp ")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "analyst@corp", rec.Body.String())

	rec = get(router, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
