package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenClaims(t *testing.T) {
	raw, err := NewToken("k", "ana", RoleStaff, time.Minute)
	require.NoError(t, err)
	claims := &Claims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte("k"), nil })
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.Subject)
	assert.Equal(t, RoleStaff, claims.Role)
	assert.Equal(t, "villadispatch", claims.Issuer)
}

func TestAuthRejectsOtherAlgorithms(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", Auth("k"), func(c *gin.Context) { c.String(http.StatusOK, StaffID(c)) })

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+none)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	good, err := NewToken("k", "ana", RoleStaff, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+good)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ana", rr.Body.String())
}

func TestRateLimiterPerClient(t *testing.T) {
	l := NewRateLimiter(0.001, 2)
	assert.True(t, l.Allow("ana"))
	assert.True(t, l.Allow("ana"))
	assert.False(t, l.Allow("ana"))
	assert.True(t, l.Allow("ben"))
}

func TestRateLimiterCleanup(t *testing.T) {
	l := NewRateLimiter(1, 1)
	l.Allow("ana")
	l.idle = -time.Second
	l.Cleanup()
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.clients)
}
