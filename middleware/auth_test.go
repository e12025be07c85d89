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

const secret = "test-secret"

func protectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", AuthMiddleware(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetUint("user_id"), "role": c.GetString("role")})
	})
	return router
}

func validToken(t *testing.T, userID uint) string {
	t.Helper()
	signed, err := GenerateToken(userID, "student", secret, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	expired, err := GenerateToken(7, "student", secret, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	require.NoError(t, err)
	wrongKey, err := GenerateToken(7, "student", "other-secret", jwt.RegisteredClaims{})
	require.NoError(t, err)
	noUser, err := GenerateToken(0, "student", secret, jwt.RegisteredClaims{})
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + validToken(t, 7), "", http.StatusOK},
		{"lowercase scheme", "bearer " + validToken(t, 7), "", http.StatusOK},
		{"query token", "", validToken(t, 7), http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", "", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, "", http.StatusUnauthorized},
		{"no user id", "Bearer " + noUser, "", http.StatusUnauthorized},
	}

	router := protectedRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := "/me"
			if tc.query != "" {
				path += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK {
				assert.JSONEq(t, `{"user_id":7,"role":"student"}`, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), `"success":false`)
			}
		})
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: 7})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = ParseToken(signed, secret)
	assert.Error(t, err)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS([]string{"https://lms.example.com"}))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://lms.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "https://lms.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
