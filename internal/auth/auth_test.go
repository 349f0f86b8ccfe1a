package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) *Service {
	t.Helper()
	t.Setenv("OMS_AUTH_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	return NewService(config.AuthConfig{Enabled: true, JWTSecretEnv: "OMS_AUTH_TEST_SECRET"}, zap.NewNop())
}

func TestTokenRoundTrip(t *testing.T) {
	s := newService(t)

	token, err := s.IssueToken("hmi", "operator")
	require.NoError(t, err)

	perms, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermViewer, PermOperator}, perms)

	_, err = s.IssueToken("hmi", "superuser")
	assert.Error(t, err)
}

func TestRejectsForeignTokens(t *testing.T) {
	s := newService(t)

	other := NewJWTHandler("another-secret-another-secret-xx", time.Hour)
	token, err := other.GenerateAccessToken(uuid.New(), "x", "admin")
	require.NoError(t, err)
	_, err = s.ValidateToken(token)
	assert.Error(t, err)

	expired := NewJWTHandler("0123456789abcdef0123456789abcdef", -time.Minute)
	token, err = expired.GenerateAccessToken(uuid.New(), "x", "admin")
	require.NoError(t, err)
	_, err = s.ValidateToken(token)
	assert.Error(t, err)

	_, err = s.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newService(t)

	r := gin.New()
	r.PUT("/write", s.AuthMiddleware(), RequirePermission(PermOperator), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	viewer, err := s.IssueToken("dash", "viewer")
	require.NoError(t, err)
	operator, err := s.IssueToken("hmi", "operator")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"viewer", "Bearer " + viewer, http.StatusForbidden},
		{"operator", "Bearer " + operator, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/write", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
