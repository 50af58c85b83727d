package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/internal/database/dbtest"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(dbtest.Open(t, &User{}), "test-secret", time.Hour)
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "Pat Provider", RoleProvider, "prov-key", "prov-secret", "PRV_1")
	require.NoError(t, err)

	token, err := svc.GenerateToken(ctx, Credentials{APIKey: "prov-key", APISecret: "prov-secret"})
	require.NoError(t, err)
	assert.Equal(t, user.UserID, token.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.Expiration, 5*time.Second)

	principal, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, user.UserID, principal.UserID)
	assert.Equal(t, RoleProvider, principal.Role)
	assert.Equal(t, "PRV_1", principal.ProviderID)
	assert.True(t, principal.OwnsProvider("PRV_1"))
	assert.False(t, principal.OwnsProvider("PRV_2"))
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "Casey", RoleCustomer, "cust-key", "cust-secret", "")
	require.NoError(t, err)

	_, err = svc.GenerateToken(ctx, Credentials{APIKey: "cust-key", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GenerateToken(ctx, Credentials{APIKey: "unknown", APISecret: "cust-secret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	svc := newTestService(t)
	other := NewService(dbtest.Open(t, &User{}), "other-secret", time.Hour)
	ctx := context.Background()

	_, err := other.CreateUser(ctx, "Eve", RoleAdmin, "eve-key", "eve-secret", "")
	require.NoError(t, err)
	token, err := other.GenerateToken(ctx, Credentials{APIKey: "eve-key", APISecret: "eve-secret"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token.Token)
	assert.Error(t, err)
}

func TestGetUserNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetUser(context.Background(), "USR_missing")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

func TestGenerateTokenHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)
	_, err := svc.CreateUser(context.Background(), "Casey", RoleCustomer, "cust-key", "cust-secret", "")
	require.NoError(t, err)

	router := gin.New()
	router.POST("/auth/token", NewGinHandlers(svc).GenerateTokenHandler())

	post := func(body any) *httptest.ResponseRecorder {
		b, _ := json.Marshal(body)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w
	}

	w := post(Credentials{APIKey: "cust-key", APISecret: "cust-secret"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jwt_token")

	w = post(Credentials{APIKey: "cust-key", APISecret: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(map[string]string{"api_key": "cust-key"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
