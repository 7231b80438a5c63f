package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averix/go-order-api/internal/dto"
	"github.com/averix/go-order-api/internal/model"
)

func newAuthFixture() (*AuthService, *mockUserRepo, *mockAuditRepo) {
	users := newMockUserRepo()
	audit := newMockAuditRepo()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewAuthService(users, audit, "test-secret", time.Hour, log)
	return svc, users, audit
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	svc, _, audit := newAuthFixture()
	ctx := context.Background()

	resp, err := svc.Register(ctx, dto.RegisterRequest{
		Email: "jo@example.com", Password: "hunter22", FirstName: "Jo", LastName: "D",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "customer", resp.User.Role)

	_, err = svc.Register(ctx, dto.RegisterRequest{Email: "jo@example.com", Password: "other"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	login, err := svc.Login(ctx, dto.LoginRequest{Email: "jo@example.com", Password: "hunter22"},
		AccessMeta{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)

	claims := &dto.TokenClaims{}
	_, err = jwt.ParseWithClaims(login.Token, claims,
		func(*jwt.Token) (any, error) { return []byte("test-secret"), nil })
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID.String(), claims.Subject)
	assert.Equal(t, model.RoleCustomer, claims.Role)

	require.Len(t, audit.accesses, 1)
	assert.True(t, audit.accesses[0].Success)
	assert.Equal(t, "10.0.0.1", audit.accesses[0].IP)
}

func TestAuthService_Login_BadCredentials(t *testing.T) {
	svc, _, audit := newAuthFixture()
	ctx := context.Background()

	_, err := svc.Register(ctx, dto.RegisterRequest{Email: "jo@example.com", Password: "hunter22"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "jo@example.com", Password: "wrong"}, AccessMeta{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "nobody@example.com", Password: "x"}, AccessMeta{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Failed attempts land in the access log too.
	require.Len(t, audit.accesses, 2)
	assert.False(t, audit.accesses[0].Success)
	assert.False(t, audit.accesses[1].Success)
}

func TestAuthService_Login_AccessLogFailureDoesNotBlock(t *testing.T) {
	svc, _, audit := newAuthFixture()
	ctx := context.Background()

	_, err := svc.Register(ctx, dto.RegisterRequest{Email: "jo@example.com", Password: "hunter22"})
	require.NoError(t, err)

	audit.failWith = assert.AnError
	login, err := svc.Login(ctx, dto.LoginRequest{Email: "jo@example.com", Password: "hunter22"}, AccessMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)
}
