package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/model"
)

type fakeRoster struct {
	ops map[string]*model.Operator
	err error
}

func (f fakeRoster) FindOperator(_ context.Context, id string) (*model.Operator, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ops[id], nil
}

func testAuthConfig(t *testing.T) *config.Config {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	return &config.Config{
		JWTSecret:         "test-secret",
		JWTExpiry:         time.Hour,
		BcryptCost:        bcrypt.MinCost,
		AdminUsername:     "admin",
		AdminPasswordHash: string(hash),
	}
}

func TestVerifyOperatorWithoutRoster(t *testing.T) {
	auth := NewAuthService(testAuthConfig(t), nil, nil, zerolog.Nop())

	op, token, err := auth.VerifyOperator(context.Background(), "  OP-7 ")
	require.NoError(t, err)
	assert.Equal(t, "OP-7", op.OperatorID)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeOperator, claims.TokenType)
	assert.Equal(t, "OP-7", claims.OperatorID)
	assert.NotEmpty(t, claims.ID)

	_, _, err = auth.VerifyOperator(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrOperatorNotFound)
}

func TestVerifyOperatorWithRoster(t *testing.T) {
	roster := fakeRoster{ops: map[string]*model.Operator{
		"OP-1": {OperatorID: "OP-1", Name: "Ayu", Status: "Active"},
		"OP-2": {OperatorID: "OP-2", Status: "Inactive"},
	}}
	auth := NewAuthService(testAuthConfig(t), nil, roster, zerolog.Nop())
	ctx := context.Background()

	op, _, err := auth.VerifyOperator(ctx, "OP-1")
	require.NoError(t, err)
	assert.Equal(t, "Ayu", op.Name)

	_, _, err = auth.VerifyOperator(ctx, "OP-2")
	assert.ErrorIs(t, err, ErrOperatorInactive)

	_, _, err = auth.VerifyOperator(ctx, "OP-9")
	assert.ErrorIs(t, err, ErrOperatorNotFound)

	down := NewAuthService(testAuthConfig(t), nil, fakeRoster{err: errors.New("quota")}, zerolog.Nop())
	_, _, err = down.VerifyOperator(ctx, "OP-1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestAdminLogin(t *testing.T) {
	cfg := testAuthConfig(t)
	auth := NewAuthService(cfg, nil, nil, zerolog.Nop())

	token, err := auth.AdminLogin("admin", "s3cret-pass")
	require.NoError(t, err)
	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeAdmin, claims.TokenType)
	assert.Equal(t, "admin", claims.Username)

	_, err = auth.AdminLogin("admin", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.AdminLogin("root", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	cfg.AdminPasswordHash = ""
	_, err = auth.AdminLogin("admin", "s3cret-pass")
	assert.ErrorIs(t, err, ErrAdminDisabled)
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	auth := NewAuthService(testAuthConfig(t), nil, nil, zerolog.Nop())
	token, err := auth.GenerateAdminToken("admin")
	require.NoError(t, err)

	other := testAuthConfig(t)
	other.JWTSecret = "another-secret"
	_, err = NewAuthService(other, nil, nil, zerolog.Nop()).ValidateToken(token)
	assert.Error(t, err)
}

func TestOperatorSessionChecksSkippedWithoutRedis(t *testing.T) {
	auth := NewAuthService(testAuthConfig(t), nil, nil, zerolog.Nop())
	assert.NoError(t, auth.ValidateOperatorSession(context.Background(), "OP-1", "any"))
	assert.NoError(t, auth.ResetOperatorSession(context.Background(), "OP-1"))
}
