package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestpay/gestpay-backend/internal/domain"
)

const testSecret = "test-secret-key"

func TestIssueAndVerifyToken(t *testing.T) {
	accountID := uuid.New()

	token, err := IssueToken(accountID, testSecret, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := VerifyToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, accountID, claims.AccountID)
	assert.WithinDuration(t, time.Now(), claims.IssuedAt, 5*time.Second)
}

func TestVerifyToken_Missing(t *testing.T) {
	_, err := VerifyToken("", testSecret)
	require.ErrorIs(t, err, domain.ErrTokenMissing)
}

func TestVerifyToken_Malformed(t *testing.T) {
	_, err := VerifyToken("not-a-token", testSecret)
	require.ErrorIs(t, err, domain.ErrTokenMalformed)
}

func TestVerifyToken_Expired(t *testing.T) {
	token, err := IssueToken(uuid.New(), testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = VerifyToken(token, testSecret)
	require.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	token, err := IssueToken(uuid.New(), testSecret, time.Hour)
	require.NoError(t, err)

	_, err = VerifyToken(token, "other-secret")
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestClaims_Revoked(t *testing.T) {
	now := time.Now()
	claims := &Claims{AccountID: uuid.New(), IssuedAt: now}

	assert.False(t, claims.Revoked(now.Add(-time.Hour)), "watermark before issue")
	assert.True(t, claims.Revoked(now.Add(time.Hour)), "watermark after issue revokes")
}
