// Package auth implements the authentication gate: issuing opaque bearer
// credentials bound to an account and verifying them back to an account id.
// Token lifecycle is Issued -> Valid -> (Expired | Revoked); revocation is
// implemented as a per-account validity watermark checked by the caller.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gestpay/gestpay-backend/internal/domain"
)

type Claims struct {
	AccountID uuid.UUID
	IssuedAt  time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
}

func IssueToken(accountID uuid.UUID, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		AccountID: accountID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("IssueToken: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a bearer token and returns the claims bound to it.
// The error wraps one of the domain token kinds so callers can map it to a
// stable response code.
func VerifyToken(tokenString string, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("VerifyToken: %w", domain.ErrTokenMissing)
	}

	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("VerifyToken: %w", domain.ErrTokenMalformed)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("VerifyToken: %w", domain.ErrTokenExpired)
		default:
			return nil, fmt.Errorf("VerifyToken: %w", domain.ErrTokenInvalid)
		}
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("VerifyToken: %w", domain.ErrTokenInvalid)
	}

	accountID, err := uuid.Parse(tc.AccountID)
	if err != nil {
		return nil, fmt.Errorf("VerifyToken: %w", domain.ErrTokenMalformed)
	}
	if tc.IssuedAt == nil {
		return nil, fmt.Errorf("VerifyToken: %w", domain.ErrTokenMalformed)
	}

	return &Claims{AccountID: accountID, IssuedAt: tc.IssuedAt.Time}, nil
}

// Revoked reports whether a token was issued before the account's current
// credential watermark. Password changes bump the watermark, invalidating
// every token issued earlier.
func (c *Claims) Revoked(validFrom time.Time) bool {
	// Allow a second of clock skew between issue and the watermark write.
	return c.IssuedAt.Add(time.Second).Before(validFrom)
}
