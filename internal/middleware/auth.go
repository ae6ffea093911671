package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gestpay/gestpay-backend/internal/auth"
	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/handler"
)

type accountLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

// Auth verifies the bearer token and enforces revocation: tokens issued
// before the account's credential watermark (bumped on password change) are
// rejected, as are tokens for deactivated accounts.
func Auth(secret string, accounts accountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrMalformedToken, nil)
				return
			}

			claims, err := auth.VerifyToken(token, secret)
			if err != nil {
				handler.RespondDomainError(w, err)
				return
			}

			account, err := accounts.GetByID(r.Context(), claims.AccountID)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}
			if claims.Revoked(account.CredentialsValidFrom) {
				handler.RespondAppError(w, handler.ErrExpiredToken, nil)
				return
			}
			if account.Status == domain.AccountStatusDeactivated {
				handler.RespondAppError(w, handler.ErrAccountDeactivated, nil)
				return
			}

			ctx := auth.ContextWithAccountID(r.Context(), claims.AccountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
