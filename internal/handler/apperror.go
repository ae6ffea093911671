package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken       = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrMalformedToken     = &AppError{http.StatusUnauthorized, "MALFORMED_TOKEN", "Token is malformed"}
	ErrExpiredToken       = &AppError{http.StatusUnauthorized, "EXPIRED_TOKEN", "Token has expired"}
	ErrInvalidToken       = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid"}
	ErrInvalidCredentials = &AppError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials"}
	ErrInvalidRequest     = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed   = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound   = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError      = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount       = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be positive with at most two decimal places"}
	ErrInsufficientFunds   = &AppError{http.StatusBadRequest, "INSUFFICIENT_BALANCE", "Insufficient balance"}
	ErrLimitExceeded       = &AppError{http.StatusBadRequest, "TRANSFER_LIMIT_EXCEEDED", "Amount is outside the allowed transfer limits"}
	ErrSelfTransfer        = &AppError{http.StatusBadRequest, "SELF_TRANSFER_NOT_ALLOWED", "Cannot transfer to your own wallet"}
	ErrMissingBankDetails  = &AppError{http.StatusBadRequest, "MISSING_BANK_DETAILS", "Bank code and account number are required"}
	ErrRecipientNotFound   = &AppError{http.StatusNotFound, "RECIPIENT_NOT_FOUND", "Recipient not found"}
	ErrAccountNotFound     = &AppError{http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found"}
	ErrAccountExists       = &AppError{http.StatusConflict, "ACCOUNT_ALREADY_EXISTS", "An account with this email or phone number already exists"}
	ErrAccountDeactivated  = &AppError{http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account is deactivated"}
	ErrDuplicateReference  = &AppError{http.StatusConflict, "DUPLICATE_REFERENCE", "Transaction reference already used"}
	ErrConcurrencyConflict = &AppError{http.StatusConflict, "CONCURRENCY_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrInvalidTransition   = &AppError{http.StatusConflict, "INVALID_TRANSITION", "Transaction is not in a state that allows this operation"}

	ErrPinNotSet           = &AppError{http.StatusBadRequest, "PIN_NOT_SET", "Set a transaction PIN first"}
	ErrInvalidPin          = &AppError{http.StatusUnauthorized, "INVALID_PIN", "Incorrect PIN"}
	ErrConfirmationMissing = &AppError{http.StatusNotFound, "CONFIRMATION_NOT_FOUND", "Confirmation not found or already used"}
	ErrConfirmationExpired = &AppError{http.StatusGone, "CONFIRMATION_EXPIRED", "Confirmation has expired"}

	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
)
