package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidAmount       = errors.New("amount must be a positive value with at most two decimal places")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountNotFound     = errors.New("account not found")
	ErrRecipientNotFound   = errors.New("recipient not found")
	ErrSelfTransfer        = errors.New("cannot transfer to own account")
	ErrMissingBankDetails  = errors.New("bank code and account number required for external transfers")
	ErrInvalidTransition   = errors.New("illegal transaction status transition")
	ErrConcurrencyConflict = errors.New("concurrent modification, retry the operation")
	ErrStorageFailure      = errors.New("storage unavailable")
	ErrDuplicateReference  = errors.New("transaction reference already used")
	ErrAccountDeactivated  = errors.New("account deactivated")
	ErrAccountExists       = errors.New("account already exists for this email or phone number")
	ErrLimitExceeded       = errors.New("transfer amount outside configured limits")
	ErrInvalidRequest      = errors.New("invalid request")

	ErrTokenMissing   = errors.New("no bearer token provided")
	ErrTokenMalformed = errors.New("bearer token malformed")
	ErrTokenExpired   = errors.New("bearer token expired")
	ErrTokenInvalid   = errors.New("bearer token invalid")

	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrPinNotSet            = errors.New("payment pin not set")
	ErrInvalidPin           = errors.New("invalid payment pin")
	ErrConfirmationNotFound = errors.New("confirmation token invalid or already used")
	ErrConfirmationExpired  = errors.New("confirmation token expired")
)
