package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/service"
)

type accountRegistrar interface {
	Register(ctx context.Context, reg service.Registration) (*domain.Account, string, error)
	Login(ctx context.Context, identifier, password string) (*domain.Account, string, error)
}

type AuthHandler struct {
	accounts accountRegistrar
}

func NewAuthHandler(accounts accountRegistrar) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

type registerRequest struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	PhoneNumber  string `json:"phone_number"`
	Password     string `json:"password"`
	Role         string `json:"role"`
	MerchantName string `json:"merchant_name"`
}

func (r registerRequest) Validate() []FieldError {
	var errs []FieldError
	if r.FirstName == "" {
		errs = append(errs, FieldError{Field: "first_name", Message: "required"})
	}
	if r.Email == "" {
		errs = append(errs, FieldError{Field: "email", Message: "required"})
	}
	if r.PhoneNumber == "" {
		errs = append(errs, FieldError{Field: "phone_number", Message: "required"})
	}
	if len(r.Password) < 8 {
		errs = append(errs, FieldError{Field: "password", Message: "must be at least 8 characters"})
	}
	return errs
}

type loginRequest struct {
	Identifier string `json:"identifier"` // email or phone number
	Password   string `json:"password"`
}

func (r loginRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Identifier == "" {
		errs = append(errs, FieldError{Field: "identifier", Message: "required"})
	}
	if r.Password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "required"})
	}
	return errs
}

type authResponse struct {
	Token   string     `json:"token"`
	Account accountDTO `json:"account"`
}

type accountDTO struct {
	ID           uuid.UUID `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	PhoneNumber  string    `json:"phone_number"`
	Role         string    `json:"role"`
	MerchantName *string   `json:"merchant_name,omitempty"`
}

func toAccountDTO(a *domain.Account) accountDTO {
	return accountDTO{
		ID:           a.ID,
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		Email:        a.Email,
		PhoneNumber:  a.PhoneNumber,
		Role:         string(a.Role),
		MerchantName: a.MerchantName,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	account, token, err := h.accounts.Register(r.Context(), service.Registration{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		Password:     req.Password,
		Role:         domain.Role(req.Role),
		MerchantName: req.MerchantName,
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, authResponse{Token: token, Account: toAccountDTO(account)})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	account, token, err := h.accounts.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, authResponse{Token: token, Account: toAccountDTO(account)})
}
