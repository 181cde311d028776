package domain

import (
	"context"
	"errors"
)

type CreateCustomerRequest struct {
	Name  string
	Email string
}

type AddMemberRequest struct {
	CustomerID string
	Email      string
	Name       string
}

type ConnectOAuthAccountRequest struct {
	CustomerID      string
	Platform        OAuthPlatform
	AccountID       string
	AccountUsername string
	AccessToken     string
}

type Service interface {
	Create(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	GetByID(ctx context.Context, id string) (Customer, error)
	AddMember(ctx context.Context, req AddMemberRequest) (Member, error)
	// ConnectOAuthAccount stores the account and asks the grant engine to
	// retry grants that were waiting for it.
	ConnectOAuthAccount(ctx context.Context, req ConnectOAuthAccountRequest) (OAuthAccount, error)
	// Delete soft-deletes the customer and revokes everything it holds.
	Delete(ctx context.Context, id string) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidPlatform     = errors.New("invalid_platform")
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrNotFound            = errors.New("not_found")
)
