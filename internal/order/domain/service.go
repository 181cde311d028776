package domain

import (
	"context"
	"errors"
)

type CreateOrderRequest struct {
	CustomerID string
	ProductID  string
	MemberID   string
}

// Service records one-time purchases. A paid order grants the product's
// benefits; a refund revokes them.
type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (Order, error)
	GetByID(ctx context.Context, id string) (Order, error)
	Refund(ctx context.Context, id string) (Order, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidOrder        = errors.New("invalid_order")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidProduct      = errors.New("invalid_product")
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrAlreadyRefunded     = errors.New("order_already_refunded")
)
