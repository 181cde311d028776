package domain

import (
	"context"
	"errors"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Product, error)
	Get(ctx context.Context, id string) (Product, error)
	// SetBenefits replaces the product's benefits and reconciles every active
	// subscription on the product in the background.
	SetBenefits(ctx context.Context, req SetBenefitsRequest) error
}

type CreateRequest struct {
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	IsRecurring bool           `json:"is_recurring"`
	Metadata    map[string]any `json:"metadata"`
}

type SetBenefitsRequest struct {
	ProductID  string   `json:"product_id"`
	BenefitIDs []string `json:"benefit_ids"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidBenefit      = errors.New("invalid_benefit")
	ErrNotFound            = errors.New("not_found")
	ErrInvalidID           = errors.New("invalid_id")
)
