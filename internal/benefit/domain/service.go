package domain

import (
	"context"
	"errors"
)

type CreateBenefitRequest struct {
	Type        BenefitType
	Description string
	Properties  map[string]any
	Selectable  *bool
}

type UpdateBenefitRequest struct {
	ID          string
	Description *string
	Properties  map[string]any
}

// Service is the merchant-facing side of benefits. Property changes are
// validated by the benefit type's strategy and fan out to existing grants
// through background jobs.
type Service interface {
	Create(ctx context.Context, req CreateBenefitRequest) (Benefit, error)
	GetByID(ctx context.Context, id string) (Benefit, error)
	Update(ctx context.Context, req UpdateBenefitRequest) (Benefit, error)
	Delete(ctx context.Context, id string) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidType         = errors.New("invalid_benefit_type")
	ErrInvalidDescription  = errors.New("invalid_description")
	ErrNotDeletable        = errors.New("benefit_not_deletable")
	ErrNotFound            = errors.New("not_found")
)
