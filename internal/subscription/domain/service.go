package domain

import (
	"context"
	"errors"
	"time"
)

type CreateSubscriptionRequest struct {
	CustomerID string
	ProductID  string
	MemberID   string
	// PeriodLength defaults to one month.
	PeriodLength time.Duration
}

type ChangeProductRequest struct {
	SubscriptionID string
	ProductID      string
}

// Service drives subscription lifecycle. Every change that affects what the
// customer is entitled to enqueues benefit reconciliation in the same
// transaction.
type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	GetByID(ctx context.Context, id string) (Subscription, error)
	ChangeProduct(ctx context.Context, req ChangeProductRequest) (Subscription, error)
	TransitionSubscription(ctx context.Context, id string, target SubscriptionStatus) (Subscription, error)
	// Renew starts the next billing period and cycles the granted benefits.
	Renew(ctx context.Context, id string) (Subscription, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidCustomer      = errors.New("invalid_customer")
	ErrInvalidProduct       = errors.New("invalid_product")
	ErrInvalidTargetStatus  = errors.New("invalid_target_status")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionInactive = errors.New("subscription_inactive")
)
