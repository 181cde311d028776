package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
)

type GrantRequest struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
	BenefitID  snowflake.ID
	Scope      scope.Args
	MemberID   *snowflake.ID
	// Attempt is 1-based and forwarded to the strategy.
	Attempt int
}

type GrantIDRequest struct {
	OrgID   snowflake.ID
	GrantID snowflake.ID
	Attempt int
}

type UpdateRequest struct {
	OrgID                     snowflake.ID
	GrantID                   snowflake.ID
	PreviousBenefitProperties map[string]any
	Attempt                   int
}

// Service is the grant state machine. Strategy calls run outside any
// transaction; the grant row is only written after the strategy returns.
type Service interface {
	Grant(ctx context.Context, req GrantRequest) (*BenefitGrant, error)
	Revoke(ctx context.Context, req GrantRequest) (*BenefitGrant, error)
	Cycle(ctx context.Context, req GrantIDRequest) (*BenefitGrant, error)
	Update(ctx context.Context, req UpdateRequest) (*BenefitGrant, error)
	Delete(ctx context.Context, req GrantIDRequest) (*BenefitGrant, error)
}

type Task string

const (
	TaskGrant  Task = "grant"
	TaskRevoke Task = "revoke"
)

func (t Task) Valid() bool {
	return t == TaskGrant || t == TaskRevoke
}

type ProductChangeRequest struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
	ProductID  snowflake.ID
	Scope      scope.Args
	MemberID   *snowflake.ID
	Task       Task
}

// Reconciler diffs entitlement against existing grants and enqueues one job
// per benefit or grant that needs work.
type Reconciler interface {
	EnqueueGrantsForProductChange(ctx context.Context, req ProductChangeRequest) error
	EnqueueCycleForScope(ctx context.Context, orgID, customerID snowflake.ID, args scope.Args) error
	// EnqueueProductBenefitsChanged reconciles every purchase that currently
	// entitles a customer to the product.
	EnqueueProductBenefitsChanged(ctx context.Context, orgID, productID snowflake.ID) error
	EnqueueBenefitUpdated(ctx context.Context, orgID, benefitID snowflake.ID, previousProperties map[string]any) error
	EnqueueBenefitDeleted(ctx context.Context, orgID, benefitID snowflake.ID) error
	EnqueueCustomerDeleted(ctx context.Context, orgID, customerID snowflake.ID) error
	EnqueuePreconditionFulfilled(ctx context.Context, orgID, customerID snowflake.ID, benefitType benefitdomain.BenefitType) error
}

var (
	ErrGrantInProgress  = errors.New("grant_in_progress")
	ErrDuplicateGrant   = errors.New("duplicate_grant")
	ErrGrantNotFound    = errors.New("grant_not_found")
	ErrCustomerNotFound = errors.New("customer_not_found")
	ErrBenefitNotFound  = errors.New("benefit_not_found")
	ErrMemberNotFound   = errors.New("member_not_found")
	ErrProductNotFound  = errors.New("product_not_found")
	ErrInvalidTask      = errors.New("invalid_task")
)
