package scope

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/railzway-benefits/internal/order/domain"
	subscriptiondomain "github.com/smallbiznis/railzway-benefits/internal/subscription/domain"
	"gorm.io/gorm"
)

// InvalidScopeError means the scope arguments do not resolve to a purchase
// the customer owns. It is terminal for the job that carried them.
type InvalidScopeError struct {
	Args   Args
	Reason string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid scope (subscription_id=%q order_id=%q): %s",
		e.Args.SubscriptionID, e.Args.OrderID, e.Reason)
}

type Resolver struct {
	subscriptions subscriptiondomain.Repository
	orders        orderdomain.Repository
}

func NewResolver(subscriptions subscriptiondomain.Repository, orders orderdomain.Repository) *Resolver {
	return &Resolver{subscriptions: subscriptions, orders: orders}
}

// Resolve loads the aggregate named by args. Exactly one id must be set and
// the aggregate must belong to customerID.
func (r *Resolver) Resolve(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, args Args) (Scope, error) {
	subscriptionRaw := args.SubscriptionID
	orderRaw := args.OrderID
	hasSubscription := strings.TrimSpace(subscriptionRaw) != ""
	hasOrder := strings.TrimSpace(orderRaw) != ""

	switch {
	case hasSubscription && hasOrder:
		return Scope{}, &InvalidScopeError{Args: args, Reason: "subscription and order are mutually exclusive"}
	case !hasSubscription && !hasOrder:
		return Scope{}, &InvalidScopeError{Args: args, Reason: "scope is empty"}
	}

	if hasSubscription {
		id, err := parseID(subscriptionRaw)
		if err != nil {
			return Scope{}, &InvalidScopeError{Args: args, Reason: "subscription_id is not a valid id"}
		}
		subscription, err := r.subscriptions.FindByID(ctx, db, orgID, id)
		if err != nil {
			return Scope{}, err
		}
		if subscription == nil {
			return Scope{}, &InvalidScopeError{Args: args, Reason: "subscription does not exist"}
		}
		if subscription.CustomerID != customerID {
			return Scope{}, &InvalidScopeError{Args: args, Reason: "subscription belongs to another customer"}
		}
		return Scope{Subscription: subscription}, nil
	}

	id, err := parseID(orderRaw)
	if err != nil {
		return Scope{}, &InvalidScopeError{Args: args, Reason: "order_id is not a valid id"}
	}
	order, err := r.orders.FindByID(ctx, db, orgID, id)
	if err != nil {
		return Scope{}, err
	}
	if order == nil {
		return Scope{}, &InvalidScopeError{Args: args, Reason: "order does not exist"}
	}
	if order.CustomerID != customerID {
		return Scope{}, &InvalidScopeError{Args: args, Reason: "order belongs to another customer"}
	}
	return Scope{Order: order}, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(value)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("id must be positive")
	}
	// only canonical decimal ids round-trip through ToArgs
	if id.String() != value {
		return 0, fmt.Errorf("id is not canonical")
	}
	return id, nil
}
