// Package scope resolves the purchase context a grant exists for. A scope is
// exactly one subscription or one order; its Key is part of the grant's
// uniqueness constraint.
package scope

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/railzway-benefits/internal/order/domain"
	subscriptiondomain "github.com/smallbiznis/railzway-benefits/internal/subscription/domain"
)

const (
	KindSubscription = "subscription"
	KindOrder        = "order"
)

// Args is the primitive form of a scope carried in job arguments.
type Args struct {
	SubscriptionID string `json:"subscription_id,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
}

func (a Args) IsZero() bool {
	return strings.TrimSpace(a.SubscriptionID) == "" && strings.TrimSpace(a.OrderID) == ""
}

// Map returns the job-argument form. Empty ids are omitted.
func (a Args) Map() map[string]any {
	m := map[string]any{}
	if a.SubscriptionID != "" {
		m["subscription_id"] = a.SubscriptionID
	}
	if a.OrderID != "" {
		m["order_id"] = a.OrderID
	}
	return m
}

// ArgsFromMap reads scope ids from job arguments.
func ArgsFromMap(m map[string]any) Args {
	read := func(key string) string {
		if m == nil {
			return ""
		}
		switch v := m[key].(type) {
		case string:
			return strings.TrimSpace(v)
		case nil:
			return ""
		default:
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return Args{
		SubscriptionID: read("subscription_id"),
		OrderID:        read("order_id"),
	}
}

// Scope is a resolved purchase context. Exactly one field is set.
type Scope struct {
	Subscription *subscriptiondomain.Subscription
	Order        *orderdomain.Order
}

func (s Scope) refs() map[string]snowflake.ID {
	refs := map[string]snowflake.ID{}
	if s.Subscription != nil {
		refs[KindSubscription] = s.Subscription.ID
	}
	if s.Order != nil {
		refs[KindOrder] = s.Order.ID
	}
	return refs
}

// Key is the canonical dedup key: sorted kind=id pairs joined by ';'.
func (s Scope) Key() string {
	refs := s.refs()
	kinds := make([]string, 0, len(refs))
	for kind := range refs {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, kind+"="+refs[kind].String())
	}
	return strings.Join(parts, ";")
}

// Equal compares the referenced ids, not the loaded aggregates.
func (s Scope) Equal(other Scope) bool {
	return s.Key() == other.Key()
}

func (s Scope) SubscriptionID() *snowflake.ID {
	if s.Subscription == nil {
		return nil
	}
	id := s.Subscription.ID
	return &id
}

func (s Scope) OrderID() *snowflake.ID {
	if s.Order == nil {
		return nil
	}
	id := s.Order.ID
	return &id
}

func (s Scope) CustomerID() snowflake.ID {
	switch {
	case s.Subscription != nil:
		return s.Subscription.CustomerID
	case s.Order != nil:
		return s.Order.CustomerID
	}
	return 0
}

// ProductID is the product the scope's purchase is for.
func (s Scope) ProductID() snowflake.ID {
	switch {
	case s.Subscription != nil:
		return s.Subscription.ProductID
	case s.Order != nil:
		return s.Order.ProductID
	}
	return 0
}

// ToArgs is the inverse of Resolver.Resolve.
func ToArgs(s Scope) Args {
	var args Args
	if s.Subscription != nil {
		args.SubscriptionID = s.Subscription.ID.String()
	}
	if s.Order != nil {
		args.OrderID = s.Order.ID.String()
	}
	return args
}

// KeyFor builds the scope key from raw ids without loading the aggregate.
func KeyFor(subscriptionID, orderID *snowflake.ID) string {
	var s Scope
	if subscriptionID != nil {
		s.Subscription = &subscriptiondomain.Subscription{ID: *subscriptionID}
	}
	if orderID != nil {
		s.Order = &orderdomain.Order{ID: *orderID}
	}
	return s.Key()
}
