package domain

import (
	"context"

	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventGrantCreated EventType = "grant_created"
	EventGrantUpdated EventType = "grant_updated"
	EventGrantCycled  EventType = "grant_cycled"
	EventGrantRevoked EventType = "grant_revoked"
)

// WebhookType is the outbound webhook event name for t.
func (t EventType) WebhookType() string {
	switch t {
	case EventGrantCreated:
		return "benefit_grant.created"
	case EventGrantUpdated:
		return "benefit_grant.updated"
	case EventGrantCycled:
		return "benefit_grant.cycled"
	case EventGrantRevoked:
		return "benefit_grant.revoked"
	}
	return "benefit_grant." + string(t)
}

// GrantEvent is a committed grant transition with its aggregates attached.
type GrantEvent struct {
	Type               EventType
	Grant              BenefitGrant
	Benefit            benefitdomain.Benefit
	Customer           customerdomain.Customer
	PreviousProperties datatypes.JSONMap
}

// Emitter fans a committed transition out to the side-effect sinks. It is
// best-effort and never returns an error to the caller.
type Emitter interface {
	Emit(ctx context.Context, event GrantEvent)
	// NotifyActionRequired tells the customer a grant is waiting on them.
	NotifyActionRequired(ctx context.Context, event GrantEvent, message string)
}
