package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const ErrorKindActionRequired = "action_required"

// BenefitGrant records whether a customer holds a benefit under one purchase
// scope. At most one non-deleted row exists per (customer, benefit, scope).
//
// State is derived from the timestamps: pending when neither is set, granted
// when GrantedAt is set, revoked when RevokedAt is set. A pending grant with
// ErrorKind action_required is waiting on the customer.
type BenefitGrant struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	CustomerID     snowflake.ID      `gorm:"not null;uniqueIndex:ux_benefit_grants_scope,priority:1,where:deleted_at IS NULL;index" json:"customer_id"`
	BenefitID      snowflake.ID      `gorm:"not null;uniqueIndex:ux_benefit_grants_scope,priority:2;index" json:"benefit_id"`
	ScopeKey       string            `gorm:"type:text;not null;uniqueIndex:ux_benefit_grants_scope,priority:3" json:"scope_key"`
	MemberID       *snowflake.ID     `json:"member_id,omitempty"`
	SubscriptionID *snowflake.ID     `gorm:"index" json:"subscription_id,omitempty"`
	OrderID        *snowflake.ID     `gorm:"index" json:"order_id,omitempty"`
	Properties     datatypes.JSONMap `gorm:"type:jsonb" json:"properties"`
	GrantedAt      *time.Time        `json:"granted_at,omitempty"`
	RevokedAt      *time.Time        `json:"revoked_at,omitempty"`
	ErrorKind      *string           `gorm:"type:text" json:"error_kind,omitempty"`
	ErrorPayload   datatypes.JSONMap `gorm:"type:jsonb" json:"error_payload,omitempty"`
	ModifiedAt     *time.Time        `json:"modified_at,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
	DeletedAt      *time.Time        `gorm:"index" json:"deleted_at,omitempty"`
}

func (BenefitGrant) TableName() string { return "benefit_grants" }

func (g *BenefitGrant) IsGranted() bool {
	return g != nil && g.GrantedAt != nil && g.RevokedAt == nil
}

func (g *BenefitGrant) IsRevoked() bool {
	return g != nil && g.RevokedAt != nil
}

// IsActionRequired is false once the grant is revoked; a revoked grant only
// comes back through a new grant request for its scope.
func (g *BenefitGrant) IsActionRequired() bool {
	return g != nil && g.RevokedAt == nil && g.ErrorKind != nil && *g.ErrorKind == ErrorKindActionRequired
}

// SetGranted marks the grant provisioned and clears any recorded failure.
func (g *BenefitGrant) SetGranted(now time.Time) {
	g.GrantedAt = &now
	g.RevokedAt = nil
	g.ClearError()
}

// SetRevoked marks the grant deprovisioned and drops any pending action.
func (g *BenefitGrant) SetRevoked(now time.Time) {
	g.RevokedAt = &now
	g.GrantedAt = nil
	g.ClearError()
}

// SetActionRequired keeps the grant pending and records why.
func (g *BenefitGrant) SetActionRequired(payload map[string]any) {
	kind := ErrorKindActionRequired
	g.GrantedAt = nil
	g.RevokedAt = nil
	g.ErrorKind = &kind
	g.ErrorPayload = datatypes.JSONMap(payload)
}

func (g *BenefitGrant) ClearError() {
	g.ErrorKind = nil
	g.ErrorPayload = nil
}

// CloneProperties returns a copy safe to hand to strategies and event payloads.
func (g *BenefitGrant) CloneProperties() datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range g.Properties {
		out[k] = v
	}
	return out
}
