// Package domain contains persistence models for subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusEnded    SubscriptionStatus = "ENDED"
)

// Subscription captures a customer's recurring purchase of one product.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	OrgID              snowflake.ID       `gorm:"not null;index"`
	CustomerID         snowflake.ID       `gorm:"not null;index"`
	ProductID          snowflake.ID       `gorm:"not null;index"`
	MemberID           *snowflake.ID      `gorm:"index"`
	Status             SubscriptionStatus `gorm:"type:text;not null"`
	CurrentPeriodStart time.Time          `gorm:"not null"`
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time
	EndedAt            *time.Time
	Metadata           datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt          time.Time         `gorm:"not null"`
	UpdatedAt          time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// EntitlesBenefits reports whether the subscription should currently hold
// its product's benefits.
func (s *Subscription) EntitlesBenefits() bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	}
	return false
}
