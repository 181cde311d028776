package metercredit

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindGrant  Kind = "grant"
	KindCycle  Kind = "cycle"
	KindExpire Kind = "expire"
	KindRevoke Kind = "revoke"
)

// Credit is one ledger entry against a customer's meter allowance. Units are
// negative for debits. IdempotencyKey makes every entry insert-once.
type Credit struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrgID          snowflake.ID `gorm:"not null;index"`
	CustomerID     snowflake.ID `gorm:"not null;index:ix_meter_credits_customer_meter,priority:1"`
	MeterID        snowflake.ID `gorm:"not null;index:ix_meter_credits_customer_meter,priority:2"`
	BenefitID      snowflake.ID `gorm:"not null"`
	GrantID        snowflake.ID `gorm:"not null;index"`
	Kind           Kind         `gorm:"type:text;not null"`
	Units          int64        `gorm:"not null"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt      time.Time    `gorm:"not null"`
}

func (Credit) TableName() string { return "meter_credits" }
