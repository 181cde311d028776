package licensekeys

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusGranted Status = "granted"
	StatusRevoked Status = "revoked"
)

// LicenseKey is issued once per grant.
type LicenseKey struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	OrgID            snowflake.ID `gorm:"not null;index"`
	CustomerID       snowflake.ID `gorm:"not null;index"`
	BenefitID        snowflake.ID `gorm:"not null;index"`
	GrantID          snowflake.ID `gorm:"not null;uniqueIndex"`
	Key              string       `gorm:"type:text;not null;uniqueIndex"`
	Status           Status       `gorm:"type:text;not null"`
	LimitActivations *int
	LimitUsage       *int
	Usage            int `gorm:"not null;default:0"`
	ExpiresAt        *time.Time
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (LicenseKey) TableName() string { return "license_keys" }
