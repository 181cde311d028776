package downloadables

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusGranted Status = "granted"
	StatusRevoked Status = "revoked"
)

// Downloadable gives one customer access to one file through one benefit.
type Downloadable struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null;index"`
	CustomerID snowflake.ID `gorm:"not null;uniqueIndex:ux_downloadables_customer_file,priority:1"`
	BenefitID  snowflake.ID `gorm:"not null;uniqueIndex:ux_downloadables_customer_file,priority:2"`
	FileID     string       `gorm:"type:text;not null;uniqueIndex:ux_downloadables_customer_file,priority:3"`
	Status     Status       `gorm:"type:text;not null"`
	CreatedAt  time.Time    `gorm:"not null"`
	UpdatedAt  time.Time    `gorm:"not null"`
}

func (Downloadable) TableName() string { return "downloadables" }
