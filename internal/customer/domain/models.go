package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Customer struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	Name      string            `gorm:"not null" json:"name"`
	Email     string            `gorm:"not null" json:"email"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null" json:"updated_at"`
	DeletedAt *time.Time        `gorm:"index" json:"deleted_at,omitempty"`
}

func (Customer) TableName() string { return "customers" }

func (c *Customer) IsDeleted() bool {
	return c != nil && c.DeletedAt != nil
}

// Member is a seat inside a customer account that a grant can be issued to.
type Member struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null;index" json:"organization_id"`
	CustomerID snowflake.ID `gorm:"not null;index" json:"customer_id"`
	Email      string       `gorm:"not null" json:"email"`
	Name       string       `json:"name"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	DeletedAt  *time.Time   `json:"deleted_at,omitempty"`
}

func (Member) TableName() string { return "customer_members" }

type OAuthPlatform string

const (
	OAuthPlatformDiscord OAuthPlatform = "discord"
	OAuthPlatformGitHub  OAuthPlatform = "github"
)

// OAuthAccount is a third-party identity the customer connected. Discord and
// GitHub benefits cannot be provisioned without one.
type OAuthAccount struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID  `gorm:"not null;index" json:"organization_id"`
	CustomerID      snowflake.ID  `gorm:"not null;uniqueIndex:ux_customer_oauth_platform,priority:1" json:"customer_id"`
	Platform        OAuthPlatform `gorm:"type:text;not null;uniqueIndex:ux_customer_oauth_platform,priority:2" json:"platform"`
	AccountID       string        `gorm:"not null" json:"account_id"`
	AccountUsername string        `json:"account_username"`
	AccessToken     string        `json:"-"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (OAuthAccount) TableName() string { return "customer_oauth_accounts" }
