package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusRefunded OrderStatus = "refunded"
)

// Order is a one-time purchase of a product.
type Order struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	CustomerID snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	ProductID  snowflake.ID      `gorm:"not null;index" json:"product_id"`
	Status     OrderStatus       `gorm:"type:text;not null" json:"status"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	RefundedAt *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }
