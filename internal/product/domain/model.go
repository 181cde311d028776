package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Product struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID      `json:"organization_id" gorm:"column:org_id;not null;index"`
	Name        string            `json:"name" gorm:"type:text;not null"`
	Description *string           `json:"description,omitempty" gorm:"type:text"`
	IsRecurring bool              `json:"is_recurring" gorm:"not null;default:false"`
	Active      bool              `json:"active" gorm:"not null;default:true"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

// ProductBenefit attaches a benefit to a product. Position orders benefits
// for display only.
type ProductBenefit struct {
	ProductID snowflake.ID `json:"product_id" gorm:"primaryKey"`
	BenefitID snowflake.ID `json:"benefit_id" gorm:"primaryKey;index"`
	OrgID     snowflake.ID `json:"organization_id" gorm:"not null"`
	Position  int          `json:"position" gorm:"not null;default:0"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (ProductBenefit) TableName() string { return "product_benefits" }
