package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, product *Product) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Product, error)
	// ReplaceBenefits swaps the product's benefit set for benefitIDs, in order.
	ReplaceBenefits(ctx context.Context, db *gorm.DB, product *Product, benefitIDs []snowflake.ID) error
	// ListBenefits returns the product's non-deleted benefits ordered by position.
	ListBenefits(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]benefitdomain.Benefit, error)
}
