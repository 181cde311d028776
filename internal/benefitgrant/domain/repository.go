package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"gorm.io/gorm"
)

// Repository reads and writes grants. Every query ignores soft-deleted rows.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*BenefitGrant, error)
	FindByScope(ctx context.Context, db *gorm.DB, orgID, customerID, benefitID snowflake.ID, scopeKey string) (*BenefitGrant, error)
	// Insert returns ErrDuplicateGrant when the scope tuple already exists.
	Insert(ctx context.Context, db *gorm.DB, grant *BenefitGrant) error
	Update(ctx context.Context, db *gorm.DB, grant *BenefitGrant) error
	SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error

	ListGrantedByBenefit(ctx context.Context, db *gorm.DB, orgID, benefitID snowflake.ID) ([]BenefitGrant, error)
	ListByBenefit(ctx context.Context, db *gorm.DB, orgID, benefitID snowflake.ID) ([]BenefitGrant, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) ([]BenefitGrant, error)
	ListGrantedByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) ([]BenefitGrant, error)
	ListByCustomerAndBenefitType(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, benefitType benefitdomain.BenefitType) ([]BenefitGrant, error)
	ListGrantedByCustomerAndBenefit(ctx context.Context, db *gorm.DB, orgID, customerID, benefitID snowflake.ID) ([]BenefitGrant, error)
	ListByScope(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, scopeKey string) ([]BenefitGrant, error)
	ListGrantedByScope(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, scopeKey string) ([]BenefitGrant, error)
	// ListOutdatedGrants returns granted grants in the scope whose benefit is
	// not in currentBenefitIDs.
	ListOutdatedGrants(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, scopeKey string, currentBenefitIDs []snowflake.ID) ([]BenefitGrant, error)
}
