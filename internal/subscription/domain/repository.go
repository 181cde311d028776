package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	ListEntitledByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]Subscription, error)
}
