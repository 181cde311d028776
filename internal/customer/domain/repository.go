package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, includeDeleted bool) (*Customer, error)
	SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error

	InsertMember(ctx context.Context, db *gorm.DB, member *Member) error
	FindMember(ctx context.Context, db *gorm.DB, orgID, customerID, memberID snowflake.ID) (*Member, error)

	UpsertOAuthAccount(ctx context.Context, db *gorm.DB, account *OAuthAccount) error
	FindOAuthAccount(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, platform OAuthPlatform) (*OAuthAccount, error)
}
