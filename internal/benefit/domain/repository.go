package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, benefit *Benefit) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, includeDeleted bool) (*Benefit, error)
	Update(ctx context.Context, db *gorm.DB, benefit *Benefit) error
	SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error
}
