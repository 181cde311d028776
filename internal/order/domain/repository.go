package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Order, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, order *Order) error
	ListPaidByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]Order, error)
}
