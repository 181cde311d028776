package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (id, org_id, customer_id, product_id, status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.OrgID,
		order.CustomerID,
		order.ProductID,
		order.Status,
		order.Metadata,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, product_id, status, metadata, refunded_at, created_at, updated_at
		 FROM orders WHERE org_id = ? AND id = ?`,
		orgID, id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, refunded_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		order.Status,
		order.RefundedAt,
		order.UpdatedAt,
		order.OrgID,
		order.ID,
	).Error
}

func (r *repo) ListPaidByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]domain.Order, error) {
	var items []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, product_id, status, metadata, refunded_at, created_at, updated_at
		 FROM orders
		 WHERE org_id = ? AND product_id = ? AND status = ?
		 ORDER BY created_at ASC`,
		orgID, productID, domain.OrderStatusPaid,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
