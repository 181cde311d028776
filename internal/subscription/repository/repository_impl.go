package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, product_id, member_id, status, current_period_start, current_period_end,
		        canceled_at, ended_at, metadata, created_at, updated_at
		 FROM subscriptions WHERE org_id = ? AND id = ?`,
		orgID, id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Subscription, error) {
	stmt := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id)
	switch db.Dialector.Name() {
	case "postgres", "mysql":
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var subscriptions []domain.Subscription
	if err := stmt.Limit(1).Find(&subscriptions).Error; err != nil {
		return nil, err
	}
	if len(subscriptions) == 0 {
		return nil, nil
	}
	return &subscriptions[0], nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET product_id = ?, status = ?, current_period_start = ?, current_period_end = ?,
		     canceled_at = ?, ended_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		subscription.ProductID,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CanceledAt,
		subscription.EndedAt,
		subscription.UpdatedAt,
		subscription.OrgID,
		subscription.ID,
	).Error
}

func (r *repo) ListEntitledByProduct(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, product_id, member_id, status, current_period_start, current_period_end,
		        canceled_at, ended_at, metadata, created_at, updated_at
		 FROM subscriptions
		 WHERE org_id = ? AND product_id = ? AND status IN ?
		 ORDER BY created_at ASC`,
		orgID,
		productID,
		[]domain.SubscriptionStatus{
			domain.SubscriptionStatusActive,
			domain.SubscriptionStatusTrialing,
			domain.SubscriptionStatusPastDue,
		},
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
