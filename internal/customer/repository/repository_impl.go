package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, org_id, name, email, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.OrgID,
		customer.Name,
		customer.Email,
		customer.Metadata,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, includeDeleted bool) (*domain.Customer, error) {
	query := `SELECT id, org_id, name, email, metadata, created_at, updated_at, deleted_at
		 FROM customers WHERE org_id = ? AND id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}

	var customer domain.Customer
	if err := db.WithContext(ctx).Raw(query, orgID, id).Scan(&customer).Error; err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers SET deleted_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		at, at, orgID, id,
	).Error
}

func (r *repo) InsertMember(ctx context.Context, db *gorm.DB, member *domain.Member) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customer_members (id, org_id, customer_id, email, name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		member.ID,
		member.OrgID,
		member.CustomerID,
		member.Email,
		member.Name,
		member.CreatedAt,
	).Error
}

func (r *repo) FindMember(ctx context.Context, db *gorm.DB, orgID, customerID, memberID snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, email, name, created_at, deleted_at
		 FROM customer_members
		 WHERE org_id = ? AND customer_id = ? AND id = ? AND deleted_at IS NULL`,
		orgID, customerID, memberID,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) UpsertOAuthAccount(ctx context.Context, db *gorm.DB, account *domain.OAuthAccount) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "customer_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_id", "account_username", "access_token", "updated_at",
		}),
	}).Create(account).Error
}

func (r *repo) FindOAuthAccount(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, platform domain.OAuthPlatform) (*domain.OAuthAccount, error) {
	var account domain.OAuthAccount
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, platform, account_id, account_username, access_token, created_at, updated_at
		 FROM customer_oauth_accounts
		 WHERE org_id = ? AND customer_id = ? AND platform = ?`,
		orgID, customerID, platform,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}
