package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/pkg/db"
	"gorm.io/gorm"
)

const grantColumns = `g.id, g.org_id, g.customer_id, g.benefit_id, g.scope_key, g.member_id,
	g.subscription_id, g.order_id, g.properties, g.granted_at, g.revoked_at,
	g.error_kind, g.error_payload, g.modified_at, g.created_at, g.updated_at, g.deleted_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.BenefitGrant, error) {
	return r.first(ctx, db,
		`WHERE g.org_id = ? AND g.id = ? AND g.deleted_at IS NULL`,
		orgID, id,
	)
}

func (r *repo) FindByScope(ctx context.Context, db *gorm.DB, orgID, customerID, benefitID snowflake.ID, scopeKey string) (*domain.BenefitGrant, error) {
	return r.first(ctx, db,
		`WHERE g.org_id = ? AND g.customer_id = ? AND g.benefit_id = ? AND g.scope_key = ?
		   AND g.deleted_at IS NULL`,
		orgID, customerID, benefitID, scopeKey,
	)
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, grant *domain.BenefitGrant) error {
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO benefit_grants (id, org_id, customer_id, benefit_id, scope_key, member_id,
			subscription_id, order_id, properties, granted_at, revoked_at, error_kind, error_payload,
			modified_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		grant.ID,
		grant.OrgID,
		grant.CustomerID,
		grant.BenefitID,
		grant.ScopeKey,
		grant.MemberID,
		grant.SubscriptionID,
		grant.OrderID,
		grant.Properties,
		grant.GrantedAt,
		grant.RevokedAt,
		grant.ErrorKind,
		grant.ErrorPayload,
		grant.ModifiedAt,
		grant.CreatedAt,
		grant.UpdatedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: %v", domain.ErrDuplicateGrant, err)
	}
	return err
}

func (r *repo) Update(ctx context.Context, tx *gorm.DB, grant *domain.BenefitGrant) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE benefit_grants
		 SET member_id = ?, properties = ?, granted_at = ?, revoked_at = ?, error_kind = ?,
		     error_payload = ?, modified_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		grant.MemberID,
		grant.Properties,
		grant.GrantedAt,
		grant.RevokedAt,
		grant.ErrorKind,
		grant.ErrorPayload,
		grant.ModifiedAt,
		grant.UpdatedAt,
		grant.OrgID,
		grant.ID,
	).Error
}

func (r *repo) SoftDelete(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, at time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE benefit_grants SET deleted_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		at, at, orgID, id,
	).Error
}

func (r *repo) ListGrantedByBenefit(ctx context.Context, db *gorm.DB, orgID, benefitID snowflake.ID) ([]domain.BenefitGrant, error) {
	return r.list(ctx, db,
		`WHERE g.org_id = ? AND g.benefit_id = ? AND g.deleted_at IS NULL
		   AND g.granted_at IS NOT NULL AND g.revoked_at IS NULL`,
		orgID, benefitID,
	)
}

func (r *repo) ListByBenefit(ctx context.Context, db *gorm.DB, orgID, benefitID snowflake.ID) ([]domain.BenefitGrant, error) {
	return r.list(ctx, db,
		`WHERE g.org_id = ? AND g.benefit_id = ? AND g.deleted_at IS NULL`,
		orgID, benefitID,
	)
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) ([]domain.BenefitGrant, error) {
	return r.list(ctx, db,
		`WHERE g.org_id = ? AND g.customer_id = ? AND g.deleted_at IS NULL`,
		orgID, customerID,
	)
}

func (r *repo) ListGrantedByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) ([]domain.BenefitGrant, error) {
	return r.list(ctx, db,
		`WHERE g.org_id = ? AND g.customer_id = ? AND g.deleted_at IS NULL
		   AND g.granted_at IS NOT NULL AND g.revoked_at IS NULL`,
		orgID, customerID,
	)
}

func (r *repo) ListByCustomerAndBenefitType(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, benefitType benefitdomain.BenefitType) ([]domain.BenefitGrant, error) {
	return r.list(ctx, db,
		`JOIN benefits b ON b.id = g.benefit_id
		 WHERE g.org_id = ? AND g.customer_id = ? AND b.type = ?
		   AND g.deleted_at IS NULL AND b.deleted_at IS NULL`,
		orgID, customerID, benefitType,
	)
}

func (r *repo) ListGrantedByCustomerAndBenefit(ctx context.Context, db *gorm.DB, orgID, customerID, benefitID snowflake.ID) ([]domain.BenefitGrant, error) {
	return r.list(ctx, db,
		`WHERE g.org_id = ? AND g.customer_id = ? AND g.benefit_id = ? AND g.deleted_at IS NULL
		   AND g.granted_at IS NOT NULL AND g.revoked_at IS NULL`,
		orgID, customerID, benefitID,
	)
}

func (r *repo) ListByScope(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, scopeKey string) ([]domain.BenefitGrant, error) {
	return r.list(ctx, db,
		`WHERE g.org_id = ? AND g.customer_id = ? AND g.scope_key = ? AND g.deleted_at IS NULL`,
		orgID, customerID, scopeKey,
	)
}

func (r *repo) ListGrantedByScope(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, scopeKey string) ([]domain.BenefitGrant, error) {
	return r.list(ctx, db,
		`WHERE g.org_id = ? AND g.customer_id = ? AND g.scope_key = ? AND g.deleted_at IS NULL
		   AND g.granted_at IS NOT NULL AND g.revoked_at IS NULL`,
		orgID, customerID, scopeKey,
	)
}

func (r *repo) ListOutdatedGrants(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, scopeKey string, currentBenefitIDs []snowflake.ID) ([]domain.BenefitGrant, error) {
	if len(currentBenefitIDs) == 0 {
		return r.ListGrantedByScope(ctx, db, orgID, customerID, scopeKey)
	}
	return r.list(ctx, db,
		`WHERE g.org_id = ? AND g.customer_id = ? AND g.scope_key = ? AND g.deleted_at IS NULL
		   AND g.granted_at IS NOT NULL AND g.revoked_at IS NULL
		   AND g.benefit_id NOT IN ?`,
		orgID, customerID, scopeKey, currentBenefitIDs,
	)
}

func (r *repo) first(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.BenefitGrant, error) {
	items, err := r.list(ctx, db, where, args...)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) list(ctx context.Context, db *gorm.DB, where string, args ...any) ([]domain.BenefitGrant, error) {
	var items []domain.BenefitGrant
	query := `SELECT ` + grantColumns + ` FROM benefit_grants g ` + where + ` ORDER BY g.created_at ASC, g.id ASC`
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
