package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/smallbiznis/railzway-benefits/internal/product/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO products (id, org_id, name, description, is_recurring, active, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID,
		product.OrgID,
		product.Name,
		product.Description,
		product.IsRecurring,
		product.Active,
		product.Metadata,
		product.CreatedAt,
		product.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, name, description, is_recurring, active, metadata, created_at, updated_at
		 FROM products WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) ReplaceBenefits(ctx context.Context, db *gorm.DB, product *domain.Product, benefitIDs []snowflake.ID) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM product_benefits WHERE product_id = ?`,
		product.ID,
	).Error; err != nil {
		return err
	}

	for position, benefitID := range benefitIDs {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO product_benefits (product_id, benefit_id, org_id, position, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			product.ID,
			benefitID,
			product.OrgID,
			position,
			product.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListBenefits(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]benefitdomain.Benefit, error) {
	var items []benefitdomain.Benefit
	err := db.WithContext(ctx).Raw(
		`SELECT b.id, b.org_id, b.type, b.description, b.properties, b.deletable, b.selectable,
		        b.created_at, b.updated_at, b.deleted_at
		 FROM product_benefits pb
		 JOIN benefits b ON b.id = pb.benefit_id
		 WHERE pb.org_id = ? AND pb.product_id = ? AND b.deleted_at IS NULL
		 ORDER BY pb.position ASC`,
		orgID,
		productID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
