package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, benefit *domain.Benefit) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO benefits (id, org_id, type, description, properties, deletable, selectable, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		benefit.ID,
		benefit.OrgID,
		benefit.Type,
		benefit.Description,
		benefit.Properties,
		benefit.Deletable,
		benefit.Selectable,
		benefit.CreatedAt,
		benefit.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, includeDeleted bool) (*domain.Benefit, error) {
	query := `SELECT id, org_id, type, description, properties, deletable, selectable, created_at, updated_at, deleted_at
		 FROM benefits WHERE org_id = ? AND id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}

	var benefit domain.Benefit
	if err := db.WithContext(ctx).Raw(query, orgID, id).Scan(&benefit).Error; err != nil {
		return nil, err
	}
	if benefit.ID == 0 {
		return nil, nil
	}
	return &benefit, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, benefit *domain.Benefit) error {
	return db.WithContext(ctx).Exec(
		`UPDATE benefits SET description = ?, properties = ?, selectable = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		benefit.Description,
		benefit.Properties,
		benefit.Selectable,
		benefit.UpdatedAt,
		benefit.OrgID,
		benefit.ID,
	).Error
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE benefits SET deleted_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND deleted_at IS NULL`,
		at, at, orgID, id,
	).Error
}
