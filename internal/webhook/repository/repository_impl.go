package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/webhook/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit int) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, event_type, payload, dedupe_key, published, published_at, created_at
		 FROM webhook_events
		 WHERE org_id = ? AND published = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		orgID, false, limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkPublished(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET published = ?, published_at = ?
		 WHERE org_id = ? AND id = ? AND published = ?`,
		true, at, orgID, id, false,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}
