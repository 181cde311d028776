package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when a row with the same dedupe key already exists.
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	ListPending(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit int) ([]WebhookEvent, error)
	MarkPublished(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) error
}
