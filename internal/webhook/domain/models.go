package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookEvent is an outbox row waiting for the delivery transport.
type WebhookEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_webhook_event_dedupe,priority:1" json:"organization_id"`
	EventType   string            `gorm:"type:text;not null" json:"event_type"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null" json:"payload"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_webhook_event_dedupe,priority:2" json:"dedupe_key,omitempty"`
	Published   bool              `gorm:"not null;default:false;index" json:"published"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
