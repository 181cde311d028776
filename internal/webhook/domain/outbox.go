package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type SendRequest struct {
	OrgID     snowflake.ID
	EventType string
	Payload   map[string]any
	// DedupeKey makes repeated sends of the same event a no-op.
	DedupeKey string
}

// Outbox records webhook deliveries. Actual HTTP delivery is done elsewhere
// from the pending rows.
type Outbox interface {
	Send(ctx context.Context, req SendRequest) error
	ListPending(ctx context.Context, orgID snowflake.ID, limit int) ([]WebhookEvent, error)
	MarkPublished(ctx context.Context, orgID, id snowflake.ID) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEventType    = errors.New("invalid_event_type")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrEventNotFound       = errors.New("webhook_event_not_found")
)
