package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Outbox {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("webhook.outbox"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Send(ctx context.Context, req domain.SendRequest) error {
	if req.OrgID == 0 {
		return domain.ErrInvalidOrganization
	}
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		return domain.ErrInvalidEventType
	}
	if len(req.Payload) == 0 {
		return domain.ErrInvalidPayload
	}

	event := domain.WebhookEvent{
		ID:        s.genID.Generate(),
		OrgID:     req.OrgID,
		EventType: eventType,
		Payload:   datatypes.JSONMap(req.Payload),
		CreatedAt: s.clock.Now().UTC(),
	}
	if key := strings.TrimSpace(req.DedupeKey); key != "" {
		event.DedupeKey = &key
	}

	inserted, err := s.repo.Insert(ctx, s.db, &event)
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug("webhook event already recorded",
			zap.String("event_type", eventType),
			zap.String("dedupe_key", req.DedupeKey),
		)
	}
	return nil
}

func (s *Service) ListPending(ctx context.Context, orgID snowflake.ID, limit int) ([]domain.WebhookEvent, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListPending(ctx, s.db, orgID, limit)
}

func (s *Service) MarkPublished(ctx context.Context, orgID, id snowflake.ID) error {
	if orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	return s.repo.MarkPublished(ctx, s.db, orgID, id, s.clock.Now().UTC())
}
