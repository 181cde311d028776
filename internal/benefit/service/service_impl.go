package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/observability/logger"
	"github.com/smallbiznis/railzway-benefits/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Strategies *benefitstrategy.Registry
	Queue      jobqueue.Enqueuer
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	strategies *benefitstrategy.Registry
	queue      jobqueue.Enqueuer
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("benefit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		strategies: p.Strategies,
		queue:      p.Queue,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateBenefitRequest) (domain.Benefit, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Benefit{}, domain.ErrInvalidOrganization
	}
	if !req.Type.Valid() {
		return domain.Benefit{}, domain.ErrInvalidType
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return domain.Benefit{}, domain.ErrInvalidDescription
	}

	props, err := s.validateProperties(ctx, req.Type, req.Properties)
	if err != nil {
		return domain.Benefit{}, err
	}

	selectable := true
	if req.Selectable != nil {
		selectable = *req.Selectable
	}

	now := s.clock.Now().UTC()
	benefit := domain.Benefit{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		Type:        req.Type,
		Description: description,
		Properties:  props,
		Deletable:   true,
		Selectable:  selectable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, &benefit); err != nil {
		return domain.Benefit{}, err
	}
	return benefit, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Benefit, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Benefit{}, domain.ErrInvalidOrganization
	}
	benefitID, err := parseID(id)
	if err != nil {
		return domain.Benefit{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, orgID, benefitID, false)
	if err != nil {
		return domain.Benefit{}, err
	}
	if item == nil {
		return domain.Benefit{}, domain.ErrNotFound
	}
	return *item, nil
}

// Update saves the new description and properties. Property changes are
// pushed to existing grants by a benefit.updated job carrying the previous
// properties, written in the same transaction.
func (s *Service) Update(ctx context.Context, req domain.UpdateBenefitRequest) (domain.Benefit, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Benefit{}, domain.ErrInvalidOrganization
	}
	benefitID, err := parseID(req.ID)
	if err != nil {
		return domain.Benefit{}, err
	}

	var updated domain.Benefit
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		benefit, err := s.repo.FindByID(ctx, tx, orgID, benefitID, false)
		if err != nil {
			return err
		}
		if benefit == nil {
			return domain.ErrNotFound
		}

		if req.Description != nil {
			description := strings.TrimSpace(*req.Description)
			if description == "" {
				return domain.ErrInvalidDescription
			}
			benefit.Description = description
		}

		previous := copyProperties(benefit.Properties)
		propertiesChanged := req.Properties != nil
		if propertiesChanged {
			props, err := s.validateProperties(ctx, benefit.Type, req.Properties)
			if err != nil {
				return err
			}
			benefit.Properties = props
		}

		benefit.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Update(ctx, tx, benefit); err != nil {
			return err
		}
		if propertiesChanged {
			if err := s.queue.Enqueue(ctx, grantdomain.JobBenefitUpdated,
				grantdomain.BenefitUpdatedJobArgs(orgID, benefit.ID, previous),
				jobqueue.WithTx(tx),
			); err != nil {
				return err
			}
		}
		updated = *benefit
		return nil
	})
	if err != nil {
		return domain.Benefit{}, err
	}
	return updated, nil
}

// Delete soft-deletes the benefit and schedules removal of every grant.
func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	benefitID, err := parseID(id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		benefit, err := s.repo.FindByID(ctx, tx, orgID, benefitID, false)
		if err != nil {
			return err
		}
		if benefit == nil {
			return domain.ErrNotFound
		}
		if !benefit.Deletable {
			return domain.ErrNotDeletable
		}

		if err := s.repo.SoftDelete(ctx, tx, orgID, benefit.ID, s.clock.Now().UTC()); err != nil {
			return err
		}
		if err := s.queue.Enqueue(ctx, grantdomain.JobBenefitDeleted,
			grantdomain.BenefitJobArgs(orgID, benefit.ID),
			jobqueue.WithTx(tx),
		); err != nil {
			return err
		}

		logger.WithContext(ctx, s.log).Info("benefit deleted",
			zap.String("benefit_id", benefit.ID.String()),
			zap.String("benefit_type", string(benefit.Type)),
		)
		return nil
	})
}

func (s *Service) validateProperties(ctx context.Context, benefitType domain.BenefitType, raw map[string]any) (datatypes.JSONMap, error) {
	strategy, err := s.strategies.Get(benefitType)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return strategy.ValidateProperties(ctx, raw)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func copyProperties(in datatypes.JSONMap) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
