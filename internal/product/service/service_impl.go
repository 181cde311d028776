package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/orgcontext"
	"github.com/smallbiznis/railzway-benefits/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Benefits benefitdomain.Repository
	Queue    jobqueue.Enqueuer
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	benefits benefitdomain.Repository
	queue    jobqueue.Enqueuer
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("product.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		benefits: p.Benefits,
		queue:    p.Queue,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Product, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Product{}, domain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, domain.ErrInvalidName
	}

	now := s.clock.Now().UTC()
	product := domain.Product{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		Name:        name,
		Description: req.Description,
		IsRecurring: req.IsRecurring,
		Active:      true,
		Metadata:    datatypes.JSONMap(req.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, s.db, &product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Product{}, domain.ErrInvalidOrganization
	}
	productID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return domain.Product{}, err
	}

	product, err := s.repo.FindByID(ctx, s.db, orgID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if product == nil {
		return domain.Product{}, domain.ErrNotFound
	}
	return *product, nil
}

func (s *Service) SetBenefits(ctx context.Context, req domain.SetBenefitsRequest) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	productID, err := parseID(req.ProductID, domain.ErrInvalidID)
	if err != nil {
		return err
	}

	benefitIDs := make([]snowflake.ID, 0, len(req.BenefitIDs))
	seen := make(map[snowflake.ID]struct{}, len(req.BenefitIDs))
	for _, raw := range req.BenefitIDs {
		id, err := parseID(raw, domain.ErrInvalidBenefit)
		if err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		benefitIDs = append(benefitIDs, id)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.repo.FindByID(ctx, tx, orgID, productID)
		if err != nil {
			return err
		}
		if product == nil {
			return domain.ErrNotFound
		}

		for _, id := range benefitIDs {
			benefit, err := s.benefits.FindByID(ctx, tx, orgID, id, false)
			if err != nil {
				return err
			}
			if benefit == nil || !benefit.Selectable {
				return domain.ErrInvalidBenefit
			}
		}

		product.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.ReplaceBenefits(ctx, tx, product, benefitIDs); err != nil {
			return err
		}
		return s.queue.Enqueue(ctx, grantdomain.JobProductBenefitsChange,
			grantdomain.ProductJobArgs(orgID, product.ID),
			jobqueue.WithTx(tx),
		)
	})
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
