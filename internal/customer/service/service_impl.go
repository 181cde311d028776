package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/customer/domain"
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

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
	Queue jobqueue.Enqueuer
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
	queue jobqueue.Enqueuer
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("customer.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		queue: p.Queue,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateCustomerRequest) (domain.Customer, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Customer{}, domain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Customer{}, domain.ErrInvalidEmail
	}

	now := s.clock.Now().UTC()
	customer := domain.Customer{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      name,
		Email:     email,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, &customer); err != nil {
		return domain.Customer{}, err
	}

	return customer, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Customer, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Customer{}, domain.ErrInvalidOrganization
	}

	customerID, err := s.parseID(id)
	if err != nil {
		return domain.Customer{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, orgID, customerID, false)
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrNotFound
	}

	return *item, nil
}

func (s *Service) AddMember(ctx context.Context, req domain.AddMemberRequest) (domain.Member, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Member{}, domain.ErrInvalidOrganization
	}

	customer, err := s.loadCustomer(ctx, s.db, orgID, req.CustomerID)
	if err != nil {
		return domain.Member{}, err
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Member{}, domain.ErrInvalidEmail
	}

	member := domain.Member{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		CustomerID: customer.ID,
		Email:      email,
		Name:       strings.TrimSpace(req.Name),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.repo.InsertMember(ctx, s.db, &member); err != nil {
		return domain.Member{}, err
	}
	return member, nil
}

// ConnectOAuthAccount stores the account and, in the same transaction,
// enqueues a retry of the grants that were waiting for this platform.
func (s *Service) ConnectOAuthAccount(ctx context.Context, req domain.ConnectOAuthAccountRequest) (domain.OAuthAccount, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.OAuthAccount{}, domain.ErrInvalidOrganization
	}

	benefitType, ok := benefitTypeForPlatform(req.Platform)
	if !ok {
		return domain.OAuthAccount{}, domain.ErrInvalidPlatform
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" || strings.TrimSpace(req.AccessToken) == "" {
		return domain.OAuthAccount{}, domain.ErrInvalidAccount
	}

	var account domain.OAuthAccount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.loadCustomer(ctx, tx, orgID, req.CustomerID)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		account = domain.OAuthAccount{
			ID:              s.genID.Generate(),
			OrgID:           orgID,
			CustomerID:      customer.ID,
			Platform:        req.Platform,
			AccountID:       accountID,
			AccountUsername: strings.TrimSpace(req.AccountUsername),
			AccessToken:     strings.TrimSpace(req.AccessToken),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.UpsertOAuthAccount(ctx, tx, &account); err != nil {
			return err
		}

		return s.queue.Enqueue(ctx, grantdomain.JobPreconditionFulfilled,
			grantdomain.PreconditionJobArgs(orgID, customer.ID, benefitType),
			jobqueue.WithTx(tx),
		)
	})
	if err != nil {
		return domain.OAuthAccount{}, err
	}

	logger.WithContext(ctx, s.log).Info("oauth account connected",
		zap.String("customer_id", account.CustomerID.String()),
		zap.String("platform", string(account.Platform)),
	)
	return account, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.loadCustomer(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if err := s.repo.SoftDelete(ctx, tx, orgID, customer.ID, s.clock.Now().UTC()); err != nil {
			return err
		}
		return s.queue.Enqueue(ctx, grantdomain.JobCustomerDeleted,
			grantdomain.CustomerJobArgs(orgID, customer.ID),
			jobqueue.WithTx(tx),
		)
	})
}

func (s *Service) loadCustomer(ctx context.Context, db *gorm.DB, orgID snowflake.ID, id string) (*domain.Customer, error) {
	customerID, err := s.parseID(id)
	if err != nil {
		return nil, err
	}
	customer, err := s.repo.FindByID(ctx, db, orgID, customerID, false)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	return customer, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func benefitTypeForPlatform(platform domain.OAuthPlatform) (benefitdomain.BenefitType, bool) {
	switch platform {
	case domain.OAuthPlatformDiscord:
		return benefitdomain.BenefitTypeDiscord, true
	case domain.OAuthPlatformGitHub:
		return benefitdomain.BenefitTypeGitHubRepository, true
	}
	return "", false
}
