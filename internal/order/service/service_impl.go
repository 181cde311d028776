package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/observability/logger"
	"github.com/smallbiznis/railzway-benefits/internal/order/domain"
	"github.com/smallbiznis/railzway-benefits/internal/orgcontext"
	productdomain "github.com/smallbiznis/railzway-benefits/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Customers customerdomain.Repository
	Products  productdomain.Repository
	Queue     jobqueue.Enqueuer
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	customers customerdomain.Repository
	products  productdomain.Repository
	queue     jobqueue.Enqueuer
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("order.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		customers: p.Customers,
		products:  p.Products,
		queue:     p.Queue,
	}
}

// Create records a paid order and enqueues the grant reconciliation for its
// product in the same transaction.
func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Order{}, domain.ErrInvalidOrganization
	}
	customerID, err := parseID(req.CustomerID, domain.ErrInvalidCustomer)
	if err != nil {
		return domain.Order{}, err
	}
	productID, err := parseID(req.ProductID, domain.ErrInvalidProduct)
	if err != nil {
		return domain.Order{}, err
	}
	var memberID *snowflake.ID
	if strings.TrimSpace(req.MemberID) != "" {
		id, err := parseID(req.MemberID, domain.ErrInvalidCustomer)
		if err != nil {
			return domain.Order{}, err
		}
		memberID = &id
	}

	var order domain.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.customers.FindByID(ctx, tx, orgID, customerID, false)
		if err != nil {
			return err
		}
		if customer == nil {
			return domain.ErrInvalidCustomer
		}
		product, err := s.products.FindByID(ctx, tx, orgID, productID)
		if err != nil {
			return err
		}
		if product == nil || !product.Active {
			return domain.ErrInvalidProduct
		}

		now := s.clock.Now().UTC()
		order = domain.Order{
			ID:         s.genID.Generate(),
			OrgID:      orgID,
			CustomerID: customer.ID,
			ProductID:  product.ID,
			Status:     domain.OrderStatusPaid,
			Metadata:   datatypes.JSONMap{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.repo.Insert(ctx, tx, &order); err != nil {
			return err
		}
		return s.enqueueReconcile(ctx, tx, &order, memberID, grantdomain.TaskGrant)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Order, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Order{}, domain.ErrInvalidOrganization
	}
	orderID, err := parseID(id, domain.ErrInvalidOrder)
	if err != nil {
		return domain.Order{}, err
	}

	order, err := s.repo.FindByID(ctx, s.db, orgID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return *order, nil
}

func (s *Service) Refund(ctx context.Context, id string) (domain.Order, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Order{}, domain.ErrInvalidOrganization
	}
	orderID, err := parseID(id, domain.ErrInvalidOrder)
	if err != nil {
		return domain.Order{}, err
	}

	var order *domain.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err = s.repo.FindByID(ctx, tx, orgID, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		if order.Status == domain.OrderStatusRefunded {
			return domain.ErrAlreadyRefunded
		}

		now := s.clock.Now().UTC()
		order.Status = domain.OrderStatusRefunded
		order.RefundedAt = &now
		order.UpdatedAt = now
		if err := s.repo.UpdateStatus(ctx, tx, order); err != nil {
			return err
		}

		logger.WithContext(ctx, s.log).Info("order refunded",
			zap.String("order_id", order.ID.String()),
			zap.String("customer_id", order.CustomerID.String()),
		)
		return s.enqueueReconcile(ctx, tx, order, nil, grantdomain.TaskRevoke)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) enqueueReconcile(ctx context.Context, tx *gorm.DB, order *domain.Order, memberID *snowflake.ID, task grantdomain.Task) error {
	return s.queue.Enqueue(ctx, grantdomain.JobEnqueueBenefitsGrants,
		grantdomain.ProductChangeJobArgs(grantdomain.ProductChangeRequest{
			OrgID:      order.OrgID,
			CustomerID: order.CustomerID,
			ProductID:  order.ProductID,
			Scope:      scope.Args{OrderID: order.ID.String()},
			MemberID:   memberID,
			Task:       task,
		}),
		jobqueue.WithTx(tx),
	)
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
