package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/observability/logger"
	"github.com/smallbiznis/railzway-benefits/internal/orgcontext"
	productdomain "github.com/smallbiznis/railzway-benefits/internal/product/domain"
	subscriptiondomain "github.com/smallbiznis/railzway-benefits/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	Customers customerdomain.Repository
	Products  productdomain.Repository
	Queue     jobqueue.Enqueuer
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	customers customerdomain.Repository
	products  productdomain.Repository
	queue     jobqueue.Enqueuer
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		customers: p.Customers,
		products:  p.Products,
		queue:     p.Queue,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	customerID, err := s.parseID(req.CustomerID, subscriptiondomain.ErrInvalidCustomer)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	productID, err := s.parseID(req.ProductID, subscriptiondomain.ErrInvalidProduct)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	memberID, err := s.parseOptionalID(req.MemberID, subscriptiondomain.ErrInvalidCustomer)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	var subscription subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.customers.FindByID(ctx, tx, orgID, customerID, false)
		if err != nil {
			return err
		}
		if customer == nil {
			return subscriptiondomain.ErrInvalidCustomer
		}
		product, err := s.products.FindByID(ctx, tx, orgID, productID)
		if err != nil {
			return err
		}
		if product == nil || !product.Active || !product.IsRecurring {
			return subscriptiondomain.ErrInvalidProduct
		}

		now := s.clock.Now().UTC()
		end := periodEnd(now, req.PeriodLength)
		subscription = subscriptiondomain.Subscription{
			ID:                 s.genID.Generate(),
			OrgID:              orgID,
			CustomerID:         customer.ID,
			ProductID:          product.ID,
			MemberID:           memberID,
			Status:             subscriptiondomain.SubscriptionStatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   &end,
			Metadata:           datatypes.JSONMap{},
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			return err
		}
		return s.enqueueReconcile(ctx, tx, &subscription, grantdomain.TaskGrant)
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return subscription, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	subscriptionID, err := s.parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, orgID, subscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if item == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *item, nil
}

// ChangeProduct moves the subscription to another product. Reconciling the
// new product grants what is missing and revokes what the old product
// carried but the new one does not.
func (s *Service) ChangeProduct(ctx context.Context, req subscriptiondomain.ChangeProductRequest) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	subscriptionID, err := s.parseID(req.SubscriptionID, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	productID, err := s.parseID(req.ProductID, subscriptiondomain.ErrInvalidProduct)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	var subscription *subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if !subscription.EntitlesBenefits() {
			return subscriptiondomain.ErrSubscriptionInactive
		}
		if subscription.ProductID == productID {
			return nil
		}

		product, err := s.products.FindByID(ctx, tx, orgID, productID)
		if err != nil {
			return err
		}
		if product == nil || !product.Active || !product.IsRecurring {
			return subscriptiondomain.ErrInvalidProduct
		}

		previousProductID := subscription.ProductID
		subscription.ProductID = product.ID
		subscription.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		logger.WithContext(ctx, s.log).Info("subscription product changed",
			zap.String("subscription_id", subscription.ID.String()),
			zap.String("from_product_id", previousProductID.String()),
			zap.String("to_product_id", product.ID.String()),
		)
		return s.enqueueReconcile(ctx, tx, subscription, grantdomain.TaskGrant)
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return *subscription, nil
}

// TransitionSubscription moves the subscription along the lifecycle.
// Crossing the entitlement boundary enqueues a grant or revoke
// reconciliation for the subscription's product.
func (s *Service) TransitionSubscription(
	ctx context.Context,
	id string,
	targetStatus subscriptiondomain.SubscriptionStatus,
) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	subscriptionID, err := s.parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if !isValidStatus(targetStatus) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTargetStatus
	}

	var subscription *subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		if subscription.Status == targetStatus {
			return nil
		}

		if !isTransitionAllowed(subscription.Status, targetStatus) {
			return subscriptiondomain.ErrInvalidTransition
		}

		wasEntitled := subscription.EntitlesBenefits()
		now := s.clock.Now().UTC()
		switch targetStatus {
		case subscriptiondomain.SubscriptionStatusCanceled:
			subscription.CanceledAt = &now
		case subscriptiondomain.SubscriptionStatusEnded:
			subscription.EndedAt = &now
		}

		subscription.Status = targetStatus
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		isEntitled := subscription.EntitlesBenefits()
		switch {
		case wasEntitled && !isEntitled:
			return s.enqueueReconcile(ctx, tx, subscription, grantdomain.TaskRevoke)
		case !wasEntitled && isEntitled:
			return s.enqueueReconcile(ctx, tx, subscription, grantdomain.TaskGrant)
		}
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return *subscription, nil
}

// Renew rolls the billing period forward by its current length and cycles
// every granted benefit in the subscription's scope.
func (s *Service) Renew(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	subscriptionID, err := s.parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	var subscription *subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if !subscription.EntitlesBenefits() {
			return subscriptiondomain.ErrSubscriptionInactive
		}

		now := s.clock.Now().UTC()
		start := now
		var length time.Duration
		if subscription.CurrentPeriodEnd != nil {
			start = subscription.CurrentPeriodEnd.UTC()
			length = subscription.CurrentPeriodEnd.Sub(subscription.CurrentPeriodStart)
		}
		end := periodEnd(start, length)
		subscription.CurrentPeriodStart = start
		subscription.CurrentPeriodEnd = &end
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		return s.queue.Enqueue(ctx, grantdomain.JobEnqueueCycles,
			grantdomain.CycleScopeJobArgs(orgID, subscription.CustomerID, scope.Args{SubscriptionID: subscription.ID.String()}),
			jobqueue.WithTx(tx),
		)
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return *subscription, nil
}

func (s *Service) enqueueReconcile(
	ctx context.Context,
	tx *gorm.DB,
	subscription *subscriptiondomain.Subscription,
	task grantdomain.Task,
) error {
	return s.queue.Enqueue(ctx, grantdomain.JobEnqueueBenefitsGrants,
		grantdomain.ProductChangeJobArgs(grantdomain.ProductChangeRequest{
			OrgID:      subscription.OrgID,
			CustomerID: subscription.CustomerID,
			ProductID:  subscription.ProductID,
			Scope:      scope.Args{SubscriptionID: subscription.ID.String()},
			MemberID:   subscription.MemberID,
			Task:       task,
		}),
		jobqueue.WithTx(tx),
	)
}

func (s *Service) parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func (s *Service) parseOptionalID(value string, invalidErr error) (*snowflake.ID, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	id, err := s.parseID(value, invalidErr)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func periodEnd(start time.Time, length time.Duration) time.Time {
	if length <= 0 {
		return start.AddDate(0, 1, 0)
	}
	return start.Add(length)
}

func isValidStatus(status subscriptiondomain.SubscriptionStatus) bool {
	switch status {
	case subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusTrialing,
		subscriptiondomain.SubscriptionStatusPastDue,
		subscriptiondomain.SubscriptionStatusCanceled,
		subscriptiondomain.SubscriptionStatusEnded:
		return true
	default:
		return false
	}
}

func isTransitionAllowed(current, target subscriptiondomain.SubscriptionStatus) bool {
	switch current {
	case subscriptiondomain.SubscriptionStatusTrialing:
		return target == subscriptiondomain.SubscriptionStatusActive || target == subscriptiondomain.SubscriptionStatusCanceled
	case subscriptiondomain.SubscriptionStatusActive:
		return target == subscriptiondomain.SubscriptionStatusPastDue || target == subscriptiondomain.SubscriptionStatusCanceled
	case subscriptiondomain.SubscriptionStatusPastDue:
		return target == subscriptiondomain.SubscriptionStatusActive || target == subscriptiondomain.SubscriptionStatusCanceled
	case subscriptiondomain.SubscriptionStatusCanceled:
		return target == subscriptiondomain.SubscriptionStatusEnded
	default:
		return false
	}
}
