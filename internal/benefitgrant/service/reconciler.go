package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/observability/logger"
	orderdomain "github.com/smallbiznis/railzway-benefits/internal/order/domain"
	productdomain "github.com/smallbiznis/railzway-benefits/internal/product/domain"
	subscriptiondomain "github.com/smallbiznis/railzway-benefits/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ReconcilerParams struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Queue         jobqueue.Enqueuer
	Repo          grantdomain.Repository
	Products      productdomain.Repository
	Subscriptions subscriptiondomain.Repository
	Orders        orderdomain.Repository
	Resolver      *scope.Resolver
}

// Reconciler turns entitlement changes into per-benefit jobs. Every batch is
// enqueued in one transaction so a failure leaves nothing half-scheduled.
type Reconciler struct {
	db            *gorm.DB
	log           *zap.Logger
	queue         jobqueue.Enqueuer
	repo          grantdomain.Repository
	products      productdomain.Repository
	subscriptions subscriptiondomain.Repository
	orders        orderdomain.Repository
	resolver      *scope.Resolver
}

func NewReconciler(p ReconcilerParams) grantdomain.Reconciler {
	return newReconciler(p)
}

func newReconciler(p ReconcilerParams) *Reconciler {
	return &Reconciler{
		db:            p.DB,
		log:           p.Log.Named("benefitgrant.reconciler"),
		queue:         p.Queue,
		repo:          p.Repo,
		products:      p.Products,
		subscriptions: p.Subscriptions,
		orders:        p.Orders,
		resolver:      p.Resolver,
	}
}

type pendingJob struct {
	name string
	args map[string]any
}

// EnqueueGrantsForProductChange diffs the product's benefits against the
// grants in the scope. Grants waiting on customer action are not retried
// here; they resume on customer.precondition_fulfilled.
func (r *Reconciler) EnqueueGrantsForProductChange(ctx context.Context, req grantdomain.ProductChangeRequest) error {
	if !req.Task.Valid() {
		return grantdomain.ErrInvalidTask
	}

	product, err := r.products.FindByID(ctx, r.db, req.OrgID, req.ProductID)
	if err != nil {
		return err
	}
	if product == nil {
		return grantdomain.ErrProductNotFound
	}
	resolved, err := r.resolver.Resolve(ctx, r.db, req.OrgID, req.CustomerID, req.Scope)
	if err != nil {
		return err
	}
	args := scope.ToArgs(resolved)
	key := resolved.Key()

	benefits, err := r.products.ListBenefits(ctx, r.db, req.OrgID, product.ID)
	if err != nil {
		return err
	}
	existing, err := r.repo.ListByScope(ctx, r.db, req.OrgID, req.CustomerID, key)
	if err != nil {
		return err
	}
	byBenefit := make(map[snowflake.ID]grantdomain.BenefitGrant, len(existing))
	for _, grant := range existing {
		byBenefit[grant.BenefitID] = grant
	}

	jobs := make([]pendingJob, 0, len(benefits))
	currentIDs := make([]snowflake.ID, 0, len(benefits))
	for _, benefit := range benefits {
		currentIDs = append(currentIDs, benefit.ID)
		request := grantdomain.GrantRequest{
			OrgID:      req.OrgID,
			CustomerID: req.CustomerID,
			BenefitID:  benefit.ID,
			Scope:      args,
			MemberID:   req.MemberID,
		}

		if req.Task == grantdomain.TaskRevoke {
			jobs = append(jobs, pendingJob{name: grantdomain.JobRevoke, args: grantdomain.GrantJobArgs(request)})
			continue
		}
		if grant, ok := byBenefit[benefit.ID]; ok && (grant.IsGranted() || grant.IsActionRequired()) {
			continue
		}
		jobs = append(jobs, pendingJob{name: grantdomain.JobGrant, args: grantdomain.GrantJobArgs(request)})
	}

	outdated, err := r.repo.ListOutdatedGrants(ctx, r.db, req.OrgID, req.CustomerID, key, currentIDs)
	if err != nil {
		return err
	}
	for _, grant := range outdated {
		jobs = append(jobs, pendingJob{
			name: grantdomain.JobRevoke,
			args: grantdomain.GrantJobArgs(grantdomain.GrantRequest{
				OrgID:      req.OrgID,
				CustomerID: req.CustomerID,
				BenefitID:  grant.BenefitID,
				Scope:      args,
				MemberID:   grant.MemberID,
			}),
		})
	}

	logger.WithContext(ctx, r.log).Info("reconciled product benefits",
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("product_id", req.ProductID.String()),
		zap.String("scope_key", key),
		zap.String("task", string(req.Task)),
		zap.Int("benefits", len(benefits)),
		zap.Int("outdated", len(outdated)),
		zap.Int("jobs", len(jobs)),
	)
	return r.enqueueAll(ctx, jobs)
}

func (r *Reconciler) EnqueueCycleForScope(ctx context.Context, orgID, customerID snowflake.ID, args scope.Args) error {
	resolved, err := r.resolver.Resolve(ctx, r.db, orgID, customerID, args)
	if err != nil {
		return err
	}
	grants, err := r.repo.ListGrantedByScope(ctx, r.db, orgID, customerID, resolved.Key())
	if err != nil {
		return err
	}

	jobs := make([]pendingJob, 0, len(grants))
	for _, grant := range grants {
		jobs = append(jobs, pendingJob{name: grantdomain.JobCycle, args: grantdomain.GrantIDJobArgs(orgID, grant.ID)})
	}
	return r.enqueueAll(ctx, jobs)
}

func (r *Reconciler) EnqueueProductBenefitsChanged(ctx context.Context, orgID, productID snowflake.ID) error {
	subscriptions, err := r.subscriptions.ListEntitledByProduct(ctx, r.db, orgID, productID)
	if err != nil {
		return err
	}
	orders, err := r.orders.ListPaidByProduct(ctx, r.db, orgID, productID)
	if err != nil {
		return err
	}

	jobs := make([]pendingJob, 0, len(subscriptions)+len(orders))
	for _, subscription := range subscriptions {
		jobs = append(jobs, pendingJob{
			name: grantdomain.JobEnqueueBenefitsGrants,
			args: grantdomain.ProductChangeJobArgs(grantdomain.ProductChangeRequest{
				OrgID:      orgID,
				CustomerID: subscription.CustomerID,
				ProductID:  productID,
				Scope:      scope.Args{SubscriptionID: subscription.ID.String()},
				MemberID:   subscription.MemberID,
				Task:       grantdomain.TaskGrant,
			}),
		})
	}
	for _, order := range orders {
		jobs = append(jobs, pendingJob{
			name: grantdomain.JobEnqueueBenefitsGrants,
			args: grantdomain.ProductChangeJobArgs(grantdomain.ProductChangeRequest{
				OrgID:      orgID,
				CustomerID: order.CustomerID,
				ProductID:  productID,
				Scope:      scope.Args{OrderID: order.ID.String()},
				Task:       grantdomain.TaskGrant,
			}),
		})
	}
	return r.enqueueAll(ctx, jobs)
}

func (r *Reconciler) EnqueueBenefitUpdated(ctx context.Context, orgID, benefitID snowflake.ID, previousProperties map[string]any) error {
	grants, err := r.repo.ListGrantedByBenefit(ctx, r.db, orgID, benefitID)
	if err != nil {
		return err
	}
	jobs := make([]pendingJob, 0, len(grants))
	for _, grant := range grants {
		jobs = append(jobs, pendingJob{
			name: grantdomain.JobUpdate,
			args: grantdomain.UpdateJobArgs(orgID, grant.ID, previousProperties),
		})
	}
	return r.enqueueAll(ctx, jobs)
}

func (r *Reconciler) EnqueueBenefitDeleted(ctx context.Context, orgID, benefitID snowflake.ID) error {
	grants, err := r.repo.ListByBenefit(ctx, r.db, orgID, benefitID)
	if err != nil {
		return err
	}
	return r.enqueueAll(ctx, deleteJobs(orgID, grants))
}

func (r *Reconciler) EnqueueCustomerDeleted(ctx context.Context, orgID, customerID snowflake.ID) error {
	grants, err := r.repo.ListByCustomer(ctx, r.db, orgID, customerID)
	if err != nil {
		return err
	}
	return r.enqueueAll(ctx, deleteJobs(orgID, grants))
}

// EnqueuePreconditionFulfilled re-runs grants of benefitType that were left
// waiting on the customer.
func (r *Reconciler) EnqueuePreconditionFulfilled(ctx context.Context, orgID, customerID snowflake.ID, benefitType benefitdomain.BenefitType) error {
	grants, err := r.repo.ListByCustomerAndBenefitType(ctx, r.db, orgID, customerID, benefitType)
	if err != nil {
		return err
	}

	jobs := make([]pendingJob, 0, len(grants))
	for _, grant := range grants {
		if !grant.IsActionRequired() {
			continue
		}
		jobs = append(jobs, pendingJob{
			name: grantdomain.JobGrant,
			args: grantdomain.GrantJobArgs(grantdomain.GrantRequest{
				OrgID:      orgID,
				CustomerID: customerID,
				BenefitID:  grant.BenefitID,
				Scope:      argsForGrant(grant),
				MemberID:   grant.MemberID,
			}),
		})
	}
	return r.enqueueAll(ctx, jobs)
}

func (r *Reconciler) enqueueAll(ctx context.Context, jobs []pendingJob) error {
	if len(jobs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, job := range jobs {
			if err := r.queue.Enqueue(ctx, job.name, job.args, jobqueue.WithTx(tx)); err != nil {
				return err
			}
		}
		return nil
	})
}

func deleteJobs(orgID snowflake.ID, grants []grantdomain.BenefitGrant) []pendingJob {
	jobs := make([]pendingJob, 0, len(grants))
	for _, grant := range grants {
		jobs = append(jobs, pendingJob{name: grantdomain.JobDelete, args: grantdomain.GrantIDJobArgs(orgID, grant.ID)})
	}
	return jobs
}

// argsForGrant rebuilds scope arguments from the ids stored on the grant.
func argsForGrant(grant grantdomain.BenefitGrant) scope.Args {
	var args scope.Args
	if grant.SubscriptionID != nil {
		args.SubscriptionID = grant.SubscriptionID.String()
	}
	if grant.OrderID != nil {
		args.OrderID = grant.OrderID.String()
	}
	return args
}
