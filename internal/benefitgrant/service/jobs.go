package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/lock"
	"github.com/smallbiznis/railzway-benefits/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// lockRetryDelay is how long a job waits after losing the grant lock.
const lockRetryDelay = 5 * time.Second

type HandlerParams struct {
	fx.In

	Registry   *jobqueue.Registry
	Service    grantdomain.Service
	Reconciler grantdomain.Reconciler
	Locks      *lock.GrantLocks `optional:"true"`
	Log        *zap.Logger
}

type handlers struct {
	service    grantdomain.Service
	reconciler grantdomain.Reconciler
	locks      *lock.GrantLocks
	log        *zap.Logger
}

// RegisterHandlers wires the grant engine jobs into the worker registry.
func RegisterHandlers(p HandlerParams) error {
	h := &handlers{
		service:    p.Service,
		reconciler: p.Reconciler,
		locks:      p.Locks,
		log:        p.Log.Named("benefitgrant.jobs"),
	}
	for name, fn := range h.table() {
		if err := p.Registry.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *handlers) table() map[string]jobqueue.HandlerFunc {
	return map[string]jobqueue.HandlerFunc{
		grantdomain.JobGrant:                 h.grant,
		grantdomain.JobRevoke:                h.revoke,
		grantdomain.JobCycle:                 h.cycle,
		grantdomain.JobUpdate:                h.update,
		grantdomain.JobDelete:                h.delete,
		grantdomain.JobEnqueueBenefitsGrants: h.enqueueBenefitsGrants,
		grantdomain.JobEnqueueCycles:         h.enqueueCycles,
		grantdomain.JobBenefitUpdated:        h.benefitUpdated,
		grantdomain.JobBenefitDeleted:        h.benefitDeleted,
		grantdomain.JobProductBenefitsChange: h.productBenefitsChanged,
		grantdomain.JobCustomerDeleted:       h.customerDeleted,
		grantdomain.JobPreconditionFulfilled: h.preconditionFulfilled,
	}
}

func (h *handlers) grant(ctx context.Context, job jobqueue.Job) error {
	req, err := grantRequestFromJob(job)
	if err != nil {
		return err
	}
	return h.withGrantLock(ctx, req, func() error {
		_, err := h.service.Grant(ctx, req)
		return h.settle(ctx, job, err)
	})
}

func (h *handlers) revoke(ctx context.Context, job jobqueue.Job) error {
	req, err := grantRequestFromJob(job)
	if err != nil {
		return err
	}
	return h.withGrantLock(ctx, req, func() error {
		_, err := h.service.Revoke(ctx, req)
		return h.settle(ctx, job, err)
	})
}

func (h *handlers) cycle(ctx context.Context, job jobqueue.Job) error {
	req, err := grantIDRequestFromJob(job)
	if err != nil {
		return err
	}
	_, err = h.service.Cycle(ctx, req)
	return h.settle(ctx, job, err)
}

func (h *handlers) update(ctx context.Context, job jobqueue.Job) error {
	req, err := grantIDRequestFromJob(job)
	if err != nil {
		return err
	}
	_, err = h.service.Update(ctx, grantdomain.UpdateRequest{
		OrgID:                     req.OrgID,
		GrantID:                   req.GrantID,
		PreviousBenefitProperties: job.ArgMap("previous_properties"),
		Attempt:                   req.Attempt,
	})
	return h.settle(ctx, job, err)
}

func (h *handlers) delete(ctx context.Context, job jobqueue.Job) error {
	req, err := grantIDRequestFromJob(job)
	if err != nil {
		return err
	}
	_, err = h.service.Delete(ctx, req)
	return h.settle(ctx, job, err)
}

func (h *handlers) enqueueBenefitsGrants(ctx context.Context, job jobqueue.Job) error {
	orgID, err := job.ArgID("org_id")
	if err != nil {
		return err
	}
	customerID, err := job.ArgID("customer_id")
	if err != nil {
		return err
	}
	productID, err := job.ArgID("product_id")
	if err != nil {
		return err
	}
	memberID, err := job.ArgOptionalID("member_id")
	if err != nil {
		return err
	}
	return h.reconciler.EnqueueGrantsForProductChange(ctx, grantdomain.ProductChangeRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		ProductID:  productID,
		Scope:      scope.ArgsFromMap(job.Args),
		MemberID:   memberID,
		Task:       grantdomain.Task(job.ArgString("task")),
	})
}

func (h *handlers) enqueueCycles(ctx context.Context, job jobqueue.Job) error {
	orgID, err := job.ArgID("org_id")
	if err != nil {
		return err
	}
	customerID, err := job.ArgID("customer_id")
	if err != nil {
		return err
	}
	return h.reconciler.EnqueueCycleForScope(ctx, orgID, customerID, scope.ArgsFromMap(job.Args))
}

func (h *handlers) benefitUpdated(ctx context.Context, job jobqueue.Job) error {
	orgID, err := job.ArgID("org_id")
	if err != nil {
		return err
	}
	benefitID, err := job.ArgID("benefit_id")
	if err != nil {
		return err
	}
	return h.reconciler.EnqueueBenefitUpdated(ctx, orgID, benefitID, job.ArgMap("previous_properties"))
}

func (h *handlers) benefitDeleted(ctx context.Context, job jobqueue.Job) error {
	orgID, err := job.ArgID("org_id")
	if err != nil {
		return err
	}
	benefitID, err := job.ArgID("benefit_id")
	if err != nil {
		return err
	}
	return h.reconciler.EnqueueBenefitDeleted(ctx, orgID, benefitID)
}

func (h *handlers) productBenefitsChanged(ctx context.Context, job jobqueue.Job) error {
	orgID, err := job.ArgID("org_id")
	if err != nil {
		return err
	}
	productID, err := job.ArgID("product_id")
	if err != nil {
		return err
	}
	return h.reconciler.EnqueueProductBenefitsChanged(ctx, orgID, productID)
}

func (h *handlers) customerDeleted(ctx context.Context, job jobqueue.Job) error {
	orgID, err := job.ArgID("org_id")
	if err != nil {
		return err
	}
	customerID, err := job.ArgID("customer_id")
	if err != nil {
		return err
	}
	return h.reconciler.EnqueueCustomerDeleted(ctx, orgID, customerID)
}

func (h *handlers) preconditionFulfilled(ctx context.Context, job jobqueue.Job) error {
	orgID, err := job.ArgID("org_id")
	if err != nil {
		return err
	}
	customerID, err := job.ArgID("customer_id")
	if err != nil {
		return err
	}
	benefitType, err := benefitdomain.ParseBenefitType(job.ArgString("benefit_type"))
	if err != nil {
		return fmt.Errorf("%w: %v", jobqueue.ErrInvalidArgs, err)
	}
	return h.reconciler.EnqueuePreconditionFulfilled(ctx, orgID, customerID, benefitType)
}

// withGrantLock serializes concurrent jobs for the same grant tuple. A lock
// miss postpones the job without spending an attempt. A lock backend failure
// runs it unlocked; the unique index still guards the row.
func (h *handlers) withGrantLock(ctx context.Context, req grantdomain.GrantRequest, fn func() error) error {
	key := lockScopeKey(req.Scope)
	if h.locks == nil || key == "" {
		return fn()
	}
	release, ok, err := h.locks.Acquire(ctx, req.CustomerID.String(), req.BenefitID.String(), key)
	if err != nil {
		logger.WithContext(ctx, h.log).Warn("grant lock unavailable; running unlocked", zap.Error(err))
		return fn()
	}
	if !ok {
		return jobqueue.Postpone(lockRetryDelay, "grant is locked by another worker")
	}
	defer release()
	return fn()
}

// settle decides what the worker sees. A lost insert race means another job
// owns the grant, so this one finishes quietly.
func (h *handlers) settle(ctx context.Context, job jobqueue.Job, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, grantdomain.ErrGrantInProgress) {
		logger.WithContext(ctx, h.log).Info("grant handled by a concurrent job",
			zap.String("job", job.Name),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func grantRequestFromJob(job jobqueue.Job) (grantdomain.GrantRequest, error) {
	orgID, err := job.ArgID("org_id")
	if err != nil {
		return grantdomain.GrantRequest{}, err
	}
	customerID, err := job.ArgID("customer_id")
	if err != nil {
		return grantdomain.GrantRequest{}, err
	}
	benefitID, err := job.ArgID("benefit_id")
	if err != nil {
		return grantdomain.GrantRequest{}, err
	}
	memberID, err := job.ArgOptionalID("member_id")
	if err != nil {
		return grantdomain.GrantRequest{}, err
	}
	return grantdomain.GrantRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		BenefitID:  benefitID,
		Scope:      scope.ArgsFromMap(job.Args),
		MemberID:   memberID,
		Attempt:    job.Attempt,
	}, nil
}

func grantIDRequestFromJob(job jobqueue.Job) (grantdomain.GrantIDRequest, error) {
	orgID, err := job.ArgID("org_id")
	if err != nil {
		return grantdomain.GrantIDRequest{}, err
	}
	grantID, err := job.ArgID("grant_id")
	if err != nil {
		return grantdomain.GrantIDRequest{}, err
	}
	return grantdomain.GrantIDRequest{OrgID: orgID, GrantID: grantID, Attempt: job.Attempt}, nil
}

// lockScopeKey mirrors scope.Key for arguments that have not been resolved
// yet. Malformed arguments get no lock and fail in the service.
func lockScopeKey(args scope.Args) string {
	switch {
	case args.SubscriptionID != "" && args.OrderID == "":
		return scope.KindSubscription + "=" + args.SubscriptionID
	case args.OrderID != "" && args.SubscriptionID == "":
		return scope.KindOrder + "=" + args.OrderID
	}
	return ""
}
