package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type stubService struct {
	grantErr  error
	grants    []grantdomain.GrantRequest
	revokes   []grantdomain.GrantRequest
	updates   []grantdomain.UpdateRequest
	byGrantID []grantdomain.GrantIDRequest
}

func (s *stubService) Grant(_ context.Context, req grantdomain.GrantRequest) (*grantdomain.BenefitGrant, error) {
	s.grants = append(s.grants, req)
	return &grantdomain.BenefitGrant{}, s.grantErr
}

func (s *stubService) Revoke(_ context.Context, req grantdomain.GrantRequest) (*grantdomain.BenefitGrant, error) {
	s.revokes = append(s.revokes, req)
	return &grantdomain.BenefitGrant{}, nil
}

func (s *stubService) Cycle(_ context.Context, req grantdomain.GrantIDRequest) (*grantdomain.BenefitGrant, error) {
	s.byGrantID = append(s.byGrantID, req)
	return &grantdomain.BenefitGrant{}, nil
}

func (s *stubService) Update(_ context.Context, req grantdomain.UpdateRequest) (*grantdomain.BenefitGrant, error) {
	s.updates = append(s.updates, req)
	return &grantdomain.BenefitGrant{}, nil
}

func (s *stubService) Delete(_ context.Context, req grantdomain.GrantIDRequest) (*grantdomain.BenefitGrant, error) {
	s.byGrantID = append(s.byGrantID, req)
	return &grantdomain.BenefitGrant{}, nil
}

type stubReconciler struct {
	grantdomain.Reconciler
	productChanges []grantdomain.ProductChangeRequest
	preconditions  []benefitdomain.BenefitType
}

func (s *stubReconciler) EnqueueGrantsForProductChange(_ context.Context, req grantdomain.ProductChangeRequest) error {
	s.productChanges = append(s.productChanges, req)
	return nil
}

func (s *stubReconciler) EnqueuePreconditionFulfilled(_ context.Context, _, _ snowflake.ID, benefitType benefitdomain.BenefitType) error {
	s.preconditions = append(s.preconditions, benefitType)
	return nil
}

type heldLocker struct {
	held bool
	err  error
}

func (l *heldLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	return "tok", !l.held, nil
}

func (l *heldLocker) Release(context.Context, string, string) error { return nil }

func newTestHandlers(svc grantdomain.Service, rec grantdomain.Reconciler, locker lock.Locker) *handlers {
	h := &handlers{service: svc, reconciler: rec, log: zap.NewNop()}
	if locker != nil {
		h.locks = lock.NewGrantLocksWith(locker, time.Minute)
	}
	return h
}

func grantJob(args map[string]any) jobqueue.Job {
	return jobqueue.Job{Name: grantdomain.JobGrant, Args: datatypes.JSONMap(args), Attempt: 2}
}

func validGrantArgs() map[string]any {
	return grantdomain.GrantJobArgs(grantdomain.GrantRequest{
		OrgID:      testOrgID,
		CustomerID: 11,
		BenefitID:  12,
		Scope:      scope.Args{SubscriptionID: "13"},
	})
}

func TestGrantJobParsesArguments(t *testing.T) {
	svc := &stubService{}
	h := newTestHandlers(svc, &stubReconciler{}, nil)

	args := validGrantArgs()
	args["member_id"] = "14"
	require.NoError(t, h.grant(context.Background(), grantJob(args)))

	require.Len(t, svc.grants, 1)
	req := svc.grants[0]
	assert.Equal(t, snowflake.ID(11), req.CustomerID)
	assert.Equal(t, snowflake.ID(12), req.BenefitID)
	assert.Equal(t, "13", req.Scope.SubscriptionID)
	require.NotNil(t, req.MemberID)
	assert.Equal(t, snowflake.ID(14), *req.MemberID)
	assert.Equal(t, 2, req.Attempt)
}

func TestGrantJobRejectsMissingArguments(t *testing.T) {
	svc := &stubService{}
	h := newTestHandlers(svc, &stubReconciler{}, nil)

	args := validGrantArgs()
	delete(args, "benefit_id")
	err := h.grant(context.Background(), grantJob(args))
	require.ErrorIs(t, err, jobqueue.ErrInvalidArgs)
	assert.Empty(t, svc.grants)
}

func TestGrantJobPostponesWhenLocked(t *testing.T) {
	svc := &stubService{}
	h := newTestHandlers(svc, &stubReconciler{}, &heldLocker{held: true})

	err := h.grant(context.Background(), grantJob(validGrantArgs()))
	delay, ok := jobqueue.AsPostponed(err)
	require.True(t, ok)
	assert.Equal(t, lockRetryDelay, delay)
	_, _, retry := jobqueue.AsRetryable(err)
	assert.False(t, retry)
	assert.Empty(t, svc.grants)

	err = h.revoke(context.Background(), jobqueue.Job{Name: grantdomain.JobRevoke, Args: datatypes.JSONMap(validGrantArgs())})
	_, ok = jobqueue.AsPostponed(err)
	require.True(t, ok)
	assert.Empty(t, svc.revokes)
}

func TestGrantJobRunsUnlockedWhenLockBackendFails(t *testing.T) {
	svc := &stubService{}
	h := newTestHandlers(svc, &stubReconciler{}, &heldLocker{err: errors.New("redis down")})

	require.NoError(t, h.grant(context.Background(), grantJob(validGrantArgs())))
	assert.Len(t, svc.grants, 1)
}

func TestGrantJobTreatsInProgressAsDone(t *testing.T) {
	svc := &stubService{grantErr: fmt.Errorf("%w: lost race", grantdomain.ErrGrantInProgress)}
	h := newTestHandlers(svc, &stubReconciler{}, nil)

	require.NoError(t, h.grant(context.Background(), grantJob(validGrantArgs())))
}

func TestGrantJobPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	svc := &stubService{grantErr: boom}
	h := newTestHandlers(svc, &stubReconciler{}, nil)

	require.ErrorIs(t, h.grant(context.Background(), grantJob(validGrantArgs())), boom)
}

func TestUpdateJobForwardsPreviousProperties(t *testing.T) {
	svc := &stubService{}
	h := newTestHandlers(svc, &stubReconciler{}, nil)

	args := grantdomain.UpdateJobArgs(testOrgID, 21, map[string]any{"files": []any{"a"}})
	job := jobqueue.Job{Name: grantdomain.JobUpdate, Args: datatypes.JSONMap(args), Attempt: 1}
	require.NoError(t, h.update(context.Background(), job))

	require.Len(t, svc.updates, 1)
	assert.Equal(t, snowflake.ID(21), svc.updates[0].GrantID)
	assert.Equal(t, []any{"a"}, svc.updates[0].PreviousBenefitProperties["files"])
}

func TestEnqueueBenefitsGrantsJobParsesTask(t *testing.T) {
	rec := &stubReconciler{}
	h := newTestHandlers(&stubService{}, rec, nil)

	args := grantdomain.ProductChangeJobArgs(grantdomain.ProductChangeRequest{
		OrgID:      testOrgID,
		CustomerID: 31,
		ProductID:  32,
		Scope:      scope.Args{OrderID: "33"},
		Task:       grantdomain.TaskRevoke,
	})
	job := jobqueue.Job{Name: grantdomain.JobEnqueueBenefitsGrants, Args: datatypes.JSONMap(args), Attempt: 1}
	require.NoError(t, h.enqueueBenefitsGrants(context.Background(), job))

	require.Len(t, rec.productChanges, 1)
	req := rec.productChanges[0]
	assert.Equal(t, grantdomain.TaskRevoke, req.Task)
	assert.Equal(t, snowflake.ID(32), req.ProductID)
	assert.Equal(t, "33", req.Scope.OrderID)
}

func TestPreconditionJobRejectsUnknownBenefitType(t *testing.T) {
	rec := &stubReconciler{}
	h := newTestHandlers(&stubService{}, rec, nil)

	args := grantdomain.CustomerJobArgs(testOrgID, 41)
	args["benefit_type"] = "newsletter"
	err := h.preconditionFulfilled(context.Background(), jobqueue.Job{Args: datatypes.JSONMap(args)})
	require.ErrorIs(t, err, jobqueue.ErrInvalidArgs)
	assert.Empty(t, rec.preconditions)

	args["benefit_type"] = string(benefitdomain.BenefitTypeGitHubRepository)
	require.NoError(t, h.preconditionFulfilled(context.Background(), jobqueue.Job{Args: datatypes.JSONMap(args)}))
	assert.Equal(t, []benefitdomain.BenefitType{benefitdomain.BenefitTypeGitHubRepository}, rec.preconditions)
}

func TestRegisterHandlersCoversEveryJob(t *testing.T) {
	registry := jobqueue.NewRegistry()
	require.NoError(t, RegisterHandlers(HandlerParams{
		Registry:   registry,
		Service:    &stubService{},
		Reconciler: &stubReconciler{},
		Log:        zap.NewNop(),
	}))

	for _, name := range []string{
		grantdomain.JobGrant,
		grantdomain.JobRevoke,
		grantdomain.JobCycle,
		grantdomain.JobUpdate,
		grantdomain.JobDelete,
		grantdomain.JobEnqueueBenefitsGrants,
		grantdomain.JobEnqueueCycles,
		grantdomain.JobBenefitUpdated,
		grantdomain.JobBenefitDeleted,
		grantdomain.JobProductBenefitsChange,
		grantdomain.JobCustomerDeleted,
		grantdomain.JobPreconditionFulfilled,
	} {
		_, ok := registry.Lookup(name)
		assert.True(t, ok, name)
	}
}

func TestLockScopeKey(t *testing.T) {
	assert.Equal(t, "subscription=5", lockScopeKey(scope.Args{SubscriptionID: "5"}))
	assert.Equal(t, "order=6", lockScopeKey(scope.Args{OrderID: "6"}))
	assert.Empty(t, lockScopeKey(scope.Args{SubscriptionID: "5", OrderID: "6"}))
	assert.Empty(t, lockScopeKey(scope.Args{}))
}
