package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	customerrepository "github.com/smallbiznis/railzway-benefits/internal/customer/repository"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/orgcontext"
	productdomain "github.com/smallbiznis/railzway-benefits/internal/product/domain"
	productrepository "github.com/smallbiznis/railzway-benefits/internal/product/repository"
	"github.com/smallbiznis/railzway-benefits/internal/subscription/domain"
	"github.com/smallbiznis/railzway-benefits/internal/subscription/repository"
	"github.com/smallbiznis/railzway-benefits/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testOrg = snowflake.ID(9)

type recordingQueue struct {
	names []string
	args  []map[string]any
}

func (q *recordingQueue) Enqueue(_ context.Context, name string, args map[string]any, _ ...jobqueue.EnqueueOption) error {
	q.names = append(q.names, name)
	q.args = append(q.args, args)
	return nil
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	queue    *recordingQueue
	ctx      context.Context
	customer customerdomain.Customer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenSQLite(t, &domain.Subscription{}, &customerdomain.Customer{}, &productdomain.Product{})
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	f := &fixture{
		db:    db,
		node:  node,
		clock: clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		queue: &recordingQueue{},
		ctx:   orgcontext.WithOrgID(context.Background(), testOrg),
	}
	f.svc = NewService(ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     f.clock,
		Repo:      repository.Provide(),
		Customers: customerrepository.Provide(),
		Products:  productrepository.Provide(),
		Queue:     f.queue,
	})

	now := f.clock.Now()
	f.customer = customerdomain.Customer{ID: node.Generate(), OrgID: testOrg, Name: "Ada", Email: "ada@example.com", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.Create(&f.customer).Error)
	return f
}

func (f *fixture) product(t *testing.T, recurring bool) productdomain.Product {
	t.Helper()
	now := f.clock.Now()
	product := productdomain.Product{ID: f.node.Generate(), OrgID: testOrg, Name: "Plan", IsRecurring: recurring, Active: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, productrepository.Provide().Create(context.Background(), f.db, &product))
	return product
}

func (f *fixture) subscribe(t *testing.T, product productdomain.Product) domain.Subscription {
	t.Helper()
	sub, err := f.svc.Create(f.ctx, domain.CreateSubscriptionRequest{
		CustomerID: f.customer.ID.String(),
		ProductID:  product.ID.String(),
	})
	require.NoError(t, err)
	return sub
}

func TestCreateEnqueuesGrantReconcile(t *testing.T) {
	f := newFixture(t)
	product := f.product(t, true)

	sub := f.subscribe(t, product)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, f.clock.Now().AddDate(0, 1, 0), sub.CurrentPeriodEnd.UTC())

	require.Equal(t, []string{grantdomain.JobEnqueueBenefitsGrants}, f.queue.names)
	args := f.queue.args[0]
	assert.Equal(t, string(grantdomain.TaskGrant), args["task"])
	assert.Equal(t, sub.ID.String(), args["subscription_id"])
	assert.Equal(t, product.ID.String(), args["product_id"])
}

func TestCreateRejectsOneTimeProductAndUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	oneTime := f.product(t, false)

	_, err := f.svc.Create(f.ctx, domain.CreateSubscriptionRequest{CustomerID: f.customer.ID.String(), ProductID: oneTime.ID.String()})
	require.ErrorIs(t, err, domain.ErrInvalidProduct)

	recurring := f.product(t, true)
	_, err = f.svc.Create(f.ctx, domain.CreateSubscriptionRequest{CustomerID: "777", ProductID: recurring.ID.String()})
	require.ErrorIs(t, err, domain.ErrInvalidCustomer)

	_, err = f.svc.Create(context.Background(), domain.CreateSubscriptionRequest{})
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)
	assert.Empty(t, f.queue.names)
}

func TestChangeProductReconcilesNewProduct(t *testing.T) {
	f := newFixture(t)
	basic := f.product(t, true)
	pro := f.product(t, true)
	sub := f.subscribe(t, basic)

	changed, err := f.svc.ChangeProduct(f.ctx, domain.ChangeProductRequest{SubscriptionID: sub.ID.String(), ProductID: pro.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, pro.ID, changed.ProductID)

	require.Len(t, f.queue.names, 2)
	assert.Equal(t, pro.ID.String(), f.queue.args[1]["product_id"])
	assert.Equal(t, string(grantdomain.TaskGrant), f.queue.args[1]["task"])

	_, err = f.svc.ChangeProduct(f.ctx, domain.ChangeProductRequest{SubscriptionID: sub.ID.String(), ProductID: pro.ID.String()})
	require.NoError(t, err)
	assert.Len(t, f.queue.names, 2)
}

func TestMemberFollowsSubscriptionReconciles(t *testing.T) {
	f := newFixture(t)
	basic := f.product(t, true)
	pro := f.product(t, true)
	member := f.node.Generate()

	sub, err := f.svc.Create(f.ctx, domain.CreateSubscriptionRequest{
		CustomerID: f.customer.ID.String(),
		ProductID:  basic.ID.String(),
		MemberID:   member.String(),
	})
	require.NoError(t, err)
	require.NotNil(t, sub.MemberID)
	assert.Equal(t, member, *sub.MemberID)

	_, err = f.svc.ChangeProduct(f.ctx, domain.ChangeProductRequest{SubscriptionID: sub.ID.String(), ProductID: pro.ID.String()})
	require.NoError(t, err)
	_, err = f.svc.TransitionSubscription(f.ctx, sub.ID.String(), domain.SubscriptionStatusCanceled)
	require.NoError(t, err)

	require.Len(t, f.queue.args, 3)
	for i, args := range f.queue.args {
		assert.Equal(t, member.String(), args["member_id"], "reconcile %d", i)
	}
	assert.Equal(t, string(grantdomain.TaskRevoke), f.queue.args[2]["task"])

	stored, err := repository.Provide().FindByID(context.Background(), f.db, testOrg, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MemberID)
	assert.Equal(t, member, *stored.MemberID)
}

func TestTransitionCanceledRevokes(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, f.product(t, true))

	pastDue, err := f.svc.TransitionSubscription(f.ctx, sub.ID.String(), domain.SubscriptionStatusPastDue)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, pastDue.Status)
	assert.Len(t, f.queue.names, 1)

	canceled, err := f.svc.TransitionSubscription(f.ctx, sub.ID.String(), domain.SubscriptionStatusCanceled)
	require.NoError(t, err)
	require.NotNil(t, canceled.CanceledAt)
	require.Len(t, f.queue.names, 2)
	assert.Equal(t, string(grantdomain.TaskRevoke), f.queue.args[1]["task"])

	_, err = f.svc.TransitionSubscription(f.ctx, sub.ID.String(), domain.SubscriptionStatusActive)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	ended, err := f.svc.TransitionSubscription(f.ctx, sub.ID.String(), domain.SubscriptionStatusEnded)
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
	assert.Len(t, f.queue.names, 2)

	_, err = f.svc.TransitionSubscription(f.ctx, sub.ID.String(), "PAUSED")
	require.ErrorIs(t, err, domain.ErrInvalidTargetStatus)
}

func TestRenewAdvancesPeriodAndCycles(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, f.product(t, true))
	firstEnd := sub.CurrentPeriodEnd.UTC()

	f.clock.Advance(31 * 24 * time.Hour)
	renewed, err := f.svc.Renew(f.ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, firstEnd, renewed.CurrentPeriodStart.UTC())
	assert.Equal(t, firstEnd.Add(firstEnd.Sub(sub.CurrentPeriodStart)), renewed.CurrentPeriodEnd.UTC())

	require.Equal(t, grantdomain.JobEnqueueCycles, f.queue.names[len(f.queue.names)-1])
	assert.Equal(t, sub.ID.String(), f.queue.args[len(f.queue.args)-1]["subscription_id"])

	_, err = f.svc.TransitionSubscription(f.ctx, sub.ID.String(), domain.SubscriptionStatusCanceled)
	require.NoError(t, err)
	_, err = f.svc.Renew(f.ctx, sub.ID.String())
	require.ErrorIs(t, err, domain.ErrSubscriptionInactive)
}

func TestGetByIDMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetByID(f.ctx, "123")
	require.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	_, err = f.svc.GetByID(f.ctx, "")
	require.ErrorIs(t, err, domain.ErrInvalidSubscription)
}
