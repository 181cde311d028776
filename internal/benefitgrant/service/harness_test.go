package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	benefitrepository "github.com/smallbiznis/railzway-benefits/internal/benefit/repository"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	grantrepository "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/repository"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	customerrepository "github.com/smallbiznis/railzway-benefits/internal/customer/repository"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	orderdomain "github.com/smallbiznis/railzway-benefits/internal/order/domain"
	orderrepository "github.com/smallbiznis/railzway-benefits/internal/order/repository"
	productdomain "github.com/smallbiznis/railzway-benefits/internal/product/domain"
	productrepository "github.com/smallbiznis/railzway-benefits/internal/product/repository"
	subscriptiondomain "github.com/smallbiznis/railzway-benefits/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/railzway-benefits/internal/subscription/repository"
	"github.com/smallbiznis/railzway-benefits/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testOrgID = snowflake.ID(1)

// fakeStrategy records calls and replays scripted errors per operation.
type fakeStrategy struct {
	mu           sync.Mutex
	individually bool
	requires     bool

	grantCalls  []benefitstrategy.GrantParams
	cycleCalls  []benefitstrategy.GrantParams
	revokeCalls []benefitstrategy.GrantParams

	grantErrs  []error
	cycleErrs  []error
	revokeErrs []error
}

func (f *fakeStrategy) ShouldRevokeIndividually() bool { return f.individually }

func (f *fakeStrategy) Grant(_ context.Context, params benefitstrategy.GrantParams) (datatypes.JSONMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantCalls = append(f.grantCalls, params)
	if err := pop(&f.grantErrs); err != nil {
		return nil, err
	}
	return datatypes.JSONMap{"grants": len(f.grantCalls), "update": params.Update}, nil
}

func (f *fakeStrategy) Cycle(_ context.Context, params benefitstrategy.GrantParams) (datatypes.JSONMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycleCalls = append(f.cycleCalls, params)
	if err := pop(&f.cycleErrs); err != nil {
		return nil, err
	}
	props := params.GrantProperties
	props["cycles"] = len(f.cycleCalls)
	return props, nil
}

func (f *fakeStrategy) Revoke(_ context.Context, params benefitstrategy.GrantParams) (datatypes.JSONMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls = append(f.revokeCalls, params)
	if err := pop(&f.revokeErrs); err != nil {
		return nil, err
	}
	return datatypes.JSONMap{"revoked": true}, nil
}

func (f *fakeStrategy) RequiresUpdate(context.Context, benefitdomain.Benefit, datatypes.JSONMap) (bool, error) {
	return f.requires, nil
}

func (f *fakeStrategy) ValidateProperties(_ context.Context, raw map[string]any) (datatypes.JSONMap, error) {
	return datatypes.JSONMap(raw), nil
}

func (f *fakeStrategy) counts() (grants, cycles, revokes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grantCalls), len(f.cycleCalls), len(f.revokeCalls)
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

type fakeEmitter struct {
	mu       sync.Mutex
	events   []grantdomain.GrantEvent
	notified []string
}

func (f *fakeEmitter) Emit(_ context.Context, event grantdomain.GrantEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEmitter) NotifyActionRequired(_ context.Context, _ grantdomain.GrantEvent, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, message)
}

func (f *fakeEmitter) types() []grantdomain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]grantdomain.EventType, 0, len(f.events))
	for _, event := range f.events {
		out = append(out, event.Type)
	}
	return out
}

type queuedJob struct {
	name string
	args map[string]any
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queuedJob
}

func (f *fakeQueue) Enqueue(_ context.Context, name string, args map[string]any, _ ...jobqueue.EnqueueOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, queuedJob{name: name, args: args})
	return nil
}

func (f *fakeQueue) named(name string) []queuedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []queuedJob
	for _, job := range f.jobs {
		if job.name == name {
			out = append(out, job)
		}
	}
	return out
}

type harness struct {
	t          *testing.T
	db         *gorm.DB
	clock      *clock.FakeClock
	node       *snowflake.Node
	strategies map[benefitdomain.BenefitType]*fakeStrategy
	emitter    *fakeEmitter
	queue      *fakeQueue
	repo       grantdomain.Repository
	params     Params
	service    *Service
	reconciler *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.OpenSQLite(t,
		&customerdomain.Customer{},
		&customerdomain.Member{},
		&customerdomain.OAuthAccount{},
		&benefitdomain.Benefit{},
		&productdomain.Product{},
		&productdomain.ProductBenefit{},
		&subscriptiondomain.Subscription{},
		&orderdomain.Order{},
		&grantdomain.BenefitGrant{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fakes := map[benefitdomain.BenefitType]*fakeStrategy{}
	table := map[benefitdomain.BenefitType]benefitstrategy.Strategy{}
	for _, benefitType := range benefitdomain.AllBenefitTypes() {
		fake := &fakeStrategy{
			individually: benefitType == benefitdomain.BenefitTypeLicenseKeys ||
				benefitType == benefitdomain.BenefitTypeMeterCredit,
		}
		fakes[benefitType] = fake
		table[benefitType] = fake
	}
	registry, err := benefitstrategy.NewRegistry(table)
	require.NoError(t, err)

	h := &harness{
		t:          t,
		db:         db,
		clock:      clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		node:       node,
		strategies: fakes,
		emitter:    &fakeEmitter{},
		queue:      &fakeQueue{},
		repo:       grantrepository.Provide(),
	}
	resolver := scope.NewResolver(subscriptionrepository.Provide(), orderrepository.Provide())
	h.params = Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      h.clock,
		Repo:       h.repo,
		Benefits:   benefitrepository.Provide(),
		Customers:  customerrepository.Provide(),
		Resolver:   resolver,
		Strategies: registry,
		Emitter:    h.emitter,
	}
	h.service = newService(h.params)
	h.reconciler = newReconciler(ReconcilerParams{
		DB:            db,
		Log:           zap.NewNop(),
		Queue:         h.queue,
		Repo:          h.repo,
		Products:      productrepository.Provide(),
		Subscriptions: subscriptionrepository.Provide(),
		Orders:        orderrepository.Provide(),
		Resolver:      resolver,
	})
	return h
}

func (h *harness) strategy(benefitType benefitdomain.BenefitType) *fakeStrategy {
	return h.strategies[benefitType]
}

func (h *harness) customer() customerdomain.Customer {
	now := h.clock.Now()
	customer := customerdomain.Customer{
		ID:        h.node.Generate(),
		OrgID:     testOrgID,
		Name:      "Ada",
		Email:     "ada@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(h.t, h.db.Create(&customer).Error)
	return customer
}

func (h *harness) benefit(benefitType benefitdomain.BenefitType) benefitdomain.Benefit {
	now := h.clock.Now()
	benefit := benefitdomain.Benefit{
		ID:          h.node.Generate(),
		OrgID:       testOrgID,
		Type:        benefitType,
		Description: string(benefitType) + " benefit",
		Properties:  datatypes.JSONMap{},
		Deletable:   true,
		Selectable:  true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(h.t, h.db.Create(&benefit).Error)
	return benefit
}

func (h *harness) product(benefits ...benefitdomain.Benefit) productdomain.Product {
	now := h.clock.Now()
	product := productdomain.Product{
		ID:          h.node.Generate(),
		OrgID:       testOrgID,
		Name:        "Pro",
		IsRecurring: true,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(h.t, h.db.Create(&product).Error)
	for i, benefit := range benefits {
		require.NoError(h.t, h.db.Create(&productdomain.ProductBenefit{
			ProductID: product.ID,
			BenefitID: benefit.ID,
			OrgID:     testOrgID,
			Position:  i,
			CreatedAt: now,
		}).Error)
	}
	return product
}

func (h *harness) subscription(customer customerdomain.Customer, product productdomain.Product) subscriptiondomain.Subscription {
	now := h.clock.Now()
	subscription := subscriptiondomain.Subscription{
		ID:                 h.node.Generate(),
		OrgID:              testOrgID,
		CustomerID:         customer.ID,
		ProductID:          product.ID,
		Status:             subscriptiondomain.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(h.t, h.db.Create(&subscription).Error)
	return subscription
}

func (h *harness) order(customer customerdomain.Customer, product productdomain.Product) orderdomain.Order {
	now := h.clock.Now()
	order := orderdomain.Order{
		ID:         h.node.Generate(),
		OrgID:      testOrgID,
		CustomerID: customer.ID,
		ProductID:  product.ID,
		Status:     orderdomain.OrderStatusPaid,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(h.t, h.db.Create(&order).Error)
	return order
}

func (h *harness) subscriptionRequest(customer customerdomain.Customer, benefit benefitdomain.Benefit, subscription subscriptiondomain.Subscription) grantdomain.GrantRequest {
	return grantdomain.GrantRequest{
		OrgID:      testOrgID,
		CustomerID: customer.ID,
		BenefitID:  benefit.ID,
		Scope:      scope.Args{SubscriptionID: subscription.ID.String()},
		Attempt:    1,
	}
}

func (h *harness) countGrants(customer customerdomain.Customer, benefit benefitdomain.Benefit) int64 {
	var count int64
	require.NoError(h.t, h.db.Model(&grantdomain.BenefitGrant{}).
		Where("customer_id = ? AND benefit_id = ?", customer.ID, benefit.ID).
		Count(&count).Error)
	return count
}

func (h *harness) reload(id snowflake.ID) *grantdomain.BenefitGrant {
	grant, err := h.repo.FindByID(context.Background(), h.db, testOrgID, id)
	require.NoError(h.t, err)
	return grant
}
