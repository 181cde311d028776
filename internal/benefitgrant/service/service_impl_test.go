package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestGrantIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))
	req := h.subscriptionRequest(customer, benefit, subscription)

	first, err := h.service.Grant(ctx, req)
	require.NoError(t, err)
	require.True(t, first.IsGranted())
	assert.Equal(t, "subscription="+subscription.ID.String(), first.ScopeKey)
	require.NotNil(t, first.SubscriptionID)
	assert.Equal(t, subscription.ID, *first.SubscriptionID)

	second, err := h.service.Grant(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsGranted())

	grants, _, _ := h.strategy(benefitdomain.BenefitTypeCustom).counts()
	assert.Equal(t, 1, grants)
	assert.EqualValues(t, 1, h.countGrants(customer, benefit))
	assert.Equal(t, []grantdomain.EventType{grantdomain.EventGrantCreated}, h.emitter.types())
}

func TestGrantPassesAttemptAndMember(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	member := customerMember(t, h, customer)
	benefit := h.benefit(benefitdomain.BenefitTypeDownloadables)
	subscription := h.subscription(customer, h.product(benefit))

	req := h.subscriptionRequest(customer, benefit, subscription)
	req.MemberID = &member
	req.Attempt = 3
	grant, err := h.service.Grant(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, grant.MemberID)
	assert.Equal(t, member, *grant.MemberID)

	strategy := h.strategy(benefitdomain.BenefitTypeDownloadables)
	require.Len(t, strategy.grantCalls, 1)
	call := strategy.grantCalls[0]
	assert.Equal(t, 3, call.Attempt)
	require.NotNil(t, call.Member)
	assert.Equal(t, member, call.Member.ID)
	assert.Equal(t, grant.ID, call.GrantID)
	assert.False(t, call.Update)
}

func TestGrantUnknownMemberFails(t *testing.T) {
	h := newHarness(t)
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))

	req := h.subscriptionRequest(customer, benefit, subscription)
	missing := snowflake.ID(424242)
	req.MemberID = &missing
	_, err := h.service.Grant(context.Background(), req)
	require.ErrorIs(t, err, grantdomain.ErrMemberNotFound)
	assert.EqualValues(t, 0, h.countGrants(customer, benefit))
}

func TestGrantActionRequiredThenRecovers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeDiscord)
	subscription := h.subscription(customer, h.product(benefit))
	req := h.subscriptionRequest(customer, benefit, subscription)

	strategy := h.strategy(benefitdomain.BenefitTypeDiscord)
	strategy.grantErrs = []error{
		benefitstrategy.NewActionRequired("connect a discord account", map[string]any{"platform": "discord"}),
	}

	pending, err := h.service.Grant(ctx, req)
	require.NoError(t, err)
	assert.False(t, pending.IsGranted())
	assert.False(t, pending.IsRevoked())
	assert.True(t, pending.IsActionRequired())

	stored := h.reload(pending.ID)
	require.NotNil(t, stored)
	require.True(t, stored.IsActionRequired())
	assert.Equal(t, "connect a discord account", stored.ErrorPayload["message"])
	assert.Equal(t, []string{"connect a discord account"}, h.emitter.notified)

	granted, err := h.service.Grant(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, granted.ID)
	assert.True(t, granted.IsGranted())

	stored = h.reload(granted.ID)
	require.NotNil(t, stored)
	assert.True(t, stored.IsGranted())
	assert.Nil(t, stored.ErrorKind)
	assert.Empty(t, stored.ErrorPayload)
	assert.Len(t, h.emitter.notified, 1)
}

func TestGrantRetriableLeavesGrantPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeGitHubRepository)
	subscription := h.subscription(customer, h.product(benefit))
	req := h.subscriptionRequest(customer, benefit, subscription)

	strategy := h.strategy(benefitdomain.BenefitTypeGitHubRepository)
	strategy.grantErrs = []error{benefitstrategy.NewRetriableAfter("github rate limited", 30)}

	_, err := h.service.Grant(ctx, req)
	require.Error(t, err)
	var retriable *benefitstrategy.RetriableError
	require.True(t, errors.As(err, &retriable))
	delay, ok := retriable.RetryDelay()
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, delay)
	assert.Empty(t, h.emitter.types())
	assert.EqualValues(t, 1, h.countGrants(customer, benefit))

	req.Attempt = 2
	grant, err := h.service.Grant(ctx, req)
	require.NoError(t, err)
	assert.True(t, grant.IsGranted())
	assert.Equal(t, []grantdomain.EventType{grantdomain.EventGrantCreated}, h.emitter.types())
	assert.EqualValues(t, 1, h.countGrants(customer, benefit))
}

func TestGrantRejectsForeignScope(t *testing.T) {
	h := newHarness(t)
	owner := h.customer()
	other := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(owner, h.product(benefit))

	_, err := h.service.Grant(context.Background(), h.subscriptionRequest(other, benefit, subscription))
	var invalid *scope.InvalidScopeError
	require.True(t, errors.As(err, &invalid))
	assert.EqualValues(t, 0, h.countGrants(other, benefit))
}

func TestGrantRejectsAmbiguousScope(t *testing.T) {
	h := newHarness(t)
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	product := h.product(benefit)
	subscription := h.subscription(customer, product)
	order := h.order(customer, product)

	req := h.subscriptionRequest(customer, benefit, subscription)
	req.Scope.OrderID = order.ID.String()
	_, err := h.service.Grant(context.Background(), req)
	var invalid *scope.InvalidScopeError
	require.True(t, errors.As(err, &invalid))
}

func TestGrantForDeletedBenefitFails(t *testing.T) {
	h := newHarness(t)
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))
	markBenefitDeleted(t, h, benefit)

	_, err := h.service.Grant(context.Background(), h.subscriptionRequest(customer, benefit, subscription))
	require.ErrorIs(t, err, grantdomain.ErrBenefitNotFound)
}

func TestGrantLosingInsertRaceReportsInProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))
	req := h.subscriptionRequest(customer, benefit, subscription)

	_, err := h.service.Grant(ctx, req)
	require.NoError(t, err)

	// The second worker's read misses the row the first one committed.
	params := h.params
	params.Repo = blindScopeRepo{Repository: h.repo}
	racer := newService(params)

	_, err = racer.Grant(ctx, req)
	require.ErrorIs(t, err, grantdomain.ErrGrantInProgress)
	assert.EqualValues(t, 1, h.countGrants(customer, benefit))
}

func TestRevokeSkipsStrategyWhileAnotherScopeHoldsBenefit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	product := h.product(benefit)
	first := h.subscription(customer, product)
	second := h.subscription(customer, product)

	_, err := h.service.Grant(ctx, h.subscriptionRequest(customer, benefit, first))
	require.NoError(t, err)
	_, err = h.service.Grant(ctx, h.subscriptionRequest(customer, benefit, second))
	require.NoError(t, err)

	strategy := h.strategy(benefitdomain.BenefitTypeCustom)

	revoked, err := h.service.Revoke(ctx, h.subscriptionRequest(customer, benefit, first))
	require.NoError(t, err)
	assert.True(t, revoked.IsRevoked())
	_, _, revokes := strategy.counts()
	assert.Equal(t, 0, revokes)

	revoked, err = h.service.Revoke(ctx, h.subscriptionRequest(customer, benefit, second))
	require.NoError(t, err)
	assert.True(t, revoked.IsRevoked())
	_, _, revokes = strategy.counts()
	assert.Equal(t, 1, revokes)

	assert.Equal(t, []grantdomain.EventType{
		grantdomain.EventGrantCreated,
		grantdomain.EventGrantCreated,
		grantdomain.EventGrantRevoked,
		grantdomain.EventGrantRevoked,
	}, h.emitter.types())
}

func TestRevokeIndividualStrategyAlwaysCalled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeLicenseKeys)
	product := h.product(benefit)
	first := h.subscription(customer, product)
	second := h.subscription(customer, product)

	_, err := h.service.Grant(ctx, h.subscriptionRequest(customer, benefit, first))
	require.NoError(t, err)
	_, err = h.service.Grant(ctx, h.subscriptionRequest(customer, benefit, second))
	require.NoError(t, err)

	_, err = h.service.Revoke(ctx, h.subscriptionRequest(customer, benefit, first))
	require.NoError(t, err)
	_, _, revokes := h.strategy(benefitdomain.BenefitTypeLicenseKeys).counts()
	assert.Equal(t, 1, revokes)
}

func TestRevokeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))
	req := h.subscriptionRequest(customer, benefit, subscription)

	_, err := h.service.Grant(ctx, req)
	require.NoError(t, err)
	_, err = h.service.Revoke(ctx, req)
	require.NoError(t, err)
	again, err := h.service.Revoke(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.IsRevoked())

	_, _, revokes := h.strategy(benefitdomain.BenefitTypeCustom).counts()
	assert.Equal(t, 1, revokes)
	assert.Len(t, h.emitter.types(), 2)
}

func TestRevokeWithoutPriorGrantRecordsRevokedRow(t *testing.T) {
	h := newHarness(t)
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	order := h.order(customer, h.product(benefit))

	grant, err := h.service.Revoke(context.Background(), grantdomain.GrantRequest{
		OrgID:      testOrgID,
		CustomerID: customer.ID,
		BenefitID:  benefit.ID,
		Scope:      scope.Args{OrderID: order.ID.String()},
		Attempt:    1,
	})
	require.NoError(t, err)
	assert.True(t, grant.IsRevoked())
	assert.Equal(t, "order="+order.ID.String(), grant.ScopeKey)
	assert.EqualValues(t, 1, h.countGrants(customer, benefit))

	stored := h.reload(grant.ID)
	require.NotNil(t, stored)
	assert.True(t, stored.IsRevoked())
	assert.Nil(t, stored.GrantedAt)
}

func TestRevokeRetriableKeepsGrantGranted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))
	req := h.subscriptionRequest(customer, benefit, subscription)

	grant, err := h.service.Grant(ctx, req)
	require.NoError(t, err)

	h.strategy(benefitdomain.BenefitTypeCustom).revokeErrs = []error{
		benefitstrategy.NewRetriable("upstream unavailable", errors.New("boom")),
	}
	_, err = h.service.Revoke(ctx, req)
	require.Error(t, err)

	stored := h.reload(grant.ID)
	require.NotNil(t, stored)
	assert.True(t, stored.IsGranted())
}

func TestRevokeActionRequiredStillRevokes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeDiscord)
	subscription := h.subscription(customer, h.product(benefit))
	req := h.subscriptionRequest(customer, benefit, subscription)

	_, err := h.service.Grant(ctx, req)
	require.NoError(t, err)

	h.strategy(benefitdomain.BenefitTypeDiscord).revokeErrs = []error{
		benefitstrategy.NewActionRequired("discord account disconnected", nil),
	}
	grant, err := h.service.Revoke(ctx, req)
	require.NoError(t, err)
	assert.True(t, grant.IsRevoked())
}

func TestCycleOnlyTouchesGrantedGrants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeMeterCredit)
	subscription := h.subscription(customer, h.product(benefit))
	req := h.subscriptionRequest(customer, benefit, subscription)

	grant, err := h.service.Grant(ctx, req)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	cycled, err := h.service.Cycle(ctx, grantdomain.GrantIDRequest{OrgID: testOrgID, GrantID: grant.ID, Attempt: 1})
	require.NoError(t, err)
	require.NotNil(t, cycled.ModifiedAt)
	assert.True(t, cycled.ModifiedAt.Equal(h.clock.Now()))
	assert.EqualValues(t, 1, cycled.Properties["cycles"])

	_, err = h.service.Revoke(ctx, req)
	require.NoError(t, err)

	unchanged, err := h.service.Cycle(ctx, grantdomain.GrantIDRequest{OrgID: testOrgID, GrantID: grant.ID, Attempt: 1})
	require.NoError(t, err)
	assert.True(t, unchanged.IsRevoked())

	_, cycles, _ := h.strategy(benefitdomain.BenefitTypeMeterCredit).counts()
	assert.Equal(t, 1, cycles)
	assert.Equal(t, []grantdomain.EventType{
		grantdomain.EventGrantCreated,
		grantdomain.EventGrantCycled,
		grantdomain.EventGrantRevoked,
	}, h.emitter.types())
}

func TestCycleActionRequiredKeepsGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))

	grant, err := h.service.Grant(ctx, h.subscriptionRequest(customer, benefit, subscription))
	require.NoError(t, err)

	h.strategy(benefitdomain.BenefitTypeCustom).cycleErrs = []error{benefitstrategy.NewActionRequired("reconnect", nil)}
	cycled, err := h.service.Cycle(ctx, grantdomain.GrantIDRequest{OrgID: testOrgID, GrantID: grant.ID, Attempt: 1})
	require.NoError(t, err)
	assert.True(t, cycled.IsGranted())
	assert.Nil(t, cycled.ModifiedAt)
	assert.Equal(t, []grantdomain.EventType{grantdomain.EventGrantCreated}, h.emitter.types())
}

func TestCycleUnknownGrant(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Cycle(context.Background(), grantdomain.GrantIDRequest{OrgID: testOrgID, GrantID: 99, Attempt: 1})
	require.ErrorIs(t, err, grantdomain.ErrGrantNotFound)
}

func TestUpdateReprovisionsOnlyWhenRequired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeDownloadables)
	subscription := h.subscription(customer, h.product(benefit))

	grant, err := h.service.Grant(ctx, h.subscriptionRequest(customer, benefit, subscription))
	require.NoError(t, err)

	strategy := h.strategy(benefitdomain.BenefitTypeDownloadables)
	req := grantdomain.UpdateRequest{
		OrgID:                     testOrgID,
		GrantID:                   grant.ID,
		PreviousBenefitProperties: map[string]any{"files": []any{}},
		Attempt:                   1,
	}

	same, err := h.service.Update(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, same.ModifiedAt)
	grants, _, _ := strategy.counts()
	assert.Equal(t, 1, grants)

	strategy.requires = true
	h.clock.Advance(time.Minute)
	updated, err := h.service.Update(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, updated.ModifiedAt)
	assert.True(t, updated.IsGranted())
	assert.Equal(t, true, updated.Properties["update"])

	require.Len(t, strategy.grantCalls, 2)
	assert.True(t, strategy.grantCalls[1].Update)
	assert.Equal(t, []grantdomain.EventType{
		grantdomain.EventGrantCreated,
		grantdomain.EventGrantUpdated,
	}, h.emitter.types())
}

func TestUpdateIgnoresRevokedGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))
	req := h.subscriptionRequest(customer, benefit, subscription)

	grant, err := h.service.Grant(ctx, req)
	require.NoError(t, err)
	_, err = h.service.Revoke(ctx, req)
	require.NoError(t, err)

	strategy := h.strategy(benefitdomain.BenefitTypeCustom)
	strategy.requires = true
	out, err := h.service.Update(ctx, grantdomain.UpdateRequest{OrgID: testOrgID, GrantID: grant.ID, Attempt: 1})
	require.NoError(t, err)
	assert.True(t, out.IsRevoked())
	grants, _, _ := strategy.counts()
	assert.Equal(t, 1, grants)
}

func TestDeleteRevokesAndSoftDeletesForDeletedBenefit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	product := h.product(benefit)
	first := h.subscription(customer, product)
	second := h.subscription(customer, product)

	grant, err := h.service.Grant(ctx, h.subscriptionRequest(customer, benefit, first))
	require.NoError(t, err)
	_, err = h.service.Grant(ctx, h.subscriptionRequest(customer, benefit, second))
	require.NoError(t, err)
	markBenefitDeleted(t, h, benefit)

	deleted, err := h.service.Delete(ctx, grantdomain.GrantIDRequest{OrgID: testOrgID, GrantID: grant.ID, Attempt: 1})
	require.NoError(t, err)
	assert.True(t, deleted.IsRevoked())
	require.NotNil(t, deleted.DeletedAt)
	assert.Nil(t, h.reload(grant.ID))

	// Delete is forced: the other live grant does not suppress the external revoke.
	_, _, revokes := h.strategy(benefitdomain.BenefitTypeCustom).counts()
	assert.Equal(t, 1, revokes)
}

func TestDeleteKeepsRowWhenBenefitStillExists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))

	grant, err := h.service.Grant(ctx, h.subscriptionRequest(customer, benefit, subscription))
	require.NoError(t, err)

	deleted, err := h.service.Delete(ctx, grantdomain.GrantIDRequest{OrgID: testOrgID, GrantID: grant.ID, Attempt: 1})
	require.NoError(t, err)
	assert.True(t, deleted.IsRevoked())
	assert.Nil(t, deleted.DeletedAt)

	stored := h.reload(grant.ID)
	require.NotNil(t, stored)
	assert.True(t, stored.IsRevoked())
}

func TestDeleteAlreadyRevokedSoftDeletesWithoutStrategy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))
	req := h.subscriptionRequest(customer, benefit, subscription)

	grant, err := h.service.Grant(ctx, req)
	require.NoError(t, err)
	_, err = h.service.Revoke(ctx, req)
	require.NoError(t, err)
	markBenefitDeleted(t, h, benefit)

	_, err = h.service.Delete(ctx, grantdomain.GrantIDRequest{OrgID: testOrgID, GrantID: grant.ID, Attempt: 1})
	require.NoError(t, err)
	assert.Nil(t, h.reload(grant.ID))

	_, _, revokes := h.strategy(benefitdomain.BenefitTypeCustom).counts()
	assert.Equal(t, 1, revokes)
}

func TestGrantEventCarriesPreviousProperties(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.customer()
	benefit := h.benefit(benefitdomain.BenefitTypeCustom)
	subscription := h.subscription(customer, h.product(benefit))

	grant, err := h.service.Grant(ctx, h.subscriptionRequest(customer, benefit, subscription))
	require.NoError(t, err)
	_, err = h.service.Cycle(ctx, grantdomain.GrantIDRequest{OrgID: testOrgID, GrantID: grant.ID, Attempt: 1})
	require.NoError(t, err)

	require.Len(t, h.emitter.events, 2)
	cycled := h.emitter.events[1]
	assert.Equal(t, customer.ID, cycled.Customer.ID)
	assert.Equal(t, benefit.ID, cycled.Benefit.ID)
	assert.EqualValues(t, 1, cycled.PreviousProperties["grants"])
	assert.NotContains(t, cycled.PreviousProperties, "cycles")
	assert.Contains(t, cycled.Grant.Properties, "cycles")
}

type blindScopeRepo struct {
	grantdomain.Repository
}

func (blindScopeRepo) FindByScope(context.Context, *gorm.DB, snowflake.ID, snowflake.ID, snowflake.ID, string) (*grantdomain.BenefitGrant, error) {
	return nil, nil
}

func customerMember(t *testing.T, h *harness, customer customerdomain.Customer) snowflake.ID {
	t.Helper()
	member := customerdomain.Member{
		ID:         h.node.Generate(),
		OrgID:      testOrgID,
		CustomerID: customer.ID,
		Email:      "seat@example.com",
		Name:       "Seat",
		CreatedAt:  h.clock.Now(),
	}
	require.NoError(t, h.db.Create(&member).Error)
	return member.ID
}

func markBenefitDeleted(t *testing.T, h *harness, benefit benefitdomain.Benefit) {
	t.Helper()
	require.NoError(t, h.db.Model(&benefitdomain.Benefit{}).
		Where("id = ?", benefit.ID).
		Update("deleted_at", h.clock.Now()).Error)
}
