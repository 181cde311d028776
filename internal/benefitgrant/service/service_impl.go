package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant/scope"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"github.com/smallbiznis/railzway-benefits/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railzway-benefits/internal/observability/metrics"
	"github.com/smallbiznis/railzway-benefits/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeSuccess        = "success"
	outcomeActionRequired = "action_required"
	outcomeRetriable      = "retriable"
	outcomeError          = "error"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       grantdomain.Repository
	Benefits   benefitdomain.Repository
	Customers  customerdomain.Repository
	Resolver   *scope.Resolver
	Strategies *benefitstrategy.Registry
	Emitter    grantdomain.Emitter
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       grantdomain.Repository
	benefits   benefitdomain.Repository
	customers  customerdomain.Repository
	resolver   *scope.Resolver
	strategies *benefitstrategy.Registry
	emitter    grantdomain.Emitter
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) grantdomain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("benefitgrant.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		benefits:   p.Benefits,
		customers:  p.Customers,
		resolver:   p.Resolver,
		strategies: p.Strategies,
		emitter:    p.Emitter,
		metrics:    p.Metrics,
	}
}

// Grant provisions the benefit for the scope. A grant that is already
// granted is returned unchanged without calling the strategy.
func (s *Service) Grant(ctx context.Context, req grantdomain.GrantRequest) (grant *grantdomain.BenefitGrant, err error) {
	ctx, span := tracing.Start(ctx, "benefitgrant.grant",
		attribute.String("customer_id", req.CustomerID.String()),
		attribute.String("benefit_id", req.BenefitID.String()),
		attribute.Int("attempt", req.Attempt),
	)
	defer func() { tracing.End(span, err) }()

	customer, err := s.loadCustomer(ctx, req.OrgID, req.CustomerID, false)
	if err != nil {
		return nil, err
	}
	benefit, err := s.loadBenefit(ctx, req.OrgID, req.BenefitID, false)
	if err != nil {
		return nil, err
	}
	member, err := s.loadMember(ctx, req.OrgID, req.CustomerID, req.MemberID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolver.Resolve(ctx, s.db, req.OrgID, req.CustomerID, req.Scope)
	if err != nil {
		return nil, err
	}

	grant, err = s.fetchOrCreate(ctx, req.OrgID, customer.ID, benefit.ID, resolved, req.MemberID)
	if err != nil {
		return nil, err
	}
	if grant.IsGranted() {
		logger.WithContext(ctx, s.log).Debug("benefit already granted",
			zap.String("grant_id", grant.ID.String()),
			zap.String("scope_key", grant.ScopeKey),
		)
		return grant, nil
	}

	return s.provision(ctx, grant, *benefit, *customer, member, false, req.Attempt)
}

// Revoke deprovisions the benefit for the scope. The strategy is only called
// when no other scope still holds the benefit, unless the strategy revokes
// every grant individually.
func (s *Service) Revoke(ctx context.Context, req grantdomain.GrantRequest) (grant *grantdomain.BenefitGrant, err error) {
	ctx, span := tracing.Start(ctx, "benefitgrant.revoke",
		attribute.String("customer_id", req.CustomerID.String()),
		attribute.String("benefit_id", req.BenefitID.String()),
		attribute.Int("attempt", req.Attempt),
	)
	defer func() { tracing.End(span, err) }()

	customer, err := s.loadCustomer(ctx, req.OrgID, req.CustomerID, true)
	if err != nil {
		return nil, err
	}
	benefit, err := s.loadBenefit(ctx, req.OrgID, req.BenefitID, true)
	if err != nil {
		return nil, err
	}
	member, err := s.loadMember(ctx, req.OrgID, req.CustomerID, req.MemberID)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolver.Resolve(ctx, s.db, req.OrgID, req.CustomerID, req.Scope)
	if err != nil {
		return nil, err
	}

	grant, err = s.fetchOrCreate(ctx, req.OrgID, customer.ID, benefit.ID, resolved, req.MemberID)
	if err != nil {
		return nil, err
	}
	if grant.IsRevoked() {
		return grant, nil
	}

	strategy, err := s.strategies.Get(benefit.Type)
	if err != nil {
		return nil, err
	}

	others, err := s.countOtherGranted(ctx, grant)
	if err != nil {
		return nil, err
	}

	if strategy.ShouldRevokeIndividually() || others == 0 {
		return s.deprovision(ctx, grant, *benefit, *customer, member, strategy, req.Attempt, false)
	}

	logger.WithContext(ctx, s.log).Info("benefit still held by another scope; skipping external revoke",
		zap.String("grant_id", grant.ID.String()),
		zap.Int("other_grants", others),
	)
	return s.markRevoked(ctx, grant, *benefit, *customer, grant.CloneProperties(), false)
}

// Cycle re-applies a granted benefit on renewal. Revoked or pending grants
// are returned unchanged.
func (s *Service) Cycle(ctx context.Context, req grantdomain.GrantIDRequest) (grant *grantdomain.BenefitGrant, err error) {
	ctx, span := tracing.Start(ctx, "benefitgrant.cycle",
		attribute.String("grant_id", req.GrantID.String()),
		attribute.Int("attempt", req.Attempt),
	)
	defer func() { tracing.End(span, err) }()

	grant, err = s.loadGrant(ctx, req.OrgID, req.GrantID)
	if err != nil {
		return nil, err
	}
	if !grant.IsGranted() {
		return grant, nil
	}

	benefit, err := s.loadBenefit(ctx, grant.OrgID, grant.BenefitID, false)
	if err != nil {
		return nil, err
	}
	customer, err := s.loadCustomer(ctx, grant.OrgID, grant.CustomerID, false)
	if err != nil {
		return nil, err
	}
	member, err := s.loadMember(ctx, grant.OrgID, grant.CustomerID, grant.MemberID)
	if err != nil {
		return nil, err
	}
	strategy, err := s.strategies.Get(benefit.Type)
	if err != nil {
		return nil, err
	}

	previous := grant.CloneProperties()
	props, err := s.callStrategy(ctx, benefit.Type, "cycle", func(ctx context.Context) (datatypes.JSONMap, error) {
		return strategy.Cycle(ctx, s.grantParams(grant, *benefit, *customer, member, false, req.Attempt))
	})
	var actionRequired *benefitstrategy.ActionRequiredError
	if errors.As(err, &actionRequired) {
		logger.WithContext(ctx, s.log).Warn("cycle needs customer action; keeping grant as is",
			zap.String("grant_id", grant.ID.String()),
			zap.String("message", actionRequired.Message),
		)
		return grant, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cycle grant %s: %w", grant.ID, err)
	}

	now := s.clock.Now().UTC()
	grant.Properties = normalizeProperties(props)
	grant.ModifiedAt = &now
	if err := s.save(ctx, s.db, grant); err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, grantdomain.GrantEvent{
		Type:               grantdomain.EventGrantCycled,
		Grant:              *grant,
		Benefit:            *benefit,
		Customer:           *customer,
		PreviousProperties: previous,
	})
	return grant, nil
}

// Update re-provisions a granted benefit after its properties changed, when
// the strategy says the change matters.
func (s *Service) Update(ctx context.Context, req grantdomain.UpdateRequest) (grant *grantdomain.BenefitGrant, err error) {
	ctx, span := tracing.Start(ctx, "benefitgrant.update",
		attribute.String("grant_id", req.GrantID.String()),
		attribute.Int("attempt", req.Attempt),
	)
	defer func() { tracing.End(span, err) }()

	grant, err = s.loadGrant(ctx, req.OrgID, req.GrantID)
	if err != nil {
		return nil, err
	}
	if !grant.IsGranted() {
		return grant, nil
	}

	benefit, err := s.loadBenefit(ctx, grant.OrgID, grant.BenefitID, false)
	if err != nil {
		return nil, err
	}
	customer, err := s.loadCustomer(ctx, grant.OrgID, grant.CustomerID, false)
	if err != nil {
		return nil, err
	}
	member, err := s.loadMember(ctx, grant.OrgID, grant.CustomerID, grant.MemberID)
	if err != nil {
		return nil, err
	}
	strategy, err := s.strategies.Get(benefit.Type)
	if err != nil {
		return nil, err
	}

	required, err := strategy.RequiresUpdate(ctx, *benefit, datatypes.JSONMap(req.PreviousBenefitProperties))
	if err != nil {
		return nil, err
	}
	if !required {
		return grant, nil
	}

	return s.provision(ctx, grant, *benefit, *customer, member, true, req.Attempt)
}

// Delete force-revokes a grant whose benefit or customer is going away. The
// row is soft-deleted when the benefit itself is deleted.
func (s *Service) Delete(ctx context.Context, req grantdomain.GrantIDRequest) (grant *grantdomain.BenefitGrant, err error) {
	ctx, span := tracing.Start(ctx, "benefitgrant.delete",
		attribute.String("grant_id", req.GrantID.String()),
		attribute.Int("attempt", req.Attempt),
	)
	defer func() { tracing.End(span, err) }()

	grant, err = s.loadGrant(ctx, req.OrgID, req.GrantID)
	if err != nil {
		return nil, err
	}
	benefit, err := s.loadBenefit(ctx, grant.OrgID, grant.BenefitID, true)
	if err != nil {
		return nil, err
	}
	customer, err := s.loadCustomer(ctx, grant.OrgID, grant.CustomerID, true)
	if err != nil {
		return nil, err
	}

	if grant.IsRevoked() {
		if benefit.IsDeleted() {
			now := s.clock.Now().UTC()
			if err := s.repo.SoftDelete(ctx, s.db, grant.OrgID, grant.ID, now); err != nil {
				return nil, err
			}
			grant.DeletedAt = &now
		}
		return grant, nil
	}

	strategy, err := s.strategies.Get(benefit.Type)
	if err != nil {
		return nil, err
	}
	var member *customerdomain.Member
	if grant.MemberID != nil {
		member, err = s.customers.FindMember(ctx, s.db, grant.OrgID, grant.CustomerID, *grant.MemberID)
		if err != nil {
			return nil, err
		}
	}
	return s.deprovision(ctx, grant, *benefit, *customer, member, strategy, req.Attempt, benefit.IsDeleted())
}

// provision runs the strategy's Grant and records the outcome. Retriable and
// unexpected errors leave the row untouched.
func (s *Service) provision(
	ctx context.Context,
	grant *grantdomain.BenefitGrant,
	benefit benefitdomain.Benefit,
	customer customerdomain.Customer,
	member *customerdomain.Member,
	update bool,
	attempt int,
) (*grantdomain.BenefitGrant, error) {
	strategy, err := s.strategies.Get(benefit.Type)
	if err != nil {
		return nil, err
	}

	previous := grant.CloneProperties()
	props, err := s.callStrategy(ctx, benefit.Type, "grant", func(ctx context.Context) (datatypes.JSONMap, error) {
		return strategy.Grant(ctx, s.grantParams(grant, benefit, customer, member, update, attempt))
	})

	now := s.clock.Now().UTC()
	var actionRequired *benefitstrategy.ActionRequiredError
	switch {
	case err == nil:
		grant.Properties = normalizeProperties(props)
		grant.SetGranted(now)
		if update {
			grant.ModifiedAt = &now
		}
	case errors.As(err, &actionRequired):
		grant.SetActionRequired(actionRequired.RecordPayload())
	default:
		return nil, fmt.Errorf("grant benefit %s to customer %s: %w", benefit.ID, customer.ID, err)
	}

	if err := s.save(ctx, s.db, grant); err != nil {
		return nil, err
	}

	eventType := grantdomain.EventGrantCreated
	if update {
		eventType = grantdomain.EventGrantUpdated
	}
	event := grantdomain.GrantEvent{
		Type:               eventType,
		Grant:              *grant,
		Benefit:            benefit,
		Customer:           customer,
		PreviousProperties: previous,
	}
	s.emitter.Emit(ctx, event)

	if actionRequired != nil {
		logger.WithContext(ctx, s.log).Info("benefit grant waiting on customer action",
			zap.String("grant_id", grant.ID.String()),
			zap.String("benefit_type", string(benefit.Type)),
			zap.String("message", actionRequired.Message),
		)
		s.emitter.NotifyActionRequired(ctx, event, actionRequired.Message)
	}
	return grant, nil
}

// deprovision calls the strategy's Revoke and marks the grant revoked.
// ActionRequired is swallowed; revocation cannot wait on the customer.
func (s *Service) deprovision(
	ctx context.Context,
	grant *grantdomain.BenefitGrant,
	benefit benefitdomain.Benefit,
	customer customerdomain.Customer,
	member *customerdomain.Member,
	strategy benefitstrategy.Strategy,
	attempt int,
	softDelete bool,
) (*grantdomain.BenefitGrant, error) {
	previous := grant.CloneProperties()
	props, err := s.callStrategy(ctx, benefit.Type, "revoke", func(ctx context.Context) (datatypes.JSONMap, error) {
		return strategy.Revoke(ctx, s.grantParams(grant, benefit, customer, member, false, attempt))
	})

	var actionRequired *benefitstrategy.ActionRequiredError
	switch {
	case err == nil:
		grant.Properties = normalizeProperties(props)
	case errors.As(err, &actionRequired):
		logger.WithContext(ctx, s.log).Warn("revoke needs customer action; revoking locally only",
			zap.String("grant_id", grant.ID.String()),
			zap.String("message", actionRequired.Message),
		)
	default:
		return nil, fmt.Errorf("revoke benefit %s from customer %s: %w", benefit.ID, customer.ID, err)
	}

	return s.markRevoked(ctx, grant, benefit, customer, previous, softDelete)
}

func (s *Service) markRevoked(
	ctx context.Context,
	grant *grantdomain.BenefitGrant,
	benefit benefitdomain.Benefit,
	customer customerdomain.Customer,
	previous datatypes.JSONMap,
	softDelete bool,
) (*grantdomain.BenefitGrant, error) {
	now := s.clock.Now().UTC()
	grant.SetRevoked(now)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.save(ctx, tx, grant); err != nil {
			return err
		}
		if !softDelete {
			return nil
		}
		return s.repo.SoftDelete(ctx, tx, grant.OrgID, grant.ID, now)
	})
	if err != nil {
		return nil, err
	}
	if softDelete {
		grant.DeletedAt = &now
	}

	s.emitter.Emit(ctx, grantdomain.GrantEvent{
		Type:               grantdomain.EventGrantRevoked,
		Grant:              *grant,
		Benefit:            benefit,
		Customer:           customer,
		PreviousProperties: previous,
	})
	return grant, nil
}

// fetchOrCreate returns the grant for the scope tuple, creating a pending row
// when none exists. Losing the insert race to a concurrent job yields
// ErrGrantInProgress.
func (s *Service) fetchOrCreate(
	ctx context.Context,
	orgID, customerID, benefitID snowflake.ID,
	resolved scope.Scope,
	memberID *snowflake.ID,
) (*grantdomain.BenefitGrant, error) {
	key := resolved.Key()
	var grant *grantdomain.BenefitGrant

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByScope(ctx, tx, orgID, customerID, benefitID, key)
		if err != nil {
			return err
		}
		if existing != nil {
			grant = existing
			return nil
		}

		now := s.clock.Now().UTC()
		created := &grantdomain.BenefitGrant{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			CustomerID:     customerID,
			BenefitID:      benefitID,
			ScopeKey:       key,
			MemberID:       memberID,
			SubscriptionID: resolved.SubscriptionID(),
			OrderID:        resolved.OrderID(),
			Properties:     datatypes.JSONMap{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.Insert(ctx, tx, created); err != nil {
			return err
		}
		grant = created
		return nil
	})
	if errors.Is(err, grantdomain.ErrDuplicateGrant) {
		return nil, fmt.Errorf("%w: customer %s benefit %s scope %s", grantdomain.ErrGrantInProgress, customerID, benefitID, key)
	}
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// countOtherGranted counts granted grants for the same customer and benefit
// under other scopes. Pending and action-required grants do not count.
func (s *Service) countOtherGranted(ctx context.Context, grant *grantdomain.BenefitGrant) (int, error) {
	granted, err := s.repo.ListGrantedByCustomerAndBenefit(ctx, s.db, grant.OrgID, grant.CustomerID, grant.BenefitID)
	if err != nil {
		return 0, err
	}
	others := 0
	for _, item := range granted {
		if item.ID != grant.ID {
			others++
		}
	}
	return others, nil
}

func (s *Service) callStrategy(
	ctx context.Context,
	benefitType benefitdomain.BenefitType,
	operation string,
	call func(ctx context.Context) (datatypes.JSONMap, error),
) (datatypes.JSONMap, error) {
	ctx, span := tracing.Start(ctx, "benefitstrategy."+operation,
		attribute.String("benefit_type", string(benefitType)),
	)
	began := time.Now()
	props, err := call(ctx)
	outcome := classifyOutcome(err)
	s.metrics.RecordStrategyCall(ctx, string(benefitType), operation, outcome, time.Since(began))
	if outcome == outcomeActionRequired {
		tracing.End(span, nil)
	} else {
		tracing.End(span, err)
	}
	return props, err
}

func classifyOutcome(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	var actionRequired *benefitstrategy.ActionRequiredError
	if errors.As(err, &actionRequired) {
		return outcomeActionRequired
	}
	var retriable *benefitstrategy.RetriableError
	if errors.As(err, &retriable) {
		return outcomeRetriable
	}
	return outcomeError
}

func (s *Service) grantParams(
	grant *grantdomain.BenefitGrant,
	benefit benefitdomain.Benefit,
	customer customerdomain.Customer,
	member *customerdomain.Member,
	update bool,
	attempt int,
) benefitstrategy.GrantParams {
	return benefitstrategy.GrantParams{
		Benefit:         benefit,
		Customer:        customer,
		Member:          member,
		GrantID:         grant.ID,
		GrantProperties: grant.CloneProperties(),
		Update:          update,
		Attempt:         attempt,
	}
}

func (s *Service) save(ctx context.Context, db *gorm.DB, grant *grantdomain.BenefitGrant) error {
	grant.UpdatedAt = s.clock.Now().UTC()
	return s.repo.Update(ctx, db, grant)
}

func (s *Service) loadGrant(ctx context.Context, orgID, id snowflake.ID) (*grantdomain.BenefitGrant, error) {
	grant, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, grantdomain.ErrGrantNotFound
	}
	return grant, nil
}

func (s *Service) loadCustomer(ctx context.Context, orgID, id snowflake.ID, includeDeleted bool) (*customerdomain.Customer, error) {
	customer, err := s.customers.FindByID(ctx, s.db, orgID, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, grantdomain.ErrCustomerNotFound
	}
	return customer, nil
}

func (s *Service) loadBenefit(ctx context.Context, orgID, id snowflake.ID, includeDeleted bool) (*benefitdomain.Benefit, error) {
	benefit, err := s.benefits.FindByID(ctx, s.db, orgID, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	if benefit == nil {
		return nil, grantdomain.ErrBenefitNotFound
	}
	return benefit, nil
}

func (s *Service) loadMember(ctx context.Context, orgID, customerID snowflake.ID, memberID *snowflake.ID) (*customerdomain.Member, error) {
	if memberID == nil {
		return nil, nil
	}
	member, err := s.customers.FindMember(ctx, s.db, orgID, customerID, *memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, grantdomain.ErrMemberNotFound
	}
	return member, nil
}

func normalizeProperties(props datatypes.JSONMap) datatypes.JSONMap {
	if props == nil {
		return datatypes.JSONMap{}
	}
	return props
}
