package grantevent

import (
	"context"
	"sort"

	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/eventstream"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const EventCustomerStateChanged = "customer.state_changed"

type CustomerStateParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Grants    grantdomain.Repository
	Publisher eventstream.Publisher
}

// CustomerState projects a customer's currently granted benefits onto the
// event stream.
type CustomerState struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	grants    grantdomain.Repository
	publisher eventstream.Publisher
}

func NewCustomerState(p CustomerStateParams) *CustomerState {
	return &CustomerState{
		db:        p.DB,
		log:       p.Log.Named("grantevent.customer_state"),
		clock:     p.Clock,
		grants:    p.Grants,
		publisher: p.Publisher,
	}
}

func RegisterCustomerState(registry *jobqueue.Registry, state *CustomerState) error {
	return registry.Register(grantdomain.JobCustomerStateChanged, state.Handle)
}

func (s *CustomerState) Handle(ctx context.Context, job jobqueue.Job) error {
	orgID, err := job.ArgID("org_id")
	if err != nil {
		return err
	}
	customerID, err := job.ArgID("customer_id")
	if err != nil {
		return err
	}

	grants, err := s.grants.ListGrantedByCustomer(ctx, s.db, orgID, customerID)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(grants))
	benefitIDs := make([]string, 0, len(grants))
	for _, grant := range grants {
		id := grant.BenefitID.String()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		benefitIDs = append(benefitIDs, id)
	}
	sort.Strings(benefitIDs)

	err = s.publisher.Publish(ctx, eventstream.Event{
		Name:      EventCustomerStateChanged,
		SubjectID: customerID.String(),
		Payload: map[string]any{
			"organization_id":    orgID.String(),
			"active_benefit_ids": benefitIDs,
			"grant_count":        len(grants),
		},
		OccurredAt: s.clock.Now().UTC(),
	})
	if err != nil {
		// The projection is advisory; a dropped publish is not retried.
		logger.WithContext(ctx, s.log).Warn("customer state publish failed",
			zap.String("customer_id", customerID.String()),
			zap.Error(err),
		)
	}
	return nil
}
