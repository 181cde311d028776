package grantevent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type grantedLister struct {
	grantdomain.Repository
	grants []grantdomain.BenefitGrant
}

func (g *grantedLister) ListGrantedByCustomer(_ context.Context, _ *gorm.DB, _, customerID snowflake.ID) ([]grantdomain.BenefitGrant, error) {
	var out []grantdomain.BenefitGrant
	for _, grant := range g.grants {
		if grant.CustomerID == customerID {
			out = append(out, grant)
		}
	}
	return out, nil
}

func newCustomerState(publisher *fakePublisher, grants ...grantdomain.BenefitGrant) *CustomerState {
	return NewCustomerState(CustomerStateParams{
		Log:       zap.NewNop(),
		Clock:     clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Grants:    &grantedLister{grants: grants},
		Publisher: publisher,
	})
}

func TestCustomerStatePublishesActiveBenefits(t *testing.T) {
	publisher := &fakePublisher{}
	state := newCustomerState(publisher,
		grantdomain.BenefitGrant{ID: 1, CustomerID: 100, BenefitID: 30},
		grantdomain.BenefitGrant{ID: 2, CustomerID: 100, BenefitID: 20},
		grantdomain.BenefitGrant{ID: 3, CustomerID: 100, BenefitID: 30},
		grantdomain.BenefitGrant{ID: 4, CustomerID: 101, BenefitID: 40},
	)

	err := state.Handle(context.Background(), jobqueue.Job{Args: datatypes.JSONMap{"org_id": "1", "customer_id": "100"}})
	require.NoError(t, err)

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, EventCustomerStateChanged, event.Name)
	assert.Equal(t, "100", event.SubjectID)
	assert.Equal(t, []string{"20", "30"}, event.Payload["active_benefit_ids"])
	assert.Equal(t, 3, event.Payload["grant_count"])
}

func TestCustomerStateToleratesPublishFailure(t *testing.T) {
	state := newCustomerState(&fakePublisher{err: errors.New("down")})
	err := state.Handle(context.Background(), jobqueue.Job{Args: datatypes.JSONMap{"org_id": "1", "customer_id": "100"}})
	require.NoError(t, err)
}

func TestCustomerStateRejectsMissingArgs(t *testing.T) {
	state := newCustomerState(&fakePublisher{})
	err := state.Handle(context.Background(), jobqueue.Job{Args: datatypes.JSONMap{"org_id": "1"}})
	require.ErrorIs(t, err, jobqueue.ErrInvalidArgs)
}

func TestRegisterCustomerState(t *testing.T) {
	registry := jobqueue.NewRegistry()
	require.NoError(t, RegisterCustomerState(registry, newCustomerState(&fakePublisher{})))
	_, ok := registry.Lookup(grantdomain.JobCustomerStateChanged)
	assert.True(t, ok)
}
