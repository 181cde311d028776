package licensekeys

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"github.com/smallbiznis/railzway-benefits/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func intPtr(v int) *int { return &v }

func setup(t *testing.T) (*Strategy, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenSQLite(t, &LicenseKey{})
	node, err := snowflake.NewNode(21)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	return New(db, node, clk), db, clk
}

func params(props Properties, state GrantProperties, update bool) benefitstrategy.TypedParams[Properties, GrantProperties] {
	return benefitstrategy.TypedParams[Properties, GrantProperties]{
		Benefit:           benefitdomain.Benefit{ID: 70, OrgID: 1, Type: benefitdomain.BenefitTypeLicenseKeys},
		Customer:          customerdomain.Customer{ID: 80, OrgID: 1},
		GrantID:           90,
		BenefitProperties: props,
		GrantProperties:   state,
		Update:            update,
	}
}

func loadKey(t *testing.T, db *gorm.DB) LicenseKey {
	t.Helper()
	var keys []LicenseKey
	require.NoError(t, db.Find(&keys).Error)
	require.Len(t, keys, 1)
	return keys[0]
}

func TestGrantIssuesOneKeyPerGrant(t *testing.T) {
	s, db, clk := setup(t)
	ctx := context.Background()
	prefix := "ACME"
	props := Properties{Prefix: &prefix, Expires: &Expires{TTL: 1, Timeframe: TimeframeMonth}, Activations: &Activations{Limit: 3}}

	first, err := s.Grant(ctx, params(props, GrantProperties{}, false))
	require.NoError(t, err)
	key := loadKey(t, db)
	assert.True(t, strings.HasPrefix(key.Key, "ACME-"))
	assert.Equal(t, StatusGranted, key.Status)
	assert.Equal(t, key.ID.String(), first.LicenseKeyID)
	assert.Equal(t, "****-"+key.Key[len(key.Key)-6:], first.DisplayKey)
	require.NotNil(t, key.ExpiresAt)
	assert.True(t, clk.Now().AddDate(0, 1, 0).Equal(*key.ExpiresAt))
	assert.Equal(t, intPtr(3), key.LimitActivations)

	again, err := s.Grant(ctx, params(props, first, false))
	require.NoError(t, err)
	assert.Equal(t, first, again)
	loadKey(t, db)
}

func TestUpdateReappliesLimitsFromIssueDate(t *testing.T) {
	s, db, clk := setup(t)
	ctx := context.Background()
	issued := clk.Now()

	state, err := s.Grant(ctx, params(Properties{Expires: &Expires{TTL: 1, Timeframe: TimeframeMonth}}, GrantProperties{}, false))
	require.NoError(t, err)

	clk.Advance(72 * time.Hour)
	updated := Properties{Expires: &Expires{TTL: 1, Timeframe: TimeframeYear}, LimitUsage: intPtr(10)}
	_, err = s.Grant(ctx, params(updated, state, true))
	require.NoError(t, err)

	key := loadKey(t, db)
	require.NotNil(t, key.ExpiresAt)
	assert.True(t, issued.AddDate(1, 0, 0).Equal(*key.ExpiresAt))
	assert.Equal(t, intPtr(10), key.LimitUsage)
	assert.Nil(t, key.LimitActivations)
}

func TestRevokeDisablesAndRegrantReactivates(t *testing.T) {
	s, db, _ := setup(t)
	ctx := context.Background()

	_, err := s.Revoke(ctx, params(Properties{}, GrantProperties{}, false))
	require.NoError(t, err)

	state, err := s.Grant(ctx, params(Properties{}, GrantProperties{}, false))
	require.NoError(t, err)

	revoked, err := s.Revoke(ctx, params(Properties{}, state, false))
	require.NoError(t, err)
	assert.Equal(t, state, revoked)
	assert.Equal(t, StatusRevoked, loadKey(t, db).Status)

	regranted, err := s.Grant(ctx, params(Properties{}, revoked, false))
	require.NoError(t, err)
	assert.Equal(t, state.LicenseKeyID, regranted.LicenseKeyID)
	assert.Equal(t, StatusGranted, loadKey(t, db).Status)
}

func TestValidateProperties(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()

	prefix := "  my app "
	props, err := s.ValidateProperties(ctx, Properties{Prefix: &prefix})
	require.NoError(t, err)
	require.NotNil(t, props.Prefix)
	assert.Equal(t, "MY-APP", *props.Prefix)

	blank := "   "
	props, err = s.ValidateProperties(ctx, Properties{Prefix: &blank})
	require.NoError(t, err)
	assert.Nil(t, props.Prefix)

	var validation *benefitstrategy.ValidationError
	_, err = s.ValidateProperties(ctx, Properties{Expires: &Expires{TTL: 1, Timeframe: "week"}})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "expires.timeframe", validation.Field)
	_, err = s.ValidateProperties(ctx, Properties{Activations: &Activations{Limit: 51}})
	require.ErrorAs(t, err, &validation)
	_, err = s.ValidateProperties(ctx, Properties{LimitUsage: intPtr(0)})
	require.ErrorAs(t, err, &validation)
}

func TestRequiresUpdate(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()
	base := Properties{Expires: &Expires{TTL: 1, Timeframe: TimeframeDay}}

	changed, err := s.RequiresUpdate(ctx, base, Properties{Expires: &Expires{TTL: 1, Timeframe: TimeframeDay}})
	require.NoError(t, err)
	assert.False(t, changed)

	prefix := "NEW"
	changed, err = s.RequiresUpdate(ctx, Properties{Prefix: &prefix, Expires: base.Expires}, base)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.RequiresUpdate(ctx, Properties{Expires: base.Expires, Activations: &Activations{Limit: 2}}, base)
	require.NoError(t, err)
	assert.True(t, changed)
}
