package strategies

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	customerrepository "github.com/smallbiznis/railzway-benefits/internal/customer/repository"
	"github.com/smallbiznis/railzway-benefits/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRegistryCoversEveryBenefitType(t *testing.T) {
	node, err := snowflake.NewNode(24)
	require.NoError(t, err)

	registry, err := NewRegistry(Params{
		DB:        testutil.OpenSQLite(t),
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.NewFakeClock(time.Now()),
		Customers: customerrepository.Provide(),
	})
	require.NoError(t, err)

	individually := map[benefitdomain.BenefitType]bool{}
	for _, bt := range benefitdomain.AllBenefitTypes() {
		s, err := registry.Get(bt)
		require.NoError(t, err)
		individually[bt] = s.ShouldRevokeIndividually()
	}
	assert.Equal(t, map[benefitdomain.BenefitType]bool{
		benefitdomain.BenefitTypeCustom:           false,
		benefitdomain.BenefitTypeDiscord:          false,
		benefitdomain.BenefitTypeGitHubRepository: false,
		benefitdomain.BenefitTypeDownloadables:    false,
		benefitdomain.BenefitTypeLicenseKeys:      true,
		benefitdomain.BenefitTypeMeterCredit:      true,
	}, individually)
}
