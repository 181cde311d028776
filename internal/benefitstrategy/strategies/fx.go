// Package strategies wires every benefit type to its strategy.
package strategies

import (
	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy/custom"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy/discord"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy/downloadables"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy/github"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy/licensekeys"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy/metercredit"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("benefitstrategy",
	fx.Provide(NewRegistry),
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Customers customerdomain.Repository

	// Integration clients are optional; without them the strategies fail
	// with a configuration error.
	DiscordClient discord.Client `optional:"true"`
	GitHubClient  github.Client  `optional:"true"`
}

func NewRegistry(p Params) (*benefitstrategy.Registry, error) {
	if p.DiscordClient == nil {
		p.Log.Warn("discord client not configured; discord benefits will fail to provision")
	}
	if p.GitHubClient == nil {
		p.Log.Warn("github client not configured; github benefits will fail to provision")
	}

	return benefitstrategy.NewRegistry(map[benefitdomain.BenefitType]benefitstrategy.Strategy{
		benefitdomain.BenefitTypeCustom:           benefitstrategy.Adapt[custom.Properties, custom.GrantProperties](custom.New()),
		benefitdomain.BenefitTypeDiscord:          benefitstrategy.Adapt[discord.Properties, discord.GrantProperties](discord.New(p.DB, p.Customers, p.DiscordClient, p.Log)),
		benefitdomain.BenefitTypeGitHubRepository: benefitstrategy.Adapt[github.Properties, github.GrantProperties](github.New(p.DB, p.Customers, p.GitHubClient, p.Log)),
		benefitdomain.BenefitTypeDownloadables:    benefitstrategy.Adapt[downloadables.Properties, downloadables.GrantProperties](downloadables.New(p.DB, p.GenID, p.Clock)),
		benefitdomain.BenefitTypeLicenseKeys:      benefitstrategy.Adapt[licensekeys.Properties, licensekeys.GrantProperties](licensekeys.New(p.DB, p.GenID, p.Clock)),
		benefitdomain.BenefitTypeMeterCredit:      benefitstrategy.Adapt[metercredit.Properties, metercredit.GrantProperties](metercredit.New(p.DB, p.GenID, p.Clock)),
	})
}
