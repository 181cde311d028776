package discord

import (
	"context"

	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
)

// Client is the subset of the Discord bot API the strategy needs. Failed
// calls should return *benefitstrategy.UpstreamError.
type Client interface {
	// AddMemberRole joins the user to the guild when needed and assigns the role.
	AddMemberRole(ctx context.Context, guildID, userID, roleID, accessToken string) error
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error
	KickMember(ctx context.Context, guildID, userID string) error
}

// DisabledClient is used when no bot token is configured.
type DisabledClient struct{}

func (DisabledClient) AddMemberRole(context.Context, string, string, string, string) error {
	return errDisabled()
}

func (DisabledClient) RemoveMemberRole(context.Context, string, string, string) error {
	return errDisabled()
}

func (DisabledClient) KickMember(context.Context, string, string) error {
	return errDisabled()
}

func errDisabled() error {
	return &benefitstrategy.ConfigurationError{
		BenefitType: benefitdomain.BenefitTypeDiscord,
		Message:     "discord integration is not configured",
	}
}
