// Package discord grants a Discord guild role to the customer's connected
// Discord account.
package discord

import (
	"context"
	"strings"

	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Properties struct {
	GuildID    string `json:"guild_id"`
	RoleID     string `json:"role_id"`
	KickMember bool   `json:"kick_member"`
}

type GrantProperties struct {
	AccountID string `json:"account_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
}

type Strategy struct {
	db        *gorm.DB
	customers customerdomain.Repository
	client    Client
	log       *zap.Logger
}

func New(db *gorm.DB, customers customerdomain.Repository, client Client, log *zap.Logger) *Strategy {
	if client == nil {
		client = DisabledClient{}
	}
	return &Strategy{
		db:        db,
		customers: customers,
		client:    client,
		log:       log.Named("benefitstrategy.discord"),
	}
}

func (s *Strategy) ShouldRevokeIndividually() bool { return false }

func (s *Strategy) Grant(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	account, err := s.customers.FindOAuthAccount(ctx, s.db, p.Customer.OrgID, p.Customer.ID, customerdomain.OAuthPlatformDiscord)
	if err != nil {
		return GrantProperties{}, err
	}
	if account == nil {
		return GrantProperties{}, benefitstrategy.NewActionRequired(
			"connect a Discord account to receive this benefit",
			map[string]any{"platform": string(customerdomain.OAuthPlatformDiscord)},
		)
	}

	props := p.BenefitProperties
	previous := p.GrantProperties

	// role or guild moved: drop the old one before assigning the new one
	if p.Update && previous.AccountID != "" &&
		(previous.GuildID != props.GuildID || previous.RoleID != props.RoleID) {
		if err := s.client.RemoveMemberRole(ctx, previous.GuildID, previous.AccountID, previous.RoleID); err != nil {
			return GrantProperties{}, benefitstrategy.ClassifyUpstream(err)
		}
	}

	if err := s.client.AddMemberRole(ctx, props.GuildID, account.AccountID, props.RoleID, account.AccessToken); err != nil {
		return GrantProperties{}, benefitstrategy.ClassifyUpstream(err)
	}

	s.log.Debug("discord role granted",
		zap.String("guild_id", props.GuildID),
		zap.String("role_id", props.RoleID),
		zap.String("customer_id", p.Customer.ID.String()),
	)
	return GrantProperties{AccountID: account.AccountID, GuildID: props.GuildID, RoleID: props.RoleID}, nil
}

func (s *Strategy) Cycle(_ context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	return p.GrantProperties, nil
}

func (s *Strategy) Revoke(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	granted := p.GrantProperties
	if granted.AccountID == "" {
		// never provisioned
		return GrantProperties{}, nil
	}

	guildID := granted.GuildID
	if guildID == "" {
		guildID = p.BenefitProperties.GuildID
	}
	roleID := granted.RoleID
	if roleID == "" {
		roleID = p.BenefitProperties.RoleID
	}

	var err error
	if p.BenefitProperties.KickMember {
		err = s.client.KickMember(ctx, guildID, granted.AccountID)
	} else {
		err = s.client.RemoveMemberRole(ctx, guildID, granted.AccountID, roleID)
	}
	if err != nil {
		return GrantProperties{}, benefitstrategy.ClassifyUpstream(err)
	}
	return GrantProperties{}, nil
}

func (s *Strategy) RequiresUpdate(_ context.Context, current, previous Properties) (bool, error) {
	return current.GuildID != previous.GuildID || current.RoleID != previous.RoleID, nil
}

func (s *Strategy) ValidateProperties(_ context.Context, props Properties) (Properties, error) {
	props.GuildID = strings.TrimSpace(props.GuildID)
	props.RoleID = strings.TrimSpace(props.RoleID)
	if !isDiscordID(props.GuildID) {
		return Properties{}, benefitstrategy.NewValidationError("guild_id", "must be a Discord snowflake id")
	}
	if !isDiscordID(props.RoleID) {
		return Properties{}, benefitstrategy.NewValidationError("role_id", "must be a Discord snowflake id")
	}
	return props, nil
}

func isDiscordID(value string) bool {
	if value == "" || len(value) > 20 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
