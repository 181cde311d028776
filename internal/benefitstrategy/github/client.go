package github

import (
	"context"

	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
)

// Client is the subset of the GitHub App API the strategy needs. Inviting an
// existing collaborator again only updates the permission.
type Client interface {
	InviteCollaborator(ctx context.Context, owner, repository, username, permission string) error
	RemoveCollaborator(ctx context.Context, owner, repository, username string) error
}

// DisabledClient is used when no GitHub App token is configured.
type DisabledClient struct{}

func (DisabledClient) InviteCollaborator(context.Context, string, string, string, string) error {
	return errDisabled()
}

func (DisabledClient) RemoveCollaborator(context.Context, string, string, string) error {
	return errDisabled()
}

func errDisabled() error {
	return &benefitstrategy.ConfigurationError{
		BenefitType: benefitdomain.BenefitTypeGitHubRepository,
		Message:     "github integration is not configured",
	}
}
