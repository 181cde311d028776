// Package github invites the customer's connected GitHub account as a
// collaborator on a private repository.
package github

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Permission string

const (
	PermissionPull     Permission = "pull"
	PermissionTriage   Permission = "triage"
	PermissionPush     Permission = "push"
	PermissionMaintain Permission = "maintain"
	PermissionAdmin    Permission = "admin"
)

func (p Permission) valid() bool {
	switch p {
	case PermissionPull, PermissionTriage, PermissionPush, PermissionMaintain, PermissionAdmin:
		return true
	}
	return false
}

type Properties struct {
	RepositoryOwner string     `json:"repository_owner"`
	RepositoryName  string     `json:"repository_name"`
	Permission      Permission `json:"permission"`
}

type GrantProperties struct {
	Username        string     `json:"username,omitempty"`
	RepositoryOwner string     `json:"repository_owner,omitempty"`
	RepositoryName  string     `json:"repository_name,omitempty"`
	Permission      Permission `json:"permission,omitempty"`
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
		log:       log.Named("benefitstrategy.github"),
	}
}

func (s *Strategy) ShouldRevokeIndividually() bool { return false }

func (s *Strategy) Grant(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	account, err := s.customers.FindOAuthAccount(ctx, s.db, p.Customer.OrgID, p.Customer.ID, customerdomain.OAuthPlatformGitHub)
	if err != nil {
		return GrantProperties{}, err
	}
	if account == nil || strings.TrimSpace(account.AccountUsername) == "" {
		return GrantProperties{}, benefitstrategy.NewActionRequired(
			"connect a GitHub account to receive this benefit",
			map[string]any{"platform": string(customerdomain.OAuthPlatformGitHub)},
		)
	}

	props := p.BenefitProperties
	previous := p.GrantProperties
	username := account.AccountUsername

	if p.Update && previous.Username != "" &&
		(!strings.EqualFold(previous.RepositoryOwner, props.RepositoryOwner) ||
			!strings.EqualFold(previous.RepositoryName, props.RepositoryName)) {
		if err := s.removeCollaborator(ctx, previous.RepositoryOwner, previous.RepositoryName, previous.Username); err != nil {
			return GrantProperties{}, err
		}
	}

	if err := s.client.InviteCollaborator(ctx, props.RepositoryOwner, props.RepositoryName, username, string(props.Permission)); err != nil {
		return GrantProperties{}, benefitstrategy.ClassifyUpstream(err)
	}

	return GrantProperties{
		Username:        username,
		RepositoryOwner: props.RepositoryOwner,
		RepositoryName:  props.RepositoryName,
		Permission:      props.Permission,
	}, nil
}

func (s *Strategy) Cycle(_ context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	return p.GrantProperties, nil
}

func (s *Strategy) Revoke(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	granted := p.GrantProperties
	if granted.Username == "" {
		return GrantProperties{}, nil
	}
	owner, name := granted.RepositoryOwner, granted.RepositoryName
	if owner == "" || name == "" {
		owner, name = p.BenefitProperties.RepositoryOwner, p.BenefitProperties.RepositoryName
	}
	if err := s.removeCollaborator(ctx, owner, name, granted.Username); err != nil {
		return GrantProperties{}, err
	}
	return GrantProperties{}, nil
}

// removeCollaborator treats an already-removed collaborator as success.
func (s *Strategy) removeCollaborator(ctx context.Context, owner, name, username string) error {
	err := s.client.RemoveCollaborator(ctx, owner, name, username)
	var upstream *benefitstrategy.UpstreamError
	if errors.As(err, &upstream) && upstream.StatusCode == http.StatusNotFound {
		s.log.Info("collaborator already removed",
			zap.String("repository", owner+"/"+name),
			zap.String("username", username),
		)
		return nil
	}
	return benefitstrategy.ClassifyUpstream(err)
}

func (s *Strategy) RequiresUpdate(_ context.Context, current, previous Properties) (bool, error) {
	return !strings.EqualFold(current.RepositoryOwner, previous.RepositoryOwner) ||
		!strings.EqualFold(current.RepositoryName, previous.RepositoryName) ||
		current.Permission != previous.Permission, nil
}

func (s *Strategy) ValidateProperties(_ context.Context, props Properties) (Properties, error) {
	props.RepositoryOwner = strings.TrimSpace(props.RepositoryOwner)
	props.RepositoryName = strings.TrimSpace(props.RepositoryName)

	// GitHub logins follow slug rules: alphanumerics and single hyphens.
	if props.RepositoryOwner == "" || !slug.IsSlug(strings.ToLower(props.RepositoryOwner)) ||
		strings.Contains(props.RepositoryOwner, "_") || strings.Contains(props.RepositoryOwner, "--") {
		return Properties{}, benefitstrategy.NewValidationError("repository_owner", "must be a valid GitHub user or organization")
	}
	if !validRepositoryName(props.RepositoryName) {
		return Properties{}, benefitstrategy.NewValidationError("repository_name", "must be a valid repository name")
	}
	if props.Permission == "" {
		props.Permission = PermissionPull
	}
	if !props.Permission.valid() {
		return Properties{}, benefitstrategy.NewValidationError("permission", "must be one of pull, triage, push, maintain, admin")
	}
	return props, nil
}

func validRepositoryName(name string) bool {
	if name == "" || len(name) > 100 || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
