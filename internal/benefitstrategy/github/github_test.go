package github

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	customerrepository "github.com/smallbiznis/railzway-benefits/internal/customer/repository"
	"github.com/smallbiznis/railzway-benefits/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeClient struct {
	invites   []string
	removals  []string
	removeErr error
}

func (f *fakeClient) InviteCollaborator(_ context.Context, owner, repository, username, permission string) error {
	f.invites = append(f.invites, owner+"/"+repository+":"+username+":"+permission)
	return nil
}

func (f *fakeClient) RemoveCollaborator(_ context.Context, owner, repository, username string) error {
	f.removals = append(f.removals, owner+"/"+repository+":"+username)
	return f.removeErr
}

var customer = customerdomain.Customer{ID: 80, OrgID: 1}

func setup(t *testing.T, username string) (*Strategy, *fakeClient) {
	t.Helper()
	db := testutil.OpenSQLite(t, &customerdomain.OAuthAccount{})
	if username != "" {
		connect(t, db, username)
	}
	client := &fakeClient{}
	return New(db, customerrepository.Provide(), client, zap.NewNop()), client
}

func connect(t *testing.T, db *gorm.DB, username string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, customerrepository.Provide().UpsertOAuthAccount(context.Background(), db, &customerdomain.OAuthAccount{
		ID: 1, OrgID: customer.OrgID, CustomerID: customer.ID, Platform: customerdomain.OAuthPlatformGitHub,
		AccountID: "99", AccountUsername: username, CreatedAt: now, UpdatedAt: now,
	}))
}

func params(props Properties, state GrantProperties, update bool) benefitstrategy.TypedParams[Properties, GrantProperties] {
	return benefitstrategy.TypedParams[Properties, GrantProperties]{
		Benefit:           benefitdomain.Benefit{ID: 70, OrgID: 1, Type: benefitdomain.BenefitTypeGitHubRepository},
		Customer:          customer,
		GrantID:           90,
		BenefitProperties: props,
		GrantProperties:   state,
		Update:            update,
	}
}

func TestGrantRequiresGitHubAccount(t *testing.T) {
	s, client := setup(t, "")

	_, err := s.Grant(context.Background(), params(Properties{RepositoryOwner: "acme", RepositoryName: "sdk", Permission: PermissionPull}, GrantProperties{}, false))
	var action *benefitstrategy.ActionRequiredError
	require.ErrorAs(t, err, &action)
	assert.Empty(t, client.invites)
}

func TestGrantMovesCollaboratorOnRepositoryChange(t *testing.T) {
	s, client := setup(t, "octo")
	ctx := context.Background()

	state, err := s.Grant(ctx, params(Properties{RepositoryOwner: "acme", RepositoryName: "sdk", Permission: PermissionPull}, GrantProperties{}, false))
	require.NoError(t, err)
	assert.Equal(t, "octo", state.Username)

	// permission-only change re-invites in place
	state, err = s.Grant(ctx, params(Properties{RepositoryOwner: "ACME", RepositoryName: "sdk", Permission: PermissionPush}, state, true))
	require.NoError(t, err)
	assert.Empty(t, client.removals)

	_, err = s.Grant(ctx, params(Properties{RepositoryOwner: "acme", RepositoryName: "cli", Permission: PermissionPush}, state, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"ACME/sdk:octo"}, client.removals)
	assert.Equal(t, []string{"acme/sdk:octo:pull", "ACME/sdk:octo:push", "acme/cli:octo:push"}, client.invites)
}

func TestRevokeToleratesMissingCollaborator(t *testing.T) {
	s, client := setup(t, "octo")
	client.removeErr = &benefitstrategy.UpstreamError{Service: "github", StatusCode: http.StatusNotFound, Err: errors.New("not found")}

	state := GrantProperties{Username: "octo", RepositoryOwner: "acme", RepositoryName: "sdk"}
	out, err := s.Revoke(context.Background(), params(Properties{}, state, false))
	require.NoError(t, err)
	assert.Equal(t, GrantProperties{}, out)

	client.removeErr = &benefitstrategy.UpstreamError{Service: "github", StatusCode: http.StatusInternalServerError, Err: errors.New("boom")}
	_, err = s.Revoke(context.Background(), params(Properties{}, state, false))
	var retriable *benefitstrategy.RetriableError
	require.ErrorAs(t, err, &retriable)
}

func TestValidateProperties(t *testing.T) {
	s, _ := setup(t, "")
	ctx := context.Background()

	props, err := s.ValidateProperties(ctx, Properties{RepositoryOwner: " acme-inc ", RepositoryName: "sdk.go"})
	require.NoError(t, err)
	assert.Equal(t, "acme-inc", props.RepositoryOwner)
	assert.Equal(t, PermissionPull, props.Permission)

	var validation *benefitstrategy.ValidationError
	for name, bad := range map[string]Properties{
		"repository_owner": {RepositoryOwner: "acme_inc", RepositoryName: "sdk"},
		"repository_name":  {RepositoryOwner: "acme", RepositoryName: "sdk/x"},
		"permission":       {RepositoryOwner: "acme", RepositoryName: "sdk", Permission: "owner"},
	} {
		_, err := s.ValidateProperties(ctx, bad)
		require.ErrorAs(t, err, &validation, name)
		assert.Equal(t, name, validation.Field)
	}
}
