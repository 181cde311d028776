// Package benefitstrategy defines how each benefit type is provisioned and
// deprovisioned, and the registry the grant service dispatches through.
package benefitstrategy

import (
	"context"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"gorm.io/datatypes"
)

// GrantParams is everything a strategy sees for one call. GrantProperties
// holds what the previous successful call returned.
type GrantParams struct {
	Benefit         benefitdomain.Benefit
	Customer        customerdomain.Customer
	Member          *customerdomain.Member
	GrantID         snowflake.ID
	GrantProperties datatypes.JSONMap
	// Update is true when re-provisioning an existing grant after the
	// benefit's properties changed.
	Update  bool
	Attempt int
}

// Strategy provisions one benefit type. Grant may be called more than once
// for the same grant and must not create duplicate external resources.
//
// Grant, Cycle and Revoke return the full grant properties to persist.
// They signal outcomes with *ActionRequiredError and *RetriableError.
type Strategy interface {
	ShouldRevokeIndividually() bool
	Grant(ctx context.Context, params GrantParams) (datatypes.JSONMap, error)
	Cycle(ctx context.Context, params GrantParams) (datatypes.JSONMap, error)
	Revoke(ctx context.Context, params GrantParams) (datatypes.JSONMap, error)
	RequiresUpdate(ctx context.Context, benefit benefitdomain.Benefit, previousProperties datatypes.JSONMap) (bool, error)
	ValidateProperties(ctx context.Context, raw map[string]any) (datatypes.JSONMap, error)
}
