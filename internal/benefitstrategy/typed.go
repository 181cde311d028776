package benefitstrategy

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	customerdomain "github.com/smallbiznis/railzway-benefits/internal/customer/domain"
	"gorm.io/datatypes"
)

// TypedParams is GrantParams with the property maps decoded.
type TypedParams[BP, GP any] struct {
	Benefit           benefitdomain.Benefit
	Customer          customerdomain.Customer
	Member            *customerdomain.Member
	GrantID           snowflake.ID
	BenefitProperties BP
	GrantProperties   GP
	Update            bool
	Attempt           int
}

// Typed is a strategy written against concrete property structs. Adapt
// converts it to a Strategy.
type Typed[BP, GP any] interface {
	ShouldRevokeIndividually() bool
	Grant(ctx context.Context, params TypedParams[BP, GP]) (GP, error)
	Cycle(ctx context.Context, params TypedParams[BP, GP]) (GP, error)
	Revoke(ctx context.Context, params TypedParams[BP, GP]) (GP, error)
	RequiresUpdate(ctx context.Context, current, previous BP) (bool, error)
	// ValidateProperties checks and normalizes merchant input.
	ValidateProperties(ctx context.Context, props BP) (BP, error)
}

type adapter[BP, GP any] struct {
	typed Typed[BP, GP]
}

func Adapt[BP, GP any](typed Typed[BP, GP]) Strategy {
	return &adapter[BP, GP]{typed: typed}
}

func (a *adapter[BP, GP]) ShouldRevokeIndividually() bool {
	return a.typed.ShouldRevokeIndividually()
}

func (a *adapter[BP, GP]) Grant(ctx context.Context, params GrantParams) (datatypes.JSONMap, error) {
	return a.call(ctx, params, a.typed.Grant)
}

func (a *adapter[BP, GP]) Cycle(ctx context.Context, params GrantParams) (datatypes.JSONMap, error) {
	return a.call(ctx, params, a.typed.Cycle)
}

func (a *adapter[BP, GP]) Revoke(ctx context.Context, params GrantParams) (datatypes.JSONMap, error) {
	return a.call(ctx, params, a.typed.Revoke)
}

func (a *adapter[BP, GP]) RequiresUpdate(ctx context.Context, benefit benefitdomain.Benefit, previousProperties datatypes.JSONMap) (bool, error) {
	var current, previous BP
	if err := decode(benefit.Properties, &current); err != nil {
		return false, &ConfigurationError{BenefitType: benefit.Type, Message: "stored benefit properties are unreadable: " + err.Error()}
	}
	if err := decode(previousProperties, &previous); err != nil {
		// unreadable history: assume the grant needs re-provisioning
		return true, nil
	}
	return a.typed.RequiresUpdate(ctx, current, previous)
}

func (a *adapter[BP, GP]) ValidateProperties(ctx context.Context, raw map[string]any) (datatypes.JSONMap, error) {
	var props BP
	if err := decodeStrict(raw, &props); err != nil {
		return nil, NewValidationError("", err.Error())
	}
	normalized, err := a.typed.ValidateProperties(ctx, props)
	if err != nil {
		return nil, err
	}
	return encode(normalized)
}

func (a *adapter[BP, GP]) call(
	ctx context.Context,
	params GrantParams,
	fn func(context.Context, TypedParams[BP, GP]) (GP, error),
) (datatypes.JSONMap, error) {
	typed := TypedParams[BP, GP]{
		Benefit:  params.Benefit,
		Customer: params.Customer,
		Member:   params.Member,
		GrantID:  params.GrantID,
		Update:   params.Update,
		Attempt:  params.Attempt,
	}
	if err := decode(params.Benefit.Properties, &typed.BenefitProperties); err != nil {
		return nil, &ConfigurationError{BenefitType: params.Benefit.Type, Message: "stored benefit properties are unreadable: " + err.Error()}
	}
	if err := decode(params.GrantProperties, &typed.GrantProperties); err != nil {
		// grant properties are ours; start over rather than fail forever
		var zero GP
		typed.GrantProperties = zero
	}

	out, err := fn(ctx, typed)
	if err != nil {
		return nil, err
	}
	return encode(out)
}

func decode(in map[string]any, out any) error {
	if len(in) == 0 {
		return nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func decodeStrict(in map[string]any, out any) error {
	if in == nil {
		in = map[string]any{}
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func encode(in any) (datatypes.JSONMap, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	out := datatypes.JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
