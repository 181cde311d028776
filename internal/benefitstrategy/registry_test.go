package benefitstrategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type noopStrategy struct{}

func (noopStrategy) ShouldRevokeIndividually() bool { return false }
func (noopStrategy) Grant(context.Context, GrantParams) (datatypes.JSONMap, error) {
	return datatypes.JSONMap{}, nil
}
func (noopStrategy) Cycle(context.Context, GrantParams) (datatypes.JSONMap, error) {
	return datatypes.JSONMap{}, nil
}
func (noopStrategy) Revoke(context.Context, GrantParams) (datatypes.JSONMap, error) {
	return datatypes.JSONMap{}, nil
}
func (noopStrategy) RequiresUpdate(context.Context, benefitdomain.Benefit, datatypes.JSONMap) (bool, error) {
	return false, nil
}
func (noopStrategy) ValidateProperties(context.Context, map[string]any) (datatypes.JSONMap, error) {
	return datatypes.JSONMap{}, nil
}

func fullTable() map[benefitdomain.BenefitType]Strategy {
	table := map[benefitdomain.BenefitType]Strategy{}
	for _, t := range benefitdomain.AllBenefitTypes() {
		table[t] = noopStrategy{}
	}
	return table
}

func TestNewRegistryRequiresEveryType(t *testing.T) {
	registry, err := NewRegistry(fullTable())
	require.NoError(t, err)
	for _, bt := range benefitdomain.AllBenefitTypes() {
		s, err := registry.Get(bt)
		require.NoError(t, err)
		assert.NotNil(t, s)
	}

	missing := fullTable()
	delete(missing, benefitdomain.BenefitTypeDiscord)
	_, err = NewRegistry(missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing=[discord]")

	extra := fullTable()
	extra["telegram"] = noopStrategy{}
	_, err = NewRegistry(extra)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown=[telegram]")
}

func TestRegistryGetUnknownType(t *testing.T) {
	registry, err := NewRegistry(fullTable())
	require.NoError(t, err)

	_, err = registry.Get("telegram")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, benefitdomain.BenefitType("telegram"), cfgErr.BenefitType)

	var nilRegistry *Registry
	_, err = nilRegistry.Get(benefitdomain.BenefitTypeCustom)
	require.ErrorAs(t, err, &cfgErr)
}

func TestClassifyUpstream(t *testing.T) {
	assert.NoError(t, ClassifyUpstream(nil))

	limited := ClassifyUpstream(&UpstreamError{Service: "discord", StatusCode: http.StatusTooManyRequests, RetryAfter: 30 * time.Second, Err: errors.New("slow down")})
	var retriable *RetriableError
	require.ErrorAs(t, limited, &retriable)
	delay, ok := retriable.RetryDelay()
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, delay)

	unavailable := ClassifyUpstream(&UpstreamError{Service: "github", StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")})
	require.ErrorAs(t, unavailable, &retriable)
	_, ok = retriable.RetryDelay()
	assert.False(t, ok)

	forbidden := &UpstreamError{Service: "github", StatusCode: http.StatusForbidden, Err: errors.New("forbidden")}
	assert.Same(t, forbidden, ClassifyUpstream(forbidden))

	timeout := ClassifyUpstream(fmt.Errorf("call: %w", context.DeadlineExceeded))
	require.ErrorAs(t, timeout, &retriable)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	action := NewActionRequired("connect", nil)
	assert.Same(t, action, ClassifyUpstream(action))
}

func TestActionRequiredRecordPayload(t *testing.T) {
	assert.Equal(t, map[string]any{"message": "connect"}, NewActionRequired("connect", nil).RecordPayload())
	assert.Equal(t,
		map[string]any{"message": "connect", "payload": map[string]any{"platform": "discord"}},
		NewActionRequired("connect", map[string]any{"platform": "discord"}).RecordPayload(),
	)
}

type counterProps struct {
	Step int `json:"step"`
}

type counterState struct {
	Total int `json:"total"`
}

type counterStrategy struct{}

func (counterStrategy) ShouldRevokeIndividually() bool { return true }

func (counterStrategy) Grant(_ context.Context, p TypedParams[counterProps, counterState]) (counterState, error) {
	return counterState{Total: p.GrantProperties.Total + p.BenefitProperties.Step}, nil
}

func (counterStrategy) Cycle(ctx context.Context, p TypedParams[counterProps, counterState]) (counterState, error) {
	return counterStrategy{}.Grant(ctx, p)
}

func (counterStrategy) Revoke(context.Context, TypedParams[counterProps, counterState]) (counterState, error) {
	return counterState{}, nil
}

func (counterStrategy) RequiresUpdate(_ context.Context, current, previous counterProps) (bool, error) {
	return current.Step != previous.Step, nil
}

func (counterStrategy) ValidateProperties(_ context.Context, props counterProps) (counterProps, error) {
	if props.Step <= 0 {
		return counterProps{}, NewValidationError("step", "must be positive")
	}
	return props, nil
}

func TestAdaptDecodesAndEncodesProperties(t *testing.T) {
	s := Adapt[counterProps, counterState](counterStrategy{})
	assert.True(t, s.ShouldRevokeIndividually())

	benefit := benefitdomain.Benefit{Type: benefitdomain.BenefitTypeCustom, Properties: datatypes.JSONMap{"step": 2}}
	out, err := s.Grant(context.Background(), GrantParams{Benefit: benefit})
	require.NoError(t, err)
	assert.Equal(t, datatypes.JSONMap{"total": float64(2)}, out)

	out, err = s.Cycle(context.Background(), GrantParams{Benefit: benefit, GrantProperties: out})
	require.NoError(t, err)
	assert.Equal(t, float64(4), out["total"])

	// unreadable grant properties start from zero
	out, err = s.Grant(context.Background(), GrantParams{Benefit: benefit, GrantProperties: datatypes.JSONMap{"total": "x"}})
	require.NoError(t, err)
	assert.Equal(t, float64(2), out["total"])

	broken := benefitdomain.Benefit{Type: benefitdomain.BenefitTypeCustom, Properties: datatypes.JSONMap{"step": "x"}}
	_, err = s.Grant(context.Background(), GrantParams{Benefit: broken})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestAdaptValidateAndRequiresUpdate(t *testing.T) {
	s := Adapt[counterProps, counterState](counterStrategy{})
	ctx := context.Background()

	props, err := s.ValidateProperties(ctx, map[string]any{"step": 3})
	require.NoError(t, err)
	assert.Equal(t, datatypes.JSONMap{"step": float64(3)}, props)

	var validation *ValidationError
	_, err = s.ValidateProperties(ctx, map[string]any{"step": 3, "extra": true})
	require.ErrorAs(t, err, &validation)
	_, err = s.ValidateProperties(ctx, map[string]any{"step": 0})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "step", validation.Field)

	benefit := benefitdomain.Benefit{Properties: datatypes.JSONMap{"step": 3}}
	changed, err := s.RequiresUpdate(ctx, benefit, datatypes.JSONMap{"step": 1})
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.RequiresUpdate(ctx, benefit, datatypes.JSONMap{"step": 3})
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = s.RequiresUpdate(ctx, benefit, datatypes.JSONMap{"step": "x"})
	require.NoError(t, err)
	assert.True(t, changed)
}
