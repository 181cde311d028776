// Package licensekeys issues a unique license key per grant.
package licensekeys

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/pkg/db"
	"gorm.io/gorm"
)

type Timeframe string

const (
	TimeframeDay   Timeframe = "day"
	TimeframeMonth Timeframe = "month"
	TimeframeYear  Timeframe = "year"
)

type Expires struct {
	TTL       int       `json:"ttl"`
	Timeframe Timeframe `json:"timeframe"`
}

type Activations struct {
	Limit               int  `json:"limit"`
	EnableCustomerAdmin bool `json:"enable_customer_admin"`
}

type Properties struct {
	Prefix      *string      `json:"prefix,omitempty"`
	Expires     *Expires     `json:"expires,omitempty"`
	Activations *Activations `json:"activations,omitempty"`
	LimitUsage  *int         `json:"limit_usage,omitempty"`
}

type GrantProperties struct {
	LicenseKeyID string `json:"license_key_id,omitempty"`
	DisplayKey   string `json:"display_key,omitempty"`
}

type Strategy struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func New(gdb *gorm.DB, genID *snowflake.Node, clk clock.Clock) *Strategy {
	return &Strategy{db: gdb, genID: genID, clock: clk}
}

func (s *Strategy) ShouldRevokeIndividually() bool { return true }

func (s *Strategy) Grant(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	now := s.clock.Now()
	props := p.BenefitProperties

	existing, err := s.findByGrant(ctx, p.GrantID)
	if err != nil {
		return GrantProperties{}, err
	}

	if existing == nil {
		key := LicenseKey{
			ID:               s.genID.Generate(),
			OrgID:            p.Customer.OrgID,
			CustomerID:       p.Customer.ID,
			BenefitID:        p.Benefit.ID,
			GrantID:          p.GrantID,
			Key:              generateKey(props.Prefix),
			Status:           StatusGranted,
			LimitActivations: activationLimit(props),
			LimitUsage:       props.LimitUsage,
			ExpiresAt:        expiresAt(now, props.Expires),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		err := s.db.WithContext(ctx).Create(&key).Error
		if db.IsDuplicateKeyErr(err) {
			// a concurrent attempt for the same grant won
			existing, err = s.findByGrant(ctx, p.GrantID)
			if err != nil {
				return GrantProperties{}, err
			}
			if existing == nil {
				return GrantProperties{}, benefitstrategy.NewRetriable("license key insert raced", nil)
			}
			return toGrantProperties(existing), nil
		}
		if err != nil {
			return GrantProperties{}, err
		}
		return toGrantProperties(&key), nil
	}

	updates := map[string]any{
		"status":     StatusGranted,
		"updated_at": now,
	}
	if p.Update {
		updates["limit_activations"] = activationLimit(props)
		updates["limit_usage"] = props.LimitUsage
		updates["expires_at"] = expiresAt(existing.CreatedAt, props.Expires)
	}
	if err := s.db.WithContext(ctx).Model(&LicenseKey{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return GrantProperties{}, err
	}
	return toGrantProperties(existing), nil
}

func (s *Strategy) Cycle(_ context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	return p.GrantProperties, nil
}

func (s *Strategy) Revoke(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	existing, err := s.findByGrant(ctx, p.GrantID)
	if err != nil {
		return GrantProperties{}, err
	}
	if existing == nil {
		return GrantProperties{}, nil
	}
	if err := s.db.WithContext(ctx).Model(&LicenseKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{"status": StatusRevoked, "updated_at": s.clock.Now()}).Error; err != nil {
		return GrantProperties{}, err
	}
	// keep the reference so a re-grant reactivates the same key
	return toGrantProperties(existing), nil
}

func (s *Strategy) RequiresUpdate(_ context.Context, current, previous Properties) (bool, error) {
	if !equalExpires(current.Expires, previous.Expires) {
		return true, nil
	}
	if !equalIntPtr(activationLimit(current), activationLimit(previous)) {
		return true, nil
	}
	return !equalIntPtr(current.LimitUsage, previous.LimitUsage), nil
}

func (s *Strategy) ValidateProperties(_ context.Context, props Properties) (Properties, error) {
	if props.Prefix != nil {
		prefix := normalizePrefix(*props.Prefix)
		if prefix == "" {
			props.Prefix = nil
		} else if len(prefix) > 16 {
			return Properties{}, benefitstrategy.NewValidationError("prefix", "must be at most 16 characters")
		} else {
			props.Prefix = &prefix
		}
	}
	if props.Expires != nil {
		if props.Expires.TTL <= 0 {
			return Properties{}, benefitstrategy.NewValidationError("expires.ttl", "must be positive")
		}
		switch props.Expires.Timeframe {
		case TimeframeDay, TimeframeMonth, TimeframeYear:
		default:
			return Properties{}, benefitstrategy.NewValidationError("expires.timeframe", "must be day, month or year")
		}
	}
	if props.Activations != nil && (props.Activations.Limit <= 0 || props.Activations.Limit > 50) {
		return Properties{}, benefitstrategy.NewValidationError("activations.limit", "must be between 1 and 50")
	}
	if props.LimitUsage != nil && *props.LimitUsage <= 0 {
		return Properties{}, benefitstrategy.NewValidationError("limit_usage", "must be positive")
	}
	return props, nil
}

func (s *Strategy) findByGrant(ctx context.Context, grantID snowflake.ID) (*LicenseKey, error) {
	var key LicenseKey
	err := s.db.WithContext(ctx).Where("grant_id = ?", grantID).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func toGrantProperties(key *LicenseKey) GrantProperties {
	return GrantProperties{
		LicenseKeyID: key.ID.String(),
		DisplayKey:   displayKey(key.Key),
	}
}

func normalizePrefix(prefix string) string {
	return strings.ToUpper(slug.Make(strings.TrimSpace(prefix)))
}

func generateKey(prefix *string) string {
	key := ulid.Make().String()
	if prefix == nil || *prefix == "" {
		return key
	}
	return *prefix + "-" + key
}

// displayKey masks all but the last six characters.
func displayKey(key string) string {
	if len(key) <= 6 {
		return key
	}
	return "****-" + key[len(key)-6:]
}

func activationLimit(props Properties) *int {
	if props.Activations == nil {
		return nil
	}
	limit := props.Activations.Limit
	return &limit
}

func expiresAt(from time.Time, expires *Expires) *time.Time {
	if expires == nil || expires.TTL <= 0 {
		return nil
	}
	var at time.Time
	switch expires.Timeframe {
	case TimeframeDay:
		at = from.AddDate(0, 0, expires.TTL)
	case TimeframeMonth:
		at = from.AddDate(0, expires.TTL, 0)
	case TimeframeYear:
		at = from.AddDate(expires.TTL, 0, 0)
	default:
		return nil
	}
	return &at
}

func equalExpires(a, b *Expires) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
