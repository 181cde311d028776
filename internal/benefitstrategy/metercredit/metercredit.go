// Package metercredit credits units to a customer's meter on grant and on
// every renewal cycle.
package metercredit

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Properties struct {
	MeterID  string `json:"meter_id"`
	Units    int64  `json:"units"`
	Rollover bool   `json:"rollover"`
}

// GrantProperties tracks where the grant is in its credit history. Epoch
// advances on every revoke so a later re-grant credits again.
type GrantProperties struct {
	MeterID       string `json:"meter_id,omitempty"`
	Epoch         int    `json:"epoch"`
	Cycle         int    `json:"cycle"`
	CreditedUnits int64  `json:"credited_units"`
}

type Strategy struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func New(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) *Strategy {
	return &Strategy{db: db, genID: genID, clock: clk}
}

func (s *Strategy) ShouldRevokeIndividually() bool { return true }

func (s *Strategy) Grant(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	props := p.BenefitProperties
	state := p.GrantProperties
	meterID, err := snowflake.ParseString(props.MeterID)
	if err != nil {
		return GrantProperties{}, &benefitstrategy.ConfigurationError{BenefitType: p.Benefit.Type, Message: "meter_id is invalid"}
	}

	// an update after a meter change moves the remaining balance
	if p.Update && state.MeterID != "" && state.MeterID != props.MeterID {
		oldMeter, err := snowflake.ParseString(state.MeterID)
		if err == nil {
			if err := s.debitBalance(ctx, p, oldMeter, KindRevoke, s.key(KindRevoke, p.GrantID, state.Epoch, state.Cycle)); err != nil {
				return GrantProperties{}, err
			}
		}
		state.Epoch++
		state.Cycle = 0
	}

	key := s.key(KindGrant, p.GrantID, state.Epoch, 0)
	if err := s.insert(ctx, p, meterID, KindGrant, props.Units, key); err != nil {
		return GrantProperties{}, err
	}

	return GrantProperties{
		MeterID:       props.MeterID,
		Epoch:         state.Epoch,
		Cycle:         state.Cycle,
		CreditedUnits: props.Units,
	}, nil
}

func (s *Strategy) Cycle(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	props := p.BenefitProperties
	state := p.GrantProperties
	meterID, err := snowflake.ParseString(props.MeterID)
	if err != nil {
		return GrantProperties{}, &benefitstrategy.ConfigurationError{BenefitType: p.Benefit.Type, Message: "meter_id is invalid"}
	}

	next := state.Cycle + 1
	if !props.Rollover {
		if err := s.debitBalance(ctx, p, meterID, KindExpire, s.key(KindExpire, p.GrantID, state.Epoch, next)); err != nil {
			return GrantProperties{}, err
		}
	}
	if err := s.insert(ctx, p, meterID, KindCycle, props.Units, s.key(KindCycle, p.GrantID, state.Epoch, next)); err != nil {
		return GrantProperties{}, err
	}

	return GrantProperties{
		MeterID:       props.MeterID,
		Epoch:         state.Epoch,
		Cycle:         next,
		CreditedUnits: props.Units,
	}, nil
}

func (s *Strategy) Revoke(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	state := p.GrantProperties
	meterRaw := state.MeterID
	if meterRaw == "" {
		meterRaw = p.BenefitProperties.MeterID
	}
	meterID, err := snowflake.ParseString(meterRaw)
	if err != nil {
		return GrantProperties{Epoch: state.Epoch + 1}, nil
	}

	if err := s.debitBalance(ctx, p, meterID, KindRevoke, s.key(KindRevoke, p.GrantID, state.Epoch, state.Cycle)); err != nil {
		return GrantProperties{}, err
	}
	return GrantProperties{Epoch: state.Epoch + 1}, nil
}

func (s *Strategy) RequiresUpdate(_ context.Context, current, previous Properties) (bool, error) {
	// unit changes apply from the next cycle
	return current.MeterID != previous.MeterID, nil
}

func (s *Strategy) ValidateProperties(_ context.Context, props Properties) (Properties, error) {
	props.MeterID = strings.TrimSpace(props.MeterID)
	if id, err := snowflake.ParseString(props.MeterID); err != nil || id <= 0 {
		return Properties{}, benefitstrategy.NewValidationError("meter_id", "must be a valid meter id")
	}
	if props.Units <= 0 {
		return Properties{}, benefitstrategy.NewValidationError("units", "must be positive")
	}
	return props, nil
}

// Balance is what this grant has contributed to the meter and not yet
// debited.
func (s *Strategy) Balance(ctx context.Context, grantID, meterID snowflake.ID) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&Credit{}).
		Where("grant_id = ? AND meter_id = ?", grantID, meterID).
		Select("COALESCE(SUM(units), 0)").
		Scan(&total).Error
	return total, err
}

func (s *Strategy) debitBalance(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties], meterID snowflake.ID, kind Kind, key string) error {
	balance, err := s.Balance(ctx, p.GrantID, meterID)
	if err != nil {
		return err
	}
	if balance <= 0 {
		return nil
	}
	return s.insert(ctx, p, meterID, kind, -balance, key)
}

// insert writes one ledger entry. A replay with the same key is a no-op.
func (s *Strategy) insert(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties], meterID snowflake.ID, kind Kind, units int64, key string) error {
	credit := Credit{
		ID:             s.genID.Generate(),
		OrgID:          p.Customer.OrgID,
		CustomerID:     p.Customer.ID,
		MeterID:        meterID,
		BenefitID:      p.Benefit.ID,
		GrantID:        p.GrantID,
		Kind:           kind,
		Units:          units,
		IdempotencyKey: key,
		CreatedAt:      s.clock.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(&credit).Error
}

func (s *Strategy) key(kind Kind, grantID snowflake.ID, epoch, cycle int) string {
	return fmt.Sprintf("%s:%s:%d:%d", kind, grantID, epoch, cycle)
}
