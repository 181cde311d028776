// Package downloadables gives the customer access to a set of files.
// Access is tracked per (customer, benefit, file) and shared across scopes.
package downloadables

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxFiles = 50

type Properties struct {
	Files []string `json:"files"`
}

type GrantProperties struct {
	Files []string `json:"files,omitempty"`
}

type Strategy struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func New(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) *Strategy {
	return &Strategy{db: db, genID: genID, clock: clk}
}

func (s *Strategy) ShouldRevokeIndividually() bool { return false }

func (s *Strategy) Grant(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	now := s.clock.Now()
	files := normalize(p.BenefitProperties.Files)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fileID := range files {
			row := Downloadable{
				ID:         s.genID.Generate(),
				OrgID:      p.Customer.OrgID,
				CustomerID: p.Customer.ID,
				BenefitID:  p.Benefit.ID,
				FileID:     fileID,
				Status:     StatusGranted,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "customer_id"}, {Name: "benefit_id"}, {Name: "file_id"}},
				DoUpdates: clause.Assignments(map[string]any{
					"status":     StatusGranted,
					"updated_at": now,
				}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}

		// files dropped from the benefit lose access
		stale := tx.Model(&Downloadable{}).
			Where("customer_id = ? AND benefit_id = ? AND status = ?", p.Customer.ID, p.Benefit.ID, StatusGranted)
		if len(files) > 0 {
			stale = stale.Where("file_id NOT IN ?", files)
		}
		return stale.Updates(map[string]any{"status": StatusRevoked, "updated_at": now}).Error
	})
	if err != nil {
		return GrantProperties{}, err
	}
	return GrantProperties{Files: files}, nil
}

func (s *Strategy) Cycle(_ context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	return p.GrantProperties, nil
}

func (s *Strategy) Revoke(ctx context.Context, p benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	err := s.db.WithContext(ctx).Model(&Downloadable{}).
		Where("customer_id = ? AND benefit_id = ? AND status = ?", p.Customer.ID, p.Benefit.ID, StatusGranted).
		Updates(map[string]any{"status": StatusRevoked, "updated_at": s.clock.Now()}).Error
	if err != nil {
		return GrantProperties{}, err
	}
	return GrantProperties{}, nil
}

func (s *Strategy) RequiresUpdate(_ context.Context, current, previous Properties) (bool, error) {
	a, b := normalize(current.Files), normalize(previous.Files)
	if len(a) != len(b) {
		return true, nil
	}
	for i := range a {
		if a[i] != b[i] {
			return true, nil
		}
	}
	return false, nil
}

func (s *Strategy) ValidateProperties(_ context.Context, props Properties) (Properties, error) {
	files := normalize(props.Files)
	if len(files) == 0 {
		return Properties{}, benefitstrategy.NewValidationError("files", "at least one file is required")
	}
	if len(files) > maxFiles {
		return Properties{}, benefitstrategy.NewValidationError("files", "too many files")
	}
	return Properties{Files: files}, nil
}

// normalize trims, dedupes and sorts file ids.
func normalize(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
