package benefitstrategy

import (
	"fmt"
	"sort"
	"strings"

	benefitdomain "github.com/smallbiznis/railzway-benefits/internal/benefit/domain"
)

// Registry maps every benefit type to its strategy. It is built once at
// startup and passed to consumers explicitly.
type Registry struct {
	strategies map[benefitdomain.BenefitType]Strategy
}

// NewRegistry fails unless strategies covers exactly AllBenefitTypes.
func NewRegistry(strategies map[benefitdomain.BenefitType]Strategy) (*Registry, error) {
	var missing []string
	for _, t := range benefitdomain.AllBenefitTypes() {
		if strategies[t] == nil {
			missing = append(missing, string(t))
		}
	}
	var unknown []string
	for t := range strategies {
		if !t.Valid() {
			unknown = append(unknown, string(t))
		}
	}
	if len(missing) > 0 || len(unknown) > 0 {
		sort.Strings(missing)
		sort.Strings(unknown)
		return nil, fmt.Errorf("benefit strategy registry incomplete: missing=[%s] unknown=[%s]",
			strings.Join(missing, ","), strings.Join(unknown, ","))
	}

	copied := make(map[benefitdomain.BenefitType]Strategy, len(strategies))
	for t, s := range strategies {
		copied[t] = s
	}
	return &Registry{strategies: copied}, nil
}

func (r *Registry) Get(t benefitdomain.BenefitType) (Strategy, error) {
	if r != nil {
		if s, ok := r.strategies[t]; ok {
			return s, nil
		}
	}
	return nil, &ConfigurationError{BenefitType: t, Message: "no strategy registered"}
}
