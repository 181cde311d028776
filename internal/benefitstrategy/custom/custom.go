// Package custom is a benefit with no external effect: a note shown to the
// customer once granted.
package custom

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy"
)

const maxNoteLength = 5000

type Properties struct {
	Note *string `json:"note,omitempty"`
}

type GrantProperties struct{}

type Strategy struct{}

func New() *Strategy { return &Strategy{} }

func (s *Strategy) ShouldRevokeIndividually() bool { return false }

func (s *Strategy) Grant(context.Context, benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	return GrantProperties{}, nil
}

func (s *Strategy) Cycle(context.Context, benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	return GrantProperties{}, nil
}

func (s *Strategy) Revoke(context.Context, benefitstrategy.TypedParams[Properties, GrantProperties]) (GrantProperties, error) {
	return GrantProperties{}, nil
}

func (s *Strategy) RequiresUpdate(context.Context, Properties, Properties) (bool, error) {
	return false, nil
}

func (s *Strategy) ValidateProperties(_ context.Context, props Properties) (Properties, error) {
	if props.Note == nil {
		return props, nil
	}
	note := strings.TrimSpace(*props.Note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return Properties{}, benefitstrategy.NewValidationError("note", "must be at most 5000 characters")
	}
	if note == "" {
		return Properties{}, nil
	}
	return Properties{Note: &note}, nil
}
