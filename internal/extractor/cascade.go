package extractor

import (
	"context"
	"fmt"
)

// Field names a card field; the value doubles as its JSON key.
type Field string

const (
	FieldFullName    Field = "full_name"
	FieldIDNumber    Field = "id_number"
	FieldDateOfBirth Field = "date_of_birth"
	FieldAddress     Field = "address"
)

// Sentinels returned when a field cannot be recognised.
const (
	FullNameNotFound    = "නම හඳුනාගත නොහැක"
	IDNumberNotFound    = "හැඳුනුම්පත් අංකය හඳුනාගත නොහැක"
	DateOfBirthNotFound = "උපන් දිනය හඳුනාගත නොහැක"
	AddressNotFound     = "ලිපිනය හඳුනාගත නොහැක"
)

// Cascade tries its strategies in order and stops at the first match.
type Cascade struct {
	Field      Field
	Sentinel   string
	Strategies []Strategy
}

// Outcome records how a field was resolved.
type Outcome struct {
	Field    Field
	Value    string
	Strategy string // empty when the sentinel was used
}

// Recognized reports whether a strategy matched.
func (o Outcome) Recognized() bool { return o.Strategy != "" }

// Run never fails for a miss; it only returns an error a strategy raised.
func (c Cascade) Run(ctx context.Context, in Input) (Outcome, error) {
	for _, s := range c.Strategies {
		value, ok, err := s.Attempt(ctx, in)
		if err != nil {
			return Outcome{}, fmt.Errorf("%s %s: %w", c.Field, s.Name(), err)
		}
		if ok {
			return Outcome{Field: c.Field, Value: value, Strategy: s.Name()}, nil
		}
	}
	return Outcome{Field: c.Field, Value: c.Sentinel}, nil
}
