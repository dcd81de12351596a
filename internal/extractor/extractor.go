// Package extractor turns the OCR text of an ID card into normalised fields.
//
// Every field is resolved by a Cascade: explicit labels first, then value
// shapes, then layout heuristics. A field nothing matches gets its sentinel;
// that is an ordinary outcome, not an error.
package extractor

import (
	"context"
	"regexp"
)

const sinhala = `[\x{0D80}-\x{0DFF}]`

// id number shapes: old (9 digits + check letter), new (12 digits), letter-prefixed.
const idShapes = `\d{9}[VvXx]|\d{12}|[A-Z]\s*\d{7}`

// Options holds the layout-specific thresholds.
type Options struct {
	// StripFraction is the share of the card height, measured from the
	// bottom, read by the ID number positional fallback.
	StripFraction float64
	// NameLineWindow is how many leading lines the name line heuristic scans.
	NameLineWindow int
	// NameMinLength is the minimum rune length of a candidate name line.
	NameMinLength int
}

// DefaultOptions matches the current card layout.
func DefaultOptions() Options {
	return Options{
		StripFraction:  0.2,
		NameLineWindow: 5,
		NameMinLength:  6,
	}
}

// FieldSet always carries a value or the field's sentinel for every field.
type FieldSet struct {
	FullName    string `json:"full_name"`
	IDNumber    string `json:"id_number"`
	DateOfBirth string `json:"date_of_birth"`
	Address     string `json:"address"`
}

// Extraction is the result of one Extract call.
type Extraction struct {
	Fields   FieldSet
	Outcomes []Outcome
}

// Recognized reports whether field was matched by a strategy.
func (e *Extraction) Recognized(field Field) bool {
	for _, o := range e.Outcomes {
		if o.Field == field {
			return o.Recognized()
		}
	}
	return false
}

// Extractor holds one cascade per field.
type Extractor struct {
	cascades []Cascade
}

// New builds the cascades. Zero values in opts fall back to DefaultOptions.
func New(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.StripFraction <= 0 || opts.StripFraction > 1 {
		opts.StripFraction = def.StripFraction
	}
	if opts.NameLineWindow <= 0 {
		opts.NameLineWindow = def.NameLineWindow
	}
	if opts.NameMinLength <= 0 {
		opts.NameMinLength = def.NameMinLength
	}
	return &Extractor{cascades: []Cascade{
		FullNameCascade(opts),
		IDNumberCascade(opts),
		DateOfBirthCascade(),
		AddressCascade(),
	}}
}

// Extract resolves every field independently. The only errors are those a
// strategy raised, such as the OCR engine failing during the positional
// fallback.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Extraction, error) {
	out := &Extraction{Outcomes: make([]Outcome, 0, len(e.cascades))}
	for _, c := range e.cascades {
		outcome, err := c.Run(ctx, in)
		if err != nil {
			return nil, err
		}
		out.Outcomes = append(out.Outcomes, outcome)
		switch c.Field {
		case FieldFullName:
			out.Fields.FullName = outcome.Value
		case FieldIDNumber:
			out.Fields.IDNumber = outcome.Value
		case FieldDateOfBirth:
			out.Fields.DateOfBirth = outcome.Value
		case FieldAddress:
			out.Fields.Address = outcome.Value
		}
	}
	return out, nil
}

// IDNumberCascade: labelled forms, bare forms, then the bottom strip.
func IDNumberCascade(opts Options) Cascade {
	return Cascade{
		Field:    FieldIDNumber,
		Sentinel: IDNumberNotFound,
		Strategies: []Strategy{
			LabelPattern{Label: "ID", Pattern: regexp.MustCompile(`ID:?\s*(` + idShapes + `)`), Clean: CollapseSpace},
			LabelPattern{Label: "අංකය", Pattern: regexp.MustCompile(`අංකය:?\s*(` + idShapes + `)`), Clean: CollapseSpace},
			StructuralPattern{Label: "old_format", Pattern: regexp.MustCompile(`\d{9}[VvXx]`), Clean: CollapseSpace},
			StructuralPattern{Label: "new_format", Pattern: regexp.MustCompile(`\d{12}`), Clean: CollapseSpace},
			StructuralPattern{Label: "letter_prefix", Pattern: regexp.MustCompile(`[A-Z]\s*\d{7}`), Clean: CollapseSpace},
			PositionalHeuristic{
				Fraction: opts.StripFraction,
				Pattern:  regexp.MustCompile(`[A-Z]\s*\d{7}|\d{9}[VvXx]|\d{12}`),
				Clean:    CollapseSpace,
			},
		},
	}
}

// FullNameCascade: name labels (most specific first), two adjacent Sinhala
// words, then a leading line that looks like a name.
func FullNameCascade(opts Options) Cascade {
	labels := []string{"Name", "සම්පූර්ණ නම", "වෙනත් නම්", "මුල් නම", "නම"}
	strategies := make([]Strategy, 0, len(labels)+2)
	for _, l := range labels {
		strategies = append(strategies, LabelPattern{
			Label:   l,
			Pattern: regexp.MustCompile(regexp.QuoteMeta(l) + `[:\s]*([^\n]+)`),
			Clean:   TrimSpace,
		})
	}
	strategies = append(strategies,
		StructuralPattern{Label: "sinhala_words", Pattern: regexp.MustCompile(sinhala + `{3,}\s+` + sinhala + `{3,}`)},
		LineHeuristic{Window: opts.NameLineWindow, MinLength: opts.NameMinLength},
	)
	return Cascade{Field: FieldFullName, Sentinel: FullNameNotFound, Strategies: strategies}
}

// DateOfBirthCascade: labelled dates before bare dates so that unrelated
// numbers elsewhere on the card lose to the printed birth date.
func DateOfBirthCascade() Cascade {
	const (
		sep     = `[/\-.]`
		ymd     = `[0-9]{4}` + sep + `[0-9]{2}` + sep + `[0-9]{2}`
		dmy     = `[0-9]{2}` + sep + `[0-9]{2}` + sep + `[0-9]{4}`
		generic = `[0-9]{2,4}` + sep + `[0-9]{2}` + sep + `[0-9]{2,4}`
		label   = `උපන්\s*දිනය[:\s]*`
	)
	return Cascade{
		Field:    FieldDateOfBirth,
		Sentinel: DateOfBirthNotFound,
		Strategies: []Strategy{
			LabelPattern{Label: "උපන් දිනය/ymd", Pattern: regexp.MustCompile(label + `(` + ymd + `)`)},
			LabelPattern{Label: "උපන් දිනය/dmy", Pattern: regexp.MustCompile(label + `(` + dmy + `)`)},
			LabelPattern{Label: "Date of Birth", Pattern: regexp.MustCompile(`Date\s+of\s+Birth[:\s]*(` + generic + `)`)},
			LabelPattern{Label: "DOB", Pattern: regexp.MustCompile(`DOB[:\s]*(` + generic + `)`)},
			StructuralPattern{Label: "ymd", Pattern: regexp.MustCompile(ymd)},
			StructuralPattern{Label: "dmy", Pattern: regexp.MustCompile(dmy)},
		},
	}
}

// AddressCascade: labelled multi-line blocks, then lot/unit numbered shapes.
func AddressCascade() Cascade {
	const block = `[:\s]*([^\n]+(?:\n[^\n]+)*)`
	return Cascade{
		Field:    FieldAddress,
		Sentinel: AddressNotFound,
		Strategies: []Strategy{
			LabelPattern{Label: "ලිපිනය", Pattern: regexp.MustCompile(`ලිපිනය` + block), Clean: CollapseSpace},
			LabelPattern{Label: "Address", Pattern: regexp.MustCompile(`Address` + block), Clean: CollapseSpace},
			StructuralPattern{
				Label:   "lot_sinhala",
				Pattern: regexp.MustCompile(`\d+/\d+[\-\d]*,\s*[\x{0D80}-\x{0DFF}\s,.\-]+`),
				Clean:   CollapseSpace,
			},
			StructuralPattern{
				Label:   "lot_loose",
				Pattern: regexp.MustCompile(`\d+/\d+[A-Za-z0-9\-]*,?\s*[^\n,.]{3,}`),
				Clean:   CollapseSpace,
			},
		},
	}
}
