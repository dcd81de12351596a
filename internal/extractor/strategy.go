package extractor

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"
)

// StripReader gives the positional heuristic access to the source image: it
// crops the bottom fraction of the card and returns the recognised text.
type StripReader interface {
	ReadBottomStrip(ctx context.Context, fraction float64) (string, error)
}

// Input is what every strategy sees. Strip may be nil, in which case
// positional strategies never match.
type Input struct {
	Corpus string
	Strip  StripReader
}

// Strategy is one attempt at finding a field value. A miss is reported with
// ok == false; err is reserved for failures that must abort the scan.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, in Input) (value string, ok bool, err error)
}

// CleanFunc normalises a captured value.
type CleanFunc func(string) string

// TrimSpace strips surrounding whitespace only.
func TrimSpace(s string) string { return strings.TrimSpace(s) }

// CollapseSpace trims and folds every whitespace run, newlines included,
// into a single space.
func CollapseSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

// LabelPattern anchors on a printed label and returns capture group 1.
type LabelPattern struct {
	Label   string
	Pattern *regexp.Regexp
	Clean   CleanFunc
}

func (s LabelPattern) Name() string { return "label:" + s.Label }

func (s LabelPattern) Attempt(_ context.Context, in Input) (string, bool, error) {
	m := s.Pattern.FindStringSubmatch(in.Corpus)
	if len(m) < 2 {
		return "", false, nil
	}
	return clean(s.Clean, m[1])
}

// StructuralPattern matches the shape of a value without a label. The whole
// match is returned unless the pattern has a capture group.
type StructuralPattern struct {
	Label   string
	Pattern *regexp.Regexp
	Clean   CleanFunc
}

func (s StructuralPattern) Name() string { return "structure:" + s.Label }

func (s StructuralPattern) Attempt(_ context.Context, in Input) (string, bool, error) {
	m := s.Pattern.FindStringSubmatch(in.Corpus)
	if m == nil {
		return "", false, nil
	}
	if len(m) > 1 {
		return clean(s.Clean, m[1])
	}
	return clean(s.Clean, m[0])
}

var fourDigitRun = regexp.MustCompile(`\d{4}`)

// LineHeuristic returns the first of the leading Window lines that is at
// least MinLength characters long and carries no 4-digit run (which would
// mark a date or number line).
type LineHeuristic struct {
	Window    int
	MinLength int
}

func (s LineHeuristic) Name() string { return "heuristic:leading_line" }

func (s LineHeuristic) Attempt(_ context.Context, in Input) (string, bool, error) {
	lines := strings.Split(in.Corpus, "\n")
	if len(lines) > s.Window {
		lines = lines[:s.Window]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) < s.MinLength || fourDigitRun.MatchString(line) {
			continue
		}
		return line, true, nil
	}
	return "", false, nil
}

// PositionalHeuristic reads the bottom Fraction of the card separately and
// matches Pattern against that text only.
type PositionalHeuristic struct {
	Fraction float64
	Pattern  *regexp.Regexp
	Clean    CleanFunc
}

func (s PositionalHeuristic) Name() string { return "position:bottom_strip" }

func (s PositionalHeuristic) Attempt(ctx context.Context, in Input) (string, bool, error) {
	if in.Strip == nil {
		return "", false, nil
	}
	text, err := in.Strip.ReadBottomStrip(ctx, s.Fraction)
	if err != nil {
		return "", false, err
	}
	m := s.Pattern.FindString(text)
	if m == "" {
		return "", false, nil
	}
	return clean(s.Clean, m)
}

func clean(fn CleanFunc, raw string) (string, bool, error) {
	if fn == nil {
		fn = TrimSpace
	}
	v := fn(raw)
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}
