// Package imageprocessor holds the contracts shared by the scan pipeline and
// its image preprocessing backends, plus decoding of uploaded card photos.
package imageprocessor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
)

// VariantKind identifies the binarization path that produced a variant.
type VariantKind string

const (
	// VariantAdaptive is the adaptive-threshold + denoise path.
	VariantAdaptive VariantKind = "adaptive"
	// VariantOtsu is the global Otsu threshold path.
	VariantOtsu VariantKind = "otsu"
)

// Variant is one OCR-ready binary image written for a single scan.
type Variant struct {
	Kind VariantKind
	Path string
}

// VariantSet owns the artifacts produced for one scan. Cleanup must be called
// on every exit path of the scan that created it.
type VariantSet struct {
	Variants []Variant
	removed  bool
}

// NewVariantSet wraps already written variants.
func NewVariantSet(variants ...Variant) *VariantSet {
	return &VariantSet{Variants: variants}
}

// Cleanup removes every artifact in the set. Files that are already gone are
// not an error, and calling Cleanup more than once is a no-op.
func (s *VariantSet) Cleanup() error {
	if s == nil || s.removed {
		return nil
	}
	s.removed = true
	var errs []error
	for _, v := range s.Variants {
		if v.Path == "" {
			continue
		}
		if err := os.Remove(v.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s variant: %w", v.Kind, err))
		}
	}
	return errors.Join(errs...)
}

// Preprocessor turns a decoded card photo into OCR-ready binary images.
type Preprocessor interface {
	// Preprocess writes the adaptive and Otsu variants, in that order, into
	// files whose names derive from scanID.
	Preprocess(ctx context.Context, scanID string, src image.Image) (*VariantSet, error)
	// BottomStrip returns a PNG of the bottom fraction of src, grayscaled and
	// Otsu-thresholded. Nothing is written to disk.
	BottomStrip(ctx context.Context, src image.Image, fraction float64) ([]byte, error)
}

// DecodeError reports a source image that could not be read.
type DecodeError struct {
	Format string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("decode %s image: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

// Unwrap returns the underlying decoder error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
