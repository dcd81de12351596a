// Package ocr defines the text-recognition contract used by the scan pipeline.
package ocr

import (
	"context"
	"fmt"
)

// PageSegMode selects how the engine segments the page into text regions.
// Values follow Tesseract's page segmentation modes.
type PageSegMode int

const (
	// PSMSingleColumn assumes a single column of text of variable sizes.
	PSMSingleColumn PageSegMode = 4
	// PSMSingleBlock assumes a single uniform block of text.
	PSMSingleBlock PageSegMode = 6
	// PSMSingleLine treats the image as a single text line.
	PSMSingleLine PageSegMode = 7
)

func (m PageSegMode) String() string {
	switch m {
	case PSMSingleColumn:
		return "single_column"
	case PSMSingleBlock:
		return "single_block"
	case PSMSingleLine:
		return "single_line"
	default:
		return fmt.Sprintf("psm_%d", int(m))
	}
}

// Request describes one recognition pass. Exactly one of ImagePath or
// ImageData is set.
type Request struct {
	ImagePath   string
	ImageData   []byte
	PageSegMode PageSegMode
	// Languages overrides the engine's configured languages when set.
	Languages []string
}

// Engine recognises text in a single image. Implementations must be safe for
// concurrent use; the pipeline may recognise several variants at once.
type Engine interface {
	Recognize(ctx context.Context, req Request) (string, error)
}

// UnavailableError reports that the recognition engine is missing,
// misconfigured, or failed while recognising.
type UnavailableError struct {
	Engine string
	Err    error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ocr engine %s unavailable: %v", e.Engine, e.Err)
}

// Unwrap returns the underlying engine error.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}
