// Package opencv implements imageprocessor.Preprocessor with OpenCV.
package opencv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/idcard-ocr/internal/imageprocessor"
)

// Params tunes the enhancement and binarization steps.
type Params struct {
	// MorphKernel is the side of the square kernel used for opening/closing.
	// It must stay small enough not to erase character strokes.
	MorphKernel int

	SharpenSigma  float64
	SharpenAmount float64 // weight of the source image
	SharpenBlur   float64 // weight of the blurred copy, negative

	CLAHEClipLimit float64
	CLAHETileGrid  int

	AdaptiveBlockSize int
	AdaptiveC         float32

	DenoiseStrength       float32
	DenoiseTemplateWindow int
	DenoiseSearchWindow   int
}

// DefaultParams returns the parameters tuned for ID card photos.
func DefaultParams() Params {
	return Params{
		MorphKernel:           3,
		SharpenSigma:          3,
		SharpenAmount:         1.5,
		SharpenBlur:           -0.5,
		CLAHEClipLimit:        2.0,
		CLAHETileGrid:         8,
		AdaptiveBlockSize:     11,
		AdaptiveC:             2,
		DenoiseStrength:       10,
		DenoiseTemplateWindow: 7,
		DenoiseSearchWindow:   21,
	}
}

// Preprocessor writes variants into a work directory.
type Preprocessor struct {
	workDir string
	params  Params
	logger  *zap.Logger
}

var _ imageprocessor.Preprocessor = (*Preprocessor)(nil)

// NewPreprocessor creates the work directory if needed.
func NewPreprocessor(workDir string, params Params, logger *zap.Logger) (*Preprocessor, error) {
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &Preprocessor{workDir: workDir, params: params, logger: logger.Named("preprocessor")}, nil
}

// Preprocess produces the adaptive-threshold and Otsu variants of src.
func (p *Preprocessor) Preprocess(ctx context.Context, scanID string, src image.Image) (*imageprocessor.VariantSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scanID == "" {
		return nil, errors.New("scan id is required")
	}

	gray, err := toGray(src)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	enhanced := p.enhance(gray)
	defer enhanced.Close()

	adaptive := gocv.NewMat()
	defer adaptive.Close()
	gocv.AdaptiveThreshold(enhanced, &adaptive, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary,
		p.params.AdaptiveBlockSize, p.params.AdaptiveC)

	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.FastNlMeansDenoisingWithParams(adaptive, &denoised, p.params.DenoiseStrength,
		p.params.DenoiseTemplateWindow, p.params.DenoiseSearchWindow)

	otsu := gocv.NewMat()
	defer otsu.Close()
	gocv.Threshold(enhanced, &otsu, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	set := imageprocessor.NewVariantSet()
	outputs := []struct {
		kind imageprocessor.VariantKind
		mat  gocv.Mat
	}{
		{imageprocessor.VariantAdaptive, denoised},
		{imageprocessor.VariantOtsu, otsu},
	}
	for _, out := range outputs {
		path := filepath.Join(p.workDir, fmt.Sprintf("%s_%s.png", scanID, out.kind))
		// Registered before writing so a partial file is still cleaned up.
		set.Variants = append(set.Variants, imageprocessor.Variant{Kind: out.kind, Path: path})
		if !gocv.IMWrite(path, out.mat) {
			if cleanupErr := set.Cleanup(); cleanupErr != nil {
				p.logger.Error("failed to remove partial variants", zap.Error(cleanupErr), zap.String("scan_id", scanID))
			}
			return nil, fmt.Errorf("write %s variant to %s", out.kind, path)
		}
	}

	p.logger.Debug("variants written", zap.String("scan_id", scanID), zap.Int("count", len(set.Variants)))
	return set, nil
}

// BottomStrip crops the bottom fraction of src and Otsu-thresholds it.
func (p *Preprocessor) BottomStrip(ctx context.Context, src image.Image, fraction float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("strip fraction %v out of range (0, 1]", fraction)
	}

	gray, err := toGray(src)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	top := int(float64(gray.Rows()) * (1 - fraction))
	if top >= gray.Rows() {
		top = gray.Rows() - 1
	}
	strip := gray.Region(image.Rect(0, top, gray.Cols(), gray.Rows()))
	defer strip.Close()

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(strip, &thresh, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, thresh)
	if err != nil {
		return nil, fmt.Errorf("encode strip: %w", err)
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

// enhance removes background texture, sharpens and equalises local contrast.
func (p *Preprocessor) enhance(gray gocv.Mat) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(p.params.MorphKernel, p.params.MorphKernel))
	defer kernel.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(gray, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(closed, &blurred, image.Pt(0, 0), p.params.SharpenSigma, p.params.SharpenSigma, gocv.BorderDefault)

	sharpened := gocv.NewMat()
	defer sharpened.Close()
	gocv.AddWeighted(closed, p.params.SharpenAmount, blurred, p.params.SharpenBlur, 0, &sharpened)

	clahe := gocv.NewCLAHEWithParams(p.params.CLAHEClipLimit, image.Pt(p.params.CLAHETileGrid, p.params.CLAHETileGrid))
	defer clahe.Close()

	enhanced := gocv.NewMat()
	clahe.Apply(sharpened, &enhanced)
	return enhanced
}

// toGray returns a zero Mat on error, so callers only close it on success.
func toGray(src image.Image) (gocv.Mat, error) {
	if src == nil {
		return gocv.Mat{}, &imageprocessor.DecodeError{Err: errors.New("nil image")}
	}
	bgr, err := gocv.ImageToMatRGB(src)
	if err != nil {
		return gocv.Mat{}, &imageprocessor.DecodeError{Err: err}
	}
	defer bgr.Close()
	if bgr.Empty() {
		return gocv.Mat{}, &imageprocessor.DecodeError{Err: errors.New("empty image")}
	}

	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return gray, nil
}
