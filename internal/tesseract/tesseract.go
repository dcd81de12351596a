// Package tesseract implements ocr.Engine on top of the Tesseract library.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"

	"github.com/example/idcard-ocr/internal/ocr"
)

const engineName = "tesseract"

// DefaultLanguages covers the Sinhala, English and Tamil text printed on the card.
var DefaultLanguages = []string{"sin", "eng", "tam"}

// Config selects the language data used by an Engine.
type Config struct {
	// TessdataPrefix is the directory holding *.traineddata files. Empty
	// means the library default.
	TessdataPrefix string
	Languages      []string
}

// Engine runs every request on a fresh gosseract client.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
	logger        *zap.Logger
}

// NewEngine constructs a Tesseract-backed OCR engine.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultLanguages
	}
	return &Engine{
		cfg:           cfg,
		clientFactory: gosseract.NewClient,
		logger:        logger.Named("tesseract"),
	}
}

// Recognize returns the text found in req. Any engine failure is reported as
// *ocr.UnavailableError.
func (e *Engine) Recognize(ctx context.Context, req ocr.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := e.clientFactory()
	defer c.Close()

	text, err := e.recognizeWithClient(c, req)
	if err != nil {
		e.logger.Error("recognition failed", zap.Error(err), zap.Stringer("psm", req.PageSegMode))
		return "", &ocr.UnavailableError{Engine: engineName, Err: err}
	}
	return text, nil
}

func (e *Engine) recognizeWithClient(c *gosseract.Client, req ocr.Request) (string, error) {
	if e.cfg.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.cfg.TessdataPrefix); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	langs := e.cfg.Languages
	if len(req.Languages) > 0 {
		langs = req.Languages
	}
	if err := c.SetLanguage(langs...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(req.PageSegMode)); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}

	switch {
	case req.ImagePath != "":
		if err := c.SetImage(req.ImagePath); err != nil {
			return "", fmt.Errorf("set image: %w", err)
		}
	case len(req.ImageData) > 0:
		if err := c.SetImageFromBytes(req.ImageData); err != nil {
			return "", fmt.Errorf("set image: %w", err)
		}
	default:
		return "", errors.New("request has no image")
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}

// Ping checks that the engine and its language data load by recognising a
// small blank image.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.Recognize(ctx, ocr.Request{ImageData: blankPNG(), PageSegMode: ocr.PSMSingleLine})
	return err
}

// Languages reports the configured language list in Tesseract's "a+b" form.
func (e *Engine) Languages() string {
	return strings.Join(e.cfg.Languages, "+")
}

func blankPNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 32, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(color.White.Y >> 8)
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
