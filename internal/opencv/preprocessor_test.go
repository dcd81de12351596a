package opencv

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/example/idcard-ocr/internal/imageprocessor"
)

func syntheticCard() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 320, 200))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 230, G: 220, B: 200, A: 255}}, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13}
	for i, line := range []string{"Name: John Silva", "DOB 1994/05/12", "941234567V"} {
		d.Dot = fixed.P(20, 40+i*60)
		d.DrawString(line)
	}
	return img
}

func newTestPreprocessor(t *testing.T) (*Preprocessor, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := NewPreprocessor(dir, DefaultParams(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewPreprocessor() error = %v", err)
	}
	return p, dir
}

func TestPreprocessWritesTwoBinaryVariants(t *testing.T) {
	p, dir := newTestPreprocessor(t)

	set, err := p.Preprocess(context.Background(), "scan-1", syntheticCard())
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	t.Cleanup(func() { _ = set.Cleanup() })

	if len(set.Variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(set.Variants))
	}
	if set.Variants[0].Kind != imageprocessor.VariantAdaptive || set.Variants[1].Kind != imageprocessor.VariantOtsu {
		t.Fatalf("unexpected variant order: %+v", set.Variants)
	}
	for _, v := range set.Variants {
		if filepath.Dir(v.Path) != dir || !strings.HasPrefix(filepath.Base(v.Path), "scan-1_") {
			t.Fatalf("variant path %s not derived from scan id", v.Path)
		}
		f, err := os.Open(v.Path)
		if err != nil {
			t.Fatalf("open variant: %v", err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("decode variant: %v", err)
		}
		if v.Kind == imageprocessor.VariantOtsu {
			assertBinary(t, img)
		}
	}

	if err := set.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected work dir to be empty after cleanup, found %d entries", len(entries))
	}
}

func TestBottomStripCropsBottomFifth(t *testing.T) {
	p, dir := newTestPreprocessor(t)

	data, err := p.BottomStrip(context.Background(), syntheticCard(), 0.2)
	if err != nil {
		t.Fatalf("BottomStrip() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode strip: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 40 {
		t.Fatalf("unexpected strip bounds %v", b)
	}
	assertBinary(t, img)

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("strip must not touch the work dir, found %d entries", len(entries))
	}
}

func TestBottomStripRejectsBadFraction(t *testing.T) {
	p, _ := newTestPreprocessor(t)
	for _, fraction := range []float64{0, -0.1, 1.5} {
		if _, err := p.BottomStrip(context.Background(), syntheticCard(), fraction); err == nil {
			t.Fatalf("expected error for fraction %v", fraction)
		}
	}
}

func assertBinary(t *testing.T, img image.Image) {
	t.Helper()
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			if g != 0 && g != 255 {
				t.Fatalf("pixel (%d,%d) = %d is not binary", x, y, g)
			}
		}
	}
}

func TestNilImageIsDecodeError(t *testing.T) {
	p, dir := newTestPreprocessor(t)

	_, err := p.Preprocess(context.Background(), "scan-nil", nil)
	var decodeErr *imageprocessor.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError from Preprocess, got %T (%v)", err, err)
	}
	if _, err := p.BottomStrip(context.Background(), nil, 0.2); !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError from BottomStrip, got %T (%v)", err, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read work dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files after a failed conversion, got %d", len(entries))
	}
}
