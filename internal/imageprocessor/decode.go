package imageprocessor

import (
	"bytes"
	"errors"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

var supportedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/bmp",
	"image/tiff",
	"image/webp",
	"image/heic",
	"image/heif",
}

// DetectType sniffs the MIME type of raw image bytes.
func DetectType(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupported reports whether data looks like a raster format the pipeline can decode.
func IsSupported(data []byte) bool {
	mtype := mimetype.Detect(data)
	for _, t := range supportedTypes {
		if mtype.Is(t) {
			return true
		}
	}
	return false
}

// Decode reads a card photo. JPEG EXIF orientation is applied so phone
// photos come out upright; HEIC/HEIF goes through a dedicated decoder.
// Every failure is a *DecodeError.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty image")}
	}

	mtype := mimetype.Detect(data)
	if mtype.Is("image/heic") || mtype.Is("image/heif") {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, &DecodeError{Format: "heic", Err: err}
		}
		return img, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Format: mtype.Extension(), Err: err}
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, &DecodeError{Format: mtype.Extension(), Err: errors.New("image has no pixels")}
	}
	return img, nil
}
