// Package imageops holds the in-process image transforms used by the local
// provider and the composite tool stages.
package imageops

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format is an output encoding.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	TIFF Format = "tiff"
	GIF  Format = "gif"
)

// DefaultJPEGQuality is used for intermediate and normalized JPEG output.
const DefaultJPEGQuality = 95

// ErrEmptyImage is returned for zero-byte input.
var ErrEmptyImage = errors.New("imageops: empty image data")

// MIME returns the content type for f.
func (f Format) MIME() string {
	switch f {
	case PNG:
		return "image/png"
	case TIFF:
		return "image/tiff"
	case GIF:
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// Ext returns the file extension for f without the dot.
func (f Format) Ext() string {
	switch f {
	case JPEG:
		return "jpg"
	case "":
		return "jpg"
	default:
		return string(f)
	}
}

// Decode reads any supported format and applies the EXIF orientation.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imageops: detect format: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("imageops: decode %s: %w", format, err)
	}
	return img, format, nil
}

// ImageInfo describes an upload without decoding its pixels.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// Probe reads only the header of data.
func Probe(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, ErrEmptyImage
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("imageops: detect format: %w", err)
	}
	return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Encode writes img as f. quality only applies to JPEG.
func Encode(img image.Image, f Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch f {
	case PNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	case TIFF:
		err = imaging.Encode(&buf, img, imaging.TIFF)
	case GIF:
		err = imaging.Encode(&buf, img, imaging.GIF)
	default:
		if quality <= 0 {
			quality = DefaultJPEGQuality
		}
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
	if err != nil {
		return nil, fmt.Errorf("imageops: encode %s: %w", f, err)
	}
	return buf.Bytes(), nil
}

// Normalize bakes the EXIF orientation into the pixels so remote models see
// the image upright. JPEG input stays JPEG; everything else becomes PNG.
func Normalize(data []byte) ([]byte, string, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, "", err
	}
	out := PNG
	if strings.EqualFold(format, "jpeg") {
		out = JPEG
	}
	encoded, err := Encode(img, out, DefaultJPEGQuality)
	if err != nil {
		return nil, "", err
	}
	return encoded, out.MIME(), nil
}

// HasAlpha reports whether any pixel is not fully opaque.
func HasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// FitInside shrinks img so neither side exceeds maxDim. Smaller images are
// returned unchanged.
func FitInside(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}
