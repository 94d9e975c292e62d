package imageops

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	defaultCompressQuality = 80
	minCompressQuality     = 10
	maxCompressQuality     = 100
	convertJPEGQuality     = 90
)

var firstNumber = regexp.MustCompile(`\d+`)

// CompressQuality reads the first number in prompt and clamps it to 10..100.
func CompressQuality(prompt string) int {
	m := firstNumber.FindString(prompt)
	if m == "" {
		return defaultCompressQuality
	}
	q, err := strconv.Atoi(m)
	if err != nil {
		return defaultCompressQuality
	}
	return min(max(q, minCompressQuality), maxCompressQuality)
}

// Compress re-encodes data. PNG input with transparency stays PNG; anything
// else becomes JPEG at the given quality.
func Compress(data []byte, quality int) ([]byte, Format, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, "", err
	}
	if format == "png" && HasAlpha(img) {
		out, err := Encode(img, PNG, 0)
		return out, PNG, err
	}
	out, err := Encode(img, JPEG, quality)
	return out, JPEG, err
}

// ConvertTarget maps a requested format name to the encoding produced.
// webp and avif have no pure-Go encoder and fall back to PNG; heic and pdf
// fall back to JPEG and PNG respectively.
func ConvertTarget(name string) Format {
	switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "."))) {
	case "png", "bmp", "pdf", "webp", "avif":
		return PNG
	case "tiff", "tif":
		return TIFF
	default:
		return JPEG
	}
}

// Convert re-encodes data into the target format.
func Convert(data []byte, target string) ([]byte, Format, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, "", err
	}
	f := ConvertTarget(target)
	out, err := Encode(img, f, convertJPEGQuality)
	return out, f, err
}
