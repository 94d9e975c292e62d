package imageops

import (
	"image"
	"image/color"
	"sort"

	"github.com/disintegration/imaging"
)

// HDR boosts saturation and contrast and sharpens.
func HDR(img image.Image) *image.NRGBA {
	out := imaging.AdjustSaturation(img, 30)
	out = scale(out, 1.05, 0)
	out = scale(out, 1.2, -20)
	return imaging.Sharpen(out, 1.5)
}

// AutoLight stretches the luminance range, then lifts brightness,
// saturation and gamma slightly.
func AutoLight(img image.Image) *image.NRGBA {
	out := Normalize01(img)
	out = scale(out, 1.05, 0)
	out = imaging.AdjustSaturation(out, 10)
	return imaging.AdjustGamma(out, 1.1)
}

// Normalize01 maps the 1st..99th luminance percentile onto the full range.
func Normalize01(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	lo, hi := luminanceBounds(src, 0.01, 0.99)
	if hi <= lo {
		return src
	}
	gain := 255 / float64(hi-lo)
	return scale(src, gain, -float64(lo)*gain)
}

// scale applies v*mul+add to each color channel.
func scale(img image.Image, mul, add float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clamp8(float64(c.R)*mul + add),
			G: clamp8(float64(c.G)*mul + add),
			B: clamp8(float64(c.B)*mul + add),
			A: c.A,
		}
	})
}

func luminanceBounds(img *image.NRGBA, lowPct, highPct float64) (uint8, uint8) {
	var hist [256]int
	total := 0
	for i := 0; i+3 < len(img.Pix); i += 4 {
		if img.Pix[i+3] == 0 {
			continue
		}
		y := (299*int(img.Pix[i]) + 587*int(img.Pix[i+1]) + 114*int(img.Pix[i+2])) / 1000
		hist[y]++
		total++
	}
	if total == 0 {
		return 0, 255
	}
	cum := make([]int, 256)
	run := 0
	for i, n := range hist {
		run += n
		cum[i] = run
	}
	lowTarget := int(float64(total) * lowPct)
	highTarget := int(float64(total) * highPct)
	lo := sort.SearchInts(cum, lowTarget+1)
	hi := sort.SearchInts(cum, highTarget)
	if lo > 255 {
		lo = 255
	}
	if hi > 255 {
		hi = 255
	}
	return uint8(lo), uint8(hi)
}

func clamp8(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
