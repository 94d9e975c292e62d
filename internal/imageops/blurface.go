package imageops

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Region is a rectangle reported by a face detector.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

const (
	faceRegionPadding = 0.15
	faceEllipseRadius = 0.82
	minFaceRegion     = 10
)

// FaceBlurSigma converts an intensity in 0..1 to a blur sigma.
func FaceBlurSigma(intensity float64) float64 {
	return math.Round(10 + 50*intensity)
}

// BlurFaces blurs each region through a feathered elliptical mask. Regions
// are padded, clamped to the image and skipped when smaller than 10px.
func BlurFaces(img image.Image, regions []Region, intensity float64) *image.NRGBA {
	out := imaging.Clone(img)
	bounds := out.Bounds()
	blurred := imaging.Blur(out, FaceBlurSigma(intensity))

	for _, r := range regions {
		rect, ok := paddedRegion(r, bounds)
		if !ok {
			continue
		}
		mask := ellipseMask(rect.Dx(), rect.Dy())
		draw.DrawMask(out, rect, blurred, rect.Min, mask, image.Point{}, draw.Over)
	}
	return out
}

func paddedRegion(r Region, bounds image.Rectangle) (image.Rectangle, bool) {
	padX := int(math.Round(float64(r.Width) * faceRegionPadding))
	padY := int(math.Round(float64(r.Height) * faceRegionPadding))
	x := max(bounds.Min.X, r.X-padX)
	y := max(bounds.Min.Y, r.Y-padY)
	w := min(bounds.Max.X-x, r.Width+2*padX)
	h := min(bounds.Max.Y-y, r.Height+2*padY)
	if w < minFaceRegion || h < minFaceRegion {
		return image.Rectangle{}, false
	}
	return image.Rect(x, y, x+w, y+h), true
}

// ellipseMask draws a white ellipse at 0.82 of the half-size and softens it
// with a blur of max(3, min(w,h)/12).
func ellipseMask(w, h int) *image.NRGBA {
	mask := image.NewNRGBA(image.Rect(0, 0, w, h))
	cx, cy := float64(w)/2, float64(h)/2
	rx, ry := cx*faceEllipseRadius, cy*faceEllipseRadius
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := (float64(x) + 0.5 - cx) / rx
			dy := (float64(y) + 0.5 - cy) / ry
			if dx*dx+dy*dy <= 1 {
				mask.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	feather := math.Max(3, float64(min(w, h))/12)
	return imaging.Blur(mask, feather)
}
