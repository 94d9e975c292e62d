package imageops

import (
	"image"

	"github.com/disintegration/imaging"
)

// Cover resizes and center-crops img to exactly w x h.
func Cover(img image.Image, w, h int) *image.NRGBA {
	return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
}

// Blur applies a gaussian blur with the given sigma.
func Blur(img image.Image, sigma float64) *image.NRGBA {
	return imaging.Blur(img, sigma)
}

// ReplaceBackground places the cut-out subject over background, which is
// cover-resized to the subject's size first. The result has the subject's
// exact dimensions.
func ReplaceBackground(subject, background image.Image) *image.NRGBA {
	b := subject.Bounds()
	bg := Cover(background, b.Dx(), b.Dy())
	return imaging.Overlay(bg, subject, image.Pt(0, 0), 1.0)
}
