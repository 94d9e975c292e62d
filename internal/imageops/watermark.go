package imageops

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Position is a named anchor for watermark text.
type Position string

const (
	TopLeft      Position = "top-left"
	TopCenter    Position = "top-center"
	TopRight     Position = "top-right"
	CenterLeft   Position = "center-left"
	Center       Position = "center"
	CenterRight  Position = "center-right"
	BottomLeft   Position = "bottom-left"
	BottomCenter Position = "bottom-center"
	BottomRight  Position = "bottom-right"
)

// Watermark describes text drawn over an image.
type Watermark struct {
	Text      string
	Positions []Position
	Opacity   float64
	Size      float64
}

var (
	boldOnce sync.Once
	boldFont *opentype.Font
	boldErr  error
)

func loadBold() (*opentype.Font, error) {
	boldOnce.Do(func() {
		boldFont, boldErr = opentype.Parse(gobold.TTF)
	})
	return boldFont, boldErr
}

type anchor int

const (
	anchorStart anchor = iota
	anchorMiddle
	anchorEnd
)

// ApplyWatermark draws wm at each known position. Unknown positions are
// ignored. The main size is max(min(w,h)/12, 28) scaled by wm.Size; top and
// bottom rows use 0.6 of it.
func ApplyWatermark(img image.Image, wm Watermark) (*image.NRGBA, error) {
	out := imaging.Clone(img)
	text := strings.TrimSpace(wm.Text)
	if text == "" {
		return out, nil
	}
	b := out.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	size := wm.Size
	if size <= 0 {
		size = 1
	}
	mainSize := math.Max(math.Min(w, h)/12, 28) * size
	smallSize := mainSize * 0.6
	padding := math.Max(w, h) * 0.03

	for _, pos := range wm.Positions {
		var (
			x, y   float64
			a      anchor
			pt     float64
			middle bool
		)
		switch pos {
		case TopLeft:
			x, y, a, pt = padding, padding+smallSize, anchorStart, smallSize
		case TopCenter:
			x, y, a, pt = w/2, padding+smallSize, anchorMiddle, smallSize
		case TopRight:
			x, y, a, pt = w-padding, padding+smallSize, anchorEnd, smallSize
		case CenterLeft:
			x, y, a, pt, middle = padding, h/2, anchorStart, mainSize, true
		case Center:
			x, y, a, pt, middle = w/2, h/2, anchorMiddle, mainSize, true
		case CenterRight:
			x, y, a, pt, middle = w-padding, h/2, anchorEnd, mainSize, true
		case BottomLeft:
			x, y, a, pt = padding, h-padding, anchorStart, smallSize
		case BottomCenter:
			x, y, a, pt = w/2, h-padding, anchorMiddle, smallSize
		case BottomRight:
			x, y, a, pt = w-padding, h-padding, anchorEnd, smallSize
		default:
			continue
		}
		if err := drawText(out, text, x, y, a, pt, middle, wm.Opacity); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FreePlanMark adds the small bottom-right mark used on free-plan results.
func FreePlanMark(img image.Image, brand string) (*image.NRGBA, error) {
	out := imaging.Clone(img)
	b := out.Bounds()
	pt := math.Max(16, math.Floor(float64(b.Dx())/35))
	text := "Made with " + brand
	if err := drawText(out, text, float64(b.Dx())-20, float64(b.Dy())-20, anchorEnd, pt, false, 0.6); err != nil {
		return nil, err
	}
	return out, nil
}

func drawText(dst *image.NRGBA, text string, x, y float64, a anchor, size float64, middle bool, opacity float64) error {
	f, err := loadBold()
	if err != nil {
		return fmt.Errorf("imageops: load font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return fmt.Errorf("imageops: font face: %w", err)
	}
	defer face.Close()

	if opacity <= 0 || opacity > 1 {
		opacity = 0.4
	}
	width := font.MeasureString(face, text).Round()
	switch a {
	case anchorMiddle:
		x -= float64(width) / 2
	case anchorEnd:
		x -= float64(width)
	}
	if middle {
		m := face.Metrics()
		y += float64((m.Ascent - m.Descent).Round()) / 2
	}

	alpha := uint8(math.Round(255 * opacity))
	shadow := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.NRGBA{A: alpha / 2}),
		Face: face,
		Dot:  fixed.P(int(x)+2, int(y)+2),
	}
	shadow.DrawString(text)
	fg := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: alpha}),
		Face: face,
		Dot:  fixed.P(int(x), int(y)),
	}
	fg.DrawString(text)
	return nil
}

// DefaultWatermarkText is used when a watermark request carries no text.
const DefaultWatermarkText = "Retouch"

type watermarkSettings struct {
	Text      string     `json:"text"`
	Positions []Position `json:"positions"`
	Opacity   float64    `json:"opacity"`
	Size      float64    `json:"size"`
}

// ParseWatermark reads watermark settings from a prompt. A JSON object
// overrides the defaults field by field; any other prompt is the text.
func ParseWatermark(prompt string) Watermark {
	wm := Watermark{Text: DefaultWatermarkText, Positions: []Position{Center}, Opacity: 0.4, Size: 1}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return wm
	}
	var s watermarkSettings
	if err := json.Unmarshal([]byte(prompt), &s); err != nil {
		wm.Text = prompt
		return wm
	}
	if strings.TrimSpace(s.Text) != "" {
		wm.Text = s.Text
	}
	if len(s.Positions) > 0 {
		wm.Positions = s.Positions
	}
	if s.Opacity > 0 {
		wm.Opacity = min(s.Opacity, 1)
	}
	if s.Size > 0 {
		wm.Size = s.Size
	}
	return wm
}
