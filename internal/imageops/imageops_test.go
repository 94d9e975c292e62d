package imageops

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestReplaceBackgroundKeepsSubjectSize(t *testing.T) {
	subject := solid(800, 600, color.NRGBA{R: 255, A: 0})
	subject.SetNRGBA(400, 300, color.NRGBA{R: 255, A: 255})
	background := solid(300, 900, color.NRGBA{B: 255, A: 255})

	out := ReplaceBackground(subject, background)
	assert.Equal(t, 800, out.Bounds().Dx())
	assert.Equal(t, 600, out.Bounds().Dy())

	// Transparent subject pixels show the background, opaque ones the subject.
	assert.Greater(t, out.NRGBAAt(10, 10).B, uint8(250))
	assert.Equal(t, uint8(255), out.NRGBAAt(400, 300).R)
}

func TestCoverCropsToExactSize(t *testing.T) {
	out := Cover(solid(1000, 200, color.NRGBA{G: 200, A: 255}), 300, 300)
	assert.Equal(t, image.Rect(0, 0, 300, 300), out.Bounds())
}

func TestFitInside(t *testing.T) {
	big := solid(2000, 1000, color.NRGBA{A: 255})
	out := FitInside(big, 1024)
	assert.Equal(t, 1024, out.Bounds().Dx())
	assert.Equal(t, 512, out.Bounds().Dy())

	small := solid(300, 200, color.NRGBA{A: 255})
	assert.Same(t, small, FitInside(small, 1024).(*image.NRGBA))
}

func TestCompressQuality(t *testing.T) {
	assert.Equal(t, 80, CompressQuality(""))
	assert.Equal(t, 55, CompressQuality("quality 55 please"))
	assert.Equal(t, 10, CompressQuality("3"))
	assert.Equal(t, 100, CompressQuality("250"))
}

func TestCompressKeepsTransparentPNG(t *testing.T) {
	transparent := solid(20, 20, color.NRGBA{R: 10, A: 100})
	_, f, err := Compress(encodePNG(t, transparent), 50)
	require.NoError(t, err)
	assert.Equal(t, PNG, f)

	opaque := solid(20, 20, color.NRGBA{R: 10, A: 255})
	out, f, err := Compress(encodePNG(t, opaque), 50)
	require.NoError(t, err)
	assert.Equal(t, JPEG, f)
	_, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestConvertTarget(t *testing.T) {
	cases := map[string]Format{
		"jpg": JPEG, "JPEG": JPEG, "png": PNG, "webp": PNG, "avif": PNG,
		"tif": TIFF, "tiff": TIFF, "bmp": PNG, "heic": JPEG, "pdf": PNG, "xyz": JPEG,
	}
	for in, want := range cases {
		assert.Equal(t, want, ConvertTarget(in), in)
	}
}

func TestConvertToTIFF(t *testing.T) {
	out, f, err := Convert(encodeJPEG(t, solid(16, 16, color.NRGBA{R: 90, A: 255})), "tif")
	require.NoError(t, err)
	assert.Equal(t, TIFF, f)
	_, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "tiff", format)
}

func TestBlurFacesOnlyTouchesRegion(t *testing.T) {
	img := solid(200, 200, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	for y := 80; y < 120; y++ {
		for x := 80; x < 120; x++ {
			img.SetNRGBA(x, y, color.NRGBA{A: 255})
		}
	}
	out := BlurFaces(img, []Region{{X: 80, Y: 80, Width: 40, Height: 40}}, 0.5)

	assert.Equal(t, img.NRGBAAt(5, 5), out.NRGBAAt(5, 5), "pixels outside the region stay untouched")
	assert.NotEqual(t, img.NRGBAAt(82, 100), out.NRGBAAt(82, 100), "edge of the face is softened")
}

func TestBlurFacesSkipsTinyRegions(t *testing.T) {
	img := solid(50, 50, color.NRGBA{R: 40, A: 255})
	img.SetNRGBA(2, 2, color.NRGBA{G: 255, A: 255})
	out := BlurFaces(img, []Region{{X: 0, Y: 0, Width: 4, Height: 4}}, 1)
	assert.Equal(t, img.Pix, out.Pix)
}

func TestFaceBlurSigma(t *testing.T) {
	assert.Equal(t, 35.0, FaceBlurSigma(0.5))
	assert.Equal(t, 10.0, FaceBlurSigma(0))
	assert.Equal(t, 60.0, FaceBlurSigma(1))
}

func TestApplyWatermarkDrawsText(t *testing.T) {
	img := solid(400, 300, color.NRGBA{A: 255})
	out, err := ApplyWatermark(img, Watermark{Text: "Retouch", Positions: []Position{Center, "nowhere"}, Opacity: 0.9, Size: 1})
	require.NoError(t, err)
	assert.NotEqual(t, img.Pix, out.Pix)
	assert.Equal(t, img.Bounds(), out.Bounds())
}

func TestFreePlanMarkBottomRight(t *testing.T) {
	img := solid(400, 300, color.NRGBA{A: 255})
	out, err := FreePlanMark(img, "Retouch")
	require.NoError(t, err)
	assert.Equal(t, img.NRGBAAt(10, 10), out.NRGBAAt(10, 10))
	changed := false
	for y := 250; y < 300 && !changed; y++ {
		for x := 200; x < 400; x++ {
			if out.NRGBAAt(x, y) != img.NRGBAAt(x, y) {
				changed = true
				break
			}
		}
	}
	assert.True(t, changed, "mark drawn in the bottom-right corner")
}

func TestHDRAndAutoLightPreserveSize(t *testing.T) {
	img := solid(32, 24, color.NRGBA{R: 100, G: 120, B: 140, A: 255})
	assert.Equal(t, img.Bounds(), HDR(img).Bounds())
	assert.Equal(t, img.Bounds(), AutoLight(img).Bounds())
}

func TestNormalizeKeepsJPEG(t *testing.T) {
	data, mime, err := Normalize(encodeJPEG(t, solid(10, 10, color.NRGBA{R: 1, A: 255})))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	assert.NotEmpty(t, data)

	_, _, err = Normalize(nil)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestParseWatermark(t *testing.T) {
	wm := ParseWatermark("")
	assert.Equal(t, DefaultWatermarkText, wm.Text)
	assert.Equal(t, []Position{Center}, wm.Positions)
	assert.InDelta(t, 0.4, wm.Opacity, 1e-9)

	wm = ParseWatermark("© Studio Nord")
	assert.Equal(t, "© Studio Nord", wm.Text)
	assert.Equal(t, []Position{Center}, wm.Positions)

	wm = ParseWatermark(`{"text":"ACME","positions":["top-left","bottom-right"],"size":1.5}`)
	assert.Equal(t, "ACME", wm.Text)
	assert.Equal(t, []Position{TopLeft, BottomRight}, wm.Positions)
	assert.InDelta(t, 0.4, wm.Opacity, 1e-9)
	assert.InDelta(t, 1.5, wm.Size, 1e-9)
}

func TestProbe(t *testing.T) {
	info, err := Probe(encodePNG(t, solid(40, 30, color.NRGBA{R: 10, A: 255})))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Format != "png" || info.Width != 40 || info.Height != 30 {
		t.Fatalf("info = %+v", info)
	}
	if _, err := Probe([]byte("not an image")); err == nil {
		t.Fatalf("expected error for garbage")
	}
	if _, err := Probe(nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("err = %v, want ErrEmptyImage", err)
	}
}
