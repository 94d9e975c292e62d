package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retouch/internal/domain"
	"retouch/internal/imageops"
	"retouch/internal/providers"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.NRGBA{A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestMaterializer(t *testing.T) (*Materializer, *FileStore) {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), "http://cdn.test/static/")
	require.NoError(t, err)
	m := NewMaterializer(store, &http.Client{Timeout: 5 * time.Second}, nil)
	m.now = func() time.Time { return time.Unix(0, 42) }
	return m, store
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "  ", "../etc/passwd", "a/../../b", "."} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected error for %q", key)
		}
	}
	got, err := sanitizeKey("/edits//e1/./a.png")
	require.NoError(t, err)
	assert.Equal(t, "edits/e1/a.png", got)
}

func TestMaterializeInlineOutput(t *testing.T) {
	m, store := newTestMaterializer(t)
	data := pngBytes(t, 4, 4)

	url, err := m.Materialize(context.Background(), providers.Output{Kind: providers.OutputInline, Data: data, MIME: "image/png"},
		Target{EditID: "e1", Tool: domain.ToolColorize})
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.test/static/edits/e1/colorize-42.png", url)

	key, ok := store.KeyFromURL(url)
	require.True(t, ok)
	stored, err := store.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestMaterializeDownloadsURLOutput(t *testing.T) {
	data := pngBytes(t, 6, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	m, _ := newTestMaterializer(t)
	url, err := m.Materialize(context.Background(), providers.Output{Kind: providers.OutputURL, URL: srv.URL + "/out"},
		Target{EditID: "e2", Tool: domain.ToolUpscale})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, "/edits/e2/upscale-42.png"), url)
}

func TestMaterializeAppliesWatermark(t *testing.T) {
	m, store := newTestMaterializer(t)
	url, err := m.Materialize(context.Background(), providers.Output{Kind: providers.OutputBuffer, Data: pngBytes(t, 300, 200)},
		Target{EditID: "e3", Tool: domain.ToolHDR, Watermark: "Retouch"})
	require.NoError(t, err)

	key, _ := store.KeyFromURL(url)
	stored, err := store.Read(context.Background(), key)
	require.NoError(t, err)
	img, _, err := imageops.Decode(stored)
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.NotEqual(t, pngBytes(t, 300, 200), stored)
}

func TestMaterializeFailuresAreStorageErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m, _ := newTestMaterializer(t)
	_, err := m.Materialize(context.Background(), providers.Output{Kind: providers.OutputURL, URL: srv.URL}, Target{EditID: "e4", Tool: domain.ToolEnhance})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorage))

	_, err = m.Materialize(context.Background(), providers.Output{Kind: providers.OutputInline}, Target{EditID: "e4", Tool: domain.ToolEnhance})
	assert.True(t, errors.Is(err, domain.ErrStorage))
}

func TestFetchSources(t *testing.T) {
	m, store := newTestMaterializer(t)
	data := pngBytes(t, 2, 2)

	got, mime, err := m.Fetch(context.Background(), providers.DataURL(data, "image/png"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "image/png", mime)

	key, err := store.Write(context.Background(), "uploads/u1/a.png", data)
	require.NoError(t, err)
	got, mime, err = m.Fetch(context.Background(), store.URL(key))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "image/png", mime)

	_, _, err = m.Fetch(context.Background(), "ftp://elsewhere/a.png")
	assert.Error(t, err)
}

func TestFetchRejectsOversizedDownload(t *testing.T) {
	body := bytes.Repeat([]byte{0xff}, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("chunked") {
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	m, _ := newTestMaterializer(t)
	m.maxBytes = 32
	_, _, err := m.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
	_, _, err = m.Fetch(context.Background(), srv.URL+"?chunked=1")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = m.Materialize(context.Background(), providers.Output{Kind: providers.OutputURL, URL: srv.URL}, Target{EditID: "e5", Tool: domain.ToolEnhance})
	assert.ErrorIs(t, err, domain.ErrStorage)

	m.maxBytes = 64
	got, _, err := m.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, got, 64)
}

func TestDefaultClientRefusesInternalAddresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("internal"))
	}))
	defer srv.Close()

	store, err := NewFileStore(t.TempDir(), "http://cdn.test/static/")
	require.NoError(t, err)
	m := NewMaterializer(store, nil, nil)
	_, _, err = m.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a public address")
}

func TestPublicAddr(t *testing.T) {
	cases := map[string]bool{
		"93.184.216.34":   true,
		"2606:4700::1111": true,
		"127.0.0.1":       false,
		"10.1.2.3":        false,
		"172.16.0.9":      false,
		"192.168.1.1":     false,
		"169.254.169.254": false,
		"100.64.0.1":      false,
		"0.0.0.0":         false,
		"::1":             false,
		"fe80::1":         false,
		"fd00::1":         false,
		"::ffff:10.0.0.1": false,
	}
	for raw, want := range cases {
		assert.Equal(t, want, publicAddr(netip.MustParseAddr(raw)), raw)
	}
}
