package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"retouch/internal/domain"
	"retouch/internal/imageops"
	"retouch/internal/infra"
	"retouch/internal/providers"
)

// maxFetchBytes caps remote downloads.
const maxFetchBytes int64 = 50 << 20

// Target describes where a finished result belongs.
type Target struct {
	EditID string
	Tool   domain.ToolID
	// Watermark is the brand stamped on free-plan results; empty skips it.
	Watermark string
}

// Materializer turns adapter outputs into stored files with stable URLs and
// reads inputs for adapters and local stages.
type Materializer struct {
	store      *FileStore
	httpClient *http.Client
	maxBytes   int64
	logger     *infra.Logger
	now        func() time.Time
}

// NewMaterializer wires the store. A nil client gets PublicClient with a 60s
// timeout, so user-supplied URLs cannot reach internal addresses.
func NewMaterializer(store *FileStore, client *http.Client, logger *infra.Logger) *Materializer {
	if client == nil {
		client = PublicClient(60 * time.Second)
	}
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Materializer{store: store, httpClient: client, maxBytes: maxFetchBytes, logger: logger, now: time.Now}
}

// Materialize persists out and returns its public URL. Every failure is a
// StorageError.
func (m *Materializer) Materialize(ctx context.Context, out providers.Output, t Target) (string, error) {
	data, mime, err := m.bytes(ctx, out)
	if err != nil {
		return "", &domain.StorageError{Op: "read result", Err: err}
	}
	if len(data) == 0 {
		return "", &domain.StorageError{Op: "read result", Err: imageops.ErrEmptyImage}
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if t.Watermark != "" {
		data, mime, err = stamp(data, t.Watermark)
		if err != nil {
			return "", &domain.StorageError{Op: "watermark", Err: err}
		}
	}
	key := fmt.Sprintf("edits/%s/%s-%d.%s", t.EditID, t.Tool, m.now().UnixNano(), extFor(mime))
	key, err = m.store.Write(ctx, key, data)
	if err != nil {
		return "", &domain.StorageError{Op: "write", Err: err}
	}
	url := m.store.URL(key)
	m.logger.Debug().Str("edit_id", t.EditID).Str("key", key).Int("bytes", len(data)).Msg("storage: result materialized")
	return url, nil
}

// Save stores an upload under key and returns its URL.
func (m *Materializer) Save(ctx context.Context, key string, data []byte) (string, string, error) {
	clean, err := m.store.Write(ctx, key, data)
	if err != nil {
		return "", "", &domain.StorageError{Op: "write", Err: err}
	}
	return clean, m.store.URL(clean), nil
}

// Fetch reads a data URL, a file of this store or a remote http(s) URL.
func (m *Materializer) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return nil, "", errors.New("storage: empty url")
	case strings.HasPrefix(url, "data:"):
		return providers.DecodeDataURL(url)
	}
	if key, ok := m.store.KeyFromURL(url); ok {
		data, err := m.store.Read(ctx, key)
		if err != nil {
			return nil, "", err
		}
		return data, http.DetectContentType(data), nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, "", fmt.Errorf("storage: unsupported url %q", url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("storage: build download request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("storage: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("storage: download status %d", resp.StatusCode)
	}
	if resp.ContentLength > m.maxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("storage: read download: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, m.maxBytes)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || strings.HasPrefix(mime, "application/octet-stream") {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func (m *Materializer) bytes(ctx context.Context, out providers.Output) ([]byte, string, error) {
	switch out.Kind {
	case providers.OutputURL:
		return m.Fetch(ctx, out.URL)
	case providers.OutputInline, providers.OutputBuffer:
		return out.Data, out.MIME, nil
	default:
		return nil, "", fmt.Errorf("unknown output kind %q", out.Kind)
	}
}

func stamp(data []byte, brand string) ([]byte, string, error) {
	img, _, err := imageops.Decode(data)
	if err != nil {
		return nil, "", err
	}
	marked, err := imageops.FreePlanMark(img, brand)
	if err != nil {
		return nil, "", err
	}
	out, err := imageops.Encode(marked, imageops.PNG, 0)
	if err != nil {
		return nil, "", err
	}
	return out, imageops.PNG.MIME(), nil
}

func extFor(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(strings.Split(mime, ";")[0]))
	switch mime {
	case "image/png":
		return "png"
	case "image/tiff":
		return "tiff"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

var _ providers.Fetcher = (*Materializer)(nil)
