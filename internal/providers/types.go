package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"retouch/internal/domain"
)

// OutputKind tags how a provider delivered its image.
type OutputKind string

const (
	OutputURL    OutputKind = "url"
	OutputInline OutputKind = "inline"
	OutputBuffer OutputKind = "buffer"
)

// Output is the normalized result image. URL is set for OutputURL, Data for
// the other kinds.
type Output struct {
	Kind OutputKind
	URL  string
	Data []byte
	MIME string
}

// Request is what the pipeline hands to an adapter.
type Request struct {
	Tool     domain.ToolID
	ImageURL string
	MaskURL  string
	Prompt   string
	Params   map[string]any
}

// Result is a successful adapter call. ProviderID is filled in by the
// dispatcher.
type Result struct {
	Output     Output
	Elapsed    time.Duration
	Metadata   map[string]any
	ProviderID string
}

// Adapter is one backend family. Implementations must be safe for
// concurrent use; per-call settings come from the ProviderConfig.
type Adapter interface {
	Type() string
	Capabilities() []domain.ToolID
	Process(ctx context.Context, req Request, cfg domain.ProviderConfig) (*Result, error)
	CheckHealth(ctx context.Context, cfg domain.ProviderConfig) bool
}

// Fetcher reads image bytes from a URL the system understands.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// CredentialResolver turns a config's credential reference into a secret.
type CredentialResolver interface {
	Resolve(ctx context.Context, ref, providerType string) (string, error)
}

// outputKeys are tried in order on object outputs. Workers disagree on the
// envelope: {image}, {output}, {output:{image}}, {output_image}, rembg's
// {data:{image}, result:true}, ComfyUI's {images:[{data}]} and {result}.
var outputKeys = []string{"image", "output", "output_image", "data", "images", "result"}

// ParseOutput normalizes the loose output shapes returned by remote
// endpoints: a string (http URL, data URL or bare base64), an object carrying
// one of outputKeys, or an array whose first element is one of those.
func ParseOutput(v any) (Output, error) {
	switch val := v.(type) {
	case string:
		return parseOutputString(val)
	case []any:
		if len(val) == 0 {
			return Output{}, fmt.Errorf("%w: empty array", domain.ErrNoResult)
		}
		return ParseOutput(val[0])
	case map[string]any:
		var firstErr error
		for _, key := range outputKeys {
			switch inner := val[key].(type) {
			case string, []any, map[string]any:
				out, err := ParseOutput(inner)
				if err == nil {
					return out, nil
				}
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		if firstErr != nil {
			return Output{}, firstErr
		}
		return Output{}, fmt.Errorf("%w: unexpected object output", domain.ErrNoResult)
	case nil:
		return Output{}, fmt.Errorf("%w: empty output", domain.ErrNoResult)
	default:
		return Output{}, fmt.Errorf("%w: unexpected output type %T", domain.ErrNoResult, v)
	}
}

func parseOutputString(s string) (Output, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Output{}, fmt.Errorf("%w: empty string output", domain.ErrNoResult)
	case strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"):
		return Output{Kind: OutputURL, URL: s}, nil
	case strings.HasPrefix(s, "data:"):
		data, mime, err := DecodeDataURL(s)
		if err != nil {
			return Output{}, fmt.Errorf("%w: %v", domain.ErrNoResult, err)
		}
		return Output{Kind: OutputInline, Data: data, MIME: mime}, nil
	default:
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Output{}, fmt.Errorf("%w: output is neither url nor base64", domain.ErrNoResult)
		}
		return Output{Kind: OutputInline, Data: data, MIME: "image/png"}, nil
	}
}

// DataURL encodes data as a base64 data URL.
func DataURL(data []byte, mime string) string {
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL decodes a base64 data URL into bytes and its MIME type.
func DecodeDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", errors.New("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errors.New("malformed data url")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", errors.New("data url is not base64 encoded")
	}
	if mime == "" {
		mime = "image/png"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return data, mime, nil
}
