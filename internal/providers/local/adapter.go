// Package local runs the cheap image transforms in-process.
package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retouch/internal/domain"
	"retouch/internal/imageops"
	"retouch/internal/providers"
)

// Adapter applies imageops transforms to the fetched input. It only touches
// the network to read its input and never retries.
type Adapter struct {
	fetcher providers.Fetcher
}

// NewAdapter returns a local adapter reading inputs through fetcher.
func NewAdapter(fetcher providers.Fetcher) (*Adapter, error) {
	if fetcher == nil {
		return nil, errors.New("local: image fetcher is required")
	}
	return &Adapter{fetcher: fetcher}, nil
}

func (a *Adapter) Type() string { return domain.ProviderTypeLocal }

func (a *Adapter) Capabilities() []domain.ToolID {
	return []domain.ToolID{
		domain.ToolHDR,
		domain.ToolWatermarkAdd,
		domain.ToolCompress,
		domain.ToolConvert,
		domain.ToolAutoLight,
	}
}

func (a *Adapter) CheckHealth(context.Context, domain.ProviderConfig) bool { return true }

// Process runs req.Tool. cfg may be the zero value when the pipeline calls
// the adapter directly.
func (a *Adapter) Process(ctx context.Context, req providers.Request, cfg domain.ProviderConfig) (*providers.Result, error) {
	start := time.Now()
	data, _, err := a.fetcher.Fetch(ctx, req.ImageURL)
	if err != nil {
		return nil, a.fail(cfg, fmt.Errorf("fetch input: %w", err))
	}
	out, format, err := Transform(req.Tool, data, req.Prompt)
	if err != nil {
		return nil, a.fail(cfg, err)
	}
	return &providers.Result{
		Output:   providers.Output{Kind: providers.OutputBuffer, Data: out, MIME: format.MIME()},
		Elapsed:  time.Since(start),
		Metadata: map[string]any{"provider": a.Type(), "tool": string(req.Tool), "format": string(format)},
	}, nil
}

// Transform applies one local tool to encoded image bytes.
func Transform(tool domain.ToolID, data []byte, prompt string) ([]byte, imageops.Format, error) {
	switch tool {
	case domain.ToolCompress:
		return imageops.Compress(data, imageops.CompressQuality(prompt))
	case domain.ToolConvert:
		return imageops.Convert(data, prompt)
	}

	img, _, err := imageops.Decode(data)
	if err != nil {
		return nil, "", err
	}
	switch tool {
	case domain.ToolHDR:
		out, err := imageops.Encode(imageops.HDR(img), imageops.JPEG, imageops.DefaultJPEGQuality)
		return out, imageops.JPEG, err
	case domain.ToolAutoLight:
		out, err := imageops.Encode(imageops.AutoLight(img), imageops.JPEG, imageops.DefaultJPEGQuality)
		return out, imageops.JPEG, err
	case domain.ToolWatermarkAdd:
		marked, err := imageops.ApplyWatermark(img, imageops.ParseWatermark(prompt))
		if err != nil {
			return nil, "", err
		}
		out, err := imageops.Encode(marked, imageops.PNG, 0)
		return out, imageops.PNG, err
	default:
		return nil, "", fmt.Errorf("%w: %s is not a local tool", domain.ErrUnknownTool, tool)
	}
}

func (a *Adapter) fail(cfg domain.ProviderConfig, err error) error {
	id := cfg.ID
	if id == "" {
		id = "builtin"
	}
	return &domain.ProviderError{ProviderID: id, ProviderType: a.Type(), Err: err}
}

var _ providers.Adapter = (*Adapter)(nil)
