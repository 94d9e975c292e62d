// Package replicate runs hosted models through the predictions API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/providers"
)

const (
	defaultBaseURL      = "https://api.replicate.com"
	defaultPollInterval = 2 * time.Second
	defaultRetryDelay   = 2 * time.Second
	defaultTimeout      = 300 * time.Second
)

// Prediction states.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCanceled  = "canceled"
)

// Options configures the adapter.
type Options struct {
	BaseURL      string
	HTTPClient   *http.Client
	Credentials  providers.CredentialResolver
	Fetcher      providers.Fetcher
	PollInterval time.Duration
	RetryDelay   time.Duration
	Logger       *infra.Logger
}

// Adapter implements providers.Adapter for Replicate.
type Adapter struct {
	baseURL      string
	httpClient   *http.Client
	creds        providers.CredentialResolver
	fetcher      providers.Fetcher
	pollInterval time.Duration
	retryDelay   time.Duration
	logger       *infra.Logger
}

type predictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  any    `json:"error"`
}

// NewAdapter constructs an adapter with defaults filled in.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.Credentials == nil {
		return nil, errors.New("replicate: credentials resolver is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("replicate: image fetcher is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Adapter{
		baseURL:      baseURL,
		httpClient:   client,
		creds:        opts.Credentials,
		fetcher:      opts.Fetcher,
		pollInterval: poll,
		retryDelay:   delay,
		logger:       logger,
	}, nil
}

func (a *Adapter) Type() string { return domain.ProviderTypeReplicate }

func (a *Adapter) Capabilities() []domain.ToolID {
	return []domain.ToolID{
		domain.ToolUpscale,
		domain.ToolEnhance,
		domain.ToolFaceRestore,
		domain.ToolPortraitEnhance,
		domain.ToolMakeup,
		domain.ToolFaceSwap,
		domain.ToolBackgroundRemove,
		domain.ToolOldPhotoRestore,
		domain.ToolOldPhotoRestorePro,
		domain.ToolColorize,
		domain.ToolObjectRemoval,
		domain.ToolTextToImage,
	}
}

// Process runs one prediction. Transport failures, 5xx and 429 responses
// retry the whole submit and poll cycle up to cfg.RetryCount times with a
// growing delay; other rejections and failed predictions are final.
func (a *Adapter) Process(ctx context.Context, req providers.Request, cfg domain.ProviderConfig) (*providers.Result, error) {
	start := time.Now()
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = strings.TrimSpace(cfg.Endpoint)
	}
	if model == "" {
		return nil, a.fail(cfg, 0, errors.New("model is not configured"))
	}
	key, err := a.creds.Resolve(ctx, cfg.CredentialRef, a.Type())
	if err != nil {
		return nil, a.fail(cfg, http.StatusUnauthorized, err)
	}
	input := a.buildInput(ctx, req, cfg)
	timeout := cfg.TimeoutOr(defaultTimeout)

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryCount; attempt++ {
		if attempt > 0 {
			delay := a.retryDelay * time.Duration(attempt)
			a.logger.Debug().Err(lastErr).Str("provider_id", cfg.ID).Int("attempt", attempt+1).
				Dur("delay", delay).Msg("replicate: retrying prediction")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		pred, err := a.run(ctx, key, model, input, timeout)
		if err == nil {
			out, err := providers.ParseOutput(pred.Output)
			if err != nil {
				return nil, a.fail(cfg, 0, err)
			}
			return &providers.Result{
				Output:  out,
				Elapsed: time.Since(start),
				Metadata: map[string]any{
					"provider":     a.Type(),
					"model":        model,
					"predictionId": pred.ID,
					"attempts":     attempt + 1,
				},
			}, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	var se *statusError
	if errors.As(lastErr, &se) {
		return nil, a.fail(cfg, se.code, lastErr)
	}
	return nil, a.fail(cfg, 0, lastErr)
}

// CheckHealth lists models with the configured token.
func (a *Adapter) CheckHealth(ctx context.Context, cfg domain.ProviderConfig) bool {
	key, err := a.creds.Resolve(ctx, cfg.CredentialRef, a.Type())
	if err != nil {
		return false
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	httpReq.Header.Set("Authorization", "Token "+key)
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// buildInput places the image first, then config params, then request
// params, so per-request values win. With UseBase64 the image and mask are
// inlined as data URLs; a fetch failure falls back to the plain URL.
func (a *Adapter) buildInput(ctx context.Context, req providers.Request, cfg domain.ProviderConfig) map[string]any {
	keys := cfg.PayloadKeys.WithDefaults()
	input := make(map[string]any, len(cfg.Params)+len(req.Params)+3)
	if req.ImageURL != "" {
		input[keys.ImageKey] = a.imageValue(ctx, req.ImageURL, cfg.UseBase64)
	}
	if req.MaskURL != "" {
		input[keys.MaskKey] = a.imageValue(ctx, req.MaskURL, cfg.UseBase64)
	}
	if strings.TrimSpace(req.Prompt) != "" {
		input[keys.PromptKey] = req.Prompt
	}
	for k, v := range cfg.Params {
		input[k] = v
	}
	for k, v := range req.Params {
		input[k] = v
	}
	return input
}

func (a *Adapter) imageValue(ctx context.Context, url string, useBase64 bool) string {
	if !useBase64 || strings.HasPrefix(url, "data:") {
		return url
	}
	data, mime, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		a.logger.Warn().Err(err).Str("url", url).Msg("replicate: inline image failed, sending url")
		return url
	}
	return providers.DataURL(data, mime)
}

func (a *Adapter) run(ctx context.Context, key, model string, input map[string]any, timeout time.Duration) (*prediction, error) {
	body, err := json.Marshal(predictionRequest{Version: model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+key)
	pred, err := a.do(httpReq)
	if err != nil {
		return nil, err
	}
	if pred.ID == "" {
		return nil, &finalError{msg: "no prediction id returned"}
	}

	deadline := time.Now().Add(timeout)
	for {
		switch pred.Status {
		case statusSucceeded:
			return pred, nil
		case statusFailed:
			return nil, &finalError{msg: fmt.Sprintf("prediction %s failed: %v", pred.ID, pred.Error)}
		case statusCanceled:
			return nil, &finalError{msg: fmt.Sprintf("prediction %s was canceled", pred.ID)}
		}
		if time.Now().After(deadline) {
			return nil, &finalError{msg: fmt.Sprintf("prediction %s timed out after %s", pred.ID, timeout)}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.pollInterval):
		}
		pred, err = a.get(ctx, key, pred.ID)
		if err != nil {
			return nil, err
		}
	}
}

func (a *Adapter) get(ctx context.Context, key, id string) (*prediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+key)
	return a.do(httpReq)
}

func (a *Adapter) do(httpReq *http.Request) (*prediction, error) {
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	var pred prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, &finalError{msg: fmt.Sprintf("decode response: %v", err)}
	}
	return &pred, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

// finalError marks failures that a retry cannot fix.
type finalError struct {
	msg string
}

func (e *finalError) Error() string { return e.msg }

func retryable(err error) bool {
	var fe *finalError
	if errors.As(err, &fe) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

func (a *Adapter) fail(cfg domain.ProviderConfig, code int, err error) error {
	return &domain.ProviderError{ProviderID: cfg.ID, ProviderType: a.Type(), StatusCode: code, Err: err}
}

var _ providers.Adapter = (*Adapter)(nil)
