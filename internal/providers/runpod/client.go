// Package runpod calls serverless GPU endpoints through the run/status API.
package runpod

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
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

const (
	defaultBaseURL      = "https://api.runpod.ai/v2"
	defaultPollInterval = 2 * time.Second
	defaultTimeout      = 300 * time.Second
)

// Job states reported by the status endpoint.
const (
	statusCompleted = "COMPLETED"
	statusFailed    = "FAILED"
	statusCancelled = "CANCELLED"
)

// Options configures the adapter.
type Options struct {
	BaseURL      string
	HTTPClient   *http.Client
	Credentials  providers.CredentialResolver
	Fetcher      providers.Fetcher
	PollInterval time.Duration
	Logger       *infra.Logger
}

// Adapter implements providers.Adapter for RunPod endpoints. Every call is
// in generic mode: the config's payload keys decide where the image, mask
// and prompt go in the input object.
type Adapter struct {
	baseURL      string
	httpClient   *http.Client
	creds        providers.CredentialResolver
	fetcher      providers.Fetcher
	pollInterval time.Duration
	logger       *infra.Logger
}

type runRequest struct {
	Input map[string]any `json:"input"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  string `json:"error"`
}

// NewAdapter constructs an adapter with defaults filled in.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.Credentials == nil {
		return nil, errors.New("runpod: credentials resolver is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("runpod: image fetcher is required")
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
		logger:       logger,
	}, nil
}

func (a *Adapter) Type() string { return domain.ProviderTypeRunPod }

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

// Process submits a job and polls it until it finishes or the config's
// timeout elapses.
func (a *Adapter) Process(ctx context.Context, req providers.Request, cfg domain.ProviderConfig) (*providers.Result, error) {
	start := time.Now()
	endpoint := strings.Trim(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, a.fail(cfg, 0, errors.New("endpoint id is not configured"))
	}
	key, err := a.creds.Resolve(ctx, cfg.CredentialRef, a.Type())
	if err != nil {
		return nil, a.fail(cfg, http.StatusUnauthorized, err)
	}
	input, err := a.buildInput(ctx, req, cfg)
	if err != nil {
		return nil, a.fail(cfg, 0, err)
	}

	timeout := cfg.TimeoutOr(defaultTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	job, err := a.submit(ctx, endpoint, key, input)
	if err != nil {
		return nil, a.wrap(ctx, cfg, timeout, err)
	}
	a.logger.Debug().Str("provider_id", cfg.ID).Str("runpod_job", job.ID).Msg("runpod: job submitted")

	for job.Status != statusCompleted {
		switch job.Status {
		case statusFailed:
			msg := job.Error
			if msg == "" {
				msg = "unknown error"
			}
			return nil, a.fail(cfg, 0, fmt.Errorf("job %s failed: %s", job.ID, msg))
		case statusCancelled:
			return nil, a.fail(cfg, 0, fmt.Errorf("job %s was cancelled upstream", job.ID))
		}
		select {
		case <-ctx.Done():
			return nil, a.wrap(ctx, cfg, timeout, ctx.Err())
		case <-time.After(a.pollInterval):
		}
		id := job.ID
		job, err = a.status(ctx, endpoint, key, id)
		if err != nil {
			return nil, a.wrap(ctx, cfg, timeout, err)
		}
		if job.ID == "" {
			job.ID = id
		}
	}

	out, err := providers.ParseOutput(job.Output)
	if err != nil {
		return nil, a.fail(cfg, 0, err)
	}
	return &providers.Result{
		Output:  out,
		Elapsed: time.Since(start),
		Metadata: map[string]any{
			"provider": a.Type(),
			"endpoint": endpoint,
			"jobId":    job.ID,
			"model":    cfg.Model,
		},
	}, nil
}

// CheckHealth reports whether the endpoint's health route answers 2xx.
func (a *Adapter) CheckHealth(ctx context.Context, cfg domain.ProviderConfig) bool {
	endpoint := strings.Trim(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return false
	}
	key, err := a.creds.Resolve(ctx, cfg.CredentialRef, a.Type())
	if err != nil {
		return false
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/health", a.baseURL, endpoint), nil)
	if err != nil {
		return false
	}
	httpReq.Header.Set("Authorization", "Bearer "+key)
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (a *Adapter) buildInput(ctx context.Context, req providers.Request, cfg domain.ProviderConfig) (map[string]any, error) {
	keys := cfg.PayloadKeys.WithDefaults()
	input := make(map[string]any, len(cfg.Params)+len(req.Params)+3)
	for k, v := range cfg.Params {
		input[k] = v
	}
	for k, v := range req.Params {
		input[k] = v
	}
	if req.ImageURL != "" {
		img, err := a.encodeImage(ctx, req.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("load image: %w", err)
		}
		input[keys.ImageKey] = img
	}
	if req.MaskURL != "" {
		mask, err := a.encodeImage(ctx, req.MaskURL)
		if err != nil {
			return nil, fmt.Errorf("load mask: %w", err)
		}
		input[keys.MaskKey] = mask
	}
	if strings.TrimSpace(req.Prompt) != "" {
		input[keys.PromptKey] = req.Prompt
	}
	return input, nil
}

// encodeImage fetches url and returns upright image bytes as base64. When
// the bytes cannot be decoded they are sent unchanged.
func (a *Adapter) encodeImage(ctx context.Context, url string) (string, error) {
	data, _, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if normalized, _, err := imageops.Normalize(data); err == nil {
		data = normalized
	} else {
		a.logger.Debug().Err(err).Msg("runpod: orientation normalize skipped")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (a *Adapter) submit(ctx context.Context, endpoint, key string, input map[string]any) (*jobResponse, error) {
	body, err := json.Marshal(runRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s/run", a.baseURL, endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)
	return a.do(httpReq, "submit")
}

func (a *Adapter) status(ctx context.Context, endpoint, key, id string) (*jobResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/status/%s", a.baseURL, endpoint, id), nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+key)
	return a.do(httpReq, "status")
}

func (a *Adapter) do(httpReq *http.Request, op string) (*jobResponse, error) {
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, op: op, body: strings.TrimSpace(string(raw))}
	}
	var job jobResponse
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return &job, nil
}

type statusError struct {
	code int
	op   string
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s error: %d - %s", e.op, e.code, e.body)
}

func (a *Adapter) wrap(ctx context.Context, cfg domain.ProviderConfig, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return a.fail(cfg, 0, fmt.Errorf("timed out after %s", timeout))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var se *statusError
	if errors.As(err, &se) {
		return a.fail(cfg, se.code, err)
	}
	return a.fail(cfg, 0, err)
}

func (a *Adapter) fail(cfg domain.ProviderConfig, code int, err error) error {
	return &domain.ProviderError{ProviderID: cfg.ID, ProviderType: a.Type(), StatusCode: code, Err: err}
}

var _ providers.Adapter = (*Adapter)(nil)
