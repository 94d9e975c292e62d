package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	OnFallback FallbackFunc
}

// OpenAITranslator uses the chat completions API.
type OpenAITranslator struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	onFallback FallbackFunc
}

const openAIDefaultTimeout = 15 * time.Second

const defaultOpenAIModel = "gpt-4o-mini"

var openAIModelAliases = map[string]string{
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt-3.5":                "gpt-3.5-turbo",
	"gpt3.5":                 "gpt-3.5-turbo",
	"gpt-35-turbo":           "gpt-3.5-turbo",
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewOpenAITranslator(opts OpenAIOptions) (*OpenAITranslator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAITranslator{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      normalizeOpenAIModel(opts.Model),
		baseURL:    baseURL,
		client:     client,
		onFallback: opts.OnFallback,
	}, nil
}

// Translate skips ASCII text and returns text unchanged on any failure.
func (o *OpenAITranslator) Translate(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" || !NeedsTranslation(text) {
		return text
	}
	payload := openAIChatRequest{
		Model:       o.model,
		Temperature: 0.2,
		MaxTokens:   100,
		Messages: []openAIMessage{
			{Role: "system", Content: translateInstruction},
			{Role: "user", Content: text},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return o.fallback(text, "encode_request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", &buf)
	if err != nil {
		return o.fallback(text, "build_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return o.fallback(text, "http_request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return o.fallback(text, fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("openai status %d", resp.StatusCode))
	}
	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return o.fallback(text, "decode_response", err)
	}
	if len(out.Choices) == 0 {
		return o.fallback(text, "empty_choices", errors.New("no choices"))
	}
	translated := strings.TrimSpace(out.Choices[0].Message.Content)
	if translated == "" {
		return o.fallback(text, "empty_response", errors.New("empty response"))
	}
	return translated
}

func (o *OpenAITranslator) fallback(text, reason string, err error) string {
	if o.onFallback != nil {
		o.onFallback(reason, err)
	}
	return text
}

func normalizeOpenAIModel(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if normalized == "" {
		return defaultOpenAIModel
	}
	if alias, ok := openAIModelAliases[normalized]; ok {
		return alias
	}
	return normalized
}

var _ Translator = (*OpenAITranslator)(nil)
