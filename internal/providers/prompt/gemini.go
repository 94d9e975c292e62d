package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	OnFallback FallbackFunc
}

// GeminiTranslator uses the generateContent REST endpoint.
type GeminiTranslator struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	onFallback FallbackFunc
}

const geminiDefaultTimeout = 15 * time.Second

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	CandidateCount  int     `json:"candidateCount,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiTranslator(opts GeminiOptions) (*GeminiTranslator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiTranslator{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		baseURL:    baseURL,
		client:     client,
		onFallback: opts.OnFallback,
	}, nil
}

// Translate skips ASCII text and returns text unchanged on any failure.
func (g *GeminiTranslator) Translate(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" || !NeedsTranslation(text) {
		return text
	}
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: translateInstruction + "\n\n" + text}},
		}},
		GenerationConfig: &geminiGenerationConfig{Temperature: 0.2, CandidateCount: 1, MaxOutputTokens: 100},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return g.fallback(text, "encode_request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return g.fallback(text, "build_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.fallback(text, "http_request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return g.fallback(text, fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("gemini status %d", resp.StatusCode))
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return g.fallback(text, "decode_response", err)
	}
	translated := extractText(out)
	if translated == "" {
		return g.fallback(text, "empty_response", errors.New("empty response"))
	}
	return translated
}

func (g *GeminiTranslator) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

func (g *GeminiTranslator) fallback(text, reason string, err error) string {
	if g.onFallback != nil {
		g.onFallback(reason, err)
	}
	return text
}

func extractText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if t := strings.TrimSpace(part.Text); t != "" {
				return t
			}
		}
	}
	return ""
}

var _ Translator = (*GeminiTranslator)(nil)
