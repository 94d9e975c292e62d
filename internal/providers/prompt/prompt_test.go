package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestOpenAITranslatorSkipsASCII(t *testing.T) {
	called := false
	tr, err := NewOpenAITranslator(OpenAIOptions{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			called = true
			return nil, errors.New("unexpected")
		})},
	})
	if err != nil {
		t.Fatalf("NewOpenAITranslator: %v", err)
	}
	if got := tr.Translate(context.Background(), "  sunset over the sea "); got != "sunset over the sea" {
		t.Fatalf("got %q", got)
	}
	if called {
		t.Fatal("ascii prompt should not reach the api")
	}
}

func TestOpenAITranslatorTranslates(t *testing.T) {
	var captured openAIChatRequest
	tr, err := NewOpenAITranslator(OpenAIOptions{
		APIKey: "k",
		Model:  "gpt4o-mini",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get("Authorization") != "Bearer k" {
				t.Errorf("auth header = %q", r.Header.Get("Authorization"))
			}
			_ = json.NewDecoder(r.Body).Decode(&captured)
			return jsonResponse(http.StatusOK, `{"choices":[{"message":{"content":" mountain lake at dawn "}}]}`), nil
		})},
	})
	if err != nil {
		t.Fatalf("NewOpenAITranslator: %v", err)
	}
	if got := tr.Translate(context.Background(), "горное озеро на рассвете"); got != "mountain lake at dawn" {
		t.Fatalf("got %q", got)
	}
	if captured.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q", captured.Model)
	}
	if len(captured.Messages) != 2 || captured.Messages[1].Content != "горное озеро на рассвете" {
		t.Fatalf("messages = %+v", captured.Messages)
	}
}

func TestOpenAITranslatorFallsBack(t *testing.T) {
	var reason string
	tr, err := NewOpenAITranslator(OpenAIOptions{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusTooManyRequests, `{}`), nil
		})},
		OnFallback: func(r string, err error) { reason = r },
	})
	if err != nil {
		t.Fatalf("NewOpenAITranslator: %v", err)
	}
	if got := tr.Translate(context.Background(), "море"); got != "море" {
		t.Fatalf("got %q", got)
	}
	if reason != "http_429" {
		t.Fatalf("reason = %q", reason)
	}
}

func TestGeminiTranslator(t *testing.T) {
	tr, err := NewGeminiTranslator(GeminiOptions{
		APIKey: "g",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent") {
				t.Errorf("path = %s", r.URL.Path)
			}
			return jsonResponse(http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"forest"}]}}]}`), nil
		})},
	})
	if err != nil {
		t.Fatalf("NewGeminiTranslator: %v", err)
	}
	if got := tr.Translate(context.Background(), "ліс"); got != "forest" {
		t.Fatalf("got %q", got)
	}
}

type fixedTranslator string

func (f fixedTranslator) Translate(context.Context, string) string { return string(f) }

func TestChainReturnsFirstChange(t *testing.T) {
	chain := Chain{Passthrough{}, fixedTranslator(""), fixedTranslator("beach")}
	if got := chain.Translate(context.Background(), "пляж"); got != "beach" {
		t.Fatalf("got %q", got)
	}
	if got := (Chain{Passthrough{}}).Translate(context.Background(), " пляж "); got != "пляж" {
		t.Fatalf("got %q", got)
	}
}
