// Package prompt translates user prompts into English for image models.
// Translation is best effort: every failure returns the input unchanged.
package prompt

import (
	"context"
	"strings"
	"unicode"
)

// Translator turns a prompt into English.
type Translator interface {
	Translate(ctx context.Context, text string) string
}

// Passthrough returns its input. It is used when no API key is configured.
type Passthrough struct{}

func (Passthrough) Translate(_ context.Context, text string) string { return strings.TrimSpace(text) }

// NeedsTranslation reports whether text has characters outside ASCII.
// Plain ASCII prompts are assumed to be English already.
func NeedsTranslation(text string) bool {
	for _, r := range text {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

// FallbackFunc observes why a translator fell back to the original text.
type FallbackFunc func(reason string, err error)

const translateInstruction = "Translate the following text to English. Return ONLY the translation, nothing else. Keep it concise and suitable for image generation prompts."

// Chain tries translators in order and returns the first result that
// differs from the input.
type Chain []Translator

func (c Chain) Translate(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	for _, t := range c {
		if out := t.Translate(ctx, text); out != "" && out != text {
			return out
		}
	}
	return text
}

var (
	_ Translator = Passthrough{}
	_ Translator = Chain(nil)
)
