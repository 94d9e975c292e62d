package pipeline

import (
	"context"
	"strings"

	"retouch/internal/providers/prompt"
)

const (
	defaultBackgroundPrompt = "beautiful natural scenery"
	backgroundPromptSuffix  = ", high quality, professional photography, seamless background, no people, empty scene"
	// placeholderPrompt is what the web client sends when the user typed nothing.
	placeholderPrompt = "Apply background-change"
)

// backgroundPresets maps common Russian and Ukrainian scene requests to
// English prompts. Longer phrases come first so they win over their parts.
var backgroundPresets = []struct {
	phrase string
	prompt string
}{
	{"студия красоты", "professional beauty salon interior, elegant modern design, soft lighting, mirrors, clean white and pink decor"},
	{"салон красоты", "professional beauty salon interior, elegant modern design, soft lighting, mirrors, clean aesthetic"},
	{"тропический пляж", "tropical beach with palm trees, ocean waves, sandy shore, sunny day, blue sky"},
	{"пляж", "beautiful beach, ocean, sandy shore, sunny day, vacation vibes"},
	{"ночной город", "night city skyline, city lights, urban night scene, illuminated buildings"},
	{"город", "modern city skyline, urban landscape, buildings, daytime"},
	{"горы", "majestic mountains, alpine landscape, scenic peaks, blue sky"},
	{"лес", "lush forest, green trees, natural woodland, sunlight through leaves"},
	{"ліс", "lush forest, green trees, natural woodland, sunlight through leaves"},
	{"закат", "beautiful sunset sky, orange and pink clouds, golden hour"},
	{"захід сонця", "beautiful sunset sky, orange and pink clouds, golden hour"},
	{"космос", "outer space, stars, galaxies, nebula, cosmic background"},
	{"офис", "modern office interior, professional workspace, clean design"},
	{"офіс", "modern office interior, professional workspace, clean design"},
	{"природа", "beautiful nature landscape, scenic outdoor view, green meadow"},
	{"белый фон", "clean pure white studio background, seamless white backdrop"},
	{"білий фон", "clean pure white studio background, seamless white backdrop"},
	{"студия", "professional photo studio background, neutral gray gradient backdrop"},
	{"студія", "professional photo studio background, neutral gray gradient backdrop"},
	{"кухня", "modern kitchen interior, clean design, bright and airy"},
	{"парк", "beautiful park, green grass, trees, sunny day, nature"},
	{"море", "ocean seascape, blue water, waves, sunny sky"},
}

// BackgroundPrompt builds the text-to-image prompt for a generated
// background: a preset when one matches, a translation otherwise, always
// followed by the scene suffix.
func BackgroundPrompt(ctx context.Context, userPrompt string, tr prompt.Translator) string {
	text := strings.TrimSpace(userPrompt)
	if text == "" || text == placeholderPrompt {
		return defaultBackgroundPrompt + backgroundPromptSuffix
	}
	lower := strings.ToLower(text)
	for _, p := range backgroundPresets {
		if strings.Contains(lower, p.phrase) {
			return p.prompt + backgroundPromptSuffix
		}
	}
	if tr != nil {
		text = tr.Translate(ctx, text)
	}
	return text + backgroundPromptSuffix
}
