// Package pipeline turns a job into a finished image. Each tool is a table
// entry with its price, input checks and the stages that produce the result.
package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"retouch/internal/domain"
	"retouch/internal/imageops"
	"retouch/internal/providers"
)

// Shape tells how a tool produces its result.
type Shape string

const (
	// ShapeSingle is one dispatcher call.
	ShapeSingle Shape = "single"
	// ShapeLocal never leaves the process and never consults the registry.
	ShapeLocal Shape = "local"
	// ShapeComposite chains several stages.
	ShapeComposite Shape = "composite"
)

// Prompt prefixes understood by the tools.
const (
	PrefixUpscale  = "UPSCALE:"
	PrefixCustomBG = "CUSTOM_BG:"
	PrefixTarget   = "TARGET:"
)

// CustomBackgroundCost replaces the background-change price when the user
// supplies their own background image.
const CustomBackgroundCost = 4

const defaultTextToImagePrompt = "beautiful landscape"

// Tool is one entry of the tool table.
type Tool struct {
	ID       domain.ToolID
	BaseCost int
	Shape    Shape

	needsImage bool
	validate   func(in domain.JobInput) error
	run        func(ctx context.Context, s *stageEnv, in domain.JobInput) (providers.Output, error)
}

var tools = map[domain.ToolID]Tool{}

func register(t Tool) {
	tools[t.ID] = t
}

func init() {
	single := func(id domain.ToolID, cost int, params map[string]any) {
		register(Tool{ID: id, BaseCost: cost, Shape: ShapeSingle, needsImage: true, run: runSingle(params)})
	}
	local := func(id domain.ToolID) {
		register(Tool{ID: id, Shape: ShapeLocal, needsImage: true, run: runLocal})
	}

	register(Tool{ID: domain.ToolUpscale, BaseCost: 3, Shape: ShapeSingle, needsImage: true, run: runUpscale})
	single(domain.ToolEnhance, 4, map[string]any{"scale": 2, "enhance": true})
	single(domain.ToolFaceRestore, 4, nil)
	single(domain.ToolPortraitEnhance, 4, nil)
	single(domain.ToolMakeup, 3, nil)
	single(domain.ToolOldPhotoRestore, 8, nil)
	single(domain.ToolOldPhotoRestorePro, 10, nil)
	single(domain.ToolBackgroundRemove, 3, nil)
	single(domain.ToolColorize, 5, nil)
	register(Tool{ID: domain.ToolObjectRemoval, BaseCost: 8, Shape: ShapeSingle, needsImage: true,
		validate: validateMask, run: runSingle(nil)})
	register(Tool{ID: domain.ToolTextToImage, BaseCost: 2, Shape: ShapeSingle, run: runTextToImage})
	register(Tool{ID: domain.ToolFaceSwap, BaseCost: 8, Shape: ShapeSingle, needsImage: true,
		validate: validateFaceSwap, run: runFaceSwap})
	register(Tool{ID: domain.ToolBackgroundChange, BaseCost: 10, Shape: ShapeComposite, needsImage: true,
		validate: validateBackgroundChange, run: runBackgroundChange})
	register(Tool{ID: domain.ToolBlurBackground, BaseCost: 3, Shape: ShapeComposite, needsImage: true, run: runBlurBackground})
	register(Tool{ID: domain.ToolBlurFace, BaseCost: 2, Shape: ShapeLocal, needsImage: true,
		validate: validateBlurFace, run: runBlurFace})
	local(domain.ToolHDR)
	local(domain.ToolAutoLight)
	local(domain.ToolCompress)
	local(domain.ToolConvert)
	local(domain.ToolWatermarkAdd)
}

// Lookup returns the table entry for id.
func Lookup(id domain.ToolID) (Tool, bool) {
	t, ok := tools[id]
	return t, ok
}

// Backends lists the tools whose provider configs a job dispatches to. Local
// tools need none.
func Backends(id domain.ToolID, prompt string) []domain.ToolID {
	t, ok := tools[id]
	if !ok || t.Shape == ShapeLocal {
		return nil
	}
	switch id {
	case domain.ToolBackgroundChange:
		if strings.HasPrefix(prompt, PrefixCustomBG) {
			return []domain.ToolID{domain.ToolBackgroundRemove}
		}
		return []domain.ToolID{domain.ToolBackgroundRemove, domain.ToolTextToImage}
	case domain.ToolBlurBackground:
		return []domain.ToolID{domain.ToolBackgroundRemove}
	default:
		return []domain.ToolID{id}
	}
}

// Tools lists the table sorted by id.
func Tools() []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Costs maps every tool to its base price.
func Costs() map[domain.ToolID]int {
	out := make(map[domain.ToolID]int, len(tools))
	for id, t := range tools {
		out[id] = t.BaseCost
	}
	return out
}

// Cost prices one request. Prompt surcharges: UPSCALE:4 is 5 credits,
// UPSCALE:8 is 10 and a custom background is 4.
func Cost(id domain.ToolID, prompt string) (int, error) {
	t, ok := tools[id]
	if !ok {
		return 0, unknownTool(id)
	}
	switch id {
	case domain.ToolUpscale:
		switch UpscaleFactor(prompt) {
		case 8:
			return 10, nil
		case 4:
			return 5, nil
		}
	case domain.ToolBackgroundChange:
		if strings.HasPrefix(prompt, PrefixCustomBG) {
			return CustomBackgroundCost, nil
		}
	}
	return t.BaseCost, nil
}

// CheckPlan returns ErrPlanRequired when the request needs a paid plan.
func CheckPlan(id domain.ToolID, prompt string, plan domain.Plan) error {
	if id == domain.ToolUpscale && UpscaleFactor(prompt) > 2 && !plan.Paid() {
		return domain.ErrPlanRequired
	}
	return nil
}

// Validate checks the inputs a tool needs. It never contacts a provider.
func Validate(id domain.ToolID, in domain.JobInput) error {
	t, ok := tools[id]
	if !ok {
		return unknownTool(id)
	}
	if t.needsImage && strings.TrimSpace(in.ImageURL) == "" {
		return domain.NewValidationError(id, "imageUrl", "an input image is required")
	}
	if t.validate != nil {
		return t.validate(in)
	}
	return nil
}

func unknownTool(id domain.ToolID) error {
	return &domain.ValidationError{Tool: id, Field: "toolType", Message: domain.ErrUnknownTool.Error()}
}

// UpscaleFactor reads UPSCALE:N from the prompt. Anything other than 2, 4
// or 8 means 2.
func UpscaleFactor(prompt string) int {
	rest, ok := strings.CutPrefix(strings.TrimSpace(prompt), PrefixUpscale)
	if !ok {
		return 2
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 2
	}
	switch n {
	case 2, 4, 8:
		return n
	default:
		return 2
	}
}

// BlurFaceSettings is the JSON prompt of blur-face.
type BlurFaceSettings struct {
	Intensity float64           `json:"intensity"`
	Faces     []imageops.Region `json:"faces"`
}

// ParseBlurFace reads the settings; intensity defaults to 0.5 and is
// clamped to 0..1.
func ParseBlurFace(prompt string) (BlurFaceSettings, error) {
	var s BlurFaceSettings
	if strings.TrimSpace(prompt) != "" {
		if err := json.Unmarshal([]byte(prompt), &s); err != nil {
			return BlurFaceSettings{}, err
		}
	}
	if s.Intensity <= 0 {
		s.Intensity = 0.5
	}
	s.Intensity = min(s.Intensity, 1)
	return s, nil
}

func validateMask(in domain.JobInput) error {
	if strings.TrimSpace(in.MaskURL) == "" {
		return domain.NewValidationError(domain.ToolObjectRemoval, "maskUrl", "a mask is required")
	}
	return nil
}

func validateFaceSwap(in domain.JobInput) error {
	if targetURL(in.Prompt) == "" {
		return domain.NewValidationError(domain.ToolFaceSwap, "prompt", "TARGET:<url> with the face to use is required")
	}
	return nil
}

func validateBackgroundChange(in domain.JobInput) error {
	if rest, ok := strings.CutPrefix(in.Prompt, PrefixCustomBG); ok && strings.TrimSpace(rest) == "" {
		return domain.NewValidationError(domain.ToolBackgroundChange, "prompt", "CUSTOM_BG: needs a background url")
	}
	return nil
}

func validateBlurFace(in domain.JobInput) error {
	s, err := ParseBlurFace(in.Prompt)
	if err != nil {
		return domain.NewValidationError(domain.ToolBlurFace, "prompt", "settings must be JSON")
	}
	if len(s.Faces) == 0 {
		return domain.NewValidationError(domain.ToolBlurFace, "faces", "select at least one face to blur")
	}
	return nil
}

func targetURL(prompt string) string {
	rest, ok := strings.CutPrefix(strings.TrimSpace(prompt), PrefixTarget)
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}
