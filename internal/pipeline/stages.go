package pipeline

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"retouch/internal/domain"
	"retouch/internal/imageops"
	"retouch/internal/providers"
)

const blurBackgroundSigma = 20

func runSingle(params map[string]any) func(context.Context, *stageEnv, domain.JobInput) (providers.Output, error) {
	return func(ctx context.Context, s *stageEnv, in domain.JobInput) (providers.Output, error) {
		return s.dispatch(ctx, "process", providers.Request{
			Tool:     s.job.ToolID,
			ImageURL: in.ImageURL,
			MaskURL:  in.MaskURL,
			Prompt:   in.Prompt,
			Params:   maps.Clone(params),
		})
	}
}

func runLocal(ctx context.Context, s *stageEnv, in domain.JobInput) (providers.Output, error) {
	return s.runLocal(ctx, providers.Request{Tool: s.job.ToolID, ImageURL: in.ImageURL, Prompt: in.Prompt})
}

// upscalePass is one model call: the input is shrunk to maxDim first so the
// GPU does not run out of memory.
type upscalePass struct {
	scale  int
	maxDim int
}

var upscalePlans = map[int][]upscalePass{
	2: {{scale: 2, maxDim: 1024}},
	4: {{scale: 4, maxDim: 768}},
	8: {{scale: 4, maxDim: 512}, {scale: 2, maxDim: 2048}},
}

func runUpscale(ctx context.Context, s *stageEnv, in domain.JobInput) (providers.Output, error) {
	factor := UpscaleFactor(in.Prompt)
	s.meta["factor"] = factor
	url := in.ImageURL
	var out providers.Output
	for i, pass := range upscalePlans[factor] {
		input, err := s.shrink(ctx, url, pass.maxDim)
		if err != nil {
			return providers.Output{}, err
		}
		out, err = s.dispatch(ctx, fmt.Sprintf("upscale_%d", i+1), providers.Request{
			Tool:     domain.ToolUpscale,
			ImageURL: input,
			Params:   map[string]any{"scale": pass.scale, "enhance": false},
		})
		if err != nil {
			return providers.Output{}, err
		}
		url = stageURL(out)
	}
	return out, nil
}

// shrink returns url unchanged when the image already fits, otherwise a data
// URL of the downscaled image.
func (s *stageEnv) shrink(ctx context.Context, url string, maxDim int) (string, error) {
	img, err := s.fetchImage(ctx, url)
	if err != nil {
		return "", err
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return url, nil
	}
	small := imageops.FitInside(img, maxDim)
	format := imageops.JPEG
	if imageops.HasAlpha(small) {
		format = imageops.PNG
	}
	data, err := imageops.Encode(small, format, imageops.DefaultJPEGQuality)
	if err != nil {
		return "", err
	}
	return providers.DataURL(data, format.MIME()), nil
}

func runTextToImage(ctx context.Context, s *stageEnv, in domain.JobInput) (providers.Output, error) {
	text := strings.TrimSpace(in.Prompt)
	if text == "" {
		text = defaultTextToImagePrompt
	}
	return s.dispatch(ctx, "generate", providers.Request{
		Tool:   domain.ToolTextToImage,
		Prompt: s.runner.translator.Translate(ctx, text),
	})
}

func runFaceSwap(ctx context.Context, s *stageEnv, in domain.JobInput) (providers.Output, error) {
	return s.dispatch(ctx, "swap", providers.Request{
		Tool:     domain.ToolFaceSwap,
		ImageURL: in.ImageURL,
		Params:   map[string]any{"sourceFace": targetURL(in.Prompt)},
	})
}

func runBackgroundChange(ctx context.Context, s *stageEnv, in domain.JobInput) (providers.Output, error) {
	cut, err := s.dispatch(ctx, "remove_background", providers.Request{Tool: domain.ToolBackgroundRemove, ImageURL: in.ImageURL})
	if err != nil {
		return providers.Output{}, err
	}
	subject, err := s.image(ctx, cut)
	if err != nil {
		return providers.Output{}, err
	}

	var bgOut providers.Output
	if custom, ok := strings.CutPrefix(in.Prompt, PrefixCustomBG); ok {
		s.meta["background"] = "custom"
		bgOut = providers.Output{Kind: providers.OutputURL, URL: strings.TrimSpace(custom)}
	} else {
		s.meta["background"] = "generated"
		bgOut, err = s.dispatch(ctx, "generate_background", providers.Request{
			Tool:   domain.ToolTextToImage,
			Prompt: BackgroundPrompt(ctx, in.Prompt, s.runner.translator),
		})
		if err != nil {
			return providers.Output{}, err
		}
	}
	background, err := s.image(ctx, bgOut)
	if err != nil {
		return providers.Output{}, err
	}
	if err := s.checkpoint(ctx); err != nil {
		return providers.Output{}, err
	}
	return pngOutput(imageops.ReplaceBackground(subject, background))
}

func runBlurBackground(ctx context.Context, s *stageEnv, in domain.JobInput) (providers.Output, error) {
	cut, err := s.dispatch(ctx, "remove_background", providers.Request{Tool: domain.ToolBackgroundRemove, ImageURL: in.ImageURL})
	if err != nil {
		return providers.Output{}, err
	}
	subject, err := s.image(ctx, cut)
	if err != nil {
		return providers.Output{}, err
	}
	original, err := s.fetchImage(ctx, in.ImageURL)
	if err != nil {
		return providers.Output{}, err
	}
	if err := s.checkpoint(ctx); err != nil {
		return providers.Output{}, err
	}
	return pngOutput(imageops.ReplaceBackground(subject, imageops.Blur(original, blurBackgroundSigma)))
}

func runBlurFace(ctx context.Context, s *stageEnv, in domain.JobInput) (providers.Output, error) {
	settings, err := ParseBlurFace(in.Prompt)
	if err != nil {
		return providers.Output{}, domain.NewValidationError(domain.ToolBlurFace, "prompt", "settings must be JSON")
	}
	if err := s.checkpoint(ctx); err != nil {
		return providers.Output{}, err
	}
	s.stages++
	img, err := s.fetchImage(ctx, in.ImageURL)
	if err != nil {
		return providers.Output{}, err
	}
	s.meta["faces"] = len(settings.Faces)
	s.providerID = domain.ProviderTypeLocal
	return pngOutput(imageops.BlurFaces(img, settings.Faces, settings.Intensity))
}
