package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retouch/internal/domain"
	"retouch/internal/imageops"
	"retouch/internal/providers"
	"retouch/internal/providers/local"
	"retouch/internal/storage"
)

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeDispatcher answers each tool with a canned output and records calls.
type fakeDispatcher struct {
	mu      sync.Mutex
	outputs map[domain.ToolID]providers.Output
	err     error
	calls   []providers.Request
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req providers.Request) (*providers.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	out, ok := f.outputs[req.Tool]
	if !ok {
		return nil, &domain.ConfigurationError{Tool: req.Tool}
	}
	return &providers.Result{Output: out, ProviderID: "fake-" + string(req.Tool)}, nil
}

// statusScript returns processing for the first n checks, then cancelled.
type statusScript struct {
	mu          sync.Mutex
	checks      int
	cancelAfter int
}

func (s *statusScript) Status(ctx context.Context, id string) (domain.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	if s.cancelAfter > 0 && s.checks > s.cancelAfter {
		return domain.JobStatusCancelled, nil
	}
	return domain.JobStatusProcessing, nil
}

type harness struct {
	runner     *Runner
	store      *storage.FileStore
	dispatcher *fakeDispatcher
	status     *statusScript
}

func newHarness(t *testing.T, mark string) *harness {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://files.test/static")
	require.NoError(t, err)
	mat := storage.NewMaterializer(store, nil, nil)
	localAdapter, err := local.NewAdapter(mat)
	require.NoError(t, err)
	h := &harness{store: store, dispatcher: &fakeDispatcher{outputs: map[domain.ToolID]providers.Output{}}, status: &statusScript{}}
	h.runner, err = NewRunner(Options{
		Dispatcher:   h.dispatcher,
		Local:        localAdapter,
		Store:        mat,
		Jobs:         h.status,
		FreePlanMark: mark,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) upload(t *testing.T, name string, data []byte) string {
	t.Helper()
	key, err := h.store.Write(context.Background(), "uploads/"+name, data)
	require.NoError(t, err)
	return h.store.URL(key)
}

func (h *harness) read(t *testing.T, url string) image.Image {
	t.Helper()
	key, ok := h.store.KeyFromURL(url)
	require.True(t, ok, url)
	data, err := h.store.Read(context.Background(), key)
	require.NoError(t, err)
	img, _, err := imageops.Decode(data)
	require.NoError(t, err)
	return img
}

func newJob(t *testing.T, tool domain.ToolID, in domain.JobInput) *domain.Job {
	t.Helper()
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	return &domain.Job{ID: "job-1", EditID: "edit-1", ToolID: tool, Status: domain.JobStatusProcessing, InputData: raw}
}

func TestCostTable(t *testing.T) {
	cases := []struct {
		tool   domain.ToolID
		prompt string
		want   int
	}{
		{domain.ToolUpscale, "", 3},
		{domain.ToolUpscale, "UPSCALE:2", 3},
		{domain.ToolUpscale, "UPSCALE:4", 5},
		{domain.ToolUpscale, "UPSCALE:8", 10},
		{domain.ToolUpscale, "UPSCALE:16", 3},
		{domain.ToolBackgroundChange, "forest", 10},
		{domain.ToolBackgroundChange, "CUSTOM_BG:http://x/bg.png", 4},
		{domain.ToolOldPhotoRestorePro, "", 10},
		{domain.ToolBlurFace, "", 2},
		{domain.ToolHDR, "", 0},
		{domain.ToolWatermarkAdd, "", 0},
	}
	for _, tc := range cases {
		got, err := Cost(tc.tool, tc.prompt)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %q", tc.tool, tc.prompt)
	}
	_, err := Cost("paint-by-numbers", "")
	assert.True(t, domain.IsValidation(err))
	assert.Len(t, Costs(), 20)
}

func TestCheckPlan(t *testing.T) {
	assert.ErrorIs(t, CheckPlan(domain.ToolUpscale, "UPSCALE:4", domain.PlanFree), domain.ErrPlanRequired)
	assert.ErrorIs(t, CheckPlan(domain.ToolUpscale, "UPSCALE:8", domain.PlanFree), domain.ErrPlanRequired)
	assert.NoError(t, CheckPlan(domain.ToolUpscale, "UPSCALE:8", domain.PlanPro))
	assert.NoError(t, CheckPlan(domain.ToolUpscale, "UPSCALE:2", domain.PlanFree))
	assert.NoError(t, CheckPlan(domain.ToolColorize, "UPSCALE:8", domain.PlanFree))
}

func TestValidate(t *testing.T) {
	img := domain.JobInput{ImageURL: "http://x/a.png"}
	assert.NoError(t, Validate(domain.ToolColorize, img))
	assert.NoError(t, Validate(domain.ToolTextToImage, domain.JobInput{}))
	assert.True(t, domain.IsValidation(Validate(domain.ToolColorize, domain.JobInput{})))
	assert.True(t, domain.IsValidation(Validate(domain.ToolObjectRemoval, img)))
	assert.NoError(t, Validate(domain.ToolObjectRemoval, domain.JobInput{ImageURL: "http://x/a.png", MaskURL: "http://x/m.png"}))
	assert.True(t, domain.IsValidation(Validate(domain.ToolFaceSwap, img)))
	assert.NoError(t, Validate(domain.ToolFaceSwap, domain.JobInput{ImageURL: "http://x/a.png", Prompt: "TARGET:http://x/face.png"}))
	assert.True(t, domain.IsValidation(Validate(domain.ToolBlurFace, domain.JobInput{ImageURL: "http://x/a.png", Prompt: `{"faces":[]}`})))
	assert.True(t, domain.IsValidation(Validate(domain.ToolBlurFace, domain.JobInput{ImageURL: "http://x/a.png", Prompt: "blur please"})))
	assert.True(t, domain.IsValidation(Validate(domain.ToolBackgroundChange, domain.JobInput{ImageURL: "http://x/a.png", Prompt: "CUSTOM_BG:"})))
	assert.True(t, domain.IsValidation(Validate("nope", img)))
}

func TestLocalToolNeverDispatches(t *testing.T) {
	h := newHarness(t, "")
	h.dispatcher.err = errors.New("registry must not be consulted")
	url := h.upload(t, "a.png", solidPNG(t, 40, 30, color.NRGBA{R: 120, G: 80, B: 60, A: 255}))

	for _, tool := range []domain.ToolID{domain.ToolHDR, domain.ToolAutoLight, domain.ToolCompress, domain.ToolConvert, domain.ToolWatermarkAdd} {
		out, err := h.runner.Run(context.Background(), newJob(t, tool, domain.JobInput{ImageURL: url, Plan: domain.PlanPro}))
		require.NoError(t, err, tool)
		assert.Equal(t, domain.ProviderTypeLocal, out.ProviderID)
		img := h.read(t, out.ResultURL)
		assert.Equal(t, 40, img.Bounds().Dx())
	}
	assert.Empty(t, h.dispatcher.calls)
}

func TestBlurFaceRunsLocally(t *testing.T) {
	h := newHarness(t, "")
	url := h.upload(t, "face.png", solidPNG(t, 120, 100, color.NRGBA{R: 200, A: 255}))
	job := newJob(t, domain.ToolBlurFace, domain.JobInput{ImageURL: url, Plan: domain.PlanPro, Prompt: `{"intensity":0.3,"faces":[{"x":20,"y":20,"width":50,"height":50}]}`})

	out, err := h.runner.Run(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out.ResultURL, ".png"))
	assert.Equal(t, 1, out.Metadata["faces"])
	assert.Empty(t, h.dispatcher.calls)
}

func TestBackgroundChangeKeepsSubjectSize(t *testing.T) {
	h := newHarness(t, "")
	url := h.upload(t, "subject.png", solidPNG(t, 800, 600, color.NRGBA{G: 200, A: 255}))
	subject := solidPNG(t, 800, 600, color.NRGBA{})
	h.dispatcher.outputs[domain.ToolBackgroundRemove] = providers.Output{Kind: providers.OutputInline, Data: subject, MIME: "image/png"}
	h.dispatcher.outputs[domain.ToolTextToImage] = providers.Output{Kind: providers.OutputInline, Data: solidPNG(t, 300, 500, color.NRGBA{B: 255, A: 255}), MIME: "image/png"}

	out, err := h.runner.Run(context.Background(), newJob(t, domain.ToolBackgroundChange, domain.JobInput{ImageURL: url, Prompt: "пляж", Plan: domain.PlanPro}))
	require.NoError(t, err)

	img := h.read(t, out.ResultURL)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 600, img.Bounds().Dy())
	_, _, b, _ := img.At(400, 300).RGBA()
	assert.Greater(t, b>>8, uint32(250), "transparent subject shows the generated background")

	require.Len(t, h.dispatcher.calls, 2)
	assert.Equal(t, domain.ToolBackgroundRemove, h.dispatcher.calls[0].Tool)
	assert.Equal(t, domain.ToolTextToImage, h.dispatcher.calls[1].Tool)
	assert.True(t, strings.HasPrefix(h.dispatcher.calls[1].Prompt, "beautiful beach"))
	assert.True(t, strings.HasSuffix(h.dispatcher.calls[1].Prompt, backgroundPromptSuffix))
}

func TestBackgroundChangeCustomSkipsGeneration(t *testing.T) {
	h := newHarness(t, "")
	url := h.upload(t, "subject.png", solidPNG(t, 64, 48, color.NRGBA{G: 200, A: 255}))
	bg := h.upload(t, "bg.png", solidPNG(t, 10, 90, color.NRGBA{R: 255, A: 255}))
	h.dispatcher.outputs[domain.ToolBackgroundRemove] = providers.Output{Kind: providers.OutputInline, Data: solidPNG(t, 64, 48, color.NRGBA{}), MIME: "image/png"}

	out, err := h.runner.Run(context.Background(), newJob(t, domain.ToolBackgroundChange, domain.JobInput{ImageURL: url, Prompt: PrefixCustomBG + bg, Plan: domain.PlanPro}))
	require.NoError(t, err)
	img := h.read(t, out.ResultURL)
	assert.Equal(t, image.Pt(64, 48), img.Bounds().Size())
	assert.Len(t, h.dispatcher.calls, 1)
}

func TestCancellationStopsNextStage(t *testing.T) {
	h := newHarness(t, "")
	h.status.cancelAfter = 1
	url := h.upload(t, "subject.png", solidPNG(t, 32, 32, color.NRGBA{A: 255}))
	h.dispatcher.outputs[domain.ToolBackgroundRemove] = providers.Output{Kind: providers.OutputInline, Data: solidPNG(t, 32, 32, color.NRGBA{}), MIME: "image/png"}
	h.dispatcher.outputs[domain.ToolTextToImage] = providers.Output{Kind: providers.OutputInline, Data: solidPNG(t, 32, 32, color.NRGBA{A: 255}), MIME: "image/png"}

	_, err := h.runner.Run(context.Background(), newJob(t, domain.ToolBackgroundChange, domain.JobInput{ImageURL: url, Plan: domain.PlanPro}))
	require.ErrorIs(t, err, domain.ErrCancelled)
	assert.Len(t, h.dispatcher.calls, 1)
}

func TestUpscale8xRunsTwoPasses(t *testing.T) {
	h := newHarness(t, "")
	url := h.upload(t, "big.png", solidPNG(t, 1200, 900, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))
	h.dispatcher.outputs[domain.ToolUpscale] = providers.Output{Kind: providers.OutputURL, URL: url}

	_, err := h.runner.Run(context.Background(), newJob(t, domain.ToolUpscale, domain.JobInput{ImageURL: url, Prompt: "UPSCALE:8", Plan: domain.PlanBusiness}))
	require.NoError(t, err)
	require.Len(t, h.dispatcher.calls, 2)

	first := h.dispatcher.calls[0]
	assert.Equal(t, 4, first.Params["scale"])
	require.True(t, strings.HasPrefix(first.ImageURL, "data:image/jpeg;base64,"))
	data, _, err := providers.DecodeDataURL(first.ImageURL)
	require.NoError(t, err)
	shrunk, _, err := imageops.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 512, shrunk.Bounds().Dx())

	second := h.dispatcher.calls[1]
	assert.Equal(t, 2, second.Params["scale"])
	assert.Equal(t, url, second.ImageURL, "1200px already fits the second pass")
}

func TestProviderFailurePropagates(t *testing.T) {
	h := newHarness(t, "")
	h.dispatcher.err = &domain.AggregateProviderError{Tool: domain.ToolColorize, Attempts: 2, Last: errors.New("boom")}
	_, err := h.runner.Run(context.Background(), newJob(t, domain.ToolColorize, domain.JobInput{ImageURL: "http://x/a.png"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "All providers failed")
}

func TestFreePlanResultIsWatermarked(t *testing.T) {
	h := newHarness(t, "Retouch")
	url := h.upload(t, "a.png", solidPNG(t, 400, 300, color.NRGBA{R: 90, G: 90, B: 90, A: 255}))

	free, err := h.runner.Run(context.Background(), newJob(t, domain.ToolHDR, domain.JobInput{ImageURL: url, Plan: domain.PlanFree}))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(free.ResultURL, ".png"), free.ResultURL)

	paid, err := h.runner.Run(context.Background(), newJob(t, domain.ToolHDR, domain.JobInput{ImageURL: url, Plan: domain.PlanPro}))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(paid.ResultURL, ".jpg"), paid.ResultURL)
}

type upperTranslator struct{}

func (upperTranslator) Translate(_ context.Context, text string) string { return "EN(" + text + ")" }

func TestBackgroundPrompt(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, defaultBackgroundPrompt+backgroundPromptSuffix, BackgroundPrompt(ctx, "", upperTranslator{}))
	assert.Equal(t, defaultBackgroundPrompt+backgroundPromptSuffix, BackgroundPrompt(ctx, placeholderPrompt, upperTranslator{}))
	assert.True(t, strings.HasPrefix(BackgroundPrompt(ctx, "Тропический пляж на закате", upperTranslator{}), "tropical beach"))
	assert.True(t, strings.HasPrefix(BackgroundPrompt(ctx, "ночной город", upperTranslator{}), "night city"))
	assert.Equal(t, "EN(vineyard)"+backgroundPromptSuffix, BackgroundPrompt(ctx, "vineyard", upperTranslator{}))
}

func TestUpscaleFactor(t *testing.T) {
	assert.Equal(t, 2, UpscaleFactor(""))
	assert.Equal(t, 4, UpscaleFactor("UPSCALE:4"))
	assert.Equal(t, 8, UpscaleFactor(" UPSCALE:8 "))
	assert.Equal(t, 2, UpscaleFactor("UPSCALE:3"))
	assert.Equal(t, 2, UpscaleFactor("upscale:8"))
}

func TestBackends(t *testing.T) {
	assert.Nil(t, Backends(domain.ToolHDR, ""))
	assert.Nil(t, Backends("nope", ""))
	assert.Equal(t, []domain.ToolID{domain.ToolColorize}, Backends(domain.ToolColorize, ""))
	assert.Equal(t, []domain.ToolID{domain.ToolBackgroundRemove, domain.ToolTextToImage}, Backends(domain.ToolBackgroundChange, "beach"))
	assert.Equal(t, []domain.ToolID{domain.ToolBackgroundRemove}, Backends(domain.ToolBackgroundChange, "CUSTOM_BG:https://x/bg.png"))
	assert.Equal(t, []domain.ToolID{domain.ToolBackgroundRemove}, Backends(domain.ToolBlurBackground, ""))
}
