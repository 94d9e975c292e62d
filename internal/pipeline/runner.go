package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"retouch/internal/domain"
	"retouch/internal/imageops"
	"retouch/internal/infra"
	"retouch/internal/providers"
	"retouch/internal/providers/prompt"
	"retouch/internal/storage"
)

// Dispatcher runs one remote stage against the tool's providers.
type Dispatcher interface {
	Dispatch(ctx context.Context, req providers.Request) (*providers.Result, error)
}

// ResultStore reads stage inputs and persists the final image.
type ResultStore interface {
	providers.Fetcher
	Materialize(ctx context.Context, out providers.Output, t storage.Target) (string, error)
}

// StatusReader exposes the job status for cancellation checkpoints.
type StatusReader interface {
	Status(ctx context.Context, id string) (domain.JobStatus, error)
}

// Options wires a Runner.
type Options struct {
	Dispatcher Dispatcher
	Local      providers.Adapter
	Store      ResultStore
	Jobs       StatusReader
	Translator prompt.Translator
	// FreePlanMark is the brand stamped on free-plan results. Empty disables it.
	FreePlanMark string
	Logger       *infra.Logger
}

// Runner executes jobs through the tool table.
type Runner struct {
	dispatcher   Dispatcher
	local        providers.Adapter
	store        ResultStore
	jobs         StatusReader
	translator   prompt.Translator
	freePlanMark string
	logger       *infra.Logger
}

// Outcome is a finished job.
type Outcome struct {
	ResultURL  string
	ProviderID string
	Metadata   map[string]any
}

func NewRunner(opts Options) (*Runner, error) {
	if opts.Dispatcher == nil || opts.Local == nil || opts.Store == nil || opts.Jobs == nil {
		return nil, errors.New("pipeline: dispatcher, local adapter, store and job reader are required")
	}
	translator := opts.Translator
	if translator == nil {
		translator = prompt.Passthrough{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Runner{
		dispatcher:   opts.Dispatcher,
		local:        opts.Local,
		store:        opts.Store,
		jobs:         opts.Jobs,
		translator:   translator,
		freePlanMark: opts.FreePlanMark,
		logger:       logger,
	}, nil
}

// Run executes the job's tool and materializes the result. Validation runs
// first; every stage is preceded by a cancellation checkpoint.
func (r *Runner) Run(ctx context.Context, job *domain.Job) (*Outcome, error) {
	var in domain.JobInput
	if len(job.InputData) > 0 {
		if err := json.Unmarshal(job.InputData, &in); err != nil {
			return nil, domain.NewValidationError(job.ToolID, "inputData", "malformed job input")
		}
	}
	if err := Validate(job.ToolID, in); err != nil {
		return nil, err
	}
	tool := tools[job.ToolID]

	s := &stageEnv{runner: r, job: job, meta: map[string]any{"tool": string(job.ToolID)}}
	start := time.Now()
	out, err := tool.run(ctx, s, in)
	if err != nil {
		return nil, err
	}
	if err := s.checkpoint(ctx); err != nil {
		return nil, err
	}

	target := storage.Target{EditID: job.EditID, Tool: job.ToolID}
	if r.freePlanMark != "" && !in.Plan.Paid() {
		target.Watermark = r.freePlanMark
	}
	url, err := r.store.Materialize(ctx, out, target)
	if err != nil {
		return nil, err
	}
	s.meta["stages"] = s.stages
	r.logger.Info().Str("job_id", job.ID).Str("tool", string(job.ToolID)).Int("stages", s.stages).
		Dur("elapsed", time.Since(start)).Msg("pipeline: job finished")
	return &Outcome{ResultURL: url, ProviderID: s.providerID, Metadata: s.meta}, nil
}

// stageEnv carries per-job state between stages.
type stageEnv struct {
	runner     *Runner
	job        *domain.Job
	providerID string
	stages     int
	meta       map[string]any
}

// checkpoint stops the pipeline when the context is done or an operator
// cancelled the job.
func (s *stageEnv) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status, err := s.runner.jobs.Status(ctx, s.job.ID)
	if err != nil {
		return fmt.Errorf("check job status: %w", err)
	}
	if status == domain.JobStatusCancelled {
		return domain.ErrCancelled
	}
	return nil
}

func (s *stageEnv) dispatch(ctx context.Context, stage string, req providers.Request) (providers.Output, error) {
	if err := s.checkpoint(ctx); err != nil {
		return providers.Output{}, err
	}
	s.stages++
	s.runner.logger.Debug().Str("job_id", s.job.ID).Str("stage", stage).Str("tool", string(req.Tool)).Msg("pipeline: stage started")
	res, err := s.runner.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return providers.Output{}, err
	}
	s.providerID = res.ProviderID
	if res.Metadata != nil {
		s.meta[stage] = res.Metadata
	}
	return res.Output, nil
}

func (s *stageEnv) runLocal(ctx context.Context, req providers.Request) (providers.Output, error) {
	if err := s.checkpoint(ctx); err != nil {
		return providers.Output{}, err
	}
	s.stages++
	res, err := s.runner.local.Process(ctx, req, domain.ProviderConfig{})
	if err != nil {
		return providers.Output{}, err
	}
	s.providerID = s.runner.local.Type()
	return res.Output, nil
}

// image decodes a stage output or a URL into pixels.
func (s *stageEnv) image(ctx context.Context, out providers.Output) (image.Image, error) {
	data := out.Data
	if out.Kind == providers.OutputURL {
		fetched, _, err := s.runner.store.Fetch(ctx, out.URL)
		if err != nil {
			return nil, &domain.StorageError{Op: "fetch stage output", Err: err}
		}
		data = fetched
	}
	img, _, err := imageops.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode stage output: %w", err)
	}
	return img, nil
}

func (s *stageEnv) fetchImage(ctx context.Context, url string) (image.Image, error) {
	return s.image(ctx, providers.Output{Kind: providers.OutputURL, URL: url})
}

// stageURL hands one stage's output to the next as a URL.
func stageURL(out providers.Output) string {
	if out.Kind == providers.OutputURL {
		return out.URL
	}
	return providers.DataURL(out.Data, out.MIME)
}

// pngOutput encodes a composed image as the final buffer.
func pngOutput(img image.Image) (providers.Output, error) {
	data, err := imageops.Encode(img, imageops.PNG, 0)
	if err != nil {
		return providers.Output{}, err
	}
	return providers.Output{Kind: providers.OutputBuffer, Data: data, MIME: imageops.PNG.MIME()}, nil
}
