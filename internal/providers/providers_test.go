package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"retouch/internal/domain"
)

type stubConfigs struct {
	mu      sync.Mutex
	configs []domain.ProviderConfig
	health  map[string]domain.HealthStatus
	listErr error
}

func (s *stubConfigs) ListByTool(ctx context.Context, tool domain.ToolID) ([]domain.ProviderConfig, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.ProviderConfig
	for _, c := range s.configs {
		if c.ToolID == tool {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubConfigs) List(ctx context.Context) ([]domain.ProviderConfig, error) {
	return s.configs, nil
}

func (s *stubConfigs) Get(ctx context.Context, id string) (*domain.ProviderConfig, error) {
	for _, c := range s.configs {
		if c.ID == id {
			cfg := c
			return &cfg, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubConfigs) Create(ctx context.Context, cfg *domain.ProviderConfig) error {
	s.configs = append(s.configs, *cfg)
	return nil
}

func (s *stubConfigs) Update(ctx context.Context, cfg *domain.ProviderConfig) error { return nil }

func (s *stubConfigs) Delete(ctx context.Context, id string) error { return nil }

func (s *stubConfigs) UpdateHealth(ctx context.Context, id string, status domain.HealthStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.health == nil {
		s.health = map[string]domain.HealthStatus{}
	}
	s.health[id] = status
	return nil
}

type stubAdapter struct {
	typ     string
	fail    map[string]error
	healthy bool
	delay   time.Duration

	mu       sync.Mutex
	calls    []string
	inFlight int32
	peak     int32
}

func (a *stubAdapter) Type() string { return a.typ }

func (a *stubAdapter) Capabilities() []domain.ToolID {
	return []domain.ToolID{domain.ToolEnhance, domain.ToolUpscale}
}

func (a *stubAdapter) Process(ctx context.Context, req Request, cfg domain.ProviderConfig) (*Result, error) {
	n := atomic.AddInt32(&a.inFlight, 1)
	defer atomic.AddInt32(&a.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&a.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&a.peak, peak, n) {
			break
		}
	}
	a.mu.Lock()
	a.calls = append(a.calls, cfg.ID)
	a.mu.Unlock()
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if err := a.fail[cfg.ID]; err != nil {
		return nil, err
	}
	return &Result{Output: Output{Kind: OutputURL, URL: "https://cdn.example.com/" + cfg.ID + ".png"}}, nil
}

func (a *stubAdapter) CheckHealth(ctx context.Context, cfg domain.ProviderConfig) bool {
	return a.healthy
}

func cfg(id string, priority int, isDefault bool) domain.ProviderConfig {
	return domain.ProviderConfig{
		ID:           id,
		ToolID:       domain.ToolEnhance,
		ProviderType: "stub",
		Priority:     priority,
		IsDefault:    isDefault,
		IsActive:     true,
	}
}

func TestSelectCandidatesOrdersDefaultFirstThenPriority(t *testing.T) {
	store := &stubConfigs{configs: []domain.ProviderConfig{
		cfg("p2", 2, false),
		cfg("p1", 1, false),
		cfg("p9", 9, true),
	}}
	reg := NewRegistry(store, nil, &stubAdapter{typ: "stub"})

	got, err := reg.SelectCandidates(context.Background(), domain.ToolEnhance)
	if err != nil {
		t.Fatalf("SelectCandidates error: %v", err)
	}
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	if strings.Join(ids, ",") != "p9,p1,p2" {
		t.Fatalf("order = %v, want [p9 p1 p2]", ids)
	}
}

func TestSelectCandidatesKeepsInsertionOrderOnTies(t *testing.T) {
	inactive := cfg("off", 0, true)
	inactive.IsActive = false
	store := &stubConfigs{configs: []domain.ProviderConfig{
		cfg("b", 5, false), cfg("a", 5, false), inactive, cfg("c", 5, false),
	}}
	reg := NewRegistry(store, nil)
	got, err := reg.SelectCandidates(context.Background(), domain.ToolEnhance)
	if err != nil {
		t.Fatalf("SelectCandidates error: %v", err)
	}
	if len(got) != 3 || got[0].ID != "b" || got[1].ID != "a" || got[2].ID != "c" {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestSelectCandidatesEmptyIsConfigurationError(t *testing.T) {
	reg := NewRegistry(&stubConfigs{}, nil)
	_, err := reg.SelectCandidates(context.Background(), domain.ToolColorize)
	if !domain.IsConfiguration(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestDispatchFirstSuccessStops(t *testing.T) {
	adapter := &stubAdapter{typ: "stub"}
	store := &stubConfigs{configs: []domain.ProviderConfig{cfg("p1", 1, false), cfg("p2", 2, false)}}
	d := NewDispatcher(NewRegistry(store, nil, adapter), nil, nil)

	res, err := d.Dispatch(context.Background(), Request{Tool: domain.ToolEnhance})
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if res.ProviderID != "p1" {
		t.Fatalf("provider = %q, want p1", res.ProviderID)
	}
	if len(adapter.calls) != 1 {
		t.Fatalf("calls = %v, want only p1", adapter.calls)
	}
}

func TestDispatchFallsThroughToNextCandidate(t *testing.T) {
	adapter := &stubAdapter{typ: "stub", fail: map[string]error{"p9": errors.New("boom")}}
	store := &stubConfigs{configs: []domain.ProviderConfig{cfg("p1", 1, false), cfg("p9", 9, true)}}
	d := NewDispatcher(NewRegistry(store, nil, adapter), nil, nil)

	res, err := d.Dispatch(context.Background(), Request{Tool: domain.ToolEnhance})
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if res.ProviderID != "p1" {
		t.Fatalf("provider = %q, want p1", res.ProviderID)
	}
	if strings.Join(adapter.calls, ",") != "p9,p1" {
		t.Fatalf("calls = %v", adapter.calls)
	}
}

func TestDispatchAllFailReportsLastError(t *testing.T) {
	adapter := &stubAdapter{typ: "stub", fail: map[string]error{
		"p1": errors.New("first"),
		"p2": errors.New("timeout"),
	}}
	unknown := cfg("p0", 0, true)
	unknown.ProviderType = "mystery"
	store := &stubConfigs{configs: []domain.ProviderConfig{unknown, cfg("p1", 1, false), cfg("p2", 2, false)}}
	d := NewDispatcher(NewRegistry(store, nil, adapter), nil, nil)

	_, err := d.Dispatch(context.Background(), Request{Tool: domain.ToolEnhance})
	var agg *domain.AggregateProviderError
	if !errors.As(err, &agg) {
		t.Fatalf("expected AggregateProviderError, got %v", err)
	}
	if agg.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", agg.Attempts)
	}
	if !strings.HasPrefix(err.Error(), "All providers failed. Last error: ") || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("message = %q", err.Error())
	}
	if strings.Join(adapter.calls, ",") != "p1,p2" {
		t.Fatalf("calls = %v", adapter.calls)
	}
}

func TestDispatchHonorsConcurrencyLimit(t *testing.T) {
	adapter := &stubAdapter{typ: "stub", delay: 20 * time.Millisecond}
	store := &stubConfigs{configs: []domain.ProviderConfig{cfg("p1", 1, false)}}
	d := NewDispatcher(NewRegistry(store, nil, adapter), map[string]int{"stub": 2}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Dispatch(context.Background(), Request{Tool: domain.ToolEnhance}); err != nil {
				t.Errorf("Dispatch error: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak := atomic.LoadInt32(&adapter.peak); peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestCheckHealthPersistsStatus(t *testing.T) {
	store := &stubConfigs{configs: []domain.ProviderConfig{cfg("p1", 1, false)}}
	reg := NewRegistry(store, nil, &stubAdapter{typ: "stub", healthy: false})
	healthy, err := reg.CheckHealth(context.Background(), "p1")
	if err != nil {
		t.Fatalf("CheckHealth error: %v", err)
	}
	if healthy {
		t.Fatal("expected unhealthy")
	}
	if store.health["p1"] != domain.HealthUnhealthy {
		t.Fatalf("stored health = %q", store.health["p1"])
	}
}

func TestCreateRejectsUnknownTypeAndUnsupportedTool(t *testing.T) {
	reg := NewRegistry(&stubConfigs{}, nil, &stubAdapter{typ: "stub"})
	bad := cfg("x", 1, false)
	bad.ProviderType = "nope"
	if err := reg.Create(context.Background(), &bad); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	unsupported := cfg("y", 1, false)
	unsupported.ToolID = domain.ToolFaceSwap
	if err := reg.Create(context.Background(), &unsupported); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	ok := cfg("z", 1, false)
	if err := reg.Create(context.Background(), &ok); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if ok.Timeout != 300*time.Second {
		t.Fatalf("timeout = %v, want default 300s", ok.Timeout)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want domain.ErrorCode
	}{
		{domain.NewValidationError(domain.ToolObjectRemoval, "mask", "required"), domain.ErrorCodeValidation},
		{fmt.Errorf("stage 2: %w", domain.ErrCancelled), domain.ErrorCodeCancelled},
		{&domain.ProviderError{ProviderID: "p", ProviderType: "replicate", StatusCode: 429, Err: errors.New("slow down")}, domain.ErrorCodeRateLimited},
		{&domain.AggregateProviderError{Last: &domain.ProviderError{StatusCode: 401, Err: errors.New("bad key")}}, domain.ErrorCodeUnauthorized},
		{errors.New("upstream said: Rate limit exceeded"), domain.ErrorCodeRateLimited},
		{fmt.Errorf("runpod: %w", domain.ErrNoResult), domain.ErrorCodeNoResult},
		{errors.New("unexpected output shape"), domain.ErrorCodeNoResult},
		{errors.New("connection reset"), domain.ErrorCodeTransientUnavailable},
		{nil, domain.ErrorCodeNone},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestParseOutput(t *testing.T) {
	out, err := ParseOutput("https://cdn.example.com/a.png")
	if err != nil || out.Kind != OutputURL || out.URL != "https://cdn.example.com/a.png" {
		t.Fatalf("url output = %+v, %v", out, err)
	}

	out, err = ParseOutput(map[string]any{"image": "data:image/jpeg;base64,AQID"})
	if err != nil || out.Kind != OutputInline || out.MIME != "image/jpeg" || len(out.Data) != 3 {
		t.Fatalf("data url output = %+v, %v", out, err)
	}

	out, err = ParseOutput(map[string]any{"output": []any{"AQID", "ignored"}})
	if err != nil || out.Kind != OutputInline || out.MIME != "image/png" {
		t.Fatalf("raw base64 output = %+v, %v", out, err)
	}

	envelopes := map[string]any{
		"rembg":        map[string]any{"data": map[string]any{"image": "AQID"}, "result": true},
		"result":       map[string]any{"result": "AQID"},
		"nested":       map[string]any{"output": map[string]any{"image": "AQID"}},
		"comfy data":   map[string]any{"images": []any{map[string]any{"filename": "out.png", "type": "output", "data": "AQID"}}},
		"comfy image":  map[string]any{"images": []any{map[string]any{"image": "data:image/png;base64,AQID"}}},
		"output_image": map[string]any{"output_image": "AQID"},
	}
	for name, v := range envelopes {
		out, err := ParseOutput(v)
		if err != nil || out.Kind != OutputInline || len(out.Data) != 3 {
			t.Errorf("%s: ParseOutput = %+v, %v", name, out, err)
		}
	}

	for _, bad := range []any{nil, 42, map[string]any{"status": "ok"}, map[string]any{"result": true}, []any{}, "%%%"} {
		if _, err := ParseOutput(bad); !errors.Is(err, domain.ErrNoResult) {
			t.Errorf("ParseOutput(%v) error = %v, want ErrNoResult", bad, err)
		}
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	url := DataURL([]byte{1, 2, 3}, "image/webp")
	data, mime, err := DecodeDataURL(url)
	if err != nil {
		t.Fatalf("DecodeDataURL error: %v", err)
	}
	if mime != "image/webp" || len(data) != 3 {
		t.Fatalf("decoded = %v %q", data, mime)
	}
	if _, _, err := DecodeDataURL("data:text/plain,hello"); err == nil {
		t.Fatal("expected error for non-base64 data url")
	}
}
