package observability

import (
	"context"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/feedhive/feedhive/internal/config"
	"github.com/feedhive/feedhive/internal/llm"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/tools"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Anomaly != nil {
		t.Error("anomaly should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Initialize some metrics so they appear in Gather (CounterVec only
	// appears after first use).
	m.LLMRequestsTotal.WithLabelValues("test", "success").Inc()
	m.ToolExecutionsTotal.WithLabelValues("test", "success").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"feedhive_llm_requests_total",
		"feedhive_tool_executions_total",
		"feedhive_http_requests_total",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.LLMRequestsTotal.WithLabelValues("anthropic", "success").Inc()
	m.LLMRequestsTotal.WithLabelValues("anthropic", "success").Inc()
	m.LLMRequestsTotal.WithLabelValues("anthropic", "error").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "feedhive_llm_requests_total" {
			found = true
			for _, metric := range f.GetMetric() {
				labels := labelMap(metric.GetLabel())
				if labels["status"] == "success" {
					if got := metric.GetCounter().GetValue(); got != 2 {
						t.Errorf("success count = %v, want 2", got)
					}
				}
				if labels["status"] == "error" {
					if got := metric.GetCounter().GetValue(); got != 1 {
						t.Errorf("error count = %v, want 1", got)
					}
				}
			}
		}
	}
	if !found {
		t.Error("feedhive_llm_requests_total not found")
	}
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error { return nil })
	h.AddCheck("cache", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if len(status.Checks) != 2 {
		t.Errorf("checks = %d, want 2", len(status.Checks))
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error { return nil })
	h.AddCheck("cache", func(ctx context.Context) error { return errors.New("connection refused") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["cache"].Status != "fail" {
		t.Errorf("cache check = %q, want fail", status.Checks["cache"].Status)
	}
	if status.Checks["db"].Status != "ok" {
		t.Errorf("db check = %q, want ok", status.Checks["db"].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error { return errors.New("down") })

	// Liveness ignores dependency checks.
	if got := h.CheckHealth().Status; got != "ok" {
		t.Errorf("liveness = %q, want ok", got)
	}
}

// --- AnomalyDetector ---

func TestAnomalyDetector_NilSafe(t *testing.T) {
	var a *AnomalyDetector
	// Should not panic.
	a.RecordError("op")
	a.RecordSuccess("op")
}

func TestAnomalyDetector_ErrorRateThreshold(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{
		Enabled:            true,
		ErrorRateThreshold: 0.5,
		WindowSeconds:      60,
	}, nil)

	// Below minimum sample size: no panic, no effect.
	a.RecordError("flaky")
	a.RecordSuccess("flaky")

	// Push past the threshold.
	for i := 0; i < 10; i++ {
		a.RecordError("flaky")
	}
	if got := a.errorCounts["flaky"].sum(); got != 11 {
		t.Errorf("error sum = %v, want 11", got)
	}
}

// --- InstrumentedProvider ---

type mockProvider struct {
	name string
	resp *llm.Response
	err  error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return m.resp, m.err
}

func TestInstrumentedProvider_Success(t *testing.T) {
	m := NewMetricsCollector()
	inner := &mockProvider{name: "anthropic", resp: &llm.Response{Content: "hi", TokensUsed: 42}}
	p := NewInstrumentedProvider(inner, m, nil, nil)

	resp, err := p.SendMessage(context.Background(), &llm.Request{})
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("content = %q, want hi", resp.Content)
	}
	if got := counterValue(t, m.Registry, "feedhive_llm_requests_total", map[string]string{"provider": "anthropic", "status": "success"}); got != 1 {
		t.Errorf("request counter = %v, want 1", got)
	}
	if got := counterValue(t, m.Registry, "feedhive_llm_tokens_used_total", map[string]string{"provider": "anthropic"}); got != 42 {
		t.Errorf("token counter = %v, want 42", got)
	}
}

func TestInstrumentedProvider_Error(t *testing.T) {
	m := NewMetricsCollector()
	inner := &mockProvider{name: "openai", err: errors.New("boom")}
	p := NewInstrumentedProvider(inner, m, nil, nil)

	if _, err := p.SendMessage(context.Background(), &llm.Request{}); err == nil {
		t.Fatal("expected error")
	}
	if got := counterValue(t, m.Registry, "feedhive_llm_requests_total", map[string]string{"provider": "openai", "status": "error"}); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}

func TestInstrumentedProvider_NilMetrics(t *testing.T) {
	inner := &mockProvider{name: "anthropic", resp: &llm.Response{Content: "ok"}}
	p := NewInstrumentedProvider(inner, nil, nil, nil)

	if _, err := p.SendMessage(context.Background(), &llm.Request{}); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
}

// --- InstrumentedTool ---

type mockTool struct {
	result *tools.Result
	err    error
}

func (m *mockTool) Name() string                  { return "mock_tool" }
func (m *mockTool) Description() string           { return "mock" }
func (m *mockTool) PermissionKey() permission.Key { return permission.KeyToolUse }
func (m *mockTool) RiskTier() permission.RiskTier { return permission.TierLow }
func (m *mockTool) IsLLM() bool                   { return false }
func (m *mockTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	return m.result, m.err
}

func TestInstrumentedTool_Success(t *testing.T) {
	m := NewMetricsCollector()
	inner := &mockTool{result: &tools.Result{Output: "done", Success: true}}
	tool := NewInstrumentedTool(inner, m, nil, nil)

	if tool.Name() != "mock_tool" {
		t.Errorf("name = %q", tool.Name())
	}
	if tool.PermissionKey() != permission.KeyToolUse {
		t.Errorf("permission key = %q", tool.PermissionKey())
	}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if got := counterValue(t, m.Registry, "feedhive_tool_executions_total", map[string]string{"tool": "mock_tool", "status": "success"}); got != 1 {
		t.Errorf("execution counter = %v, want 1", got)
	}
}

func TestInstrumentedTool_FailedResult(t *testing.T) {
	m := NewMetricsCollector()
	inner := &mockTool{result: &tools.Result{Output: "nope", Success: false}}
	tool := NewInstrumentedTool(inner, m, nil, nil)

	if _, err := tool.Execute(context.Background(), nil); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got := counterValue(t, m.Registry, "feedhive_tool_executions_total", map[string]string{"tool": "mock_tool", "status": "failed"}); got != 1 {
		t.Errorf("failed counter = %v, want 1", got)
	}
}

// counterValue gathers the registry and returns the value of the named
// counter with matching labels, or 0 when absent.
func counterValue(t *testing.T, reg interface {
	Gather() ([]*dto.MetricFamily, error)
}, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range f.GetMetric() {
			got := labelMap(metric.GetLabel())
			for k, v := range labels {
				if got[k] != v {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}
