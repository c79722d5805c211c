package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relaycore/orchestrator/internal/observability"
)

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsWith(prometheus.NewRegistry())
}

type stubProvider struct {
	name   string
	planErr error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Plan(ctx context.Context, userText string, catalog map[string]any) (json.RawMessage, error) {
	if s.planErr != nil {
		return nil, s.planErr
	}
	return json.RawMessage(`{}`), nil
}

func (s *stubProvider) ChooseNextAction(ctx context.Context, actx ActionContext) (NextAction, error) {
	return NextAction{Kind: "final", FinalText: "done"}, nil
}

func (s *stubProvider) Summarize(ctx context.Context, instruction string, inputs map[string]any) (string, error) {
	return "summary", nil
}

func TestInstrument_NilMetricsReturnsProviderUnwrapped(t *testing.T) {
	p := &stubProvider{name: "stub"}
	if wrapped := Instrument(p, nil, "model-x"); wrapped != p {
		t.Error("expected Instrument with nil metrics to return the provider unwrapped")
	}
}

func TestInstrumentedProvider_RecordsSuccessAndFailure(t *testing.T) {
	metrics := newTestMetrics()

	ok := &stubProvider{name: "anthropic"}
	wrapped := Instrument(ok, metrics, "claude-sonnet-4-5")
	if _, err := wrapped.Plan(context.Background(), "hello", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-5", "success")); got != 1 {
		t.Errorf("expected 1 success recorded, got %v", got)
	}

	failing := &stubProvider{name: "anthropic", planErr: errors.New("boom")}
	wrappedFailing := Instrument(failing, metrics, "claude-sonnet-4-5")
	if _, err := wrappedFailing.Plan(context.Background(), "hello", nil); err == nil {
		t.Fatal("expected the wrapped error to propagate")
	}
	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-5", "error")); got != 1 {
		t.Errorf("expected 1 error recorded, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ErrorCounter.WithLabelValues("llmprovider", "anthropic")); got != 1 {
		t.Errorf("expected 1 llmprovider error recorded, got %v", got)
	}
}

func TestInstrumentedProvider_NameDelegatesToWrapped(t *testing.T) {
	p := &stubProvider{name: "openai"}
	wrapped := Instrument(p, newTestMetrics(), "gpt-4o-mini")
	if wrapped.Name() != "openai" {
		t.Errorf("got name %q", wrapped.Name())
	}
}
