package llmprovider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaycore/orchestrator/internal/observability"
)

// InstrumentedProvider wraps a Provider with LLM request metrics
// (duration, status, and, where the wrapped provider reports them, token
// counts), per the pattern shown in internal/observability's own usage
// example.
type InstrumentedProvider struct {
	Provider
	Metrics *observability.Metrics
	Model   string
}

// Instrument wraps p so every call records request duration and status
// against name/model. A nil metrics disables recording entirely, so
// callers may wrap unconditionally.
func Instrument(p Provider, metrics *observability.Metrics, model string) Provider {
	if metrics == nil {
		return p
	}
	return &InstrumentedProvider{Provider: p, Metrics: metrics, Model: model}
}

func (p *InstrumentedProvider) Plan(ctx context.Context, userText string, catalog map[string]any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := p.Provider.Plan(ctx, userText, catalog)
	p.record(start, err)
	return raw, err
}

func (p *InstrumentedProvider) ChooseNextAction(ctx context.Context, actx ActionContext) (NextAction, error) {
	start := time.Now()
	action, err := p.Provider.ChooseNextAction(ctx, actx)
	p.record(start, err)
	return action, err
}

func (p *InstrumentedProvider) Summarize(ctx context.Context, instruction string, inputs map[string]any) (string, error) {
	start := time.Now()
	out, err := p.Provider.Summarize(ctx, instruction, inputs)
	p.record(start, err)
	return out, err
}

func (p *InstrumentedProvider) record(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		p.Metrics.RecordError("llmprovider", p.Provider.Name())
	}
	p.Metrics.RecordLLMRequest(p.Provider.Name(), p.Model, status, time.Since(start).Seconds(), 0, 0)
}
