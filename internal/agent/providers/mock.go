package providers

import (
	"context"

	"github.com/haasonsaas/agentd/internal/agent"
)

// MockProvider replays a fixed sequence of responses, one per Complete/Stream
// call, for deterministic tests of the engine's turn loop.
type MockProvider struct {
	ModelName string
	Window    uint32
	Responses []agent.LLMResponse
	Err       error
	calls     int
}

func (p *MockProvider) Name() string                        { return "mock" }
func (p *MockProvider) DefaultModel() string                 { return p.ModelName }
func (p *MockProvider) SupportedModels() []string             { return []string{p.ModelName} }
func (p *MockProvider) ContextWindow(model string) (uint32, bool) {
	if p.Window == 0 {
		return 200000, true
	}
	return p.Window, true
}
func (p *MockProvider) CalculateCost(model string, inputTokens, outputTokens uint32) float64 {
	return 0
}

// Complete returns the next scripted response in order, repeating the last
// one once the script is exhausted.
func (p *MockProvider) Complete(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return &agent.LLMResponse{StopReason: agent.StopEndTurn}, nil
	}
	idx := p.calls
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	p.calls++
	resp := p.Responses[idx]
	return &resp, nil
}

// Stream replays Complete's scripted response as a single text delta plus
// any tool-use blocks, closing cleanly.
func (p *MockProvider) Stream(ctx context.Context, req agent.LLMRequest) (<-chan agent.StreamEvent, <-chan error) {
	out := make(chan agent.StreamEvent, 16)
	errs := make(chan error, 1)

	resp, err := p.Complete(ctx, req)
	go func() {
		defer close(out)
		defer close(errs)
		if err != nil {
			errs <- err
			return
		}
		out <- agent.StreamEvent{Type: agent.EventMessageStart, MessageID: resp.ID, Model: resp.Model}
		for i, block := range resp.Content {
			out <- agent.StreamEvent{Type: agent.EventContentBlockStart, Index: i, ContentBlock: &block}
			switch block.Type {
			case agent.ContentText:
				out <- agent.StreamEvent{Type: agent.EventContentBlockDelta, Index: i, DeltaType: agent.DeltaText, Delta: block.Text}
			case agent.ContentToolUse:
				out <- agent.StreamEvent{Type: agent.EventContentBlockDelta, Index: i, DeltaType: agent.DeltaInputJSON, Delta: string(block.ToolInput)}
			}
			out <- agent.StreamEvent{Type: agent.EventContentBlockStop, Index: i}
		}
		stop := resp.StopReason
		out <- agent.StreamEvent{Type: agent.EventMessageDelta, StopReason: &stop, Usage: resp.Usage}
		out <- agent.StreamEvent{Type: agent.EventMessageStop}
	}()

	return out, errs
}
