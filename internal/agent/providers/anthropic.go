// Package providers implements LLM provider integrations for the agent
// runtime: each provider adapts a vendor SDK to agent.Provider.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/agentd/internal/agent"
)

type anthropicMessageStream = ssestream.Stream[anthropic.MessageStreamEventUnion]

func jsonUnmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// anthropicContextWindows is the known context window, in tokens, per model.
var anthropicContextWindows = map[string]uint32{
	"claude-opus-4-20250514":   200000,
	"claude-sonnet-4-20250514": 200000,
	"claude-3-5-haiku-20241022": 200000,
	"claude-3-opus-20240229":   200000,
}

// anthropicPricing is USD per million tokens, {input, output}.
var anthropicPricing = map[string][2]float64{
	"claude-opus-4-20250514":    {15.0, 75.0},
	"claude-sonnet-4-20250514":  {3.0, 15.0},
	"claude-3-5-haiku-20241022": {0.8, 4.0},
	"claude-3-opus-20240229":    {15.0, 75.0},
}

// AnthropicConfig configures AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicProvider adapts Anthropic's Messages API to agent.Provider.
type AnthropicProvider struct {
	BaseProvider
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider builds a client from cfg. APIKey must be non-empty.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: APIKey is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic"),
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}, nil
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) SupportedModels() []string {
	models := make([]string, 0, len(anthropicContextWindows))
	for m := range anthropicContextWindows {
		models = append(models, m)
	}
	return models
}

func (p *AnthropicProvider) ContextWindow(model string) (uint32, bool) {
	w, ok := anthropicContextWindows[model]
	return w, ok
}

func (p *AnthropicProvider) CalculateCost(model string, inputTokens, outputTokens uint32) float64 {
	rate, ok := anthropicPricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*rate[0] + float64(outputTokens)/1_000_000*rate[1]
}

func (p *AnthropicProvider) buildParams(req agent.LLMRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = 4096
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, c := range m.Content {
			switch c.Type {
			case agent.ContentText:
				blocks = append(blocks, anthropic.NewTextBlock(c.Text))
			case agent.ContentToolUse:
				var input any
				_ = jsonUnmarshal(c.ToolInput, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ToolUseID, input, c.ToolName))
			case agent.ContentToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(c.ToolUseID, c.ToolContent, c.IsError))
			}
		}
		if m.Role == agent.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}
	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		_ = jsonUnmarshal(t.InputSchema, &schema)
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		toolParam.OfTool.Description = anthropic.String(t.Description)
		params.Tools = append(params.Tools, toolParam)
	}
	return params
}

// Complete issues a non-streaming request by draining Stream internally.
func (p *AnthropicProvider) Complete(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	events, errs := p.Stream(ctx, req)
	return agent.ReconstructResponse(events, errs)
}

// Stream issues a streaming Messages request and translates Anthropic's SSE
// events into the engine's provider-neutral StreamEvent vocabulary.
func (p *AnthropicProvider) Stream(ctx context.Context, req agent.LLMRequest) (<-chan agent.StreamEvent, <-chan error) {
	out := make(chan agent.StreamEvent, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		params := p.buildParams(req)
		err := p.Retry(ctx, func(err error) bool {
			return ClassifyError(err).Retryable()
		}, func() error {
			stream := p.client.Messages.NewStreaming(ctx, params)
			return translateAnthropicStream(stream, out)
		})
		if err != nil {
			errs <- NewProviderError("anthropic", req.Model, err)
		}
	}()

	return out, errs
}

// translateAnthropicStream consumes one Anthropic SSE stream and emits
// StreamEvents. Returns nil on a clean message_stop even if more of the
// underlying stream is unread.
func translateAnthropicStream(stream *anthropicMessageStream, out chan<- agent.StreamEvent) error {
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			out <- agent.StreamEvent{
				Type:      agent.EventMessageStart,
				MessageID: ms.Message.ID,
				Model:     string(ms.Message.Model),
				Usage:     agent.TokenUsage{InputTokens: uint32(ms.Message.Usage.InputTokens)},
			}
		case "content_block_start":
			cbs := event.AsContentBlockStart()
			block := &agent.ContentBlock{}
			switch cbs.ContentBlock.Type {
			case "text":
				block.Type = agent.ContentText
			case "tool_use":
				tu := cbs.ContentBlock.AsToolUse()
				block.Type = agent.ContentToolUse
				block.ToolUseID = tu.ID
				block.ToolName = tu.Name
			default:
				continue
			}
			out <- agent.StreamEvent{Type: agent.EventContentBlockStart, Index: int(cbs.Index), ContentBlock: block}
		case "content_block_delta":
			cbd := event.AsContentBlockDelta()
			switch cbd.Delta.Type {
			case "text_delta":
				out <- agent.StreamEvent{Type: agent.EventContentBlockDelta, Index: int(cbd.Index), DeltaType: agent.DeltaText, Delta: cbd.Delta.Text}
			case "input_json_delta":
				out <- agent.StreamEvent{Type: agent.EventContentBlockDelta, Index: int(cbd.Index), DeltaType: agent.DeltaInputJSON, Delta: cbd.Delta.PartialJSON}
			}
		case "content_block_stop":
			cbs := event.AsContentBlockStop()
			out <- agent.StreamEvent{Type: agent.EventContentBlockStop, Index: int(cbs.Index)}
		case "message_delta":
			md := event.AsMessageDelta()
			stop := mapAnthropicStopReason(string(md.Delta.StopReason))
			out <- agent.StreamEvent{
				Type:       agent.EventMessageDelta,
				StopReason: &stop,
				Usage:      agent.TokenUsage{OutputTokens: uint32(md.Usage.OutputTokens)},
			}
		case "message_stop":
			out <- agent.StreamEvent{Type: agent.EventMessageStop}
			return nil
		}
	}
	return stream.Err()
}

func mapAnthropicStopReason(reason string) agent.StopReason {
	switch reason {
	case "tool_use":
		return agent.StopToolUse
	case "max_tokens":
		return agent.StopMaxTokens
	case "stop_sequence":
		return agent.StopStopSequence
	default:
		return agent.StopEndTurn
	}
}
