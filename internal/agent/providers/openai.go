package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentd/internal/agent"
)

var openaiContextWindows = map[string]uint32{
	openai.GPT4o:       128000,
	openai.GPT4oMini:   128000,
	openai.GPT4Turbo:   128000,
	openai.GPT4:        8192,
	openai.GPT3Dot5Turbo: 16385,
}

var openaiPricing = map[string][2]float64{
	openai.GPT4o:         {2.5, 10.0},
	openai.GPT4oMini:     {0.15, 0.6},
	openai.GPT4Turbo:     {10.0, 30.0},
	openai.GPT4:          {30.0, 60.0},
	openai.GPT3Dot5Turbo: {0.5, 1.5},
}

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIProvider adapts OpenAI's chat completions API to agent.Provider.
type OpenAIProvider struct {
	BaseProvider
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider builds a client from cfg. APIKey must be non-empty.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: APIKey is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai"),
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
	}, nil
}

func (p *OpenAIProvider) Name() string         { return "openai" }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) SupportedModels() []string {
	models := make([]string, 0, len(openaiContextWindows))
	for m := range openaiContextWindows {
		models = append(models, m)
	}
	return models
}

func (p *OpenAIProvider) ContextWindow(model string) (uint32, bool) {
	w, ok := openaiContextWindows[model]
	return w, ok
}

func (p *OpenAIProvider) CalculateCost(model string, inputTokens, outputTokens uint32) float64 {
	rate, ok := openaiPricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*rate[0] + float64(outputTokens)/1_000_000*rate[1]
}

func (p *OpenAIProvider) buildRequest(req agent.LLMRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == agent.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		for _, c := range m.Content {
			switch c.Type {
			case agent.ContentText:
				out.Messages = append(out.Messages, openai.ChatCompletionMessage{Role: role, Content: c.Text})
			case agent.ContentToolUse:
				out.Messages = append(out.Messages, openai.ChatCompletionMessage{
					Role: openai.ChatMessageRoleAssistant,
					ToolCalls: []openai.ToolCall{{
						ID:   c.ToolUseID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      c.ToolName,
							Arguments: string(c.ToolInput),
						},
					}},
				})
			case agent.ContentToolResult:
				out.Messages = append(out.Messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    c.ToolContent,
					ToolCallID: c.ToolUseID,
				})
			}
		}
	}
	for _, t := range req.Tools {
		var params map[string]any
		_ = json.Unmarshal(t.InputSchema, &params)
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// Complete issues a non-streaming request by draining Stream internally.
func (p *OpenAIProvider) Complete(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	events, errs := p.Stream(ctx, req)
	return agent.ReconstructResponse(events, errs)
}

// Stream issues a streaming chat completion and translates OpenAI's chunked
// deltas into the engine's provider-neutral StreamEvent vocabulary. OpenAI
// has no explicit content_block_start/stop markers, so blocks are opened
// lazily on first delta and closed once at stream end.
func (p *OpenAIProvider) Stream(ctx context.Context, req agent.LLMRequest) (<-chan agent.StreamEvent, <-chan error) {
	out := make(chan agent.StreamEvent, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		err := p.Retry(ctx, func(err error) bool {
			return ClassifyError(err).Retryable()
		}, func() error {
			return p.streamOnce(ctx, req, out)
		})
		if err != nil {
			errs <- NewProviderError("openai", req.Model, err)
		}
	}()

	return out, errs
}

func (p *OpenAIProvider) streamOnce(ctx context.Context, req agent.LLMRequest, out chan<- agent.StreamEvent) error {
	chatStream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return err
	}
	defer chatStream.Close()

	out <- agent.StreamEvent{Type: agent.EventMessageStart, Model: req.Model}

	textOpen := false
	toolIndexOpen := map[int]bool{}
	var usage openai.Usage
	var stop agent.StopReason = agent.StopEndTurn

	for {
		resp, err := chatStream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if resp.Usage != nil {
			usage = *resp.Usage
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			stop = mapOpenAIStopReason(string(choice.FinishReason))
		}
		if choice.Delta.Content != "" {
			if !textOpen {
				out <- agent.StreamEvent{Type: agent.EventContentBlockStart, Index: 0, ContentBlock: &agent.ContentBlock{Type: agent.ContentText}}
				textOpen = true
			}
			out <- agent.StreamEvent{Type: agent.EventContentBlockDelta, Index: 0, DeltaType: agent.DeltaText, Delta: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 1
			if tc.Index != nil {
				idx = *tc.Index + 1
			}
			if !toolIndexOpen[idx] {
				out <- agent.StreamEvent{Type: agent.EventContentBlockStart, Index: idx, ContentBlock: &agent.ContentBlock{
					Type:      agent.ContentToolUse,
					ToolUseID: tc.ID,
					ToolName:  tc.Function.Name,
				}}
				toolIndexOpen[idx] = true
			}
			if tc.Function.Arguments != "" {
				out <- agent.StreamEvent{Type: agent.EventContentBlockDelta, Index: idx, DeltaType: agent.DeltaInputJSON, Delta: tc.Function.Arguments}
			}
		}
	}

	if textOpen {
		out <- agent.StreamEvent{Type: agent.EventContentBlockStop, Index: 0}
	}
	for idx := range toolIndexOpen {
		out <- agent.StreamEvent{Type: agent.EventContentBlockStop, Index: idx}
	}
	out <- agent.StreamEvent{
		Type:       agent.EventMessageDelta,
		StopReason: &stop,
		Usage:      agent.TokenUsage{InputTokens: uint32(usage.PromptTokens), OutputTokens: uint32(usage.CompletionTokens)},
	}
	out <- agent.StreamEvent{Type: agent.EventMessageStop}
	return nil
}

func mapOpenAIStopReason(reason string) agent.StopReason {
	switch reason {
	case "tool_calls":
		return agent.StopToolUse
	case "length":
		return agent.StopMaxTokens
	case "stop":
		return agent.StopEndTurn
	default:
		return agent.StopEndTurn
	}
}
