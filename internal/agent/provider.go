package agent

import (
	"context"
	"encoding/json"
)

// ContentBlockType tags the variant carried by a ContentBlock.
type ContentBlockType string

const (
	ContentText       ContentBlockType = "text"
	ContentToolUse    ContentBlockType = "tool_use"
	ContentToolResult ContentBlockType = "tool_result"
	ContentImage      ContentBlockType = "image"
)

// ContentBlock is the tagged variant used inside provider requests,
// responses, and tool-result payloads. Never persisted directly — see
// manifest.go for how assistant content is serialized instead.
type ContentBlock struct {
	Type ContentBlockType

	Text string // ContentText

	ToolUseID string          // ContentToolUse, ContentToolResult
	ToolName  string          // ContentToolUse
	ToolInput json.RawMessage // ContentToolUse

	ToolContent string // ContentToolResult
	IsError     bool   // ContentToolResult

	ImageSource string // ContentImage
}

// Role is the author of a request/response message, matching the provider
// wire format (distinct from models.Role, which is the persistence role).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RequestMessage is one message in an LLMRequest's history.
type RequestMessage struct {
	Role    Role
	Content []ContentBlock
}

// ToolSpec describes a tool to the provider, independent of the engine's
// richer Tool interface.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// LLMRequest carries everything a provider needs for one completion.
type LLMRequest struct {
	Model       string
	Messages    []RequestMessage
	System      string
	Tools       []ToolSpec
	MaxTokens   int
	Temperature *float64
}

// StopReason is why the provider stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// TokenUsage is provider-reported token counts, authoritative for billing.
type TokenUsage struct {
	InputTokens  uint32
	OutputTokens uint32
}

// LLMResponse is the buffered result of Provider.Complete, or the result of
// reconstructing a stream via StreamEvents.
type LLMResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason StopReason
	Usage      TokenUsage
}

// StreamEventType tags the variant carried by a StreamEvent.
type StreamEventType string

const (
	EventMessageStart      StreamEventType = "message_start"
	EventContentBlockStart StreamEventType = "content_block_start"
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
	EventMessageDelta      StreamEventType = "message_delta"
	EventMessageStop       StreamEventType = "message_stop"
)

// DeltaType distinguishes the payload carried by a content_block_delta
// event.
type DeltaType string

const (
	DeltaText      DeltaType = "text"
	DeltaInputJSON DeltaType = "input_json"
	DeltaReasoning DeltaType = "reasoning"
)

// StreamEvent is a tagged variant sufficient to reconstruct an LLMResponse.
// Exactly one of the type-specific fields is meaningful, selected by Type.
type StreamEvent struct {
	Type StreamEventType

	// message_start
	MessageID string
	Model     string
	Role      Role
	Usage     TokenUsage

	// content_block_start / content_block_delta / content_block_stop
	Index        int
	ContentBlock *ContentBlock
	DeltaType    DeltaType
	Delta        string

	// message_delta
	StopReason *StopReason
}

// Provider is polymorphic over {complete, stream, metadata}. Concrete
// implementations are selected at startup from configuration.
type Provider interface {
	Name() string
	DefaultModel() string
	SupportedModels() []string
	ContextWindow(model string) (uint32, bool)
	CalculateCost(model string, inputTokens, outputTokens uint32) float64

	Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error)
	Stream(ctx context.Context, req LLMRequest) (<-chan StreamEvent, <-chan error)
}

// streamAccumulator reconstructs an LLMResponse from a sequence of
// StreamEvents: deltas accumulate into a per-block buffer, finalized on
// content_block_stop. InputJsonDelta text is parsed as JSON at
// finalization; invalid partial JSON becomes `{}`.
type streamAccumulator struct {
	resp       LLMResponse
	textBufs   map[int]*[]byte
	jsonBufs   map[int]*[]byte
	blockTypes map[int]ContentBlockType
	toolMeta   map[int]ContentBlock
	order      []int
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{
		textBufs:   make(map[int]*[]byte),
		jsonBufs:   make(map[int]*[]byte),
		blockTypes: make(map[int]ContentBlockType),
		toolMeta:   make(map[int]ContentBlock),
	}
}

func (a *streamAccumulator) apply(ev StreamEvent) {
	switch ev.Type {
	case EventMessageStart:
		a.resp.ID = ev.MessageID
		a.resp.Model = ev.Model
		a.resp.Usage = ev.Usage
	case EventContentBlockStart:
		a.order = append(a.order, ev.Index)
		if ev.ContentBlock != nil {
			a.blockTypes[ev.Index] = ev.ContentBlock.Type
			a.toolMeta[ev.Index] = *ev.ContentBlock
		}
		buf := make([]byte, 0, 64)
		a.textBufs[ev.Index] = &buf
		jbuf := make([]byte, 0, 64)
		a.jsonBufs[ev.Index] = &jbuf
	case EventContentBlockDelta:
		switch ev.DeltaType {
		case DeltaText, DeltaReasoning:
			if b, ok := a.textBufs[ev.Index]; ok {
				*b = append(*b, ev.Delta...)
			}
		case DeltaInputJSON:
			if b, ok := a.jsonBufs[ev.Index]; ok {
				*b = append(*b, ev.Delta...)
			}
		}
	case EventContentBlockStop:
		a.finalize(ev.Index)
	case EventMessageDelta:
		if ev.StopReason != nil {
			a.resp.StopReason = *ev.StopReason
		}
		a.resp.Usage.InputTokens += ev.Usage.InputTokens
		a.resp.Usage.OutputTokens += ev.Usage.OutputTokens
	case EventMessageStop:
	}
}

func (a *streamAccumulator) finalize(index int) {
	blockType := a.blockTypes[index]
	switch blockType {
	case ContentToolUse:
		meta := a.toolMeta[index]
		input := json.RawMessage("{}")
		if b, ok := a.jsonBufs[index]; ok && len(*b) > 0 {
			var probe any
			if json.Unmarshal(*b, &probe) == nil {
				input = append(json.RawMessage(nil), *b...)
			}
		}
		meta.ToolInput = input
		a.resp.Content = append(a.resp.Content, meta)
	default:
		text := ""
		if b, ok := a.textBufs[index]; ok {
			text = string(*b)
		}
		a.resp.Content = append(a.resp.Content, ContentBlock{Type: ContentText, Text: text})
	}
}

// ReconstructResponse drains a provider's stream channel into a single
// LLMResponse.
func ReconstructResponse(events <-chan StreamEvent, errs <-chan error) (*LLMResponse, error) {
	acc := newStreamAccumulator()
	for ev := range events {
		acc.apply(ev)
	}
	if errs != nil {
		select {
		case err := <-errs:
			if err != nil {
				return nil, err
			}
		default:
		}
	}
	resp := acc.resp
	return &resp, nil
}
