package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/haasonsaas/agentd/internal/sessions"
	"github.com/haasonsaas/agentd/pkg/models"
)

// scriptedProvider replays a fixed sequence of LLMResponses, one per
// provider.Stream call, regardless of the request it's given.
type scriptedProvider struct {
	responses []LLMResponse
	calls     int
	window    uint32
}

func (p *scriptedProvider) Name() string              { return "scripted" }
func (p *scriptedProvider) DefaultModel() string       { return "scripted-1" }
func (p *scriptedProvider) SupportedModels() []string  { return []string{"scripted-1"} }
func (p *scriptedProvider) ContextWindow(model string) (uint32, bool) {
	if p.window == 0 {
		return 200000, true
	}
	return p.window, true
}
func (p *scriptedProvider) CalculateCost(model string, in, out uint32) float64 {
	return float64(in)*0.001 + float64(out)*0.002
}
func (p *scriptedProvider) Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	resp := p.next()
	return &resp, nil
}
func (p *scriptedProvider) Stream(ctx context.Context, req LLMRequest) (<-chan StreamEvent, <-chan error) {
	resp := p.next()
	events := make(chan StreamEvent, 8)
	errs := make(chan error, 1)
	for i, c := range resp.Content {
		events <- StreamEvent{Type: EventContentBlockStart, Index: i, ContentBlock: &ContentBlock{Type: c.Type, ToolUseID: c.ToolUseID, ToolName: c.ToolName}}
		switch c.Type {
		case ContentText:
			events <- StreamEvent{Type: EventContentBlockDelta, Index: i, DeltaType: DeltaText, Delta: c.Text}
		case ContentToolUse:
			events <- StreamEvent{Type: EventContentBlockDelta, Index: i, DeltaType: DeltaInputJSON, Delta: string(c.ToolInput)}
		}
		events <- StreamEvent{Type: EventContentBlockStop, Index: i}
	}
	stop := resp.StopReason
	events <- StreamEvent{Type: EventMessageDelta, StopReason: &stop, Usage: resp.Usage}
	events <- StreamEvent{Type: EventMessageStop}
	close(events)
	close(errs)
	return events, errs
}
func (p *scriptedProvider) next() LLMResponse {
	if p.calls >= len(p.responses) {
		return p.responses[len(p.responses)-1]
	}
	r := p.responses[p.calls]
	p.calls++
	return r
}

// scriptedTool returns a fixed ToolResult for every invocation and records
// whether Execute was ever called.
type scriptedTool struct {
	name       string
	result     ToolResult
	approval   bool
	caps       []ToolCapability
	executed   int
	onExecute  func(input json.RawMessage)
}

func (t *scriptedTool) Name() string                    { return t.name }
func (t *scriptedTool) Description() string              { return "scripted test tool" }
func (t *scriptedTool) InputSchema() json.RawMessage      { return json.RawMessage(`{"type":"object"}`) }
func (t *scriptedTool) Capabilities() []ToolCapability    { return t.caps }
func (t *scriptedTool) RequiresApproval() bool            { return t.approval }
func (t *scriptedTool) Execute(ctx context.Context, input json.RawMessage, tctx *ToolExecutionContext) (*ToolResult, error) {
	t.executed++
	if t.onExecute != nil {
		t.onExecute(input)
	}
	r := t.result
	return &r, nil
}

func newTestEngine(t *testing.T, provider Provider, tools ...Tool) (*Engine, *sessions.MemoryStore, string) {
	t.Helper()
	store := sessions.NewMemoryStore()
	session := &models.Session{}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatal(err)
	}
	registry := NewRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	registry.Freeze()

	engine := NewEngine(store, registry, NewBroker(), NewWorkspace("/work"), NewMessageQueue(),
		map[string]Provider{"scripted": provider}, "scripted", provider.DefaultModel(), "you are a helpful agent")
	return engine, store, session.ID
}

func TestEngineSimpleTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []LLMResponse{
		{StopReason: StopEndTurn, Content: []ContentBlock{{Type: ContentText, Text: "Hi there"}}, Usage: TokenUsage{InputTokens: 5, OutputTokens: 3}},
	}}
	engine, store, sessionID := newTestEngine(t, provider)

	resp, err := engine.SendMessage(context.Background(), sessionID, "Hello", SendOptions{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "Hi there" {
		t.Errorf("content = %q, want %q", resp.Content, "Hi there")
	}
	if resp.Usage.OutputTokens != 3 {
		t.Errorf("output tokens = %d, want 3", resp.Usage.OutputTokens)
	}

	msgs, _ := store.ListMessages(context.Background(), sessionID)
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2 (user + assistant)", len(msgs))
	}
	if msgs[1].Content != "Hi there" {
		t.Errorf("persisted content = %q", msgs[1].Content)
	}
	if strings.Contains(msgs[1].Content, "tools-v2") {
		t.Error("a tool-free turn must not embed a manifest marker")
	}
}

func TestEngineSingleToolCall(t *testing.T) {
	provider := &scriptedProvider{responses: []LLMResponse{
		{
			StopReason: StopToolUse,
			Content: []ContentBlock{
				{Type: ContentText, Text: "Let me check."},
				{Type: ContentToolUse, ToolUseID: "t1", ToolName: "echo", ToolInput: json.RawMessage(`{"msg":"ok"}`)},
			},
		},
		{StopReason: StopEndTurn, Content: []ContentBlock{{Type: ContentText, Text: "Done."}}},
	}}
	tool := &scriptedTool{name: "echo", result: ToolResult{Content: "ok"}}
	engine, store, sessionID := newTestEngine(t, provider, tool)

	var events []ProgressEvent
	sink := func(sid string, ev ProgressEvent) { events = append(events, ev) }

	resp, err := engine.SendMessage(context.Background(), sessionID, "please check", SendOptions{Progress: sink})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	want := regexp.MustCompile(`^Let me check\.\n\n<!-- tools-v2: \[.*echo.*\] -->\n\nDone\.$`)
	if !want.MatchString(resp.Content) {
		t.Errorf("content = %q, does not match expected manifest shape", resp.Content)
	}

	msgs, _ := store.ListMessages(context.Background(), sessionID)
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}

	var sawIntermediate, sawStarted, sawCompleted bool
	for _, ev := range events {
		switch e := ev.(type) {
		case IntermediateText:
			if e.Text == "Let me check." {
				sawIntermediate = true
			}
		case ToolStarted:
			if e.Name == "echo" {
				sawStarted = true
			}
		case ToolCompleted:
			if e.Name == "echo" && e.Success {
				sawCompleted = true
			}
		}
	}
	if !sawIntermediate || !sawStarted || !sawCompleted {
		t.Errorf("missing expected progress events: intermediate=%v started=%v completed=%v", sawIntermediate, sawStarted, sawCompleted)
	}
}

func TestEngineApprovalDenied(t *testing.T) {
	provider := &scriptedProvider{responses: []LLMResponse{
		{
			StopReason: StopToolUse,
			Content: []ContentBlock{
				{Type: ContentText, Text: "Let me check."},
				{Type: ContentToolUse, ToolUseID: "t1", ToolName: "echo", ToolInput: json.RawMessage(`{"msg":"ok"}`)},
			},
		},
		{StopReason: StopEndTurn, Content: []ContentBlock{{Type: ContentText, Text: "Done."}}},
	}}
	tool := &scriptedTool{name: "echo", result: ToolResult{Content: "ok"}, approval: true}
	engine, _, sessionID := newTestEngine(t, provider, tool)

	var completed ToolCompleted
	sink := func(sid string, ev ProgressEvent) {
		if c, ok := ev.(ToolCompleted); ok {
			completed = c
		}
	}

	_, err := engine.SendMessage(context.Background(), sessionID, "please check", SendOptions{
		Progress: sink,
		Approval: func(req ApprovalRequest) bool { return false },
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if tool.executed != 0 {
		t.Error("tool must never execute when approval is denied")
	}
	if completed.Success {
		t.Error("ToolCompleted should report success=false on denial")
	}
}

func TestEngineSecretRedaction(t *testing.T) {
	provider := &scriptedProvider{responses: []LLMResponse{
		{
			StopReason: StopToolUse,
			Content: []ContentBlock{
				{Type: ContentToolUse, ToolUseID: "t1", ToolName: "fetch", ToolInput: json.RawMessage(`{"url":"https://api.example.com?api_key=SECRET123"}`)},
			},
		},
		{StopReason: StopEndTurn, Content: []ContentBlock{{Type: ContentText, Text: "Done."}}},
	}}
	tool := &scriptedTool{name: "fetch", result: ToolResult{Content: "fetched"}}
	engine, _, sessionID := newTestEngine(t, provider, tool)

	var raw []byte
	sink := func(sid string, ev ProgressEvent) {
		switch e := ev.(type) {
		case ToolStarted:
			raw = append(raw, e.Input...)
		case ToolCompleted:
			raw = append(raw, e.Input...)
		}
	}

	_, err := engine.SendMessage(context.Background(), sessionID, "fetch that url", SendOptions{Progress: sink})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if strings.Contains(string(raw), "SECRET123") {
		t.Error("redacted secret leaked into a progress event")
	}
	if !strings.Contains(string(raw), "REDACTED") {
		t.Error("expected the api_key field to be redacted")
	}
}

func TestEngineCompactionBeforeTurn(t *testing.T) {
	provider := &scriptedProvider{
		window: 4000,
		responses: []LLMResponse{
			{StopReason: StopEndTurn, Content: []ContentBlock{{Type: ContentText, Text: "summary text"}}},
			{StopReason: StopEndTurn, Content: []ContentBlock{{Type: ContentText, Text: "new reply"}}},
		},
	}
	engine, store, sessionID := newTestEngine(t, provider)

	padding := strings.Repeat("word ", 700) // counted via its stored TokenCount of 3600 (90% of 4000), above the 85% threshold
	if err := store.AppendMessage(context.Background(), &models.Message{SessionID: sessionID, Role: models.RoleUser, Content: padding, TokenCount: 3600}); err != nil {
		t.Fatal(err)
	}

	var compactions int
	sink := func(sid string, ev ProgressEvent) {
		if _, ok := ev.(CompactionSummary); ok {
			compactions++
		}
	}

	resp, err := engine.SendMessage(context.Background(), sessionID, "hello again", SendOptions{Progress: sink})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "new reply" {
		t.Errorf("content = %q, want %q", resp.Content, "new reply")
	}
	if compactions != 1 {
		t.Errorf("CompactionSummary emitted %d times, want 1", compactions)
	}

	msgs, _ := store.ListMessages(context.Background(), sessionID)
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3 (summary, new user msg, new reply)", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "summary text") || !strings.HasPrefix(msgs[0].Content, "[COMPACTED") {
		t.Errorf("msgs[0] = %q, want a sentinel-prefixed summary", msgs[0].Content)
	}
	if msgs[1].Content != "hello again" {
		t.Errorf("msgs[1] = %q, want the new user prompt", msgs[1].Content)
	}
	wantSeqs := []int64{1, 2, 3}
	for i, want := range wantSeqs {
		if msgs[i].Sequence != want {
			t.Errorf("msgs[%d].Sequence = %d, want %d (dense, restarting at 1 after compaction)", i, msgs[i].Sequence, want)
		}
	}
}

func TestEngineMessageQueueInjection(t *testing.T) {
	provider := &scriptedProvider{responses: []LLMResponse{
		{
			StopReason: StopToolUse,
			Content: []ContentBlock{
				{Type: ContentToolUse, ToolUseID: "t1", ToolName: "echo", ToolInput: json.RawMessage(`{"msg":"first"}`)},
			},
		},
		{
			StopReason: StopToolUse,
			Content: []ContentBlock{
				{Type: ContentToolUse, ToolUseID: "t2", ToolName: "echo", ToolInput: json.RawMessage(`{"msg":"second"}`)},
			},
		},
		{StopReason: StopEndTurn, Content: []ContentBlock{{Type: ContentText, Text: "Done."}}},
	}}

	firstCallDone := false
	tool := &scriptedTool{name: "echo", result: ToolResult{Content: "ok"}}

	engine, store, sessionID := newTestEngine(t, provider, tool)
	tool.onExecute = func(input json.RawMessage) {
		if !firstCallDone {
			firstCallDone = true
			engine.Queue.Enqueue(sessionID, "also do X")
		}
	}

	_, err := engine.SendMessage(context.Background(), sessionID, "start two tool calls", SendOptions{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs, _ := store.ListMessages(context.Background(), sessionID)
	var injectedCount int
	for _, m := range msgs {
		if m.Role == models.RoleUser && m.Content == "also do X" {
			injectedCount++
		}
	}
	if injectedCount != 1 {
		t.Errorf("injected message persisted %d times, want exactly 1", injectedCount)
	}
	if engine.Queue.Has(sessionID) {
		t.Error("queue slot should be drained by the time the turn completes")
	}
}
