package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentd/internal/sessions"
	"github.com/haasonsaas/agentd/internal/tokenizer"
	"github.com/haasonsaas/agentd/pkg/models"
)

// MaxToolIterations is the hard per-turn cap on provider round-trips: the
// tool-use loop always exits by iteration 50, EndTurn or not.
const MaxToolIterations = 50

// DefaultMaxTokens is the default response budget requested from a
// provider, bounded further by the model's remaining context window.
const DefaultMaxTokens = 65536

// toolResultSummaryLimit bounds the UI-facing summary derived from a tool
// result; the full result still reaches the provider.
const toolResultSummaryLimit = 200

// SendOptions customizes one call to Engine.SendMessage.
type SendOptions struct {
	// ReadOnly disables tools with write/exec/send capabilities for this
	// turn only.
	ReadOnly bool

	// Cancel, if set, is merged with the call's context: the turn aborts
	// as soon as either is done.
	Cancel context.Context

	// Approval overrides the engine's default approval callback for this
	// turn.
	Approval ApprovalCallback

	// Progress overrides the engine's default progress sink for this
	// turn.
	Progress ProgressSink
}

// AgentResponse is the result of one completed turn.
type AgentResponse struct {
	MessageID     string
	Content       string
	Model         string
	Usage         TokenUsage
	Cost          *float64
	ContextTokens uint32
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Engine is the agent execution engine (C7): it owns the turn algorithm and
// holds handles to every other component (registry, broker, store,
// workspace, queue, providers) without mutating their internals directly.
type Engine struct {
	Store     sessions.Store
	Registry  *Registry
	Broker    *Broker
	Workspace *Workspace
	Queue     *MessageQueue
	Providers map[string]Provider

	DefaultProvider string
	DefaultModel    string
	SystemBrief     string
	ProjectNotes    string
	DefaultApproval ApprovalCallback
	DefaultProgress ProgressSink

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// NewEngine builds an engine over already-constructed components. providers
// maps a provider name to its implementation; defaultProvider selects which
// one a session uses absent an explicit ProviderName.
func NewEngine(store sessions.Store, registry *Registry, broker *Broker, workspace *Workspace, queue *MessageQueue, providers map[string]Provider, defaultProvider, defaultModel, systemBrief string) *Engine {
	return &Engine{
		Store:           store,
		Registry:        registry,
		Broker:          broker,
		Workspace:       workspace,
		Queue:           queue,
		Providers:       providers,
		DefaultProvider: defaultProvider,
		DefaultModel:    defaultModel,
		SystemBrief:     systemBrief,
		DefaultProgress: NopProgress,
		locks:           make(map[string]*sessionLock),
	}
}

// lockSession serializes turns for one session id so two turns on the same
// session never run concurrently; turns on other sessions proceed freely.
// Ref-counted so the lock map never grows unbounded.
func (e *Engine) lockSession(id string) *sessionLock {
	e.locksMu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sessionLock{}
		e.locks[id] = l
	}
	l.refs++
	e.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (e *Engine) unlockSession(id string, l *sessionLock) {
	l.mu.Unlock()

	e.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(e.locks, id)
	}
	e.locksMu.Unlock()
}

// SendMessage runs one full turn: load history, budget context, append the
// user message, assemble and run the tool-use loop, persist the final
// assistant message, and return its summary.
func (e *Engine) SendMessage(ctx context.Context, sessionID, userInput string, opts SendOptions) (*AgentResponse, error) {
	l := e.lockSession(sessionID)
	defer e.unlockSession(sessionID, l)

	runCtx, cancel := mergeCancel(ctx, opts.Cancel)
	defer cancel()

	progress := opts.Progress
	if progress == nil {
		progress = e.DefaultProgress
		if progress == nil {
			progress = NopProgress
		}
	}
	// A panicking sink is recovered per event so the turn carries on.
	progress = MultiProgress(progress)
	approval := opts.Approval
	if approval == nil {
		approval = e.DefaultApproval
	}

	// 1. Load session & history.
	session, history, err := e.loadSessionAndHistory(runCtx, sessionID)
	sessionExists := true
	if err != nil {
		if !errors.Is(err, sessions.ErrSessionNotFound) {
			return nil, newAgentError(KindInternal, "load session", err)
		}
		sessionExists = false
	}

	model := e.resolveModel(session)
	provider, err := e.resolveProvider(session)
	if err != nil {
		return nil, newAgentError(KindInternal, "resolve provider", err)
	}
	window, _ := provider.ContextWindow(model)

	// 2. Context budgeting: compact before proceeding if history is over
	// threshold. A failed compaction does not end the turn: it goes on with
	// the history it already loaded.
	if sessionExists && ShouldCompact(historyTokens(history), window) {
		if cerr := Compact(runCtx, e.Store, provider, model, sessionID, progress); cerr == nil {
			history, err = e.Store.ListMessages(runCtx, sessionID)
			if err != nil {
				return nil, newAgentError(KindInternal, "reload history after compaction", err)
			}
		}
	}

	// 3. Append user message, with session-missing recovery.
	userTokens := tokenizer.CountTokens(userInput)
	userMsg := &models.Message{SessionID: sessionID, Role: models.RoleUser, Content: userInput, TokenCount: userTokens}
	if err := e.Store.AppendMessage(runCtx, userMsg); err != nil {
		if !errors.Is(err, sessions.ErrSessionNotFound) {
			return nil, newAgentError(KindInternal, "append user message", err)
		}
		session = &models.Session{ID: sessionID, Title: defaultSessionTitle(userInput)}
		if err := e.Store.CreateSession(runCtx, session); err != nil {
			return nil, newAgentError(KindInternal, "create recovered session", err)
		}
		if err := e.Store.AppendMessage(runCtx, userMsg); err != nil {
			return nil, newAgentError(KindInternal, "append user message after recovery", err)
		}
		history = nil
	}

	// 4. Assemble LLM request.
	systemPrompt := e.buildSystemPrompt(model)
	requestMessages := convertHistory(history)
	requestMessages = append(requestMessages, RequestMessage{Role: RoleUser, Content: []ContentBlock{{Type: ContentText, Text: userInput}}})
	tools := toolSpecs(e.Registry.List(opts.ReadOnly))

	inputEstimate := historyTokens(history) + userTokens + tokenizer.CountTokens(systemPrompt)
	maxTokens := DefaultMaxTokens
	if window > 0 {
		if remaining := int(window) - int(inputEstimate); remaining > 0 && remaining < maxTokens {
			maxTokens = remaining
		}
	}

	request := LLMRequest{
		Model:     model,
		System:    systemPrompt,
		Messages:  requestMessages,
		Tools:     tools,
		MaxTokens: maxTokens,
	}

	// 5. Tool-use loop.
	var (
		turnSegments []string
		finalText    string
		totalUsage   TokenUsage
		queuedText   string
		exhausted    bool
		cancelled    bool
	)

iterations:
	for iter := 0; iter < MaxToolIterations; iter++ {
		if runCtx.Err() != nil {
			cancelled = true
			break
		}

		events, errs := provider.Stream(runCtx, request)
		resp, err := e.runIteration(runCtx, events, errs, sessionID, progress)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				cancelled = true
				break
			}
			return nil, newAgentError(KindInternal, "provider stream", err)
		}
		totalUsage.InputTokens += resp.Usage.InputTokens
		totalUsage.OutputTokens += resp.Usage.OutputTokens

		text := concatText(resp.Content)
		toolCalls := extractToolUse(resp.Content)

		if resp.StopReason == StopEndTurn || len(toolCalls) == 0 {
			finalText = text
			break
		}

		if strings.TrimSpace(text) != "" {
			progress(sessionID, IntermediateText{Text: text})
		}

		assistantBlocks := make([]ContentBlock, 0, len(toolCalls)+1)
		if text != "" {
			assistantBlocks = append(assistantBlocks, ContentBlock{Type: ContentText, Text: text})
		}
		var resultBlocks []ContentBlock
		entries := make([]ManifestEntry, 0, len(toolCalls))

		for _, call := range toolCalls {
			assistantBlocks = append(assistantBlocks, call)
			redactedInput := RedactInput(call.ToolInput)

			result := e.executeToolCall(runCtx, sessionID, call, redactedInput, opts, approval, progress)

			resultBlocks = append(resultBlocks, ContentBlock{
				Type:        ContentToolResult,
				ToolUseID:   call.ToolUseID,
				ToolContent: result.Content,
				IsError:     result.IsError,
			})
			entries = append(entries, ManifestEntry{
				Description: call.ToolName,
				Success:     !result.IsError,
				Output:      summarizeToolResult(result),
			})
		}

		marker, err := EncodeManifestMarker(entries)
		if err != nil {
			return nil, newAgentError(KindInternal, "encode tool manifest", err)
		}
		segment := marker
		if text != "" {
			segment = text + "\n\n" + marker
		}
		turnSegments = append(turnSegments, segment)

		request.Messages = append(request.Messages, RequestMessage{Role: RoleAssistant, Content: assistantBlocks})
		request.Messages = append(request.Messages, RequestMessage{Role: RoleUser, Content: resultBlocks})

		// e. Message-queue injection check.
		if queued, ok := e.Queue.Drain(sessionID); ok {
			queuedText = queued
			request.Messages = append(request.Messages, RequestMessage{Role: RoleUser, Content: []ContentBlock{{Type: ContentText, Text: queued}}})
		}

		if iter == MaxToolIterations-1 {
			exhausted = true
			finalText = text
			break iterations
		}
	}

	content := joinTurnContent(turnSegments, finalText)
	if exhausted {
		content = strings.TrimRight(content, "\n") + "\n\n[ToolLoopExhausted: exceeded 50 iterations without end_turn]"
	}

	if cancelled {
		if strings.TrimSpace(content) != "" {
			// Use a fresh context: runCtx is already done, and a partial
			// result is still worth persisting despite the cancellation.
			_ = e.persistAssistantMessage(context.Background(), sessionID, content, provider, model, totalUsage)
		}
		return nil, newAgentError(KindCancelled, "turn cancelled", runCtx.Err())
	}

	// 6. Persist final assistant message.
	assistantMsg, cost, err := e.persistAssistantMessageFull(runCtx, sessionID, content, provider, model, totalUsage)
	if err != nil {
		return nil, newAgentError(KindInternal, "persist assistant message", err)
	}

	contextTokens := inputEstimate + assistantMsg.TokenCount

	if queuedText != "" {
		queuedMsg := &models.Message{SessionID: sessionID, Role: models.RoleUser, Content: queuedText, TokenCount: tokenizer.CountTokens(queuedText)}
		if err := e.Store.AppendMessage(runCtx, queuedMsg); err != nil {
			return nil, newAgentError(KindInternal, "persist injected message", err)
		}
		contextTokens += queuedMsg.TokenCount
	}

	if exhausted {
		return &AgentResponse{
			MessageID:     assistantMsg.ID,
			Content:       content,
			Model:         model,
			Usage:         totalUsage,
			Cost:          cost,
			ContextTokens: contextTokens,
		}, newAgentError(KindToolLoopExhausted, "", nil)
	}

	// 7. Return AgentResponse.
	return &AgentResponse{
		MessageID:     assistantMsg.ID,
		Content:       content,
		Model:         model,
		Usage:         totalUsage,
		Cost:          cost,
		ContextTokens: contextTokens,
	}, nil
}

func (e *Engine) persistAssistantMessage(ctx context.Context, sessionID, content string, provider Provider, model string, usage TokenUsage) error {
	_, _, err := e.persistAssistantMessageFull(ctx, sessionID, content, provider, model, usage)
	return err
}

func (e *Engine) persistAssistantMessageFull(ctx context.Context, sessionID, content string, provider Provider, model string, usage TokenUsage) (*models.Message, *float64, error) {
	var cost *float64
	if usage.InputTokens != 0 || usage.OutputTokens != 0 {
		c := provider.CalculateCost(model, usage.InputTokens, usage.OutputTokens)
		cost = &c
	}
	msg := &models.Message{
		SessionID:  sessionID,
		Role:       models.RoleAssistant,
		Content:    content,
		TokenCount: tokenizer.CountTokens(content),
		Cost:       cost,
	}
	if err := e.Store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, err
	}
	return msg, cost, nil
}

// executeToolCall runs the approval-then-dispatch sequence for one pending
// tool call, always returning a ToolResult — never a Go error — so a
// failed dispatch becomes a normal tool-loop turn rather than aborting it.
func (e *Engine) executeToolCall(ctx context.Context, sessionID string, call ContentBlock, redactedInput json.RawMessage, opts SendOptions, approval ApprovalCallback, progress ProgressSink) *ToolResult {
	tool, ok := e.Registry.Get(call.ToolName)
	if !ok {
		progress(sessionID, ToolStarted{Name: call.ToolName, Input: redactedInput})
		result := &ToolResult{Content: "unknown tool " + call.ToolName, IsError: true}
		progress(sessionID, ToolCompleted{Name: call.ToolName, Input: redactedInput, Success: false, Summary: summarizeToolResult(result)})
		return result
	}

	progress(sessionID, ToolStarted{Name: call.ToolName, Input: redactedInput})

	if opts.ReadOnly && HasWriteCapability(tool) {
		result := &ToolResult{Content: "tool not available in read-only mode", IsError: true}
		progress(sessionID, ToolCompleted{Name: call.ToolName, Input: redactedInput, Success: false, Summary: summarizeToolResult(result)})
		return result
	}

	if tool.RequiresApproval() {
		approved := e.Broker.Request(sessionID, call.ToolName, tool.Description(), redactedInput, tool.Capabilities(), approval, ctx.Done())
		if !approved {
			result := &ToolResult{Content: "User denied execution", IsError: true}
			progress(sessionID, ToolCompleted{Name: call.ToolName, Input: redactedInput, Success: false, Summary: summarizeToolResult(result)})
			return result
		}
	}

	tctx := &ToolExecutionContext{SessionID: sessionID, Workspace: e.Workspace, Progress: progress, Cancel: ctx}
	result := e.Registry.Dispatch(ctx, call.ToolName, call.ToolInput, tctx)
	progress(sessionID, ToolCompleted{Name: call.ToolName, Input: redactedInput, Success: !result.IsError, Summary: summarizeToolResult(result)})
	return result
}

// runIteration drains one provider stream call, emitting StreamingChunk /
// ReasoningChunk progress as deltas arrive, and returns the reconstructed
// response, accumulating content blocks from the stream as they arrive.
func (e *Engine) runIteration(ctx context.Context, events <-chan StreamEvent, errs <-chan error, sessionID string, progress ProgressSink) (*LLMResponse, error) {
	acc := newStreamAccumulator()
	for ev := range events {
		switch ev.Type {
		case EventContentBlockDelta:
			switch ev.DeltaType {
			case DeltaText:
				progress(sessionID, StreamingChunk{Text: ev.Delta})
			case DeltaReasoning:
				progress(sessionID, ReasoningChunk{Text: ev.Delta})
			}
		}
		acc.apply(ev)
	}
	if errs != nil {
		if err := <-errs; err != nil {
			return nil, err
		}
	}
	resp := acc.resp
	return &resp, nil
}

func (e *Engine) loadSessionAndHistory(ctx context.Context, sessionID string) (*models.Session, []*models.Message, error) {
	session, err := e.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	history, err := e.Store.ListMessages(ctx, sessionID)
	if err != nil {
		return session, nil, err
	}
	return session, history, nil
}

func (e *Engine) resolveModel(session *models.Session) string {
	if session != nil && session.Model != "" {
		return session.Model
	}
	return e.DefaultModel
}

func (e *Engine) resolveProvider(session *models.Session) (Provider, error) {
	name := e.DefaultProvider
	if session != nil && session.ProviderName != "" {
		name = session.ProviderName
	}
	p, ok := e.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

func (e *Engine) buildSystemPrompt(model string) string {
	header := fmt.Sprintf("Current UTC time: %s\nWorking directory: %s\nActive model: %s",
		time.Now().UTC().Format(time.RFC3339), e.Workspace.Dir(), model)
	parts := []string{e.SystemBrief, header}
	if e.ProjectNotes != "" {
		parts = append(parts, e.ProjectNotes)
	}
	return strings.Join(parts, "\n\n")
}

func mergeCancel(parent context.Context, override context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if override == nil {
		return ctx, cancel
	}
	go func() {
		select {
		case <-override.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func historyTokens(history []*models.Message) uint32 {
	var total uint32
	for _, m := range history {
		total += m.TokenCount
	}
	return total
}

func convertHistory(history []*models.Message) []RequestMessage {
	out := make([]RequestMessage, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			out = append(out, RequestMessage{Role: RoleUser, Content: []ContentBlock{{Type: ContentText, Text: m.Content}}})
		case models.RoleAssistant:
			blocks := RehydrateBlocks(ParseContent(m.Content))
			if len(blocks) == 0 {
				blocks = []ContentBlock{{Type: ContentText, Text: m.Content}}
			}
			out = append(out, RequestMessage{Role: RoleAssistant, Content: blocks})
		}
	}
	return out
}

func toolSpecs(tools []Tool) []ToolSpec {
	out := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolSpec{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return out
}

func extractToolUse(content []ContentBlock) []ContentBlock {
	var out []ContentBlock
	for _, c := range content {
		if c.Type == ContentToolUse {
			out = append(out, c)
		}
	}
	return out
}

func summarizeToolResult(result *ToolResult) string {
	s := strings.TrimSpace(result.Content)
	if len(s) > toolResultSummaryLimit {
		s = s[:toolResultSummaryLimit] + "…"
	}
	return s
}

func defaultSessionTitle(userInput string) string {
	const maxLen = 60
	s := strings.TrimSpace(userInput)
	if s == "" {
		return "New session"
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

func joinTurnContent(segments []string, finalText string) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg)
		b.WriteString("\n\n")
	}
	b.WriteString(finalText)
	return b.String()
}
