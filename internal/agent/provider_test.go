package agent

import (
	"encoding/json"
	"testing"
)

func TestReconstructResponseAccumulatesTextDeltas(t *testing.T) {
	events := make(chan StreamEvent, 16)
	events <- StreamEvent{Type: EventMessageStart, MessageID: "m1", Model: "test-model"}
	events <- StreamEvent{Type: EventContentBlockStart, Index: 0, ContentBlock: &ContentBlock{Type: ContentText}}
	events <- StreamEvent{Type: EventContentBlockDelta, Index: 0, DeltaType: DeltaText, Delta: "Hi "}
	events <- StreamEvent{Type: EventContentBlockDelta, Index: 0, DeltaType: DeltaText, Delta: "there"}
	events <- StreamEvent{Type: EventContentBlockStop, Index: 0}
	endTurn := StopEndTurn
	events <- StreamEvent{Type: EventMessageDelta, StopReason: &endTurn, Usage: TokenUsage{InputTokens: 5, OutputTokens: 3}}
	events <- StreamEvent{Type: EventMessageStop}
	close(events)

	resp, err := ReconstructResponse(events, nil)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "Hi there" {
		t.Fatalf("content = %+v", resp.Content)
	}
	if resp.StopReason != StopEndTurn {
		t.Errorf("stop reason = %v, want end_turn", resp.StopReason)
	}
	if resp.Usage.OutputTokens != 3 {
		t.Errorf("output tokens = %d, want 3", resp.Usage.OutputTokens)
	}
}

func TestReconstructResponseFinalizesToolUseInput(t *testing.T) {
	events := make(chan StreamEvent, 16)
	events <- StreamEvent{Type: EventMessageStart, MessageID: "m1"}
	events <- StreamEvent{Type: EventContentBlockStart, Index: 0, ContentBlock: &ContentBlock{Type: ContentToolUse, ToolUseID: "t1", ToolName: "echo"}}
	events <- StreamEvent{Type: EventContentBlockDelta, Index: 0, DeltaType: DeltaInputJSON, Delta: `{"msg":`}
	events <- StreamEvent{Type: EventContentBlockDelta, Index: 0, DeltaType: DeltaInputJSON, Delta: `"ok"}`}
	events <- StreamEvent{Type: EventContentBlockStop, Index: 0}
	close(events)

	resp, _ := ReconstructResponse(events, nil)
	if len(resp.Content) != 1 {
		t.Fatalf("content = %+v", resp.Content)
	}
	var decoded map[string]string
	if err := json.Unmarshal(resp.Content[0].ToolInput, &decoded); err != nil {
		t.Fatalf("tool input not valid json: %v", err)
	}
	if decoded["msg"] != "ok" {
		t.Errorf("tool input = %v", decoded)
	}
}

func TestReconstructResponseSubstitutesEmptyObjectOnInvalidJSON(t *testing.T) {
	events := make(chan StreamEvent, 16)
	events <- StreamEvent{Type: EventContentBlockStart, Index: 0, ContentBlock: &ContentBlock{Type: ContentToolUse}}
	events <- StreamEvent{Type: EventContentBlockDelta, Index: 0, DeltaType: DeltaInputJSON, Delta: `{not json`}
	events <- StreamEvent{Type: EventContentBlockStop, Index: 0}
	close(events)

	resp, _ := ReconstructResponse(events, nil)
	if string(resp.Content[0].ToolInput) != "{}" {
		t.Errorf("tool input = %s, want {}", resp.Content[0].ToolInput)
	}
}
