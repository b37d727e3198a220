package agent

import "encoding/json"

// ProgressEvent is the tagged variant the engine emits to reconstruct UI
// state without reading the database. Concrete types below implement this
// marker interface — Go's stand-in for a closed sum type.
type ProgressEvent interface {
	progressEvent()
}

// StreamingChunk is a text delta to append to the current assistant bubble.
type StreamingChunk struct{ Text string }

// ReasoningChunk is a thinking-trace delta; adapters that don't render
// reasoning may drop it.
type ReasoningChunk struct{ Text string }

// ToolStarted begins a new tool-call entry. Input is already redacted.
type ToolStarted struct {
	Name  string
	Input json.RawMessage
}

// ToolCompleted finalizes the most recent matching tool-call entry.
type ToolCompleted struct {
	Name    string
	Input   json.RawMessage
	Success bool
	Summary string
}

// IntermediateText is assistant text produced between tool-use rounds.
type IntermediateText struct {
	Text      string
	Reasoning string
}

// CompactionSummary tells the UI to clear its transcript and show the new
// summary as the baseline.
type CompactionSummary struct{ Text string }

func (StreamingChunk) progressEvent()    {}
func (ReasoningChunk) progressEvent()    {}
func (ToolStarted) progressEvent()       {}
func (ToolCompleted) progressEvent()     {}
func (IntermediateText) progressEvent()  {}
func (CompactionSummary) progressEvent() {}

// ProgressSink receives events for a single turn, totally ordered. It must
// not block and must be cheap; failure to deliver (e.g. a panicking
// adapter) is tolerated and never aborts the turn.
type ProgressSink func(sessionID string, event ProgressEvent)

// NopProgress discards every event; used when a caller supplies no sink.
func NopProgress(string, ProgressEvent) {}

// MultiProgress fans one turn's events out to several sinks in order,
// isolating each sink's panic so one broken adapter cannot affect another
// or abort the turn.
func MultiProgress(sinks ...ProgressSink) ProgressSink {
	return func(sessionID string, event ProgressEvent) {
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			safeDeliver(sink, sessionID, event)
		}
	}
}

func safeDeliver(sink ProgressSink, sessionID string, event ProgressEvent) {
	defer func() { _ = recover() }()
	sink(sessionID, event)
}
