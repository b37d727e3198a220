package agent

import "testing"

func TestMultiProgressDeliversToAllSinks(t *testing.T) {
	var a, b int
	sink := MultiProgress(
		func(string, ProgressEvent) { a++ },
		func(string, ProgressEvent) { b++ },
	)
	sink("s1", StreamingChunk{Text: "hi"})
	if a != 1 || b != 1 {
		t.Errorf("a=%d b=%d, want 1 and 1", a, b)
	}
}

func TestMultiProgressIsolatesPanickingSink(t *testing.T) {
	var delivered bool
	sink := MultiProgress(
		func(string, ProgressEvent) { panic("boom") },
		func(string, ProgressEvent) { delivered = true },
	)
	sink("s1", StreamingChunk{Text: "hi"})
	if !delivered {
		t.Error("a panicking sink should not prevent delivery to other sinks")
	}
}

func TestNopProgressDoesNotPanic(t *testing.T) {
	NopProgress("s1", StreamingChunk{Text: "hi"})
}
