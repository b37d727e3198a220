package agent

import "testing"

func TestMessageQueueDrainClearsSlot(t *testing.T) {
	q := NewMessageQueue()
	q.Enqueue("s1", "hello")
	if !q.Has("s1") {
		t.Fatal("expected pending prompt")
	}
	input, ok := q.Drain("s1")
	if !ok || input != "hello" {
		t.Fatalf("drain = %q, %v", input, ok)
	}
	if q.Has("s1") {
		t.Error("slot should be empty after drain")
	}
	if _, ok := q.Drain("s1"); ok {
		t.Error("second drain should find nothing")
	}
}

func TestMessageQueueEnqueueOverwritesSingleSlot(t *testing.T) {
	q := NewMessageQueue()
	q.Enqueue("s1", "first")
	q.Enqueue("s1", "second")
	input, _ := q.Drain("s1")
	if input != "second" {
		t.Errorf("input = %q, want second (slot holds at most one)", input)
	}
}

func TestMessageQueueIndependentPerSession(t *testing.T) {
	q := NewMessageQueue()
	q.Enqueue("s1", "a")
	if q.Has("s2") {
		t.Error("s2 should have no pending prompt")
	}
}
