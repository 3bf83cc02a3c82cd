package orchestrator

import "testing"

func TestNewHistory_FirstEntryIsSystemPrompt(t *testing.T) {
	h := NewHistory("you are a helpful assistant")
	if h.Len() != 1 {
		t.Fatalf("expected Len() 1, got %d", h.Len())
	}
	snap := h.Snapshot()
	if snap[0].Role != RoleSystem || snap[0].Content != "you are a helpful assistant" {
		t.Errorf("unexpected first message: %+v", snap[0])
	}
}

func TestHistory_AppendGrowsHistory(t *testing.T) {
	h := NewHistory("system prompt")
	h.Append(Message{Role: RoleUser, Content: "hello"})
	h.Append(Message{Role: RoleAssistant, Content: "hi there"})

	if h.Len() != 3 {
		t.Fatalf("expected Len() 3, got %d", h.Len())
	}
	snap := h.Snapshot()
	if snap[1].Role != RoleUser || snap[2].Role != RoleAssistant {
		t.Errorf("unexpected history order: %+v", snap)
	}
}

func TestHistory_SnapshotIsACopy(t *testing.T) {
	h := NewHistory("system prompt")
	h.Append(Message{Role: RoleUser, Content: "hello"})

	snap := h.Snapshot()
	snap[0].Content = "mutated"

	if h.Snapshot()[0].Content != "system prompt" {
		t.Fatal("expected mutating a snapshot to leave the underlying history untouched")
	}
}

func TestMetrics_AddUsageAccumulates(t *testing.T) {
	m := &Metrics{}
	m.AddUsage(10, 20)
	m.AddUsage(5, 7)

	if m.InputTokens != 15 || m.OutputTokens != 27 {
		t.Errorf("unexpected accumulated usage: input=%d output=%d", m.InputTokens, m.OutputTokens)
	}
}

func TestMetrics_FinishStampsEndStateOnce(t *testing.T) {
	m := &Metrics{}
	m.Finish(StatusFailed, "stt unavailable")

	if m.Status != StatusFailed {
		t.Errorf("expected Status StatusFailed, got %v", m.Status)
	}
	if m.EndReason != "stt unavailable" {
		t.Errorf("expected EndReason to be recorded, got %q", m.EndReason)
	}
	if m.EndTime.IsZero() {
		t.Error("expected EndTime to be stamped")
	}
	if m.DurationSeconds < 0 {
		t.Errorf("expected a non-negative duration, got %v", m.DurationSeconds)
	}
}
