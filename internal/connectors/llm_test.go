package connectors

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa/internal/orchestrator"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	llmmock "github.com/MrWong99/glyphoxa/pkg/provider/llm/mock"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

func drainEvents(t *testing.T, ch <-chan orchestrator.LLMEvent) []orchestrator.LLMEvent {
	t.Helper()
	var out []orchestrator.LLMEvent
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(time.Second):
			t.Fatal("timed out draining LLM events")
		}
	}
}

func TestLLMStream_StreamsContentThenUsageThenDone(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "hel"},
			{Text: "lo"},
		},
	}
	a := NewLLMStream(provider, 0.7)

	ch, err := a.StreamWithTools(context.Background(), []orchestrator.Message{{Role: orchestrator.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("StreamWithTools: %v", err)
	}

	events := drainEvents(t, ch)
	if len(events) != 4 {
		t.Fatalf("expected 4 events (2 content + usage + done), got %d: %+v", len(events), events)
	}
	if events[0].Kind != orchestrator.LLMEventContent || events[0].Content != "hel" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != orchestrator.LLMEventContent || events[1].Content != "lo" {
		t.Errorf("unexpected second event: %+v", events[1])
	}
	if events[2].Kind != orchestrator.LLMEventUsage {
		t.Errorf("expected usage event, got %+v", events[2])
	}
	if events[3].Kind != orchestrator.LLMEventDone {
		t.Errorf("expected done event, got %+v", events[3])
	}
}

func TestLLMStream_ForwardsToolFragments(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{ToolCalls: []types.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{"city":`}}},
		},
	}
	a := NewLLMStream(provider, 0)

	ch, err := a.StreamWithTools(context.Background(), nil, []orchestrator.ToolSchema{{Name: "get_weather"}})
	if err != nil {
		t.Fatalf("StreamWithTools: %v", err)
	}

	events := drainEvents(t, ch)
	if len(events) != 3 {
		t.Fatalf("expected 3 events (fragment + usage + done), got %d", len(events))
	}
	if events[0].Kind != orchestrator.LLMEventToolFragment {
		t.Fatalf("expected tool fragment event, got %+v", events[0])
	}
	if events[0].ToolFragment.Name != "get_weather" || events[0].ToolFragment.ID != "call_1" {
		t.Errorf("unexpected tool fragment: %+v", events[0].ToolFragment)
	}
}

func TestLLMStream_PropagatesProviderStreamError(t *testing.T) {
	provider := &llmmock.Provider{StreamErr: context.DeadlineExceeded}
	a := NewLLMStream(provider, 0)

	_, err := a.StreamWithTools(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected an error from StreamWithTools when the provider fails")
	}
}
