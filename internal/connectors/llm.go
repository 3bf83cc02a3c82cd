package connectors

import (
	"context"

	"github.com/MrWong99/glyphoxa/internal/orchestrator"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// maxTurnTokens mirrors the voice-length output budget the orchestrator
// enforces (250 completion tokens per step); the adapter applies it to every
// request so a misbehaving model can't run past a turn's speaking budget.
const maxTurnTokens = 250

// LLMStream adapts an llm.Provider's StreamCompletion into the tagged
// event sequence orchestrator.LLMStream expects.
type LLMStream struct {
	Provider    llm.Provider
	Temperature float64
}

// NewLLMStream wraps provider for use as an orchestrator.LLMStream.
func NewLLMStream(provider llm.Provider, temperature float64) *LLMStream {
	return &LLMStream{Provider: provider, Temperature: temperature}
}

// StreamWithTools implements orchestrator.LLMStream.
func (a *LLMStream) StreamWithTools(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSchema) (<-chan orchestrator.LLMEvent, error) {
	req := llm.CompletionRequest{
		Messages:    convertMessages(messages),
		Tools:       convertTools(tools),
		Temperature: a.Temperature,
		MaxTokens:   maxTurnTokens,
	}

	chunks, err := a.Provider.StreamCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan orchestrator.LLMEvent, 32)
	go a.pump(ctx, messages, chunks, out)
	return out, nil
}

// pump translates llm.Chunk values into LLMEvent, accumulating an estimated
// usage total since streaming providers don't report token counts inline.
func (a *LLMStream) pump(ctx context.Context, reqMessages []orchestrator.Message, chunks <-chan llm.Chunk, out chan<- orchestrator.LLMEvent) {
	defer close(out)

	var completionChars int

	for chunk := range chunks {
		if chunk.Text != "" {
			completionChars += len(chunk.Text)
			if !a.send(ctx, out, orchestrator.LLMEvent{Kind: orchestrator.LLMEventContent, Content: chunk.Text}) {
				return
			}
		}

		for idx, tc := range chunk.ToolCalls {
			if !a.send(ctx, out, orchestrator.LLMEvent{
				Kind: orchestrator.LLMEventToolFragment,
				ToolFragment: orchestrator.ToolFragment{
					Index:             idx,
					ID:                tc.ID,
					Name:              tc.Name,
					ArgumentsFragment: tc.Arguments,
				},
			}) {
				return
			}
		}
	}

	inputTokens, _ := a.Provider.CountTokens(convertMessages(reqMessages))
	outputTokens := (completionChars + 3) / 4

	if !a.send(ctx, out, orchestrator.LLMEvent{
		Kind:  orchestrator.LLMEventUsage,
		Usage: orchestrator.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
	}) {
		return
	}
	a.send(ctx, out, orchestrator.LLMEvent{Kind: orchestrator.LLMEventDone})
}

func (a *LLMStream) send(ctx context.Context, out chan<- orchestrator.LLMEvent, e orchestrator.LLMEvent) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func convertMessages(messages []orchestrator.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		tm := types.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			tm.ToolCalls = append(tm.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out = append(out, tm)
	}
	return out
}

func convertTools(tools []orchestrator.ToolSchema) []types.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]types.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}
