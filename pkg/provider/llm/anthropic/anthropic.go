// Package anthropic provides an LLM provider backed by the Anthropic Claude
// Messages API, mirroring pkg/provider/llm/openai's shape so the two
// backends are interchangeable behind llm.Provider.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// Provider implements llm.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropic.Client
	model  string
}

// Option is a functional option for Provider.
type Option func(*config)

type config struct {
	baseURL string
}

// WithBaseURL overrides the default Anthropic API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// New constructs a new Anthropic LLM Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{client: anthropic.NewClient(reqOpts...), model: model}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		toolCallAccum := map[int]*types.ToolCall{}

		for stream.Next() {
			event := stream.Current()

			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tu := delta.ContentBlock.AsToolUse(); tu.ID != "" {
					toolCallAccum[int(delta.Index)] = &types.ToolCall{ID: tu.ID, Name: tu.Name}
				}
			case anthropic.ContentBlockDeltaEvent:
				if text := delta.Delta.AsAny(); text != nil {
					if textDelta, ok := text.(anthropic.TextDelta); ok && textDelta.Text != "" {
						select {
						case ch <- llm.Chunk{Text: textDelta.Text}:
						case <-ctx.Done():
							return
						}
					}
					if inputDelta, ok := text.(anthropic.InputJSONDelta); ok {
						if tc, ok := toolCallAccum[int(delta.Index)]; ok {
							tc.Arguments += inputDelta.PartialJSON
						}
					}
				}
			case anthropic.MessageDeltaEvent:
				if string(delta.Delta.StopReason) != "" {
					out := llm.Chunk{FinishReason: string(delta.Delta.StopReason)}
					for i := 0; i < len(toolCallAccum); i++ {
						if tc, ok := toolCallAccum[i]; ok {
							out.ToolCalls = append(out.ToolCalls, *tc)
						}
					}
					select {
					case ch <- out:
					case <-ctx.Done():
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages.new: %w", err)
	}

	result := &llm.CompletionResponse{
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Content += b.Text
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(b.Input)
			result.ToolCalls = append(result.ToolCalls, types.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(args),
			})
		}
	}
	return result, nil
}

// CountTokens implements llm.Provider using the same rough approximation as
// the OpenAI adapter; Claude's tokenizer differs slightly but this is good
// enough for the voice-length budget check, not for billing.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		SupportsVision:      true,
		ContextWindow:       200_000,
		MaxOutputTokens:     8_192,
	}
	if strings.Contains(strings.ToLower(p.model), "haiku") {
		caps.MaxOutputTokens = 4_096
	}
	return caps
}

// buildParams converts a CompletionRequest into Anthropic SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
	}
	if req.Temperature != 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	for _, m := range req.Messages {
		msg, ok, err := convertMessage(m)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		if ok {
			params.Messages = append(params.Messages, msg)
		}
	}

	for _, td := range req.Tools {
		schema, err := json.Marshal(td.Parameters)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: marshal tool schema %q: %w", td.Name, err)
		}
		var inputSchema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schema, &inputSchema); err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: decode tool schema %q: %w", td.Name, err)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        td.Name,
				Description: anthropic.String(td.Description),
				InputSchema: inputSchema,
			},
		})
	}

	return params, nil
}

// convertMessage converts a types.Message to an Anthropic message param.
// Anthropic has no "system" role in the Messages array (it's a top-level
// field), so system messages are dropped here; buildParams sets
// params.System from req.SystemPrompt instead.
func convertMessage(m types.Message) (anthropic.MessageParam, bool, error) {
	switch m.Role {
	case "system":
		return anthropic.MessageParam{}, false, nil

	case "user":
		return anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)), true, nil

	case "assistant":
		blocks := []anthropic.ContentBlockParamUnion{}
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			var input any
			_ = json.Unmarshal([]byte(tc.Arguments), &input)
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		return anthropic.NewAssistantMessage(blocks...), true, nil

	case "tool":
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)), true, nil

	default:
		return anthropic.MessageParam{}, false, fmt.Errorf("anthropic: unknown message role %q", m.Role)
	}
}
