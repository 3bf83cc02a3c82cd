package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newCallID() string {
	return uuid.NewString()
}

func applyOpeningTemplate(tmpl, customerName string) string {
	return strings.ReplaceAll(tmpl, "{{.CustomerName}}", customerName)
}

// speakLiteral speaks fixed text with no LLM call, used for the outbound
// dynamic opening line.
func (o *Orchestrator) speakLiteral(ctx context.Context, text string) {
	o.beginSpeaking()
	defer o.endSpeaking()

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	o.pumpTTS(ctx, textCh)
}

// runTurn executes one conversational turn: clear InterruptToken,
// build the per-turn message list (system prompt + optional RAG overlay +
// history), then iterate up to maxToolLoopSteps LLM steps.
func (o *Orchestrator) runTurn(ctx context.Context, userText string) {
	turnStart := time.Now()
	o.speakMu.Lock()
	o.interrupt = NewInterruptToken()
	o.speakMu.Unlock()

	ragContext, ragOK := "", false
	if o.deps.RAG != nil {
		ragContext, ragOK = o.deps.RAG.Retrieve(ctx, userText, o.cfg.TenantID)
	}

	firstAudioSent := false
	for step := 0; step < maxToolLoopSteps; step++ {
		messages := o.buildTurnMessages(ragContext, ragOK)

		toolCalls, producedText, interrupted, sawFirstAudio := o.runLLMStep(ctx, messages, !firstAudioSent, turnStart)
		if sawFirstAudio {
			firstAudioSent = true
		}
		if interrupted {
			if producedText != "" {
				o.history.Append(Message{Role: RoleAssistant, Content: producedText})
				o.deps.Telemetry.EmitTranscript(ctx, o.metrics.CallID, RoleAssistant, producedText)
			}
			return
		}

		if len(toolCalls) > 0 {
			o.appendToolCallsMessage(toolCalls)
			for _, tc := range toolCalls {
				result := o.executeTool(ctx, tc)
				o.history.Append(Message{Role: RoleTool, ToolCallID: tc.ID, Content: result})
			}
			continue
		}

		if producedText != "" {
			o.history.Append(Message{Role: RoleAssistant, Content: producedText})
			o.deps.Telemetry.EmitTranscript(ctx, o.metrics.CallID, RoleAssistant, producedText)
		}
		return
	}

	o.log.Info("turn: tool-loop cap reached, exiting turn", "steps", maxToolLoopSteps)
}

// buildTurnMessages assembles [system_prompt] + optional RAG overlay +
// remaining ConversationHistory. RAG context is never persisted into
// History.
func (o *Orchestrator) buildTurnMessages(ragContext string, ragOK bool) []Message {
	snapshot := o.history.Snapshot()
	if !ragOK || ragContext == "" {
		return snapshot
	}

	out := make([]Message, 0, len(snapshot)+1)
	out = append(out, snapshot[0]) // system prompt
	out = append(out, Message{
		Role:    RoleSystem,
		Content: "Use the following context to answer the user question if relevant:\n" + ragContext,
	})
	out = append(out, snapshot[1:]...)
	return out
}

// runLLMStep runs one LLM step, concurrently pumping content tokens to TTS
// and TTS audio to the transport, breaking out immediately if InterruptToken
// is raised. It returns any reassembled tool calls, the
// produced text, whether the step was interrupted mid-stream, and whether
// the first outbound audio frame of the turn was sent (for latency logging).
func (o *Orchestrator) runLLMStep(ctx context.Context, messages []Message, firstStepOfTurn bool, turnStart time.Time) (toolCalls []ToolCallRequest, text string, interrupted bool, sawFirstAudio bool) {
	var schemas []ToolSchema
	if o.deps.Tools != nil {
		schemas = o.deps.Tools.Schemas()
	}

	events, err := o.deps.LLM.StreamWithTools(ctx, messages, schemas)
	if err != nil {
		o.log.Warn("turn: llm step failed to start", "err", err)
		return nil, "", false, false
	}

	o.beginSpeaking()
	defer o.endSpeaking()
	o.speakMu.Lock()
	tok := o.interrupt
	o.speakMu.Unlock()

	textCh := make(chan string, 8)
	audioDone := make(chan struct{})
	fragments := map[int]*ToolFragment{}
	var textBuilder strings.Builder

	go func() {
		defer close(audioDone)
		o.pumpTTSObserving(ctx, textCh, tok, turnStart, firstStepOfTurn, &sawFirstAudio)
	}()

consume:
	for {
		select {
		case <-tok.Done():
			interrupted = true
			close(textCh)
			<-audioDone
			text = textBuilder.String()
			return reassemble(fragments), text, true, sawFirstAudio
		case <-ctx.Done():
			close(textCh)
			<-audioDone
			return nil, textBuilder.String(), false, sawFirstAudio
		case ev, ok := <-events:
			if !ok {
				break consume
			}
			switch ev.Kind {
			case LLMEventContent:
				textBuilder.WriteString(ev.Content)
				select {
				case textCh <- ev.Content:
				case <-tok.Done():
					interrupted = true
					break consume
				case <-ctx.Done():
					break consume
				}
			case LLMEventToolFragment:
				f := ev.ToolFragment
				existing, ok := fragments[f.Index]
				if !ok {
					existing = &ToolFragment{Index: f.Index, ID: f.ID, Name: f.Name}
					fragments[f.Index] = existing
				}
				existing.ArgumentsFragment += f.ArgumentsFragment
			case LLMEventUsage:
				o.metrics.AddUsage(ev.Usage.InputTokens, ev.Usage.OutputTokens)
				o.metrics.TTSCharacters += len(textBuilder.String())
			}
		}
	}

	close(textCh)
	<-audioDone
	return reassemble(fragments), textBuilder.String(), interrupted, sawFirstAudio
}

func reassemble(fragments map[int]*ToolFragment) []ToolCallRequest {
	if len(fragments) == 0 {
		return nil
	}
	out := make([]ToolCallRequest, 0, len(fragments))
	for i := 0; i < len(fragments)+maxFragmentGap(fragments); i++ {
		f, ok := fragments[i]
		if !ok {
			continue
		}
		out = append(out, ToolCallRequest{ID: f.ID, Name: f.Name, Arguments: f.ArgumentsFragment})
	}
	return out
}

// maxFragmentGap guards against non-contiguous indices (a provider skipping
// an index) by bounding the scan range to the highest index seen.
func maxFragmentGap(fragments map[int]*ToolFragment) int {
	max := 0
	for i := range fragments {
		if i > max {
			max = i
		}
	}
	return max
}

func (o *Orchestrator) appendToolCallsMessage(calls []ToolCallRequest) {
	tcs := make([]ToolCall, len(calls))
	for i, c := range calls {
		tcs[i] = ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	o.history.Append(Message{Role: RoleAssistant, ToolCalls: tcs})
}

func (o *Orchestrator) executeTool(ctx context.Context, req ToolCallRequest) string {
	if o.deps.Tools == nil {
		return "Error: Internal tool failure."
	}
	return o.deps.Tools.Execute(ctx, req)
}

func (o *Orchestrator) beginSpeaking() {
	o.speakMu.Lock()
	o.isSpeaking = true
	o.speakMu.Unlock()
}

func (o *Orchestrator) endSpeaking() {
	o.speakMu.Lock()
	o.isSpeaking = false
	o.speakMu.Unlock()
}
