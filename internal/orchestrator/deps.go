package orchestrator

import (
	"context"
	"strconv"

	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// TranscriptEvent is delivered on STTSession's Transcripts channel.
// Re-architected ("callback-based STT with shared-state closures" →
// "explicit message types delivered on a bounded channel") — no callbacks,
// no captured orchestrator state.
type TranscriptEvent struct {
	Text    string
	IsFinal bool
}

// STTSession is one open speech-to-text connection for the call's lifetime.
// Empty transcripts are never delivered on Transcripts — the
// implementation suppresses them before they reach the channel.
type STTSession interface {
	// SendAudio streams one frame of PCM16 mono 8kHz upstream.
	SendAudio(ctx context.Context, pcm16 []byte) error

	// Transcripts delivers partial and final transcription results.
	Transcripts() <-chan TranscriptEvent

	// SpeechStarted fires once per utterance, on the first voice-activity
	// detection only — the sole barge-in trigger.
	SpeechStarted() <-chan struct{}

	// Finish flushes and closes the session.
	Finish(ctx context.Context) error
}

// STTConnector opens a new STTSession for a call.
type STTConnector interface {
	Connect(ctx context.Context) (STTSession, error)
}

// LLMEventKind tags the variant delivered on an LLM step's event channel.
type LLMEventKind int

const (
	LLMEventContent LLMEventKind = iota
	LLMEventToolFragment
	LLMEventUsage
	LLMEventDone
)

// ToolFragment is one indexed slice of a tool call as it streams in; the
// consumer reassembles fragments by Index, concatenating ArgumentsFragment
// and binding the first-seen ID/Name per index.
type ToolFragment struct {
	Index             int
	ID                string
	Name              string
	ArgumentsFragment string
}

// Usage is token accounting delivered after the last content token.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// LLMEvent is one item of an LLMStream's lazy event sequence.
type LLMEvent struct {
	Kind         LLMEventKind
	Content      string
	ToolFragment ToolFragment
	Usage        Usage
}

// ToolSchema describes one tool offered to the model for a turn.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// LLMStream is the tool-enabled streaming entry point used by the turn loop.
// Plain streaming is exposed identically by omitting tools.
type LLMStream interface {
	// StreamWithTools streams one completion step. MaxTokens bounds the
	// voice-length budget (250) and is applied by the implementation.
	StreamWithTools(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan LLMEvent, error)
}

// ToolRegistry executes tool calls requested by the LLM. Execute
// never returns a Go error: every failure mode is surfaced as a literal
// diagnostic string placed into the next tool message.
type ToolRegistry interface {
	Execute(ctx context.Context, req ToolCallRequest) string
	Schemas() []ToolSchema
}

// RAGRetriever embeds the query, vector-searches under a tenant filter, and
// returns surviving hit content joined by "\n---\n", or ok=false on any
// failure or empty result.
type RAGRetriever interface {
	Retrieve(ctx context.Context, query, tenantID string) (context string, ok bool)
}

// ConfigResolver resolves phone_number → AgentConfig with cache-aside
// lookup semantics. found=false covers both cache/API miss and any fetch
// error — both reject the call at Setup.
type ConfigResolver interface {
	Resolve(ctx context.Context, phoneNumber string) (cfg AgentConfig, found bool)
}

// TelemetryEmitter appends events to the shared ordered stream.
// Implementations must never propagate failures to the orchestrator.
type TelemetryEmitter interface {
	EmitCallEnded(ctx context.Context, m Metrics)
	EmitTranscript(ctx context.Context, callID string, role MessageRole, content string)
}

// Redactor scrubs PII from user transcripts before they enter history or are
// used as a RAG query. Redaction logic is an external collaborator, out of
// scope for this package; NoopRedactor is supplied for tests and standalone
// deployments.
type Redactor interface {
	Redact(text string) string
}

// NoopRedactor returns text unchanged.
type NoopRedactor struct{}

func (NoopRedactor) Redact(text string) string { return text }

// ttsVoiceProfile adapts an AgentConfig's voice fields to the generic
// tts.Provider voice parameter.
func ttsVoiceProfile(cfg AgentConfig) types.VoiceProfile {
	return types.VoiceProfile{
		ID: cfg.VoiceID,
		Metadata: map[string]string{
			"stability":  strconv.FormatFloat(cfg.VoiceStability, 'f', -1, 64),
			"similarity": strconv.FormatFloat(cfg.VoiceSimilarity, 'f', -1, 64),
		},
	}
}

// TTSConnector opens a fresh TTS session per turn.
type TTSConnector interface {
	tts.Provider
}
