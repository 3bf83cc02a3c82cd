// Package orchestrator implements the Voice Stream Orchestrator: the
// per-call state machine that mediates bidirectional audio between a
// telephony transport, streaming STT, a tool-calling LLM, streaming TTS, and
// an optional RAG context source.
package orchestrator

import "time"

// CallDirection distinguishes inbound from outbound calls.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// AnsweredBy classifies who (or what) picked up an outbound call.
type AnsweredBy string

const (
	AnsweredByHuman   AnsweredBy = "human"
	AnsweredByMachine AnsweredBy = "machine"
	AnsweredByUnknown AnsweredBy = "unknown"
)

// CallContext carries the metadata forwarded from the inbound webhook
// through the media-stream socket's query string.
type CallContext struct {
	Direction    CallDirection
	AnsweredBy   AnsweredBy
	CustomerName string
}

// AgentConfig is resolved once per call at Setup and is immutable for the
// call's lifetime.
type AgentConfig struct {
	AgentID      string
	TenantID     string
	SystemPrompt string
	VoiceID      string
	PhoneNumber  string
	CallContext  CallContext

	// OpeningLineTemplate is used for outbound-to-human greetings; "{{.CustomerName}}"
	// is substituted. Empty means use the built-in default template (SUPPLEMENT).
	OpeningLineTemplate string

	// VoiceStability and VoiceSimilarity pass through to TTSStream.
	VoiceStability  float64
	VoiceSimilarity float64
}

// MessageRole enumerates the ConversationHistory roles.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall is the assistant-side record of a requested tool invocation,
// carried on an assistant message with Content == "".
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one entry in ConversationHistory. The first entry is
// always {Role: RoleSystem}. RAG context is never represented here — it is
// a per-turn overlay built fresh in buildTurnMessages.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// History is the ordered ConversationHistory for one call.
type History struct {
	messages []Message
}

// NewHistory creates a History whose first entry is the system prompt.
func NewHistory(systemPrompt string) *History {
	return &History{messages: []Message{{Role: RoleSystem, Content: systemPrompt}}}
}

// Append adds a message to the end of history.
func (h *History) Append(m Message) {
	h.messages = append(h.messages, m)
}

// Snapshot returns a copy of the current messages, safe for the caller to
// mutate (e.g. to prepend a RAG overlay) without affecting h.
func (h *History) Snapshot() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len reports the number of entries, including the system prompt.
func (h *History) Len() int {
	return len(h.messages)
}

// ToolCallRequest is produced during an LLM step; it must be answered by
// exactly one {Role: RoleTool, ToolCallID: ID} message before the next LLM
// step.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string
}

// CallStatus is the terminal status recorded in CallMetrics.
type CallStatus string

const (
	StatusCompleted CallStatus = "completed"
	StatusFailed    CallStatus = "failed"
)

// Metrics accumulates per-call usage, mutated only by the Orchestrator and
// LLMStream callbacks, emitted once on teardown.
type Metrics struct {
	CallID          string
	TenantID        string
	AgentID         string
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds float64
	InputTokens     int
	OutputTokens    int
	TTSCharacters   int
	Status          CallStatus
	EndReason       string
}

// AddUsage accumulates token counts reported by an LLM step.
func (m *Metrics) AddUsage(inputTokens, outputTokens int) {
	m.InputTokens += inputTokens
	m.OutputTokens += outputTokens
}

// Finish stamps EndTime/DurationSeconds/Status/EndReason on m in place. Must
// be called exactly once per call that reaches setup success.
func (m *Metrics) Finish(status CallStatus, endReason string) {
	m.EndTime = time.Now()
	m.DurationSeconds = m.EndTime.Sub(m.StartTime).Seconds()
	m.Status = status
	m.EndReason = endReason
}
