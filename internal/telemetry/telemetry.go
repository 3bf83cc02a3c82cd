// Package telemetry implements the TelemetryEmitter used by the
// orchestrator at teardown and on every transcript line: an
// append-only Redis stream of call events, plus OpenTelemetry metrics
// recorded alongside every emission.
//
// Grounded on app/services/telemetry_service.py (the "call_events" stream
// key, XADD-per-event shape) and internal/observe's metrics wiring.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/glyphoxa/internal/observe"
	"github.com/MrWong99/glyphoxa/internal/orchestrator"
)

// streamKey matches the original worker's consumer configuration.
const streamKey = "call_events"

// Emitter is the default TelemetryEmitter implementation.
type Emitter struct {
	rdb     *redis.Client
	metrics *observe.Metrics
	log     *slog.Logger
}

// New builds an Emitter. metrics may be nil to skip OTel recording (tests).
func New(rdb *redis.Client, metrics *observe.Metrics, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{rdb: rdb, metrics: metrics, log: log}
}

// EmitCallEnded implements orchestrator.TelemetryEmitter. Failures are
// logged, never propagated.
func (e *Emitter) EmitCallEnded(ctx context.Context, m orchestrator.Metrics) {
	if e.metrics != nil {
		e.metrics.RecordCallEnded(ctx, string(m.Status))
	}

	values := map[string]any{
		"event":            "call_ended",
		"timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"call_id":          m.CallID,
		"tenant_id":        m.TenantID,
		"agent_id":         m.AgentID,
		"duration_seconds": strconv.FormatFloat(m.DurationSeconds, 'f', 3, 64),
		"input_tokens":     strconv.Itoa(m.InputTokens),
		"output_tokens":    strconv.Itoa(m.OutputTokens),
		"tts_characters":   strconv.Itoa(m.TTSCharacters),
		"status":           string(m.Status),
		"end_reason":       m.EndReason,
	}

	if e.rdb == nil {
		return
	}
	if err := e.rdb.XAdd(ctx, &redis.XAddArgs{Stream: streamKey, Values: values}).Err(); err != nil {
		e.log.Warn("telemetry: emit call_ended failed", "call_id", m.CallID, "err", err)
	}
}

// EmitTranscript implements orchestrator.TelemetryEmitter. Used for
// real-time dashboards; never persisted into ConversationHistory itself.
func (e *Emitter) EmitTranscript(ctx context.Context, callID string, role orchestrator.MessageRole, content string) {
	if e.rdb == nil {
		return
	}
	values := map[string]any{
		"event":     "transcript",
		"call_id":   callID,
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		"role":      string(role),
		"content":   content,
	}
	if err := e.rdb.XAdd(ctx, &redis.XAddArgs{Stream: streamKey, Values: values}).Err(); err != nil {
		e.log.Warn("telemetry: emit transcript failed", "call_id", callID, "err", err)
	}
}
