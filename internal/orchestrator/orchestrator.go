package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphoxa/internal/telephony"
)

// maxToolLoopSteps bounds the per-turn LLM/tool-call loop regardless of
// model behaviour.
const maxToolLoopSteps = 3

// maxTurnTokens is the voice-length output budget per LLM step.
const maxTurnTokens = 250

// Dependencies bundles every collaborator the Orchestrator wires together.
// All fields are required except Redactor, which defaults to
// NoopRedactor, and Tools/RAG, which may be nil to disable those features.
type Dependencies struct {
	STT       STTConnector
	LLM       LLMStream
	TTS       TTSConnector
	Tools     ToolRegistry
	RAG       RAGRetriever
	Telemetry TelemetryEmitter
	Redactor  Redactor
}

// Orchestrator is the per-call state machine mediating one phone call. One
// instance is created per accepted media-stream connection and is not
// reused across calls.
type Orchestrator struct {
	deps      Dependencies
	transport *telephony.Transport
	log       *slog.Logger

	cfg     AgentConfig
	history *History
	metrics *Metrics

	speakMu    sync.Mutex
	isSpeaking bool
	interrupt  *InterruptToken
}

// New constructs an Orchestrator for one call. cfg must already be resolved
// (Setup's ConfigResolver step happens before this call, at the call
// acceptor layer, so that rejected calls never allocate an Orchestrator).
func New(transport *telephony.Transport, cfg AgentConfig, deps Dependencies, log *slog.Logger) *Orchestrator {
	if deps.Redactor == nil {
		deps.Redactor = NoopRedactor{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		deps:      deps,
		transport: transport,
		log:       log.With("agent_id", cfg.AgentID, "tenant_id", cfg.TenantID),
		cfg:       cfg,
		history:   NewHistory(cfg.SystemPrompt),
		interrupt: NewInterruptToken(),
	}
}

// Run drives the call from Setup through Teardown. It never returns an error
// to the process — all failures are contained — but propagates
// context cancellation so the caller's accept loop can join cleanly.
func (o *Orchestrator) Run(ctx context.Context) error {
	callID := newCallID()
	o.metrics = &Metrics{
		CallID:    callID,
		TenantID:  o.cfg.TenantID,
		AgentID:   o.cfg.AgentID,
		StartTime: time.Now(),
		Status:    StatusCompleted,
	}
	o.log = o.log.With("call_id", callID)

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sttSession, err := o.deps.STT.Connect(callCtx)
	if err != nil {
		o.log.Error("setup: stt connect failed", "err", err)
		_ = o.transport.Close("stt unavailable")
		return nil
	}
	defer sttSession.Finish(context.Background())

	if o.cfg.CallContext.Direction == DirectionOutbound && o.cfg.CallContext.AnsweredBy == AnsweredByMachine {
		o.log.Info("setup: answering machine detected, skipping conversation")
		o.teardown(callCtx, StatusCompleted, "")
		return nil
	}

	if o.cfg.CallContext.Direction == DirectionOutbound && o.cfg.CallContext.AnsweredBy != AnsweredByMachine {
		opening := renderOpeningLine(o.cfg)
		o.history.Append(Message{Role: RoleAssistant, Content: opening})
		o.speakLiteral(callCtx, opening)
	}

	g, gctx := errgroup.WithContext(callCtx)
	turnCh := make(chan string, 4)

	g.Go(func() error { return o.frameLoop(gctx, sttSession, cancel) })
	g.Go(func() error { return o.eventLoop(gctx, sttSession, turnCh) })
	g.Go(func() error { return o.turnWorker(gctx, turnCh) })

	waitErr := g.Wait()

	status := StatusCompleted
	reason := ""
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		status = StatusFailed
		reason = waitErr.Error()
	}
	o.teardown(callCtx, status, reason)
	return nil
}

// frameLoop reads inbound transport frames and routes Media to STT. A
// Stopped frame cancels the call; a read error also ends the loop, whether
// from a clean disconnect or a fatal protocol error.
func (o *Orchestrator) frameLoop(ctx context.Context, stt STTSession, cancel context.CancelFunc) error {
	for {
		frame, err := o.transport.Recv(ctx)
		if err != nil {
			cancel()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return nil // TransportClosed: expected end, not a failure status.
		}

		switch frame.Kind {
		case telephony.FrameMedia:
			if err := stt.SendAudio(ctx, frame.PCM16); err != nil {
				o.log.Warn("frame loop: stt send audio failed", "err", err)
			}
		case telephony.FrameStopped:
			cancel()
			return nil
		case telephony.FrameMark:
			o.log.Debug("frame loop: mark received", "name", frame.MarkName)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// eventLoop multiplexes STT transcripts and speech-start events. Speech-start
// handling is intentionally fast and inline so barge-in latency never waits
// behind turn processing; final transcripts
// are forwarded to turnCh, which a single turnWorker drains so turns remain
// serialized.
func (o *Orchestrator) eventLoop(ctx context.Context, stt STTSession, turnCh chan<- string) error {
	defer close(turnCh)
	transcripts := stt.Transcripts()
	speechStarts := stt.SpeechStarted()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-speechStarts:
			if !ok {
				speechStarts = nil
				continue
			}
			o.onSpeechStart(ctx)
		case ev, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			if !ev.IsFinal || ev.Text == "" {
				continue
			}
			clean := o.deps.Redactor.Redact(ev.Text)
			o.history.Append(Message{Role: RoleUser, Content: clean})
			o.deps.Telemetry.EmitTranscript(ctx, o.metrics.CallID, RoleUser, clean)
			select {
			case turnCh <- clean:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// onSpeechStart is the sole barge-in edge. It raises the per-turn
// InterruptToken only while a speak pipeline is active and dispatches
// send_clear on the transport.
func (o *Orchestrator) onSpeechStart(ctx context.Context) {
	o.speakMu.Lock()
	speaking := o.isSpeaking
	tok := o.interrupt
	o.speakMu.Unlock()

	if !speaking {
		return
	}
	if tok.Raise() {
		if err := o.transport.SendClear(ctx); err != nil {
			o.log.Warn("barge-in: send clear failed", "err", err)
		}
	}
}

// turnWorker serializes turn execution: one user final transcript at a time,
// matching "no concurrent turn runs".
func (o *Orchestrator) turnWorker(ctx context.Context, turnCh <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-turnCh:
			if !ok {
				return nil
			}
			o.runTurn(ctx, text)
		}
	}
}

func (o *Orchestrator) teardown(ctx context.Context, status CallStatus, reason string) {
	o.metrics.Finish(status, reason)
	o.deps.Telemetry.EmitCallEnded(ctx, *o.metrics)
	o.log.Info("teardown", "status", status, "duration_seconds", o.metrics.DurationSeconds)
}

func renderOpeningLine(cfg AgentConfig) string {
	name := cfg.CallContext.CustomerName
	if name == "" {
		name = "there"
	}
	if cfg.OpeningLineTemplate != "" {
		return applyOpeningTemplate(cfg.OpeningLineTemplate, name)
	}
	return fmt.Sprintf("Hello %s, I am calling from Acme Corp. Is this a good time?", name)
}
