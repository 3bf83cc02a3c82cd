// Package connectors adapts the generic pkg/provider/{llm,stt} backends to
// the narrower orchestrator.STTConnector and orchestrator.LLMStream shapes.
// The provider packages stay backend-agnostic (Deepgram, OpenAI, ...); this
// package is the only place that knows about the orchestrator's event-driven
// wire shapes.
package connectors

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphoxa/internal/orchestrator"
	"github.com/MrWong99/glyphoxa/pkg/provider/stt"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// speechNotifier is implemented by STT sessions (e.g. Deepgram's) that can
// report voice-activity-detector speech-start events out of band from the
// transcript stream. Sessions that don't implement it never trigger
// barge-in: transcripts alone do not raise the interrupt.
type speechNotifier interface {
	SpeechStarted() <-chan struct{}
}

// STTConnector adapts a stt.Provider into an orchestrator.STTConnector,
// opening a session with a fixed StreamConfig on every call.
type STTConnector struct {
	Provider stt.Provider
	Config   stt.StreamConfig
}

// NewSTTConnector builds an STTConnector that opens sessions at the
// telephony leg's native format: mono PCM16 at 8kHz.
func NewSTTConnector(provider stt.Provider, language string, keywords []types.KeywordBoost) *STTConnector {
	return &STTConnector{
		Provider: provider,
		Config: stt.StreamConfig{
			SampleRate: 8000,
			Channels:   1,
			Language:   language,
			Keywords:   keywords,
		},
	}
}

// Connect implements orchestrator.STTConnector.
func (c *STTConnector) Connect(ctx context.Context) (orchestrator.STTSession, error) {
	handle, err := c.Provider.StartStream(ctx, c.Config)
	if err != nil {
		return nil, err
	}
	s := &sttSession{
		handle:    handle,
		events:    make(chan orchestrator.TranscriptEvent, 64),
		speech:    make(chan struct{}, 1),
		closeOnce: sync.Once{},
		done:      make(chan struct{}),
	}
	if notifier, ok := handle.(speechNotifier); ok {
		s.underlyingSpeech = notifier.SpeechStarted()
	}
	go s.pump()
	return s, nil
}

// sttSession bridges a stt.SessionHandle's two typed channels (Partials,
// Finals) into the single TranscriptEvent channel the orchestrator expects,
// and forwards VAD speech-start notifications when the backend provides them.
type sttSession struct {
	handle stt.SessionHandle
	events chan orchestrator.TranscriptEvent
	speech chan struct{}

	underlyingSpeech <-chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func (s *sttSession) SendAudio(_ context.Context, pcm16 []byte) error {
	return s.handle.SendAudio(pcm16)
}

func (s *sttSession) Transcripts() <-chan orchestrator.TranscriptEvent { return s.events }

func (s *sttSession) SpeechStarted() <-chan struct{} { return s.speech }

func (s *sttSession) Finish(_ context.Context) error {
	err := s.handle.Close()
	s.closeOnce.Do(func() { close(s.done) })
	return err
}

// pump fans Partials/Finals/speech-start into the unified channels until the
// session's own channels close.
func (s *sttSession) pump() {
	defer close(s.events)
	defer close(s.speech)

	partials := s.handle.Partials()
	finals := s.handle.Finals()
	speech := s.underlyingSpeech

	for partials != nil || finals != nil || speech != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if t.Text == "" {
				continue
			}
			s.forward(orchestrator.TranscriptEvent{Text: t.Text, IsFinal: false})
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if t.Text == "" {
				continue
			}
			s.forward(orchestrator.TranscriptEvent{Text: t.Text, IsFinal: true})
		case _, ok := <-speech:
			if !ok {
				speech = nil
				continue
			}
			select {
			case s.speech <- struct{}{}:
			default:
			}
		case <-s.done:
			return
		}
	}
}

func (s *sttSession) forward(e orchestrator.TranscriptEvent) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

