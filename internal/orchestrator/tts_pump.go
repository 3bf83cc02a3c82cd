package orchestrator

import (
	"context"
	"time"
)

// pumpTTS synthesizes textCh to speech and writes each audio frame to the
// transport — used only for the outbound literal greeting, which is spoken
// before any turn. It observes the call's current InterruptToken, so a
// barge-in during the greeting stops further audio from being forwarded.
func (o *Orchestrator) pumpTTS(ctx context.Context, textCh <-chan string) {
	var ignored bool
	o.pumpTTSObserving(ctx, textCh, o.interrupt, time.Now(), true, &ignored)
}

// pumpTTSObserving synthesizes textCh to speech, forwarding each audio frame
// to the transport, and stops forwarding as soon as tok is raised. The audio
// stream itself is drained to completion regardless, since the producing
// LLMStream goroutine only stops once textCh is closed.
func (o *Orchestrator) pumpTTSObserving(ctx context.Context, textCh <-chan string, tok *InterruptToken, turnStart time.Time, trackFirstAudio bool, sawFirstAudio *bool) {
	voice := ttsVoiceProfile(o.cfg)
	audioCh, err := o.deps.TTS.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		o.log.Warn("speak: tts stream failed to start", "err", err)
		for range textCh {
		}
		return
	}

	interrupted := false
	for frame := range audioCh {
		if interrupted {
			continue
		}
		select {
		case <-tok.Done():
			interrupted = true
			continue
		default:
		}

		if err := o.transport.SendAudio(ctx, frame); err != nil {
			o.log.Warn("speak: send audio failed", "err", err)
			continue
		}
		if trackFirstAudio && sawFirstAudio != nil && !*sawFirstAudio {
			*sawFirstAudio = true
			o.log.Debug("speak: first audio frame", "latency_ms", time.Since(turnStart).Milliseconds())
		}
	}
}
