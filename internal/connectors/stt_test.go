package connectors

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/provider/stt"
	sttmock "github.com/MrWong99/glyphoxa/pkg/provider/stt/mock"
)

func TestSTTConnector_ConnectOpensSessionAtTelephonyFormat(t *testing.T) {
	provider := &sttmock.Provider{}
	c := NewSTTConnector(provider, "en", nil)

	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Finish(context.Background())

	if len(provider.StartStreamCalls) != 1 {
		t.Fatalf("expected 1 StartStream call, got %d", len(provider.StartStreamCalls))
	}
	cfg := provider.StartStreamCalls[0].Cfg
	if cfg.SampleRate != 8000 || cfg.Channels != 1 || cfg.Language != "en" {
		t.Errorf("unexpected StreamConfig: %+v", cfg)
	}
}

func TestSTTConnector_ForwardsNonEmptyTranscripts(t *testing.T) {
	mockSess := &sttmock.Session{
		PartialsCh: make(chan stt.Transcript, 4),
		FinalsCh:   make(chan stt.Transcript, 4),
	}
	provider := &sttmock.Provider{Session: mockSess}
	c := NewSTTConnector(provider, "en", nil)

	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Finish(context.Background())

	mockSess.PartialsCh <- stt.Transcript{Text: "hel"}
	mockSess.PartialsCh <- stt.Transcript{Text: ""} // must be suppressed
	mockSess.FinalsCh <- stt.Transcript{Text: "hello", IsFinal: true}

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case e := <-sess.Transcripts():
			got = append(got, e.Text)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for transcript %d", i)
		}
	}

	if got[0] != "hel" || got[1] != "hello" {
		t.Errorf("unexpected forwarded transcripts: %v", got)
	}
}

func TestSTTConnector_SendAudioDelegatesToHandle(t *testing.T) {
	mockSess := &sttmock.Session{
		PartialsCh: make(chan stt.Transcript, 1),
		FinalsCh:   make(chan stt.Transcript, 1),
	}
	provider := &sttmock.Provider{Session: mockSess}
	c := NewSTTConnector(provider, "en", nil)

	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Finish(context.Background())

	chunk := []byte{1, 2, 3}
	if err := sess.SendAudio(context.Background(), chunk); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if mockSess.SendAudioCallCount() != 1 {
		t.Fatalf("expected 1 SendAudio call, got %d", mockSess.SendAudioCallCount())
	}
}

func TestSTTConnector_NoSpeechNotifierNeverFires(t *testing.T) {
	mockSess := &sttmock.Session{
		PartialsCh: make(chan stt.Transcript, 1),
		FinalsCh:   make(chan stt.Transcript, 1),
	}
	provider := &sttmock.Provider{Session: mockSess}
	c := NewSTTConnector(provider, "en", nil)

	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Finish(context.Background())

	select {
	case <-sess.SpeechStarted():
		t.Fatal("expected SpeechStarted to never fire for a backend without VAD support")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSTTConnector_FinishClosesHandle(t *testing.T) {
	mockSess := &sttmock.Session{
		PartialsCh: make(chan stt.Transcript),
		FinalsCh:   make(chan stt.Transcript),
	}
	provider := &sttmock.Provider{Session: mockSess}
	c := NewSTTConnector(provider, "en", nil)

	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Finish(context.Background()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if mockSess.CloseCallCount != 1 {
		t.Fatalf("expected handle.Close to be called once, got %d", mockSess.CloseCallCount)
	}
}
