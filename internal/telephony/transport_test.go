package telephony

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func newTransportPair(t *testing.T) (*Transport, *websocket.Conn) {
	t.Helper()

	serverConnCh := make(chan *Transport, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		serverConnCh <- NewTransport(conn, slog.New(slog.DiscardHandler))
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.Dial(t.Context(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close(websocket.StatusNormalClosure, "") })

	select {
	case transport := <-serverConnCh:
		return transport, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side accept")
		return nil, nil
	}
}

func TestTransport_RecvParsesStartedFrameAndCapturesStreamID(t *testing.T) {
	transport, client := newTransportPair(t)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	if err := client.Write(ctx, websocket.MessageText, []byte(`{"event":"start","start":{"streamSid":"MZ42"}}`)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	frame, err := transport.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if frame.Kind != FrameStarted || frame.StreamID != "MZ42" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if got := transport.StreamID(); got != "MZ42" {
		t.Errorf("expected StreamID() to reflect the Started frame, got %q", got)
	}
}

func TestTransport_SendAudioBeforeStartedReturnsErrNoActiveStream(t *testing.T) {
	transport, _ := newTransportPair(t)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	err := transport.SendAudio(ctx, []byte{1, 2, 3, 4})
	if err != ErrNoActiveStream {
		t.Fatalf("expected ErrNoActiveStream, got %v", err)
	}
}

func TestTransport_SendAudioAfterStartedWritesMediaFrame(t *testing.T) {
	transport, client := newTransportPair(t)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	if err := client.Write(ctx, websocket.MessageText, []byte(`{"event":"start","start":{"streamSid":"MZ7"}}`)); err != nil {
		t.Fatalf("client write start: %v", err)
	}
	if _, err := transport.Recv(ctx); err != nil {
		t.Fatalf("Recv start: %v", err)
	}

	if err := transport.SendAudio(ctx, []byte{10, 20, 30, 40}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	_, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var evt struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal outbound media frame: %v", err)
	}
	if evt.Event != "media" || evt.StreamSID != "MZ7" {
		t.Errorf("unexpected outbound frame: %+v", evt)
	}
}

func TestTransport_SendClearBeforeStartedReturnsErrNoActiveStream(t *testing.T) {
	transport, _ := newTransportPair(t)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	if err := transport.SendClear(ctx); err != ErrNoActiveStream {
		t.Fatalf("expected ErrNoActiveStream, got %v", err)
	}
}

func TestTransport_SendClearEmitsClearEvent(t *testing.T) {
	transport, client := newTransportPair(t)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	if err := client.Write(ctx, websocket.MessageText, []byte(`{"event":"start","start":{"streamSid":"MZ9"}}`)); err != nil {
		t.Fatalf("client write start: %v", err)
	}
	if _, err := transport.Recv(ctx); err != nil {
		t.Fatalf("Recv start: %v", err)
	}

	if err := transport.SendClear(ctx); err != nil {
		t.Fatalf("SendClear: %v", err)
	}

	_, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var evt struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal outbound clear frame: %v", err)
	}
	if evt.Event != "clear" || evt.StreamSID != "MZ9" {
		t.Errorf("unexpected outbound frame: %+v", evt)
	}
}

func TestTransport_CloseWithCodeSetsCloseStatus(t *testing.T) {
	transport, client := newTransportPair(t)

	if err := transport.CloseWithCode(websocket.StatusPolicyViolation, "agent not configured"); err != nil {
		t.Fatalf("CloseWithCode: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	_, _, err := client.Read(ctx)
	if code := websocket.CloseStatus(err); code != websocket.StatusPolicyViolation {
		t.Errorf("expected StatusPolicyViolation, got %v (err: %v)", code, err)
	}
}
