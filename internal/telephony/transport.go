package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/glyphoxa/pkg/audiocodec"
)

// ErrNoActiveStream is returned by SendAudio (which also logs a warning) and
// by SendClear when called before a Started frame has supplied the stream ID.
var ErrNoActiveStream = errors.New("telephony: no active stream id yet")

// Transport wraps one telephony media-stream WebSocket connection for the
// lifetime of a call. All outbound emit operations serialise onto the single
// socket via mu — only one goroutine ever writes to a given call's socket.
type Transport struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu       sync.Mutex
	streamID string
}

// NewTransport wraps an already-accepted WebSocket connection.
func NewTransport(conn *websocket.Conn, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{conn: conn, log: log}
}

// Recv blocks for the next inbound frame and parses it. It returns the
// websocket close error unchanged so callers can distinguish expected
// disconnects from protocol errors.
func (t *Transport) Recv(ctx context.Context) (Frame, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	frame, err := ParseFrame(data)
	if err != nil {
		t.log.Warn("telephony: malformed frame, dropping", "err", err)
		return Frame{Kind: FrameUnknown}, nil
	}
	if frame.Kind == FrameStarted {
		t.mu.Lock()
		t.streamID = frame.StreamID
		t.mu.Unlock()
	}
	return frame, nil
}

// SendAudio mu-law encodes pcm16 and emits one outbound media frame. If the
// Started frame has not yet arrived, the frame is dropped with a warning
// rather than failing the call.
func (t *Transport) SendAudio(ctx context.Context, pcm16 []byte) error {
	t.mu.Lock()
	streamID := t.streamID
	t.mu.Unlock()

	if streamID == "" {
		t.log.Warn("telephony: dropping outbound audio, stream not started yet")
		return ErrNoActiveStream
	}

	payload := audiocodec.EncodeFramePayload(pcm16)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.Write(ctx, websocket.MessageText, buildMediaFrame(streamID, payload)); err != nil {
		return fmt.Errorf("telephony: send audio: %w", err)
	}
	return nil
}

// SendClear emits the provider-specific clear-playback directive — the
// barge-in mechanism.
func (t *Transport) SendClear(ctx context.Context) error {
	t.mu.Lock()
	streamID := t.streamID
	t.mu.Unlock()
	if streamID == "" {
		return ErrNoActiveStream
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.Write(ctx, websocket.MessageText, buildClearFrame(streamID)); err != nil {
		return fmt.Errorf("telephony: send clear: %w", err)
	}
	return nil
}

// StreamID returns the stream id captured from the Started frame, or "" if
// none has arrived yet.
func (t *Transport) StreamID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streamID
}

// Close closes the underlying socket with the given reason, used both for
// clean teardown and for rejecting a call at Setup.
func (t *Transport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}

// CloseWithCode closes the socket with a specific status code and reason,
// used to reject calls whose AgentConfig could not be resolved.
func (t *Transport) CloseWithCode(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}
