// Package telephony implements the media-stream socket protocol: parsing
// inbound telephony frames and emitting outbound audio and control frames
// over a single WebSocket per call.
package telephony

import (
	"encoding/json"

	"github.com/MrWong99/glyphoxa/pkg/audiocodec"
)

// FrameKind tags the variant returned by ParseFrame.
type FrameKind int

const (
	// FrameUnknown is any event type this package does not recognise.
	FrameUnknown FrameKind = iota
	// FrameConnected is the initial handshake event.
	FrameConnected
	// FrameStarted carries the stream_id required for outbound frames.
	FrameStarted
	// FrameMedia carries one inbound audio payload.
	FrameMedia
	// FrameMark echoes a previously-sent mark name, used for latency tracking.
	FrameMark
	// FrameStopped signals the provider closed the stream.
	FrameStopped
)

// Frame is the tagged variant produced by ParseFrame. Only the field(s)
// relevant to Kind are populated.
type Frame struct {
	Kind FrameKind

	// StreamID is set on FrameStarted.
	StreamID string

	// PCM16 is set on FrameMedia: mono 16-bit linear PCM at 8 kHz, already
	// mu-law decoded.
	PCM16 []byte

	// MarkName is set on FrameMark.
	MarkName string
}

// wireEvent mirrors the Twilio-style Media Streams JSON envelope.
type wireEvent struct {
	Event string `json:"event"`
	Start struct {
		StreamSID string `json:"streamSid"`
	} `json:"start"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Mark struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// ParseFrame decodes one inbound text message into a tagged Frame. A
// malformed or unrecognised event type yields FrameUnknown with a non-nil
// error only when the JSON itself cannot be parsed; an unknown `event` value
// is reported as FrameUnknown with a nil error.
func ParseFrame(raw []byte) (Frame, error) {
	var evt wireEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Frame{Kind: FrameUnknown}, err
	}

	switch evt.Event {
	case "connected":
		return Frame{Kind: FrameConnected}, nil
	case "start":
		return Frame{Kind: FrameStarted, StreamID: evt.Start.StreamSID}, nil
	case "media":
		pcm, err := audiocodec.DecodeFramePayload(evt.Media.Payload)
		if err != nil {
			// Malformed base64 is a frame drop, not a parse failure for the
			// caller to treat as call-fatal.
			return Frame{Kind: FrameUnknown}, nil
		}
		return Frame{Kind: FrameMedia, PCM16: pcm}, nil
	case "mark":
		return Frame{Kind: FrameMark, MarkName: evt.Mark.Name}, nil
	case "stop":
		return Frame{Kind: FrameStopped}, nil
	default:
		return Frame{Kind: FrameUnknown}, nil
	}
}

// mediaEvent is the outbound audio frame shape.
type mediaEvent struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// clearEvent is the outbound barge-in frame shape.
type clearEvent struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

func buildMediaFrame(streamID string, payload string) []byte {
	evt := mediaEvent{Event: "media", StreamSID: streamID}
	evt.Media.Payload = payload
	b, _ := json.Marshal(evt)
	return b
}

func buildClearFrame(streamID string) []byte {
	b, _ := json.Marshal(clearEvent{Event: "clear", StreamSID: streamID})
	return b
}
