package audiocodec_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/glyphoxa/pkg/audiocodec"
)

func samplesToPCM(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestRoundTripLossyBounded(t *testing.T) {
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 16000, -16000, 32767, -32768}
	pcm := samplesToPCM(samples)

	decoded := audiocodec.Decode(audiocodec.Encode(pcm))
	if len(decoded) != len(pcm) {
		t.Fatalf("length mismatch: got %d want %d", len(decoded), len(pcm))
	}

	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(decoded[i*2:]))
		diff := int(got) - int(want)
		if diff < 0 {
			diff = -diff
		}
		// mu-law quantization error grows with magnitude; bound generously.
		maxErr := 1 + int(want)/32
		if maxErr < 0 {
			maxErr = -maxErr
		}
		if diff > maxErr+32 {
			t.Errorf("sample %d: got %d want %d, diff %d exceeds bound", i, got, want, diff)
		}
	}
}

func TestRoundTripIdempotentAfterOnePass(t *testing.T) {
	samples := []int16{0, 5000, -5000, 20000, -20000, 32767, -32768}
	pcm := samplesToPCM(samples)

	once := audiocodec.Decode(audiocodec.Encode(pcm))
	twice := audiocodec.Decode(audiocodec.Encode(once))

	if len(once) != len(twice) {
		t.Fatalf("length mismatch after second pass: got %d want %d", len(twice), len(once))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("byte %d diverged on second pass: %d != %d", i, once[i], twice[i])
		}
	}
}

func TestEncodeSampleDecodeSampleZero(t *testing.T) {
	if got := audiocodec.DecodeSample(audiocodec.EncodeSample(0)); got > 8 || got < -8 {
		t.Errorf("zero sample round-trip drifted too far: %d", got)
	}
}

func TestFramePayloadRoundTrip(t *testing.T) {
	pcm := samplesToPCM([]int16{100, -100, 200, -200})
	payload := audiocodec.EncodeFramePayload(pcm)

	decoded, err := audiocodec.DecodeFramePayload(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("length mismatch: got %d want %d", len(decoded), len(pcm))
	}
}

func TestDecodeFramePayloadMalformedBase64(t *testing.T) {
	if _, err := audiocodec.DecodeFramePayload("not-valid-base64!!"); err == nil {
		t.Fatal("expected error for malformed base64, got nil")
	}
}
