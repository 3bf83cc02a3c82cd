package anthropic

import (
	"testing"

	"github.com/MrWong99/glyphoxa/pkg/types"
)

func TestNew_RequiresAPIKeyAndModel(t *testing.T) {
	if _, err := New("", "claude-3-5-sonnet-latest"); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("sk-ant-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("sk-ant-test", "claude-3-5-sonnet-latest"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCapabilities_HaikuHasLowerMaxOutputTokens(t *testing.T) {
	sonnet, _ := New("sk-ant-test", "claude-3-5-sonnet-latest")
	haiku, _ := New("sk-ant-test", "claude-3-5-haiku-latest")

	sonnetCaps := sonnet.Capabilities()
	haikuCaps := haiku.Capabilities()

	if sonnetCaps.MaxOutputTokens != 8192 {
		t.Errorf("expected sonnet MaxOutputTokens 8192, got %d", sonnetCaps.MaxOutputTokens)
	}
	if haikuCaps.MaxOutputTokens != 4096 {
		t.Errorf("expected haiku MaxOutputTokens 4096, got %d", haikuCaps.MaxOutputTokens)
	}
	if !sonnetCaps.SupportsToolCalling || !sonnetCaps.SupportsStreaming {
		t.Errorf("expected tool calling and streaming support: %+v", sonnetCaps)
	}
}

func TestCountTokens_ApproximatesByLength(t *testing.T) {
	p, _ := New("sk-ant-test", "claude-3-5-sonnet-latest")
	messages := []types.Message{
		{Role: "user", Content: "hello there"},
		{Role: "assistant", Content: "hi"},
	}
	n, err := p.CountTokens(messages)
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n <= 0 {
		t.Errorf("expected a positive token estimate, got %d", n)
	}
}
