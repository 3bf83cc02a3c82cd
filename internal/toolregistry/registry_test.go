package toolregistry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa/internal/orchestrator"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	if err := RegisterCalendarTools(r); err != nil {
		t.Fatalf("RegisterCalendarTools: %v", err)
	}
	return r
}

func TestRegistry_Execute_HappyPath(t *testing.T) {
	r := newTestRegistry(t)

	got := r.Execute(t.Context(), orchestrator.ToolCallRequest{
		ID:        "call-1",
		Name:      "check_calendar_availability",
		Arguments: `{"date":"2026-08-01","time":"09:00"}`,
	})

	if got != `"true"` {
		t.Errorf("expected the JSON-encoded result %q, got %q", `"true"`, got)
	}
}

func TestRegistry_Execute_InvalidJSONArguments(t *testing.T) {
	r := newTestRegistry(t)

	got := r.Execute(t.Context(), orchestrator.ToolCallRequest{
		Name:      "check_calendar_availability",
		Arguments: `{not json`,
	})

	if got != "Error: Invalid JSON arguments provided by model." {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestRegistry_Execute_MissingRequiredArgument(t *testing.T) {
	r := newTestRegistry(t)

	got := r.Execute(t.Context(), orchestrator.ToolCallRequest{
		Name:      "check_calendar_availability",
		Arguments: `{"date":"2026-08-01"}`,
	})

	const want = `Error: Missing or invalid arguments. Details: "time" is required`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRegistry_Execute_ToolTimesOut(t *testing.T) {
	r := New()
	if err := r.Register("slow_tool", "never returns in time", map[string]any{"type": "object"},
		func(ctx context.Context, args map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	); err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Now()
	got := r.Execute(t.Context(), orchestrator.ToolCallRequest{Name: "slow_tool", Arguments: `{}`})
	elapsed := time.Since(start)

	if got != "Error: The tool took too long to respond." {
		t.Errorf("unexpected message: %q", got)
	}
	if elapsed > executionTimeout+time.Second {
		t.Errorf("expected Execute to return close to the execution timeout, took %v", elapsed)
	}
}

func TestRegistry_Execute_HandlerErrorIsInternalToolFailure(t *testing.T) {
	r := New()
	if err := r.Register("broken_tool", "always fails", map[string]any{"type": "object"},
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got := r.Execute(t.Context(), orchestrator.ToolCallRequest{Name: "broken_tool", Arguments: `{}`})

	if got != "Error: Internal tool failure." {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestRegistry_Execute_UnknownToolWithNoMCPHostIsInternalToolFailure(t *testing.T) {
	r := New()

	got := r.Execute(t.Context(), orchestrator.ToolCallRequest{Name: "does_not_exist", Arguments: `{}`})

	if got != "Error: Internal tool failure." {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestRegistry_Schemas_ListsRegisteredToolsInOrder(t *testing.T) {
	r := newTestRegistry(t)

	schemas := r.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(schemas))
	}
	if schemas[0].Name != "check_calendar_availability" || schemas[1].Name != "book_appointment" {
		t.Errorf("unexpected schema order: %+v", schemas)
	}
}
