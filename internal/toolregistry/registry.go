// Package toolregistry implements the ToolRegistry used by the orchestrator's
// turn loop: JSON-schema argument validation, a bounded execution
// timeout, and an exact diagnostic-string vocabulary for every failure mode
// so the model sees a stable tool-message shape regardless of cause.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/internal/orchestrator"
)

// executionTimeout bounds a single tool invocation.
const executionTimeout = 3 * time.Second

// Handler implements one built-in tool. It returns the tool's raw JSON-able
// result and an error only for unexpected internal failures — argument
// validation happens before Handler is invoked.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type tool struct {
	name    string
	desc    string
	params  map[string]any
	schema  *jsonschema.Schema
	handler Handler
}

// Registry is the default ToolRegistry implementation: a fixed set of
// built-in handlers plus, optionally, tools proxied through an MCP [mcp.Host].
type Registry struct {
	tools   map[string]*tool
	order   []string
	mcpHost mcp.Host
	tier    mcp.BudgetTier
}

// New builds an empty Registry. Use Register to add built-in tools and
// WithMCPHost to extend it with externally hosted ones.
func New() *Registry {
	return &Registry{tools: map[string]*tool{}}
}

// WithMCPHost attaches an MCP host whose AvailableTools(tier) are exposed
// alongside the built-ins and whose ExecuteTool serves calls for them.
func (r *Registry) WithMCPHost(host mcp.Host, tier mcp.BudgetTier) *Registry {
	r.mcpHost = host
	r.tier = tier
	return r
}

// Register adds a built-in tool. params is a JSON Schema object (as produced
// by jsonschema.For or hand-written) describing the tool's arguments.
func (r *Registry) Register(name, description string, params map[string]any, handler Handler) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("toolregistry: marshal schema for %q: %w", name, err)
	}
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(raw, schema); err != nil {
		return fmt.Errorf("toolregistry: parse schema for %q: %w", name, err)
	}
	r.tools[name] = &tool{name: name, desc: description, params: params, schema: schema, handler: handler}
	r.order = append(r.order, name)
	return nil
}

// Schemas implements orchestrator.ToolRegistry.
func (r *Registry) Schemas() []orchestrator.ToolSchema {
	out := make([]orchestrator.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, orchestrator.ToolSchema{Name: t.name, Description: t.desc, Parameters: t.params})
	}
	if r.mcpHost != nil {
		for _, td := range r.mcpHost.AvailableTools(r.tier) {
			out = append(out, orchestrator.ToolSchema{Name: td.Name, Description: td.Description, Parameters: td.Parameters})
		}
	}
	return out
}

// Execute implements orchestrator.ToolRegistry. It never returns a Go error —
// every failure mode is rendered as the literal diagnostic string that
// becomes the tool message content, matching the original executor's
// vocabulary exactly.
func (r *Registry) Execute(ctx context.Context, req orchestrator.ToolCallRequest) string {
	t, ok := r.tools[req.Name]
	if !ok {
		if r.mcpHost != nil {
			return r.executeMCP(ctx, req)
		}
		return "Error: Internal tool failure."
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(req.Arguments), &args); err != nil {
		return "Error: Invalid JSON arguments provided by model."
	}

	if errs := validate(t.schema, args); len(errs) > 0 {
		return fmt.Sprintf("Error: Missing or invalid arguments. Details: %s", strings.Join(errs, "; "))
	}

	execCtx, cancel := context.WithTimeout(ctx, executionTimeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		res, err := t.handler(execCtx, args)
		resultCh <- outcome{res, err}
	}()

	select {
	case <-execCtx.Done():
		return "Error: The tool took too long to respond."
	case out := <-resultCh:
		if out.err != nil {
			return "Error: Internal tool failure."
		}
		encoded, err := json.Marshal(out.result)
		if err != nil {
			return "Error: Internal tool failure."
		}
		return string(encoded)
	}
}

func (r *Registry) executeMCP(ctx context.Context, req orchestrator.ToolCallRequest) string {
	execCtx, cancel := context.WithTimeout(ctx, executionTimeout)
	defer cancel()

	result, err := r.mcpHost.ExecuteTool(execCtx, req.Name, req.Arguments)
	if err != nil {
		if execCtx.Err() != nil {
			return "Error: The tool took too long to respond."
		}
		return "Error: Internal tool failure."
	}
	if result.IsError {
		return fmt.Sprintf("Error: %s", result.Content)
	}
	return result.Content
}

// validate performs a best-effort subset of JSON Schema validation
// (required fields and basic type checks), returning one message per
// violation. It does not attempt full draft-2020-12 coverage — the tool
// arguments in scope are flat objects of strings, numbers and booleans.
func validate(schema *jsonschema.Schema, args map[string]any) []string {
	if schema == nil {
		return nil
	}
	var errs []string
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			errs = append(errs, fmt.Sprintf("%q is required", name))
		}
	}
	for name, prop := range schema.Properties {
		val, ok := args[name]
		if !ok || prop == nil || prop.Type == "" {
			continue
		}
		if !typeMatches(prop.Type, val) {
			errs = append(errs, fmt.Sprintf("%q must be of type %s", name, prop.Type))
		}
	}
	return errs
}

func typeMatches(schemaType string, val any) bool {
	switch schemaType {
	case "string":
		_, ok := val.(string)
		return ok
	case "number", "integer":
		_, ok := val.(float64)
		return ok
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	default:
		return true
	}
}
