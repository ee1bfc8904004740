package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"bdagent/internal/domain"
)

var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrDuplicateTool   = errors.New("tool already registered")
	ErrRegistrySealed  = errors.New("registry is sealed")
	ErrInvalidArgument = errors.New("invalid arguments")
)

// Registry holds the available tools in registration order and executes them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	order  []string
	sealed bool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register %s: %w", t.Name(), ErrRegistrySealed)
	}
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	r.logger.Debug("registered tool", "name", t.Name())
	return nil
}

// Seal freezes the registry. Register fails afterwards.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Execute validates args against the tool's parameter schema and runs it.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", fmt.Errorf("%w: %s (available: %s)", ErrUnknownTool, name, strings.Join(r.Names(), ", "))
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := ValidateArgs(t.Parameters(), args); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return t.Execute(ctx, args)
}

// List returns tool definitions in registration order.
func (r *Registry) List() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ValidateArgs checks args against a JSON Schema. An empty schema accepts anything.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			msgs[i] = e.String()
		}
		return fmt.Errorf("%w: %s", ErrInvalidArgument, strings.Join(msgs, "; "))
	}
	return nil
}

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// requireOneOf makes the schema accept any one of the named fields in place
// of a fixed required list.
func requireOneOf(schema map[string]any, names ...string) map[string]any {
	alts := make([]any, len(names))
	for i, n := range names {
		alts[i] = map[string]any{"required": []string{n}}
	}
	schema["anyOf"] = alts
	return schema
}

func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// firstArg returns the first non-blank string among the given keys.
func firstArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(ArgsString(args, k)); v != "" {
			return v
		}
	}
	return ""
}
