// Package toolregistry implements the Tool Registry: loading
// tool configs, expanding multi-function tools into virtual per-function
// tools, validating invocation inputs against JSON-Schema, and enforcing a
// per-tool concurrency cap. Tools are config-driven: declared in JSON files
// and expanded at load time, with no code generation step involved.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/semaphore"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
)

// Handler is implemented by a tool's script/function executor. context
// carries the calling user and chatId.
type Handler interface {
	Invoke(ctx context.Context, functionName string, args json.RawMessage, invocation Invocation) (any, error)
}

// Invocation is the per-call metadata passed to a Handler. Progress, when
// non-nil, reports a human-readable step marker for long-running tools; it
// is delivered on the chat's action stream and never blocks.
type Invocation struct {
	UserID   string
	ChatID   string
	Progress func(message string)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, functionName string, args json.RawMessage, invocation Invocation) (any, error)

func (f HandlerFunc) Invoke(ctx context.Context, functionName string, args json.RawMessage, invocation Invocation) (any, error) {
	return f(ctx, functionName, args, invocation)
}

// entry is one virtual tool: either a whole single-function tool, or one
// function of a multi-function tool (id = "parent.functionName").
type entry struct {
	id           string
	parentID     string
	functionName string
	description  string
	rawParams    map[string]any
	schema       *jsonschema.Schema
	concurrency  int
	handler      Handler
}

// Registry holds the expanded, schema-compiled tool set and a concurrency
// gate per parent tool id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	gates   map[string]*semaphore.Weighted
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}, gates: map[string]*semaphore.Weighted{}}
}

// Load expands each configured tool into one or more virtual tools (a tool
// with a functions map emits one per function, id = parent.functionName)
// and compiles its JSON-Schema.
// handlers maps a tool's parent id to the Handler that executes its
// functions.
func (r *Registry) Load(tools []config.Tool, handlers map[string]Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = map[string]*entry{}
	r.gates = map[string]*semaphore.Weighted{}

	compiler := jsonschema.NewCompiler()
	for _, t := range tools {
		if !t.Enabled {
			continue
		}
		handler := handlers[t.ID]
		concurrency := t.Concurrency
		if concurrency <= 0 {
			concurrency = 4
		}
		r.gates[t.ID] = semaphore.NewWeighted(int64(concurrency))

		if len(t.Functions) == 0 {
			schema, err := compileSchema(compiler, t.ID, t.Parameters)
			if err != nil {
				return err
			}
			r.entries[t.ID] = &entry{id: t.ID, parentID: t.ID, description: descriptionOf(t.Description), rawParams: t.Parameters, schema: schema, concurrency: concurrency, handler: handler}
			continue
		}
		for fnName, fn := range t.Functions {
			virtualID := t.ID + "." + fnName
			schema, err := compileSchema(compiler, virtualID, fn.Parameters)
			if err != nil {
				return err
			}
			r.entries[virtualID] = &entry{
				id: virtualID, parentID: t.ID, functionName: fnName,
				description: descriptionOf(fn.Description), rawParams: fn.Parameters, schema: schema, concurrency: concurrency, handler: handler,
			}
		}
	}
	return nil
}

func descriptionOf(m map[string]string) string {
	if v, ok := m["en"]; ok {
		return v
	}
	for _, v := range m {
		return v
	}
	return ""
}

func compileSchema(compiler *jsonschema.Compiler, id string, params config.ToolParameters) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: marshal schema for %s: %w", id, err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, fmt.Errorf("toolregistry: parse schema for %s: %w", id, err)
	}
	resourceURL := "mem://tools/" + id + ".json"
	if err := compiler.AddResource(resourceURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("toolregistry: register schema for %s: %w", id, err)
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: compile schema for %s: %w", id, err)
	}
	return schema, nil
}

// Exists reports whether id names a known virtual tool.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Describe returns the description and JSON-Schema parameters for id, for
// building provider tool definitions (normalizer.ToolDefinition).
func (r *Registry) Describe(id string) (description string, schema map[string]any, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.entries[id]
	if !found {
		return "", nil, false
	}
	return e.description, e.rawParams, true
}

// IDs returns every virtual tool id currently loaded, in no particular
// order; callers building a provider tool list should sort if determinism
// matters.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Invoke validates args against the tool's schema, acquires its parent tool's
// concurrency gate, and calls the handler. Any handler error is converted to a
// typed apierror.CodeToolError so the orchestrator can turn it into a
// structured tool-error message rather than failing the whole conversation.
func (r *Registry) Invoke(ctx context.Context, id string, args json.RawMessage, invocation Invocation) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	gate := r.gates[parentOf(e, id)]
	r.mu.RUnlock()
	if !ok {
		return nil, apierror.New(apierror.CodeToolError, fmt.Sprintf("unknown tool %q", id))
	}
	if e.handler == nil {
		return nil, apierror.New(apierror.CodeToolError, fmt.Sprintf("tool %q has no registered handler", id))
	}
	if e.schema != nil {
		var decoded any
		if err := json.Unmarshal(args, &decoded); err != nil {
			return nil, apierror.Wrap(apierror.CodeValidation, fmt.Sprintf("tool %q arguments are not valid JSON", id), err)
		}
		if err := e.schema.Validate(decoded); err != nil {
			return nil, apierror.Wrap(apierror.CodeValidation, fmt.Sprintf("tool %q arguments failed validation", id), err)
		}
	}

	if gate != nil {
		if err := gate.Acquire(ctx, 1); err != nil {
			return nil, apierror.Wrap(apierror.CodeCancelled, "tool invocation cancelled while queued", err)
		}
		defer gate.Release(1)
	}

	functionName := e.functionName
	if functionName == "" {
		functionName = e.id
	}
	result, err := e.handler.Invoke(ctx, functionName, args, invocation)
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeToolError, fmt.Sprintf("tool %q failed", id), err)
	}
	return result, nil
}

func parentOf(e *entry, fallbackID string) string {
	if e == nil {
		return fallbackID
	}
	return e.parentID
}
