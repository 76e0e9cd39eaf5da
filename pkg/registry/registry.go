// Package registry implements the Tool Registry (C9): a name-keyed map of
// callable tools exposed through two surfaces over one store — a
// per-provider dispatch table keyed by bare tool name, and a central
// registry keyed by the composite "{provider}.{name}". A single
// registration call populates both, so they can never drift.
//
// Grounded on pkg/mcp's Tools type (Add/GetHandler/List behind a
// sync.RWMutex) and its JSON-RPC 2.0 wire shapes (JSONRPCRequest/Response/
// Error, tools/list and tools/call dispatch), extended here with the
// second flat-registry surface spec.md §4.9 requires.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler executes a tool call with decoded arguments and returns a
// JSON-serializable result.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Param describes one named, typed parameter of a tool (spec.md §3's
// ToolDescriptor "parameter schema (name/type/optional/default)").
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional"`
	Default  any    `json:"default,omitempty"`
}

// Descriptor is one registered tool: its identity, parameter schema, and
// the callable that implements it.
type Descriptor struct {
	Name     string  `json:"name"`
	Provider string  `json:"provider"`
	Params   []Param `json:"params"`

	// Schema is the raw JSON Schema document (built from Params by
	// BuildSchema, or supplied directly). Register compiles it to check that
	// it is a valid JSON Schema; call arguments are never validated against
	// it — that is the callable's responsibility.
	Schema map[string]any `json:"-"`

	Handler Handler `json:"-"`
}

// compositeKey is the central registry's key shape, spec.md §3's
// "{provider}.{name}".
func compositeKey(provider, name string) string {
	return provider + "." + name
}

// Registry is the single backing store for both surfaces.
type Registry struct {
	mu       sync.RWMutex
	central  map[string]Descriptor            // "{provider}.{name}" -> descriptor
	surfaces map[string]map[string]Descriptor // provider -> bare name -> descriptor
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		central:  make(map[string]Descriptor),
		surfaces: make(map[string]map[string]Descriptor),
	}
}

// Register validates d.Schema (if set) and populates both surfaces with a
// single call. Registering an already-used composite key logs a warning
// and overwrites — spec.md §3: "the latest registration wins."
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("registry: tool name is required")
	}
	if d.Provider == "" {
		return fmt.Errorf("registry: provider is required for tool %q", d.Name)
	}
	if d.Handler == nil {
		return fmt.Errorf("registry: handler is required for tool %q", d.Name)
	}

	if d.Schema != nil {
		if err := validateSchema(d.Schema); err != nil {
			return fmt.Errorf("registry: invalid parameter schema for %s.%s: %w", d.Provider, d.Name, err)
		}
	}

	key := compositeKey(d.Provider, d.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.central[key]; exists {
		slog.Warn("tool registry: overwriting existing registration", "key", key)
	}
	r.central[key] = d

	if r.surfaces[d.Provider] == nil {
		r.surfaces[d.Provider] = make(map[string]Descriptor)
	}
	r.surfaces[d.Provider][d.Name] = d

	return nil
}

// Unregister removes a tool from both surfaces.
func (r *Registry) Unregister(provider, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.central, compositeKey(provider, name))
	if surface, ok := r.surfaces[provider]; ok {
		delete(surface, name)
	}
}

// Clear removes every registered tool from both surfaces.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.central = make(map[string]Descriptor)
	r.surfaces = make(map[string]map[string]Descriptor)
}

// Lookup finds a tool by composite key in the central registry.
func (r *Registry) Lookup(provider, name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.central[compositeKey(provider, name)]
	return d, ok
}

// LookupBare finds a tool by bare name on a single provider's dispatch
// surface.
func (r *Registry) LookupBare(provider, name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	surface, ok := r.surfaces[provider]
	if !ok {
		return Descriptor{}, false
	}
	d, ok := surface[name]
	return d, ok
}

// List returns every registered tool across all providers, central-keyed.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.central))
	for _, d := range r.central {
		out = append(out, d)
	}
	return out
}

// ListProvider returns the bare-name dispatch surface for a single provider.
func (r *Registry) ListProvider(provider string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	surface := r.surfaces[provider]
	out := make([]Descriptor, 0, len(surface))
	for _, d := range surface {
		out = append(out, d)
	}
	return out
}

// BuildSchema renders a JSON Schema document from a Param list, suitable
// for Descriptor.Schema.
func BuildSchema(params []Param) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		properties[p.Name] = map[string]any{"type": jsonSchemaType(p.Type)}
		if !p.Optional {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonSchemaType(t string) string {
	switch t {
	case "int", "int64", "float", "float64", "number":
		return "number"
	case "bool", "boolean":
		return "boolean"
	case "array", "list":
		return "array"
	case "object", "map":
		return "object"
	default:
		return "string"
	}
}

// validateSchema compiles schema with jsonschema/v5, rejecting descriptors
// whose declared parameter shape is not itself valid JSON Schema before
// they are trusted into either surface (spec.md §3's ToolDescriptor
// invariant that the schema is meaningful, not merely present).
func validateSchema(schema map[string]any) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(data)); err != nil {
		return err
	}
	_, err = c.Compile("schema.json")
	return err
}
