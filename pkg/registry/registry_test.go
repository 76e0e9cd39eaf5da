package registry

import (
	"context"
	"testing"
)

func noopHandler(ctx context.Context, args map[string]any) (any, error) {
	return "ok", nil
}

// TestRegisterDuality exercises spec.md §8's "Registry duality" invariant:
// every registered tool is findable by bare name on its provider surface
// AND by "{provider}.{name}" in the central registry.
func TestRegisterDuality(t *testing.T) {
	r := New()

	d := Descriptor{
		Name:     "search_messages",
		Provider: "googlechat",
		Params:   []Param{{Name: "query", Type: "string"}},
		Handler:  noopHandler,
	}
	d.Schema = BuildSchema(d.Params)

	if err := r.Register(d); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := r.LookupBare("googlechat", "search_messages"); !ok {
		t.Fatal("expected tool findable by bare name on provider surface")
	}
	if _, ok := r.Lookup("googlechat", "search_messages"); !ok {
		t.Fatal("expected tool findable by composite key in central registry")
	}
}

// TestRegisterDuplicateOverwrites exercises "registering the same composite
// key twice leaves exactly one entry" and "the latest registration wins".
func TestRegisterDuplicateOverwrites(t *testing.T) {
	r := New()

	first := Descriptor{Name: "list_spaces", Provider: "googlechat", Handler: noopHandler, Params: []Param{{Name: "a", Type: "string"}}}
	second := Descriptor{Name: "list_spaces", Provider: "googlechat", Handler: noopHandler, Params: []Param{{Name: "b", Type: "string"}}}

	if err := r.Register(first); err != nil {
		t.Fatalf("Register first: %v", err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("Register second: %v", err)
	}

	all := r.List()
	count := 0
	for _, d := range all {
		if d.Provider == "googlechat" && d.Name == "list_spaces" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one entry after duplicate registration, got %d", count)
	}

	got, _ := r.Lookup("googlechat", "list_spaces")
	if got.Params[0].Name != "b" {
		t.Fatalf("expected latest registration to win, got params %v", got.Params)
	}
}

func TestRegisterRejectsMissingHandler(t *testing.T) {
	r := New()
	err := r.Register(Descriptor{Name: "x", Provider: "googlechat"})
	if err == nil {
		t.Fatal("expected error for missing handler")
	}
}

func TestDispatchToolsCall(t *testing.T) {
	r := New()
	called := false
	err := r.Register(Descriptor{
		Name:     "ping",
		Provider: "googlechat",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			called = true
			return map[string]any{"pong": true}, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp := r.Dispatch(context.Background(), "googlechat", Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  []byte(`{"name":"ping","arguments":{}}`),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if !called {
		t.Fatal("expected handler to be invoked")
	}
}

func TestDispatchUnknownToolErrors(t *testing.T) {
	r := New()
	resp := r.Dispatch(context.Background(), "googlechat", Request{
		Method: "tools/call",
		Params: []byte(`{"name":"nonexistent","arguments":{}}`),
	})
	if resp.Error == nil {
		t.Fatal("expected error for unknown tool")
	}
}
