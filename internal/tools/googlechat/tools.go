// Package googlechat registers the concrete tool set spec.md §4.4/§6
// exposes over a ChatBackend: thin argument-decoding wrappers around the
// Message Fetcher, Search Engine, and ChatBackend itself, enforcing the
// resource-name rules of spec.md §6 before any backend call.
//
// Named after the Google Chat provider since it is the fully-specified,
// fully-tested backend (spec.md's explicit in-scope provider); the tool
// set itself is backend-agnostic — the same wrappers register against a
// discord or telegram Runtime without modification.
//
// Grounded on original_source's src/providers/google_chat/tools/*.py
// (the bare-or-qualified space normalization, the fully-qualified-message
// rejection, the "search_messages" tool's argument shape) translated into
// registry.Handler closures over a single Register call, per spec.md
// §4.8's "single registration call populates both surfaces."
package googlechat

import (
	"context"
	"strings"

	"github.com/rakunlabs/chatgate/internal/chatbackend"
	"github.com/rakunlabs/chatgate/internal/chatmodel"
	"github.com/rakunlabs/chatgate/internal/errs"
	"github.com/rakunlabs/chatgate/internal/fetcher"
	"github.com/rakunlabs/chatgate/internal/searchsvc"
	"github.com/rakunlabs/chatgate/pkg/registry"
)

// Register populates reg with every tool this provider exposes, under
// providerName's dispatch surface and the central "{providerName}.{name}"
// registry.
func Register(reg *registry.Registry, providerName string, backend chatbackend.Backend, f *fetcher.Fetcher, svc *searchsvc.Service) error {
	tools := []registry.Descriptor{
		searchMessagesTool(svc, backend),
		listMessagesTool(f),
		getMessageTool(backend),
		createMessageTool(backend),
		updateMessageTool(backend),
		deleteMessageTool(backend),
		addReactionTool(backend),
		listSpacesTool(backend),
		resolveUserTool(backend),
	}

	for i := range tools {
		tools[i].Provider = providerName
		tools[i].Schema = registry.BuildSchema(tools[i].Params)
		if err := reg.Register(tools[i]); err != nil {
			return err
		}
	}
	return nil
}

// normalizeSpace accepts either a bare space id or a fully qualified
// "spaces/{id}" and always returns the fully qualified form.
func normalizeSpace(s string) string {
	if strings.HasPrefix(s, "spaces/") {
		return s
	}
	return "spaces/" + s
}

// requireQualifiedMessage rejects any message resource name that is not
// fully qualified "spaces/{S}/messages/{M}" — spec.md §6: message-scoped
// tools "reject bare ids with InvalidArgument."
func requireQualifiedMessage(name string) error {
	if strings.HasPrefix(name, "spaces/") && strings.Contains(name, "/messages/") {
		return nil
	}
	return errs.New(errs.KindInvalidArgument, "message name must be fully qualified: spaces/{S}/messages/{M}")
}

func searchMessagesTool(svc *searchsvc.Service, backend chatbackend.Backend) registry.Descriptor {
	return registry.Descriptor{
		Name: "search_messages",
		Params: []registry.Param{
			{Name: "query", Type: "string"},
			{Name: "mode", Type: "string", Optional: true, Default: "exact"},
			{Name: "spaces", Type: "array", Optional: true},
			{Name: "max_results", Type: "int", Optional: true, Default: 25},
			{Name: "start_date", Type: "string", Optional: true},
			{Name: "end_date", Type: "string", Optional: true},
			{Name: "include_sender_info", Type: "bool", Optional: true, Default: false},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			spaces := argStringSlice(args, "spaces")
			for i, s := range spaces {
				spaces[i] = normalizeSpace(s)
			}
			if len(spaces) == 0 {
				all, err := allSpaceNames(ctx, backend)
				if err != nil {
					return nil, err
				}
				spaces = all
			}

			q := chatmodel.SearchQuery{
				Query:             argString(args, "query", ""),
				Mode:              chatmodel.SearchMode(argString(args, "mode", "")),
				Spaces:            spaces,
				MaxResults:        argInt(args, "max_results", 0),
				StartDate:         argString(args, "start_date", ""),
				EndDate:           argString(args, "end_date", ""),
				IncludeSenderInfo: argBool(args, "include_sender_info", false),
			}
			return svc.Search(ctx, q), nil
		},
	}
}

// allSpaceNames is the "no spaces argument given" fallback: search every
// space the authenticated identity can see, mirroring search_messages.py's
// default of scanning all accessible spaces when none are named.
func allSpaceNames(ctx context.Context, backend chatbackend.Backend) ([]string, error) {
	spaces, err := backend.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(spaces))
	for i, s := range spaces {
		names[i] = s.Name
	}
	return names, nil
}

func listMessagesTool(f *fetcher.Fetcher) registry.Descriptor {
	return registry.Descriptor{
		Name: "list_messages",
		Params: []registry.Param{
			{Name: "space", Type: "string"},
			{Name: "page_size", Type: "int", Optional: true, Default: 25},
			{Name: "page_token", Type: "string", Optional: true},
			{Name: "filter", Type: "string", Optional: true},
			{Name: "order_by", Type: "string", Optional: true, Default: "createTime desc"},
			{Name: "include_sender_info", Type: "bool", Optional: true, Default: false},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			space := normalizeSpace(argString(args, "space", ""))
			page, err := f.ListMessages(ctx, space, fetcher.ListOptions{
				PageSize:          argInt(args, "page_size", 0),
				PageToken:         argString(args, "page_token", ""),
				Filter:            argString(args, "filter", ""),
				OrderBy:           argString(args, "order_by", ""),
				IncludeSenderInfo: argBool(args, "include_sender_info", false),
			})
			if err != nil {
				return nil, err
			}
			return page, nil
		},
	}
}

func getMessageTool(backend chatbackend.Backend) registry.Descriptor {
	return registry.Descriptor{
		Name:   "get_message",
		Params: []registry.Param{{Name: "name", Type: "string"}},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			name := argString(args, "name", "")
			if err := requireQualifiedMessage(name); err != nil {
				return nil, err
			}
			return backend.GetMessage(ctx, name)
		},
	}
}

func createMessageTool(backend chatbackend.Backend) registry.Descriptor {
	return registry.Descriptor{
		Name: "create_message",
		Params: []registry.Param{
			{Name: "space", Type: "string"},
			{Name: "text", Type: "string"},
			{Name: "thread", Type: "string", Optional: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			space := normalizeSpace(argString(args, "space", ""))
			text := argString(args, "text", "")
			thread := argString(args, "thread", "")
			return backend.CreateMessage(ctx, space, text, thread)
		},
	}
}

func updateMessageTool(backend chatbackend.Backend) registry.Descriptor {
	return registry.Descriptor{
		Name: "update_message",
		Params: []registry.Param{
			{Name: "name", Type: "string"},
			{Name: "text", Type: "string"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			name := argString(args, "name", "")
			if err := requireQualifiedMessage(name); err != nil {
				return nil, err
			}
			return backend.UpdateMessage(ctx, name, argString(args, "text", ""))
		},
	}
}

func deleteMessageTool(backend chatbackend.Backend) registry.Descriptor {
	return registry.Descriptor{
		Name:   "delete_message",
		Params: []registry.Param{{Name: "name", Type: "string"}},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			name := argString(args, "name", "")
			if err := requireQualifiedMessage(name); err != nil {
				return nil, err
			}
			if err := backend.DeleteMessage(ctx, name); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true}, nil
		},
	}
}

func addReactionTool(backend chatbackend.Backend) registry.Descriptor {
	return registry.Descriptor{
		Name: "add_reaction",
		Params: []registry.Param{
			{Name: "name", Type: "string"},
			{Name: "emoji", Type: "string"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			name := argString(args, "name", "")
			if err := requireQualifiedMessage(name); err != nil {
				return nil, err
			}
			reactor, ok := backend.(chatbackend.ReactionBackend)
			if !ok {
				return nil, errs.New(errs.KindBackendError, "backend does not support reactions")
			}
			if err := reactor.AddReaction(ctx, name, argString(args, "emoji", "")); err != nil {
				return nil, err
			}
			return map[string]any{"reacted": true}, nil
		},
	}
}

func listSpacesTool(backend chatbackend.Backend) registry.Descriptor {
	return registry.Descriptor{
		Name:   "list_spaces",
		Params: nil,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return backend.ListSpaces(ctx)
		},
	}
}

func resolveUserTool(backend chatbackend.Backend) registry.Descriptor {
	return registry.Descriptor{
		Name:   "resolve_user",
		Params: []registry.Param{{Name: "sender", Type: "string"}},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return backend.ResolveUser(ctx, argString(args, "sender", ""))
		},
	}
}

func argString(args map[string]any, key, def string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func argInt(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func argBool(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func argStringSlice(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
