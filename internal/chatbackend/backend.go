// Package chatbackend defines the ChatBackend interface (C4): the single
// seam between the domain-agnostic fetcher/search/registry pipeline and a
// concrete chat platform (Google Chat, Discord, Telegram).
//
// Grounded on the teacher's internal/service.LLMProvider shape — a narrow
// interface with one required method set and an optional capability
// interface checked via type assertion (mirrored here by ReactionBackend).
package chatbackend

import (
	"context"

	"github.com/rakunlabs/chatgate/internal/chatmodel"
)

// ListMessagesOptions narrows a ListMessages call to a single space/thread.
type ListMessagesOptions struct {
	Filter    string // backend-native filter expression (already AND-combined)
	PageSize  int
	PageToken string
	OrderBy   string // e.g. "createTime desc"
}

// ListMessagesPage is one page of ListMessages results.
type ListMessagesPage struct {
	Messages      []chatmodel.Message
	NextPageToken string
}

// Backend is the capability set every chat platform adapter must implement.
// All methods accept a caller-scoped context and return the taxonomy errors
// from internal/errs on failure (KindBackendError, wrapped with the
// platform's own error as Cause).
type Backend interface {
	// Name identifies the backend for logging and Source envelope fields,
	// e.g. "googlechat", "discord", "telegram".
	Name() string

	// ListSpaces returns every space the authenticated identity can see.
	ListSpaces(ctx context.Context) ([]chatmodel.Space, error)

	// ListMessages returns one page of messages from a space, newest-first
	// unless opts.OrderBy says otherwise.
	ListMessages(ctx context.Context, space string, opts ListMessagesOptions) (ListMessagesPage, error)

	// GetMessage fetches a single message by its resource name.
	GetMessage(ctx context.Context, name string) (chatmodel.Message, error)

	// CreateMessage posts text into a space, optionally as a thread reply.
	CreateMessage(ctx context.Context, space, text, threadName string) (chatmodel.Message, error)

	// UpdateMessage replaces a message's text in place.
	UpdateMessage(ctx context.Context, name, text string) (chatmodel.Message, error)

	// DeleteMessage removes a message by resource name.
	DeleteMessage(ctx context.Context, name string) error

	// ResolveUser returns a best-effort profile for a sender reference.
	// On lookup failure it returns a stub profile (non-nil, synthesized
	// DisplayName) rather than an error, per spec.md §4.6.
	ResolveUser(ctx context.Context, sender string) (chatmodel.UserProfile, error)
}

// ReactionBackend is optionally implemented by backends that support
// message reactions (spec.md §4.4's add_reaction operation). Checked via
// type assertion, the same pattern the teacher uses for LLMStreamProvider.
type ReactionBackend interface {
	AddReaction(ctx context.Context, messageName, emoji string) error
}
