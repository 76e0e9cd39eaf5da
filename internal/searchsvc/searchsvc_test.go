package searchsvc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rakunlabs/chatgate/internal/chatbackend"
	"github.com/rakunlabs/chatgate/internal/chatmodel"
	"github.com/rakunlabs/chatgate/internal/fetcher"
)

// fakeBackend is a minimal chatbackend.Backend that serves canned pages and
// counts ListMessages calls per space, for exercising spec.md §8 scenarios
// 4 and 5 (semantic date fallback vs. regex strict windowing).
type fakeBackend struct {
	// pages[space] is consumed in order on each ListMessages call for that
	// space; the last page repeats once exhausted.
	pages map[string][]chatbackend.ListMessagesPage
	calls map[string]*int32
}

var _ chatbackend.Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		pages: make(map[string][]chatbackend.ListMessagesPage),
		calls: make(map[string]*int32),
	}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) ListSpaces(ctx context.Context) ([]chatmodel.Space, error) { return nil, nil }

func (f *fakeBackend) ListMessages(ctx context.Context, space string, opts chatbackend.ListMessagesOptions) (chatbackend.ListMessagesPage, error) {
	counter, ok := f.calls[space]
	if !ok {
		var n int32
		counter = &n
		f.calls[space] = counter
	}
	idx := atomic.AddInt32(counter, 1) - 1

	pages := f.pages[space]
	if len(pages) == 0 {
		return chatbackend.ListMessagesPage{}, nil
	}
	if int(idx) >= len(pages) {
		idx = int32(len(pages) - 1)
	}
	return pages[idx], nil
}

func (f *fakeBackend) callCount(space string) int32 {
	c, ok := f.calls[space]
	if !ok {
		return 0
	}
	return atomic.LoadInt32(c)
}

func (f *fakeBackend) GetMessage(ctx context.Context, name string) (chatmodel.Message, error) {
	return chatmodel.Message{}, nil
}
func (f *fakeBackend) CreateMessage(ctx context.Context, space, text, thread string) (chatmodel.Message, error) {
	return chatmodel.Message{}, nil
}
func (f *fakeBackend) UpdateMessage(ctx context.Context, name, text string) (chatmodel.Message, error) {
	return chatmodel.Message{}, nil
}
func (f *fakeBackend) DeleteMessage(ctx context.Context, name string) error { return nil }
func (f *fakeBackend) ResolveUser(ctx context.Context, sender string) (chatmodel.UserProfile, error) {
	return chatmodel.UserProfile{}, nil
}

// fakeEngine returns every message it's given a fixed score, so Search's
// bookkeeping (counts, envelope) can be tested independently of ranking.
type fakeEngine struct{}

func (fakeEngine) Search(ctx context.Context, query string, messages []chatmodel.Message, mode chatmodel.SearchMode) []chatmodel.ScoredMessage {
	out := make([]chatmodel.ScoredMessage, len(messages))
	for i, m := range messages {
		out[i] = chatmodel.ScoredMessage{Score: 1.0, Message: m}
	}
	return out
}

func (fakeEngine) ResolveMode(mode chatmodel.SearchMode) chatmodel.SearchMode { return mode }

// fakeDefaultSemanticEngine resolves an unset mode to semantic, mirroring a
// provider whose search.default_mode is "semantic" — used to prove the
// date-relaxation fallback fires off the resolved mode, not the raw
// caller-supplied one.
type fakeDefaultSemanticEngine struct{ fakeEngine }

func (fakeDefaultSemanticEngine) ResolveMode(mode chatmodel.SearchMode) chatmodel.SearchMode {
	if mode == chatmodel.ModeUnset {
		return chatmodel.ModeSemantic
	}
	return mode
}

func financialReportMessage() chatmodel.Message {
	t, _ := time.Parse("2006-01-02", "2024-05-13")
	return chatmodel.Message{Name: "spaces/S/messages/1", Text: "financial report attached", CreateTime: t}
}

// TestSemanticDateFallback is spec.md §8 scenario 4: a message dated before
// the requested window is found only once semantic mode retries without
// the date filter, and ListMessages is called exactly twice for the space.
func TestSemanticDateFallback(t *testing.T) {
	backend := newFakeBackend()
	backend.pages["spaces/S"] = []chatbackend.ListMessagesPage{
		{Messages: nil},                                        // first call: windowed, empty
		{Messages: []chatmodel.Message{financialReportMessage()}}, // fallback: unwindowed, hit
	}

	svc := New(fetcher.New(backend), fakeEngine{}, "fake")

	result := svc.Search(context.Background(), chatmodel.SearchQuery{
		Query:     "financial report",
		Mode:      chatmodel.ModeSemantic,
		Spaces:    []string{"spaces/S"},
		StartDate: "2024-05-18",
	})

	if !result.SearchComplete {
		t.Fatalf("expected search_complete, got error %q", result.Error)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 message after fallback, got %d", len(result.Messages))
	}
	if got := backend.callCount("spaces/S"); got != 2 {
		t.Fatalf("expected ListMessages called exactly twice, got %d", got)
	}
}

// TestSemanticDateFallbackViaDefaultMode proves the fallback decision uses
// the engine's resolved mode, not the raw caller-supplied one: the caller
// omits Mode entirely, the engine's configured default_mode is semantic,
// and the fallback must still fire.
func TestSemanticDateFallbackViaDefaultMode(t *testing.T) {
	backend := newFakeBackend()
	backend.pages["spaces/S"] = []chatbackend.ListMessagesPage{
		{Messages: nil},
		{Messages: []chatmodel.Message{financialReportMessage()}},
	}

	svc := New(fetcher.New(backend), fakeDefaultSemanticEngine{}, "fake")

	result := svc.Search(context.Background(), chatmodel.SearchQuery{
		Query:     "financial report",
		Spaces:    []string{"spaces/S"},
		StartDate: "2024-05-18",
	})

	if !result.SearchComplete {
		t.Fatalf("expected search_complete, got error %q", result.Error)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 message after fallback, got %d", len(result.Messages))
	}
	if got := backend.callCount("spaces/S"); got != 2 {
		t.Fatalf("expected ListMessages called exactly twice, got %d", got)
	}
}

// TestRegexStrictWindowing is spec.md §8 scenario 5: the same space/query
// under regex mode never relaxes the date window — ListMessages is called
// exactly once and the result is empty.
func TestRegexStrictWindowing(t *testing.T) {
	backend := newFakeBackend()
	backend.pages["spaces/S"] = []chatbackend.ListMessagesPage{
		{Messages: nil},
	}

	svc := New(fetcher.New(backend), fakeEngine{}, "fake")

	result := svc.Search(context.Background(), chatmodel.SearchQuery{
		Query:     "financial",
		Mode:      chatmodel.ModeRegex,
		Spaces:    []string{"spaces/S"},
		StartDate: "2024-05-18",
	})

	if !result.SearchComplete {
		t.Fatalf("expected search_complete, got error %q", result.Error)
	}
	if len(result.Messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(result.Messages))
	}
	if got := backend.callCount("spaces/S"); got != 1 {
		t.Fatalf("expected ListMessages called exactly once, got %d", got)
	}
}

// TestFoundCountMatchesMessageCount is the "message_count always equals
// len(messages)" Open Question Decision from SPEC_FULL.md §5.
func TestFoundCountMatchesMessageCount(t *testing.T) {
	backend := newFakeBackend()
	backend.pages["spaces/S"] = []chatbackend.ListMessagesPage{
		{Messages: []chatmodel.Message{
			{Name: "spaces/S/messages/1", Text: "hello"},
			{Name: "spaces/S/messages/2", Text: "world"},
		}},
	}

	svc := New(fetcher.New(backend), fakeEngine{}, "fake")
	result := svc.Search(context.Background(), chatmodel.SearchQuery{
		Query:  "hello",
		Mode:   chatmodel.ModeExact,
		Spaces: []string{"spaces/S"},
	})

	if result.SearchMetadata.FoundCount != len(result.Messages) {
		t.Fatalf("found_count %d != len(messages) %d", result.SearchMetadata.FoundCount, len(result.Messages))
	}
}
