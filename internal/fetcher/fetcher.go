// Package fetcher implements the Message Fetcher (C6): paginated,
// date-filtered, multi-space message collection on top of a
// chatbackend.Backend, with best-effort sender enrichment.
//
// Grounded on original_source's api/search.py (the per-space loop that
// absorbs errors and stops at a collection cap) and api/messages.py's
// page_size clamp and createTime-desc default, translated from Python's
// sequential for-loop into a bounded worker pool in the teacher's manual
// sync.WaitGroup/mutex style (internal/service's parallel fan-out idiom).
package fetcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rakunlabs/chatgate/internal/chatbackend"
	"github.com/rakunlabs/chatgate/internal/chatmodel"
	"github.com/rakunlabs/chatgate/internal/datefilter"
)

// Fetcher collects messages from one or more spaces through a Backend.
type Fetcher struct {
	backend chatbackend.Backend
}

// New builds a Fetcher bound to backend.
func New(backend chatbackend.Backend) *Fetcher {
	return &Fetcher{backend: backend}
}

// ListOptions narrows a single ListMessages call.
type ListOptions struct {
	PageSize          int
	PageToken         string
	Filter            string // backend-native filter, e.g. from datefilter.Build
	OrderBy           string
	IncludeSenderInfo bool
}

// clampPageSize enforces spec.md §4.6's [1, 1000] page_size bound.
func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return 25
	case n > 1000:
		return 1000
	default:
		return n
	}
}

// ListMessages returns one page of messages from a single space, enriching
// sender info when requested. Enrichment failures never abort the call —
// ResolveUser itself already returns a stub profile rather than an error.
func (f *Fetcher) ListMessages(ctx context.Context, space string, opts ListOptions) (chatbackend.ListMessagesPage, error) {
	page, err := f.backend.ListMessages(ctx, space, chatbackend.ListMessagesOptions{
		Filter:    opts.Filter,
		PageSize:  clampPageSize(opts.PageSize),
		PageToken: opts.PageToken,
		OrderBy:   orDefault(opts.OrderBy, "createTime desc"),
	})
	if err != nil {
		return chatbackend.ListMessagesPage{}, err
	}

	if opts.IncludeSenderInfo {
		f.enrich(ctx, page.Messages)
	}
	return page, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (f *Fetcher) enrich(ctx context.Context, messages []chatmodel.Message) {
	for i := range messages {
		if messages[i].Sender == "" {
			continue
		}
		profile, err := f.backend.ResolveUser(ctx, messages[i].Sender)
		if err != nil {
			slog.Warn("sender profile resolution failed", "sender", messages[i].Sender, "error", err)
			continue
		}
		messages[i].SenderInfo = &profile
	}
}

// CollectOptions parameterizes a multi-space collection pass.
type CollectOptions struct {
	Spaces            []string
	MaxResults        int
	StartDate         string
	EndDate           string
	DaysWindow        int
	Offset            int
	BackendFilter     string
	IncludeSenderInfo bool
}

// CollectResult is the accumulated output of a multi-space collection.
type CollectResult struct {
	Messages       []chatmodel.Message
	SearchedSpaces []string
}

const collectConcurrency = 8

// Collect fans out ListMessages across opts.Spaces, annotating each
// message with its originating space and stopping once 5*MaxResults
// messages have accumulated (spec.md §3's collection cap). Per-space
// errors are logged and absorbed, never surfaced — a single bad space
// must not abort a multi-space search.
func (f *Fetcher) Collect(ctx context.Context, opts CollectOptions) (CollectResult, error) {
	filter, err := buildFilter(opts)
	if err != nil {
		return CollectResult{}, err
	}
	combined := filter
	if opts.BackendFilter != "" {
		combined = datefilter.And(opts.BackendFilter, filter)
	}

	limit := opts.MaxResults * 5
	if limit <= 0 {
		limit = 250
	}

	var (
		mu      sync.Mutex
		out     []chatmodel.Message
		sem     = make(chan struct{}, collectConcurrency)
		wg      sync.WaitGroup
		stopped bool
	)

	for _, space := range opts.Spaces {
		mu.Lock()
		full := stopped || len(out) >= limit
		mu.Unlock()
		if full {
			break
		}

		space := space
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			page, err := f.backend.ListMessages(ctx, space, chatbackend.ListMessagesOptions{
				Filter:   combined,
				PageSize: clampPageSize(opts.MaxResults),
				OrderBy:  "createTime desc",
			})
			if err != nil {
				slog.Warn("error fetching messages from space", "space", space, "error", err)
				return
			}

			if opts.IncludeSenderInfo {
				f.enrich(ctx, page.Messages)
			}
			for i := range page.Messages {
				page.Messages[i].SpaceInfo = &chatmodel.SpaceInfo{Name: space}
			}

			mu.Lock()
			if len(out) < limit {
				out = append(out, page.Messages...)
				if len(out) >= limit {
					stopped = true
				}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(out) > limit {
		out = out[:limit]
	}

	return CollectResult{Messages: out, SearchedSpaces: opts.Spaces}, nil
}

func buildFilter(opts CollectOptions) (string, error) {
	var w datefilter.Window
	switch {
	case opts.StartDate != "":
		w = datefilter.Absolute(opts.StartDate, opts.EndDate)
	case opts.DaysWindow > 0:
		w = datefilter.Relative(opts.DaysWindow, opts.Offset)
	default:
		return "", nil
	}
	return datefilter.Build(w, time.Now())
}
