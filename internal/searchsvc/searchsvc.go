// Package searchsvc is the search-integration layer spec.md §4.7 describes
// as living outside the ranking engine itself: it drives the Message
// Fetcher (C6) per requested space, applies the date-aware semantic
// fallback (retry without the date filter when the first fetch over the
// window comes back empty, semantic mode only), runs the Search Engine
// (C8) over the resulting message set, and assembles the response
// envelope from spec.md §6.
//
// Grounded on original_source's api/search.py (the per-space fetch loop,
// the "no results + semantic + date window -> refetch without dates"
// branch) kept as an explicit orchestration step rather than folded into
// either the fetcher or the engine, exactly as spec.md §4.7 mandates.
package searchsvc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rakunlabs/chatgate/internal/chatmodel"
	"github.com/rakunlabs/chatgate/internal/datefilter"
	"github.com/rakunlabs/chatgate/internal/fetcher"
)

// Engine is the subset of the Search Engine the integration layer needs.
// ResolveMode exposes the engine's unset/unknown/disabled/embedder-
// unavailable fallback chain so collectSpace can decide whether the
// semantic-only date-relaxation fallback applies to the mode that will
// actually run, not the raw caller-supplied mode (spec.md §4.7).
type Engine interface {
	Search(ctx context.Context, query string, messages []chatmodel.Message, mode chatmodel.SearchMode) []chatmodel.ScoredMessage
	ResolveMode(mode chatmodel.SearchMode) chatmodel.SearchMode
}

// Service wires a Fetcher and a Search Engine into the full search
// operation, including the semantic date-relaxation fallback.
type Service struct {
	fetcher *fetcher.Fetcher
	engine  Engine
	source  string // e.g. "googlechat", echoed into the envelope
}

// New builds a Service for a single chat backend/provider pairing.
func New(f *fetcher.Fetcher, engine Engine, source string) *Service {
	return &Service{fetcher: f, engine: engine, source: source}
}

const defaultMaxResults = 25

// Search executes spec.md §4.7/§6 end to end: multi-space collection with
// the semantic fallback, ranking, truncation, and envelope assembly.
func (s *Service) Search(ctx context.Context, q chatmodel.SearchQuery) chatmodel.SearchResult {
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	effectiveMode := s.engine.ResolveMode(q.Mode)
	messages, searchedSpaces, err := s.collect(ctx, q, maxResults, effectiveMode)
	if err != nil {
		return chatmodel.SearchResult{
			SearchComplete: false,
			Error:          err.Error(),
			SearchMetadata: chatmodel.SearchMetadata{Query: q.Query, Mode: q.Mode},
		}
	}

	ranked := s.engine.Search(ctx, q.Query, messages, q.Mode)

	foundCount := len(ranked)
	if maxResults < foundCount {
		ranked = ranked[:maxResults]
	}

	out := make([]chatmodel.Message, len(ranked))
	for i, sm := range ranked {
		out[i] = sm.Message
	}

	return chatmodel.SearchResult{
		Messages: out,
		Source:   s.source,
		SearchMetadata: chatmodel.SearchMetadata{
			Query:         q.Query,
			Mode:          q.Mode,
			FoundCount:    foundCount,
			SearchedCount: len(messages),
		},
		SpaceInfo:      chatmodel.SpaceInfoEnvelope{SearchedSpaces: searchedSpaces},
		SearchComplete: true,
	}
}

// collect fetches every requested space, applying the semantic-only
// date-relaxation fallback per space: if the first fetch (with the date
// filter applied) returns zero messages for a space, mode is semantic, and
// a date window was specified, the space is refetched once more without
// the date filter before giving up on it. Regex/exact/hybrid never relax
// and simply return empty for that space — spec.md §4.7 / §8 invariant 6.
func (s *Service) collect(ctx context.Context, q chatmodel.SearchQuery, maxResults int, effectiveMode chatmodel.SearchMode) ([]chatmodel.Message, []string, error) {
	hasDateWindow := q.StartDate != "" || q.EndDate != ""
	dateFilter, err := buildDateFilter(q)
	if err != nil {
		return nil, nil, err
	}

	limit := maxResults * 5
	if limit <= 0 {
		limit = 250
	}

	var (
		mu  sync.Mutex
		out []chatmodel.Message
	)

	var wg sync.WaitGroup
	for _, space := range q.Spaces {
		space := space
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs := s.collectSpace(ctx, space, q, dateFilter, hasDateWindow, limit, effectiveMode)

			mu.Lock()
			out = append(out, msgs...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(out) > limit {
		out = out[:limit]
	}

	return out, q.Spaces, nil
}

func (s *Service) collectSpace(ctx context.Context, space string, q chatmodel.SearchQuery, dateFilter string, hasDateWindow bool, limit int, effectiveMode chatmodel.SearchMode) []chatmodel.Message {
	combined := datefilter.And(q.BackendFilter, dateFilter)

	page, err := s.fetcher.ListMessages(ctx, space, fetcher.ListOptions{
		PageSize:          clampToLimit(limit),
		Filter:            combined,
		OrderBy:           "createTime desc",
		IncludeSenderInfo: q.IncludeSenderInfo,
	})
	if err != nil {
		slog.Warn("search: fetch failed for space", "space", space, "error", err)
		return nil
	}

	if len(page.Messages) == 0 && effectiveMode == chatmodel.ModeSemantic && hasDateWindow {
		slog.Info("search: semantic mode found nothing in window, relaxing date filter", "space", space)
		relaxed, err := s.fetcher.ListMessages(ctx, space, fetcher.ListOptions{
			PageSize:          clampToLimit(limit),
			Filter:            q.BackendFilter,
			OrderBy:           "createTime desc",
			IncludeSenderInfo: q.IncludeSenderInfo,
		})
		if err != nil {
			slog.Warn("search: fallback fetch failed for space", "space", space, "error", err)
			return nil
		}
		page = relaxed
	}

	for i := range page.Messages {
		page.Messages[i].SpaceInfo = &chatmodel.SpaceInfo{Name: space}
	}
	return page.Messages
}

func clampToLimit(limit int) int {
	if limit > 1000 {
		return 1000
	}
	if limit <= 0 {
		return 25
	}
	return limit
}

func buildDateFilter(q chatmodel.SearchQuery) (string, error) {
	if q.StartDate == "" {
		return "", nil
	}
	return datefilter.Build(datefilter.Absolute(q.StartDate, q.EndDate), time.Now())
}
