// Package search implements the Search Engine (C8): exact, regex,
// semantic, and hybrid ranking over a set of messages.
//
// Every formula here is a line-for-line port of original_source's
// utils/search_manager.py (SearchManager._exact_search/_regex_search/
// _semantic_search/_hybrid_search), with one deliberate behavior change:
// the hybrid multi-mode bonus tracks which modes matched each message id
// in an explicit map instead of the original's `locals().get(f"{mode}_results")`
// scan, which only ever worked by accident (see SPEC_FULL.md §5).
package search

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/rakunlabs/chatgate/internal/chatmodel"
	"github.com/rakunlabs/chatgate/internal/embedding"
)

// Embedder is the subset of the Embedding Provider the engine needs.
type Embedder interface {
	Available() bool
	Embed(ctx context.Context, text string) []float32
}

// Engine ranks messages against a query using the configured modes.
type Engine struct {
	cfg      *Config
	embedder Embedder
}

// New builds an Engine from a parsed search configuration and an
// Embedding Provider (may be nil if semantic mode is never configured).
func New(cfg *Config, embedder Embedder) *Engine {
	return &Engine{cfg: cfg, embedder: embedder}
}

// ResolveMode applies the same unset/unknown/disabled/embedder-unavailable
// fallback chain Search uses, without running any ranking. Callers that
// need to know which mode will actually execute before Search returns —
// the search-integration layer's semantic-only date-relaxation decision,
// spec.md §4.7 — call this instead of re-deriving the fallback rules.
func (e *Engine) ResolveMode(mode chatmodel.SearchMode) chatmodel.SearchMode {
	if mode == chatmodel.ModeUnset {
		mode = chatmodel.SearchMode(e.cfg.DefaultMode())
	}

	if mode != chatmodel.ModeHybrid {
		if m, ok := e.cfg.Mode(string(mode)); !ok || !m.Enabled {
			return chatmodel.ModeExact
		}
	}

	if mode == chatmodel.ModeSemantic && (e.embedder == nil || !e.embedder.Available()) {
		return chatmodel.ModeExact
	}

	switch mode {
	case chatmodel.ModeHybrid, chatmodel.ModeExact, chatmodel.ModeRegex, chatmodel.ModeSemantic:
		return mode
	default:
		return chatmodel.ModeExact
	}
}

// Search ranks messages against query under mode. An unset mode resolves to
// the configured default mode; an unknown or disabled mode (hybrid is not
// checked against the enabled flags), or semantic with no available
// embedder, falls back to exact search (see ResolveMode).
func (e *Engine) Search(ctx context.Context, query string, messages []chatmodel.Message, mode chatmodel.SearchMode) []chatmodel.ScoredMessage {
	switch e.ResolveMode(mode) {
	case chatmodel.ModeHybrid:
		return e.hybridSearch(ctx, query, messages)
	case chatmodel.ModeRegex:
		return e.regexSearch(query, messages)
	case chatmodel.ModeSemantic:
		return e.semanticSearch(ctx, query, messages)
	default:
		return e.exactSearch(query, messages)
	}
}

// contractionPairs mirrors search_manager.py's bidirectional table: every
// contraction maps to its sibling contractions and expanded forms.
var contractionPairs = map[string][]string{
	"don't":   {"didn't", "do not", "did not"},
	"didn't":  {"don't", "did not", "do not"},
	"isn't":   {"wasn't", "is not", "was not"},
	"wasn't":  {"isn't", "was not", "is not"},
	"can't":   {"couldn't", "cannot", "could not"},
	"couldn't": {"can't", "could not", "cannot"},
	"won't":   {"wouldn't", "will not", "would not"},
	"wouldn't": {"won't", "would not", "will not"},
	"aren't":  {"weren't", "are not", "were not"},
	"weren't": {"aren't", "were not", "are not"},
	"haven't": {"hadn't", "have not", "had not"},
	"hadn't":  {"haven't", "had not", "have not"},
}

// expandedContractionPairs adds the reverse (expanded form -> contractions)
// entries on top of contractionPairs, matching the original's
// `contraction_pairs.update(expanded_to_contraction)` merge.
func expandedContractionPairs() map[string][]string {
	out := make(map[string][]string, len(contractionPairs)*2)
	for k, v := range contractionPairs {
		out[k] = v
	}
	for contraction, variants := range contractionPairs {
		for _, variant := range variants {
			if strings.Contains(variant, " ") {
				out[variant] = append(out[variant], contraction)
			}
		}
	}
	return out
}

// normalize applies Unicode NFKD decomposition and folds the two smart
// apostrophe codepoints to ASCII, matching unicodedata.normalize('NFKD', ...)
// + the explicit ’/‘ replacement.
func normalize(s string) string {
	s = norm.NFKD.String(s)
	s = strings.ReplaceAll(s, "’", "'")
	s = strings.ReplaceAll(s, "‘", "'")
	return s
}

func (e *Engine) weight(mode string, fallback float64) float64 {
	if m, ok := e.cfg.Mode(mode); ok {
		return m.Weight
	}
	return fallback
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func runeIndex(s, substr string) int {
	idx := strings.Index(s, substr)
	if idx < 0 {
		return -1
	}
	return utf8.RuneCountInString(s[:idx])
}

func (e *Engine) exactSearch(query string, messages []chatmodel.Message) []chatmodel.ScoredMessage {
	weight := e.weight("exact", 1.0)
	queryLower := strings.ToLower(normalize(query))

	pairs := expandedContractionPairs()
	alternatives := []string{queryLower}
	seen := map[string]bool{queryLower: true}

	for contraction, variants := range pairs {
		if !strings.Contains(queryLower, strings.ToLower(contraction)) {
			continue
		}
		for _, variant := range variants {
			alt := strings.ReplaceAll(queryLower, strings.ToLower(contraction), strings.ToLower(variant))
			if alt != queryLower && !seen[alt] {
				alternatives = append(alternatives, alt)
				seen[alt] = true
			}
		}
	}

	var results []chatmodel.ScoredMessage
	for _, msg := range messages {
		text := strings.ToLower(normalize(msg.Text))

		for _, alt := range alternatives {
			if !strings.Contains(text, alt) {
				continue
			}
			matchCount := strings.Count(text, alt)
			if matchCount > 5 {
				matchCount = 5
			}
			textLen := runeLen(text)
			positionFactor := 0.0
			if textLen > 0 {
				positionFactor = 1.0 - float64(runeIndex(text, alt))/float64(textLen+1)
			}
			score := weight * (0.6 + 0.2*float64(matchCount) + 0.2*positionFactor)
			if alt != queryLower {
				score *= 0.9
			}
			results = append(results, chatmodel.ScoredMessage{Score: score, Message: msg})
			break
		}
	}

	sortByScoreDesc(results)
	return results
}

// contractionAlternatives lists every surface form for regex mode's
// alternation pattern, matching regex_search's smaller contraction_terms
// table (expanded forms include the contraction itself, unlike the exact
// search's table).
var contractionAlternatives = map[string][]string{
	"don't":    {"didn't", "don't", "do not", "did not"},
	"didn't":   {"don't", "didn't", "did not", "do not"},
	"isn't":    {"wasn't", "isn't", "is not", "was not"},
	"wasn't":   {"isn't", "wasn't", "was not", "is not"},
	"can't":    {"couldn't", "can't", "cannot", "could not"},
	"couldn't": {"can't", "couldn't", "could not", "cannot"},
	"won't":    {"wouldn't", "won't", "will not", "would not"},
	"wouldn't": {"won't", "wouldn't", "would not", "will not"},
}

// contractionOrder fixes iteration order so the "first matching
// contraction wins" rule (the original's dict-iteration-order dependent
// break) is deterministic.
var contractionOrder = []string{"don't", "didn't", "isn't", "wasn't", "can't", "couldn't", "won't", "wouldn't"}

func (e *Engine) regexSearch(query string, messages []chatmodel.Message) []chatmodel.ScoredMessage {
	weight := e.weight("regex", 1.0)
	modeCfg, _ := e.cfg.Mode("regex")
	opts := modeCfg.Options

	normalizedQuery := normalize(query)
	normalizedQueryLower := strings.ToLower(normalizedQuery)

	flexibleQuery := normalizedQuery
	foundContraction := false

	for _, contraction := range contractionOrder {
		if !strings.Contains(normalizedQueryLower, contraction) {
			continue
		}
		variants := contractionAlternatives[contraction]
		parts := make([]string, 0, len(variants))
		for _, alt := range variants {
			if strings.Contains(alt, "'") {
				parts = append(parts, strings.ReplaceAll(regexp.QuoteMeta(alt), "'", "['']?"))
			} else {
				parts = append(parts, regexp.QuoteMeta(alt))
			}
		}
		patternPart := "(" + strings.Join(parts, "|") + ")"
		flexibleQuery = replaceCaseInsensitive(normalizedQuery, contraction, patternPart)
		foundContraction = true
		break
	}

	if !foundContraction && strings.Contains(flexibleQuery, "'") {
		flexibleQuery = strings.ReplaceAll(flexibleQuery, "'", "['']?")
	}

	maxLen := 1000
	if opts.MaxPatternLength > 0 {
		maxLen = opts.MaxPatternLength
	}
	if runeLen(flexibleQuery) > maxLen {
		r := []rune(flexibleQuery)
		flexibleQuery = string(r[:maxLen])
	}

	var flags strings.Builder
	flags.WriteString("(?")
	if boolOr(opts.IgnoreCase, true) {
		flags.WriteString("i")
	}
	if boolOr(opts.DotAll, false) {
		flags.WriteString("s")
	}
	flags.WriteString(")")

	re, err := regexp.Compile(flags.String() + flexibleQuery)
	if err != nil {
		return e.exactSearch(query, messages)
	}

	var results []chatmodel.ScoredMessage
	for _, msg := range messages {
		text := normalize(msg.Text)
		if text == "" {
			continue
		}
		locs := re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		matchCount := len(locs)
		if matchCount > 5 {
			matchCount = 5
		}
		firstRunePos := utf8.RuneCountInString(text[:locs[0][0]])
		positionFactor := 1.0 - float64(firstRunePos)/float64(runeLen(text))
		score := weight * (0.6 + 0.2*float64(matchCount) + 0.2*positionFactor)
		results = append(results, chatmodel.ScoredMessage{Score: score, Message: msg})
	}

	sortByScoreDesc(results)
	return results
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// replaceCaseInsensitive replaces every case-insensitive occurrence of
// needle in s with replacement, matching re.sub(re.escape(contraction),
// pattern_part, normalized_query, flags=re.IGNORECASE).
func replaceCaseInsensitive(s, needle, replacement string) string {
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(needle))
	return re.ReplaceAllString(s, replacement)
}

func (e *Engine) semanticSearch(ctx context.Context, query string, messages []chatmodel.Message) []chatmodel.ScoredMessage {
	modeCfg, _ := e.cfg.Mode("semantic")
	weight := e.weight("semantic", 1.5)
	threshold := modeCfg.EffectiveSimilarityThreshold()
	if threshold == 0 {
		threshold = 0.6
	}
	metric := embedding.Metric(modeCfg.Options.SimilarityMetric)
	if metric == "" {
		metric = embedding.MetricCosine
	}

	query = strings.TrimSpace(query)
	queryEmbedding := e.embedder.Embed(ctx, query)
	if queryEmbedding == nil {
		return e.exactSearch(query, messages)
	}

	type sim struct {
		score float64
		msg   chatmodel.Message
	}
	var all []sim
	for _, msg := range messages {
		if msg.Text == "" {
			continue
		}
		msgEmbedding := e.embedder.Embed(ctx, msg.Text)
		if msgEmbedding == nil {
			continue
		}
		all = append(all, sim{score: embedding.Similarity(queryEmbedding, msgEmbedding, metric), msg: msg})
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	var results []chatmodel.ScoredMessage
	if len(all) >= 10 {
		minThreshold := threshold * 0.8
		topCount := int(float64(len(all)) * 0.2)
		if topCount < 1 {
			topCount = 1
		}
		for i, s := range all {
			if i >= topCount {
				break
			}
			if s.score >= minThreshold {
				results = append(results, chatmodel.ScoredMessage{Score: weight * s.score, Message: s.msg})
			}
		}
	} else {
		for _, s := range all {
			if s.score >= threshold {
				results = append(results, chatmodel.ScoredMessage{Score: weight * s.score, Message: s.msg})
			}
		}
	}

	sortByScoreDesc(results)
	return results
}

func (e *Engine) hybridSearch(ctx context.Context, query string, messages []chatmodel.Message) []chatmodel.ScoredMessage {
	hybridWeights := e.cfg.Search.HybridWeights

	scores := map[string]float64{}
	byID := map[string]chatmodel.Message{}
	var order []string // message ids in first-seen order, for stable ties
	// matchedBy replaces the original's locals()-scan: explicit record of
	// which modes matched which message id, for the multi-mode bonus.
	matchedBy := map[string]map[string]bool{}

	accumulate := func(modeName string, defaultWeight float64, results []chatmodel.ScoredMessage) {
		w := defaultWeight
		if v, ok := hybridWeights[modeName]; ok {
			w = v
		}
		for _, r := range results {
			id := r.Message.Name
			if id == "" {
				continue
			}
			if _, seen := byID[id]; !seen {
				order = append(order, id)
			}
			byID[id] = r.Message
			scores[id] += r.Score * w
			if matchedBy[id] == nil {
				matchedBy[id] = map[string]bool{}
			}
			matchedBy[id][modeName] = true
		}
	}

	query = strings.TrimSpace(query)

	if m, ok := e.cfg.Mode("exact"); ok && m.Enabled {
		accumulate("exact", 1.0, e.exactSearch(query, messages))
	}
	if m, ok := e.cfg.Mode("regex"); ok && m.Enabled {
		accumulate("regex", 1.2, e.regexSearch(query, messages))
	}
	if m, ok := e.cfg.Mode("semantic"); ok && m.Enabled && e.embedder != nil && e.embedder.Available() {
		accumulate("semantic", 1.5, e.semanticSearch(ctx, query, messages))
	}

	for id, modes := range matchedBy {
		if len(modes) > 1 {
			bonus := scores[id] * 0.2 * float64(len(modes)-1)
			scores[id] += bonus
		}
	}

	results := make([]chatmodel.ScoredMessage, 0, len(scores))
	for _, id := range order {
		results = append(results, chatmodel.ScoredMessage{Score: scores[id], Message: byID[id]})
	}

	sortByScoreDesc(results)
	return results
}

// sortByScoreDesc sorts by score descending, stable so equal-score
// messages keep their collection order (the original relies on Python's
// stable sort for the same reason).
func sortByScoreDesc(results []chatmodel.ScoredMessage) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}
