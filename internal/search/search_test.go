package search

import (
	"context"
	"testing"

	"github.com/rakunlabs/chatgate/internal/chatmodel"
)

func msg(id, text string) chatmodel.Message {
	return chatmodel.Message{Name: id, Text: text}
}

func defaultConfig() *Config {
	return &Config{
		SearchModes: []ModeConfig{
			{Name: "exact", Enabled: true, Weight: 1.0},
			{Name: "regex", Enabled: true, Weight: 1.2},
			{Name: "semantic", Enabled: true, Weight: 1.5, SimilarityThreshold: 0.6},
		},
		Search: Search{
			DefaultMode: "exact",
			HybridWeights: map[string]float64{
				"exact": 1.0, "regex": 1.2, "semantic": 1.5,
			},
		},
	}
}

// TestModeFallbackUnknown is spec.md §8 invariant 2: an unknown mode falls
// back to exact search.
func TestModeFallbackUnknown(t *testing.T) {
	e := New(defaultConfig(), nil)
	messages := []chatmodel.Message{msg("1", "hello world")}

	got := e.Search(context.Background(), "hello", messages, chatmodel.SearchMode("bogus"))
	want := e.Search(context.Background(), "hello", messages, chatmodel.ModeExact)

	if len(got) != 1 || len(want) != 1 || got[0].Score != want[0].Score {
		t.Fatalf("search(q, M, unknown) != search(q, M, exact): got %v want %v", got, want)
	}
}

// TestModeFallbackDisabled exercises the "disabled in config" half of the
// same invariant: the regex entry is present but disabled.
func TestModeFallbackDisabled(t *testing.T) {
	cfg := defaultConfig()
	for i := range cfg.SearchModes {
		if cfg.SearchModes[i].Name == "regex" {
			cfg.SearchModes[i].Enabled = false
		}
	}
	e := New(cfg, nil)
	messages := []chatmodel.Message{msg("1", "don't forget")}

	got := e.Search(context.Background(), "don't forget", messages, chatmodel.ModeRegex)
	want := e.Search(context.Background(), "don't forget", messages, chatmodel.ModeExact)
	if len(got) != len(want) {
		t.Fatalf("disabled regex mode did not fall back to exact: got %d results, want %d", len(got), len(want))
	}
}

// nilEmbedder reports unavailable, so semantic mode must fall back to exact.
type nilEmbedder struct{}

func (nilEmbedder) Available() bool                                { return false }
func (nilEmbedder) Embed(ctx context.Context, text string) []float32 { return nil }

func TestModeFallbackSemanticUnavailable(t *testing.T) {
	e := New(defaultConfig(), nilEmbedder{})
	messages := []chatmodel.Message{msg("1", "hello world")}

	got := e.Search(context.Background(), "hello", messages, chatmodel.ModeSemantic)
	want := e.Search(context.Background(), "hello", messages, chatmodel.ModeExact)
	if len(got) != 1 || len(want) != 1 || got[0].Score != want[0].Score {
		t.Fatalf("semantic with unavailable embedder != exact: got %v want %v", got, want)
	}
}

// TestExactSearchSmartQuote is spec.md §8 scenario 1: a smart-quote query
// matches both the contraction and its expanded alternative ("did not"),
// with the primary (contraction) match outscoring the alternative-expansion
// match.
func TestExactSearchSmartQuote(t *testing.T) {
	e := New(defaultConfig(), nil)
	messages := []chatmodel.Message{
		msg("1", "don't forget"),
		msg("2", "I did not forget either"),
		msg("3", "unrelated"),
	}

	results := e.Search(context.Background(), "don’t", messages, chatmodel.ModeExact)
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(results), results)
	}

	scores := map[string]float64{}
	for _, r := range results {
		scores[r.Message.Name] = r.Score
	}
	primary, ok1 := scores["1"]
	alt, ok2 := scores["2"]
	if !ok1 {
		t.Fatalf("expected message 1 (don't forget, primary match) to match")
	}
	if !ok2 {
		t.Fatalf("expected message 2 (did not, alternative expansion) to match via contraction table")
	}
	if primary < alt {
		t.Fatalf("primary match score %v should be >= alternative match score %v", primary, alt)
	}
}

// TestRegexContractionAlternation is spec.md §8 scenario 2.
func TestRegexContractionAlternation(t *testing.T) {
	e := New(defaultConfig(), nil)
	messages := []chatmodel.Message{
		msg("1", "do not open"),
		msg("2", "don't open"),
		msg("3", "open"),
	}

	results := e.Search(context.Background(), "don't open", messages, chatmodel.ModeRegex)
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if r.Message.Name == "3" {
			t.Fatalf("unrelated message 3 should not match")
		}
	}
}

// TestRegexCompilationFailureFallsBackToExact is spec.md §7 item 4: an
// invalid pattern silently falls back to exact-mode scoring.
func TestRegexCompilationFailureFallsBackToExact(t *testing.T) {
	e := New(defaultConfig(), nil)
	messages := []chatmodel.Message{msg("1", "a(b")}

	// "(" alone is an invalid, unterminated regex group.
	got := e.Search(context.Background(), "(", messages, chatmodel.ModeRegex)
	want := e.exactSearch("(", messages)
	if len(got) != len(want) {
		t.Fatalf("invalid regex did not fall back to exact: got %d results, want %d", len(got), len(want))
	}
}

// fakeEmbedder returns a precomputed embedding per text, for deterministic
// semantic-mode tests without a real model.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f fakeEmbedder) Available() bool { return true }
func (f fakeEmbedder) Embed(ctx context.Context, text string) []float32 {
	return f.vectors[text]
}

// TestSemanticDynamicThresholding is spec.md §8 scenario 3: with 20
// candidates linearly spaced 0.30..0.90 under threshold 0.60, only the top
// 20% (4 messages) whose score clears 0.8*threshold=0.48 survive.
func TestSemanticDynamicThresholding(t *testing.T) {
	cfg := defaultConfig()
	for i := range cfg.SearchModes {
		if cfg.SearchModes[i].Name == "semantic" {
			cfg.SearchModes[i].SimilarityThreshold = 0.6
			cfg.SearchModes[i].Weight = 1.0
		}
	}

	// Build 20 one-dimensional vectors whose cosine similarity to the query
	// vector [1] is a direct linear function of the vector's own magnitude
	// sign/value is irrelevant for 1-D cosine (always 1 or -1), so drive the
	// "similarity" through the dot metric instead, which Similarity returns
	// raw and unscaled.
	for i := range cfg.SearchModes {
		if cfg.SearchModes[i].Name == "semantic" {
			cfg.SearchModes[i].Options.SimilarityMetric = "dot"
		}
	}

	vectors := map[string][]float32{"query": {1}}
	messages := make([]chatmodel.Message, 20)
	for i := 0; i < 20; i++ {
		text := "msg" + string(rune('a'+i))
		sim := 0.30 + float64(i)*(0.90-0.30)/19.0
		vectors[text] = []float32{float32(sim)}
		messages[i] = msg(text, text)
	}

	e := New(cfg, fakeEmbedder{vectors: vectors})
	results := e.Search(context.Background(), "query", messages, chatmodel.ModeSemantic)

	if len(results) != 4 {
		t.Fatalf("expected top 20%% (4) of 20 candidates, got %d: %+v", len(results), results)
	}
}

// TestHybridMultiModeBonus checks that a message matched by more than one
// sub-mode (exact and regex here) scores above its weighted exact-mode
// contribution alone.
func TestHybridMultiModeBonus(t *testing.T) {
	cfg := defaultConfig()
	e := New(cfg, nil)
	messages := []chatmodel.Message{
		msg("spaces/S/messages/1", "don't forget the meeting"),
		msg("spaces/S/messages/2", "completely unrelated text"),
	}

	hybrid := e.Search(context.Background(), "don't forget", messages, chatmodel.ModeHybrid)
	exactOnly := e.exactSearch("don't forget", messages)

	if len(hybrid) == 0 {
		t.Fatal("expected at least one hybrid result")
	}
	var hybridScore, exactScore float64
	for _, r := range hybrid {
		if r.Message.Name == "spaces/S/messages/1" {
			hybridScore = r.Score
		}
	}
	for _, r := range exactOnly {
		if r.Message.Name == "spaces/S/messages/1" {
			exactScore = r.Score
		}
	}
	if hybridScore <= exactScore*cfg.Search.HybridWeights["exact"] {
		t.Fatalf("expected multi-mode bonus to raise score above exact-alone contribution: hybrid=%v exact-weighted=%v", hybridScore, exactScore*cfg.Search.HybridWeights["exact"])
	}
}

// TestSortStability is spec.md §8 invariant 1: equal scores preserve
// insertion order.
func TestSortStability(t *testing.T) {
	e := New(defaultConfig(), nil)
	messages := []chatmodel.Message{
		msg("1", "match"),
		msg("2", "match"),
		msg("3", "match"),
	}
	results := e.Search(context.Background(), "match", messages, chatmodel.ModeExact)
	if len(results) != 3 {
		t.Fatalf("expected 3 equal-score matches, got %d", len(results))
	}
	for i, r := range results {
		want := messages[i].Name
		if r.Message.Name != want {
			t.Fatalf("stable sort violated at index %d: got %s want %s", i, r.Message.Name, want)
		}
	}
}

// TestUnicodeIdempotence is spec.md §8 invariant 5: normalizing an
// already-normalized query is a no-op, and matching is invariant under
// smart-quote substitution.
func TestUnicodeIdempotence(t *testing.T) {
	once := normalize("don’t")
	twice := normalize(once)
	if once != twice {
		t.Fatalf("normalize is not idempotent: %q != %q", once, twice)
	}

	e := New(defaultConfig(), nil)
	messages := []chatmodel.Message{msg("1", "don't forget")}

	withSmartQuote := e.Search(context.Background(), "don’t", messages, chatmodel.ModeExact)
	withASCII := e.Search(context.Background(), "don't", messages, chatmodel.ModeExact)
	if len(withSmartQuote) != len(withASCII) {
		t.Fatalf("smart-quote query and ASCII query should match identically: %d vs %d", len(withSmartQuote), len(withASCII))
	}
}
