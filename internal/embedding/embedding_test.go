package embedding

import (
	"context"
	"errors"
	"testing"
)

type fakeModel struct {
	vecs  map[string][]float32
	calls int
	err   error
}

func (f *fakeModel) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vecs[t]
	}
	return out, nil
}

func TestAvailableTrueWhenLoaderSucceeds(t *testing.T) {
	p := New(func() (Model, error) { return &fakeModel{}, nil }, 10)
	if !p.Available() {
		t.Fatal("expected Available() true when the loader succeeds")
	}
}

// TestAvailableFalseForeverOnLoadFailure covers the permanent-unavailable
// latch: once the loader fails, Available() never retries it.
func TestAvailableFalseForeverOnLoadFailure(t *testing.T) {
	attempts := 0
	p := New(func() (Model, error) {
		attempts++
		return nil, errors.New("model load failed")
	}, 10)

	if p.Available() {
		t.Fatal("expected Available() false after a load failure")
	}
	if p.Available() {
		t.Fatal("expected Available() to stay false on a second call")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one load attempt, got %d", attempts)
	}
}

func TestEmbedReturnsNilForEmptyInput(t *testing.T) {
	p := New(func() (Model, error) { return &fakeModel{}, nil }, 10)
	if v := p.Embed(context.Background(), ""); v != nil {
		t.Fatalf("expected nil for empty input, got %v", v)
	}
}

func TestEmbedReturnsNilWhenUnavailable(t *testing.T) {
	p := New(func() (Model, error) { return nil, errors.New("boom") }, 10)
	if v := p.Embed(context.Background(), "hello"); v != nil {
		t.Fatalf("expected nil when the model is unavailable, got %v", v)
	}
}

func TestEmbedCachesPerText(t *testing.T) {
	model := &fakeModel{vecs: map[string][]float32{"hello": {1, 2, 3}}}
	p := New(func() (Model, error) { return model, nil }, 10)

	v1 := p.Embed(context.Background(), "hello")
	v2 := p.Embed(context.Background(), "hello")
	if v1 == nil || v2 == nil {
		t.Fatal("expected non-nil vectors")
	}
	if model.calls != 1 {
		t.Fatalf("expected the model to be called exactly once due to caching, got %d calls", model.calls)
	}
}

// TestEmbedLRUEvictsOldestInserted covers the bounded-cache eviction policy:
// oldest-inserted entries are dropped first on overflow.
func TestEmbedLRUEvictsOldestInserted(t *testing.T) {
	model := &fakeModel{vecs: map[string][]float32{
		"a": {1}, "b": {2}, "c": {3},
	}}
	p := New(func() (Model, error) { return model, nil }, 2)

	p.Embed(context.Background(), "a")
	p.Embed(context.Background(), "b")
	p.Embed(context.Background(), "c") // should evict "a"

	if _, ok := p.cache["a"]; ok {
		t.Fatal("expected oldest-inserted entry 'a' to be evicted")
	}
	if _, ok := p.cache["b"]; !ok {
		t.Fatal("expected 'b' to remain cached")
	}
	if _, ok := p.cache["c"]; !ok {
		t.Fatal("expected 'c' to remain cached")
	}
}

func TestSimilarityCosineRescaledToUnitRange(t *testing.T) {
	// Identical vectors: cosine similarity = 1, rescaled (1+1)/2 = 1.
	got := Similarity([]float32{1, 0}, []float32{1, 0}, MetricCosine)
	if got < 0.999 || got > 1.0001 {
		t.Fatalf("expected ~1.0 for identical vectors, got %v", got)
	}

	// Opposite vectors: cosine similarity = -1, rescaled (−1+1)/2 = 0.
	got = Similarity([]float32{1, 0}, []float32{-1, 0}, MetricCosine)
	if got < -0.0001 || got > 0.0001 {
		t.Fatalf("expected ~0.0 for opposite vectors, got %v", got)
	}
}

func TestSimilarityDotIsRaw(t *testing.T) {
	got := Similarity([]float32{1, 2}, []float32{3, 4}, MetricDot)
	want := 1*3 + 2*4
	if got != float64(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSimilarityEuclideanMapsZeroDistanceToOne(t *testing.T) {
	got := Similarity([]float32{1, 1}, []float32{1, 1}, MetricEuclidean)
	if got != 1 {
		t.Fatalf("expected 1/(1+0)=1 for identical vectors, got %v", got)
	}
}

func TestSimilarityHandlesEmptyVectors(t *testing.T) {
	if got := Similarity(nil, []float32{1}, MetricCosine); got != 0 {
		t.Fatalf("expected 0 for an empty vector, got %v", got)
	}
}
