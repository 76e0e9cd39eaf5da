// Package embedding implements the Embedding Provider (C7): a lazily
// loaded text-embedding model with a bounded cache and the three
// similarity metrics the Search Engine's semantic mode consumes.
//
// Grounded on original_source's utils/search_manager.py's
// SemanticSearchProvider (lazy model init with a permanent-unavailable
// latch on failure, dict-as-LRU eviction, cosine/dot/euclidean formulas)
// ported onto the teacher's unwired tmc/langchaingo dependency in place
// of sentence-transformers.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
)

// Model produces embedding vectors for a batch of texts. Satisfied by
// *embeddings.EmbedderImpl from langchaingo, wrapping any of its LLM
// backends (openai, etc).
type Model interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is an optional durable backing for the embedding cache, so a
// long-running process doesn't re-embed the same text after a restart.
// Satisfied by internal/embedding/vectorstore.Store.
type Store interface {
	Get(ctx context.Context, textHash string) ([]float32, error)
	Put(ctx context.Context, textHash string, vec []float32) error
}

// Provider is the Embedding Provider: available()/embed()/similarity()
// backed by a lazily-initialized Model and an insertion-ordered cache,
// optionally fronting a durable Store.
type Provider struct {
	mu        sync.Mutex
	loader    func() (Model, error)
	model     Model
	available bool
	loaded    bool

	cacheMaxSize int
	cache        map[string][]float32
	order        []string // insertion order, oldest first, for eviction

	store Store
}

// New builds a Provider that lazily calls loader on first Embed call.
// cacheMaxSize <= 0 means unbounded.
func New(loader func() (Model, error), cacheMaxSize int) *Provider {
	return &Provider{
		loader:       loader,
		cacheMaxSize: cacheMaxSize,
		cache:        make(map[string][]float32),
	}
}

// NewWithStore builds a Provider that also consults store on a cache miss
// before calling the model, and persists freshly computed embeddings back
// to it — the additive Milvus durability layer SPEC_FULL.md §3 describes.
func NewWithStore(loader func() (Model, error), cacheMaxSize int, store Store) *Provider {
	p := New(loader, cacheMaxSize)
	p.store = store
	return p
}

// Available reports whether the model loaded successfully. Triggers lazy
// load on first call, matching SemanticSearchProvider's __init__-time
// attempt but deferred to first use rather than construction time.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLoadedLocked()
	return p.available
}

func (p *Provider) ensureLoadedLocked() {
	if p.loaded {
		return
	}
	p.loaded = true

	model, err := p.loader()
	if err != nil {
		slog.Error("embedding model failed to load, semantic search unavailable", "error", err)
		p.available = false
		return
	}
	p.model = model
	p.available = true
}

// Embed returns the embedding vector for text, using the cache when
// present. Returns nil if the model is unavailable or text is empty —
// both are the original's explicit "cannot embed" cases, not errors.
func (p *Provider) Embed(ctx context.Context, text string) []float32 {
	if text == "" {
		return nil
	}

	p.mu.Lock()
	p.ensureLoadedLocked()
	if !p.available {
		p.mu.Unlock()
		return nil
	}
	if v, ok := p.cache[text]; ok {
		p.mu.Unlock()
		return v
	}
	model, store := p.model, p.store
	p.mu.Unlock()

	if store != nil {
		hash := textHash(text)
		if v, err := store.Get(ctx, hash); err != nil {
			slog.Warn("embedding store lookup failed", "error", err)
		} else if len(v) > 0 {
			p.mu.Lock()
			p.insertLocked(text, v)
			p.mu.Unlock()
			return v
		}
	}

	vecs, err := model.EmbedDocuments(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		slog.Error("embedding generation failed", "error", err)
		return nil
	}

	p.mu.Lock()
	p.insertLocked(text, vecs[0])
	p.mu.Unlock()

	if store != nil {
		if err := store.Put(ctx, textHash(text), vecs[0]); err != nil {
			slog.Warn("embedding store write failed", "error", err)
		}
	}

	return vecs[0]
}

// textHash derives the Milvus primary-key-safe identifier for text: the
// raw text may exceed the collection's varchar bound, so the store is
// keyed by content hash rather than content.
func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (p *Provider) insertLocked(text string, vec []float32) {
	if p.cacheMaxSize > 0 && len(p.cache) >= p.cacheMaxSize {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.cache, oldest)
	}
	p.cache[text] = vec
	p.order = append(p.order, text)
}

// Metric identifies one of the three similarity formulas.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

// Similarity computes the similarity between two embeddings under the
// named metric, matching compute_similarity's exact rescaling: cosine is
// remapped from [-1, 1] to [0, 1], euclidean distance d is mapped to
// 1/(1+d), and dot is returned raw.
func Similarity(a, b []float32, metric Metric) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	switch metric {
	case MetricDot:
		return dot(a, b)
	case MetricEuclidean:
		return 1 / (1 + euclideanDistance(a, b))
	case MetricCosine, "":
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 0
		}
		cos := dot(a, b) / (na * nb)
		return (cos + 1) / 2
	default:
		return 0
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(a []float32) float64 {
	return math.Sqrt(dot(a, a))
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// OpenAILoader builds a Model backed by langchaingo's OpenAI embeddings
// client, the concrete Loader for search_modes[].options.model.
func OpenAILoader(llm embeddings.EmbedderClient) func() (Model, error) {
	return func() (Model, error) {
		return embeddings.NewEmbedder(llm)
	}
}
