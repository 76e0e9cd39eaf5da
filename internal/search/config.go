package search

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ModeOptions holds the mode-specific knobs from SearchConfig (spec.md §3):
// regex compile flags, semantic model/cache/metric/threshold.
type ModeOptions struct {
	// Regex mode.
	IgnoreCase       *bool `yaml:"ignore_case"`
	DotAll           *bool `yaml:"dot_all"`
	Unicode          *bool `yaml:"unicode"`
	MaxPatternLength int   `yaml:"max_pattern_length"`

	// Semantic mode.
	Model              string  `yaml:"model"`
	CacheMaxSize       int     `yaml:"cache_max_size"`
	SimilarityMetric   string  `yaml:"similarity_metric"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// Optional additive Milvus-backed vector store (domain-stack extension,
	// see SPEC_FULL.md §3). Empty means LRU-only.
	VectorStore *VectorStoreOptions `yaml:"vector_store"`
}

// VectorStoreOptions configures the optional Milvus durability layer.
type VectorStoreOptions struct {
	MilvusAddr     string `yaml:"milvus_addr"`
	Collection     string `yaml:"collection"`
	Dimension      int    `yaml:"dimension"`
}

// ModeConfig is one entry of search_modes[].
type ModeConfig struct {
	Name    string      `yaml:"name"`
	Enabled bool        `yaml:"enabled"`
	Weight  float64     `yaml:"weight"`
	Options ModeOptions `yaml:"options"`

	// SimilarityThreshold at the top level takes precedence over
	// Options.SimilarityThreshold per SPEC_FULL.md §5's Open Question
	// Decision; zero means "not set here, fall back to Options".
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// EffectiveSimilarityThreshold applies the mode-record-wins-over-nested
// precedence rule.
func (m ModeConfig) EffectiveSimilarityThreshold() float64 {
	if m.SimilarityThreshold != 0 {
		return m.SimilarityThreshold
	}
	return m.Options.SimilarityThreshold
}

// Search is the `search { default_mode, hybrid_weights }` block.
type Search struct {
	DefaultMode    string             `yaml:"default_mode"`
	HybridWeights  map[string]float64 `yaml:"hybrid_weights"`
}

// Config is the full search-mode configuration document: a separate YAML
// file referenced by a provider's search_config_path (spec.md §6).
type Config struct {
	SearchModes []ModeConfig `yaml:"search_modes"`
	Search      Search       `yaml:"search"`
}

// Mode looks up a mode's configuration by name.
func (c *Config) Mode(name string) (ModeConfig, bool) {
	for _, m := range c.SearchModes {
		if m.Name == name {
			return m, true
		}
	}
	return ModeConfig{}, false
}

// DefaultMode returns the configured default, or "exact" if unset.
func (c *Config) DefaultMode() string {
	if c.Search.DefaultMode == "" {
		return "exact"
	}
	return c.Search.DefaultMode
}

// LoadConfig reads and parses a search configuration document from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
