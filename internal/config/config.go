// Package config implements the Config Store (C1): a single YAML document
// mapping provider name to its connection record, memoized behind a lock,
// with relative token paths resolved to absolute at first read.
//
// Grounded on the teacher's internal/config/config.go for the chu-based
// loading and cfg tag conventions, and on original_source's
// engine/provider_loader.py for the cache-then-load shape and the
// ConfigNotFound/ConfigKeyMissing error semantics (translated from Python
// KeyError/ValueError).
package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
	"github.com/rakunlabs/tell"

	"github.com/rakunlabs/chatgate/internal/crypto"
	"github.com/rakunlabs/chatgate/internal/errs"
)

// Service is the "<name>/<version>" identifier main.go stamps at startup;
// it is the value the Auth Server's mserver.Middleware reports in its
// Server response header.
var Service = ""

// ProviderRecord is one entry of the top-level `providers` map (spec.md §4.1).
type ProviderRecord struct {
	Name             string   `cfg:"name" yaml:"name"`
	Description      string   `cfg:"description" yaml:"description"`
	TokenPath        string   `cfg:"token_path" yaml:"token_path"`
	CallbackURL      string   `cfg:"callback_url" yaml:"callback_url"`
	Port             int      `cfg:"port" yaml:"port" default:"8000"`
	Scopes           []string `cfg:"scopes" yaml:"scopes"`
	SearchConfigPath string   `cfg:"search_config_path" yaml:"search_config_path"`

	// ClientID/ClientSecret are OAuth application credentials for the
	// authorization-code flow (C3). Not named explicitly in spec.md §4.1's
	// record but required by "constructs an authorization URL"; kept here
	// rather than inventing a second document.
	ClientID     string `cfg:"client_id" yaml:"client_id" log:"-"`
	ClientSecret string `cfg:"client_secret" yaml:"client_secret" log:"-"`

	// Backend selects the ChatBackend implementation: "googlechat"
	// (default), "discord", or "telegram" — the domain-stack pluggability
	// SPEC_FULL.md §3 adds.
	Backend string `cfg:"backend" yaml:"backend" default:"googlechat"`

	// GuildID scopes a discord backend to a single guild. Unused by
	// googlechat/telegram.
	GuildID string `cfg:"guild_id" yaml:"guild_id"`
}

// Document is the top-level YAML shape: `providers: {name: record}`.
type Document struct {
	LogLevel    string                    `cfg:"log_level,no_prefix" default:"info"`
	ProjectRoot string                    `cfg:"project_root,no_prefix"`
	Providers   map[string]ProviderRecord `cfg:"providers"`

	// EncryptionKey, when set, decrypts any provider's client_secret that
	// carries crypto's "enc:" prefix at rest (e.g. committed alongside an
	// encrypted secrets file); plaintext secrets still work unchanged.
	// Passed in via CG_ENCRYPTION_KEY rather than the YAML document itself
	// so the key never sits next to the ciphertext it unlocks.
	EncryptionKey string `cfg:"encryption_key,no_prefix" log:"-"`

	// Telemetry configures the OTel exporter the Auth Server's
	// mtelemetry.Middleware reads from, same field/tag shape as the
	// teacher's internal/config/config.go.
	Telemetry tell.Config `cfg:"telemetry,no_prefix"`
}

// Store memoizes the parsed Document and each resolved per-provider record
// behind a single mutex, matching provider_loader.py's RLock-guarded cache.
type Store struct {
	mu  sync.RWMutex
	doc Document
	// resolved caches providers whose token_path has already been made
	// absolute, so repeated GetProviderConfig calls don't re-resolve.
	resolved map[string]ProviderRecord
	// key is the derived AES-256 key used to decrypt client_secret fields
	// that carry crypto's "enc:" prefix; nil when EncryptionKey is unset.
	key []byte
}

// Load parses the configuration document via chu and fails startup fatally
// on a parse error (spec.md §4.1: "Failure to parse the document is fatal").
func Load(ctx context.Context, name string) (*Store, error) {
	var doc Document
	if err := chu.Load(ctx, name, &doc, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("CG_")))); err != nil {
		return nil, errs.Wrap(errs.KindConfigParseError, "load configuration document", err)
	}

	if err := logi.SetLogLevel(doc.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", doc.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(doc))

	store := &Store{doc: doc, resolved: make(map[string]ProviderRecord)}
	if doc.EncryptionKey != "" {
		key, err := crypto.DeriveKey(doc.EncryptionKey)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfigParseError, "derive encryption key", err)
		}
		store.key = key
	}

	return store, nil
}

// GetProviderConfig returns the named provider's record with TokenPath
// resolved to an absolute path, or ConfigNotFound if the provider is
// absent from the document.
func (s *Store) GetProviderConfig(name string) (ProviderRecord, error) {
	s.mu.RLock()
	if rec, ok := s.resolved[name]; ok {
		s.mu.RUnlock()
		return rec, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check after acquiring the write lock in case another goroutine
	// resolved it first (recursive-lock-equivalent race guard).
	if rec, ok := s.resolved[name]; ok {
		return rec, nil
	}

	rec, ok := s.doc.Providers[name]
	if !ok {
		return ProviderRecord{}, errs.New(errs.KindConfigNotFound, fmt.Sprintf("provider %q not found in configuration", name))
	}

	if rec.TokenPath != "" && !filepath.IsAbs(rec.TokenPath) {
		rec.TokenPath = filepath.Join(s.projectRoot(), rec.TokenPath)
	}
	if rec.SearchConfigPath != "" && !filepath.IsAbs(rec.SearchConfigPath) {
		rec.SearchConfigPath = filepath.Join(s.projectRoot(), rec.SearchConfigPath)
	}

	if s.key != nil && crypto.IsEncrypted(rec.ClientSecret) {
		dec, err := crypto.Decrypt(rec.ClientSecret, s.key)
		if err != nil {
			return ProviderRecord{}, errs.Wrap(errs.KindConfigParseError, fmt.Sprintf("decrypt client_secret for provider %q", name), err)
		}
		rec.ClientSecret = dec
	}

	s.resolved[name] = rec
	return rec, nil
}

func (s *Store) projectRoot() string {
	if s.doc.ProjectRoot != "" {
		return s.doc.ProjectRoot
	}
	return "."
}

// GetValue fetches a single configuration field by key name, failing with
// ConfigKeyMissing if the field is unset (the Go analogue of
// provider_loader.py's get_provider_config_value/KeyError).
func (s *Store) GetValue(name, key string) (any, error) {
	rec, err := s.GetProviderConfig(name)
	if err != nil {
		return nil, err
	}

	switch key {
	case "name":
		if rec.Name != "" {
			return rec.Name, nil
		}
	case "description":
		if rec.Description != "" {
			return rec.Description, nil
		}
	case "token_path":
		if rec.TokenPath != "" {
			return rec.TokenPath, nil
		}
	case "callback_url":
		if rec.CallbackURL != "" {
			return rec.CallbackURL, nil
		}
	case "port":
		return rec.Port, nil
	case "scopes":
		if len(rec.Scopes) != 0 {
			return rec.Scopes, nil
		}
	case "search_config_path":
		if rec.SearchConfigPath != "" {
			return rec.SearchConfigPath, nil
		}
	case "backend":
		return rec.Backend, nil
	}

	return nil, errs.New(errs.KindConfigKeyMissing, fmt.Sprintf("key %q not found in configuration for provider %q", key, name))
}

// ListProviders returns every configured provider's name and description,
// for the `--list-providers` CLI mode (C11).
func (s *Store) ListProviders() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.doc.Providers))
	for name, rec := range s.doc.Providers {
		out[name] = rec.Description
	}
	return out
}
