// Package provider implements the Provider Loader (C10): given a provider
// name, resolves its configuration, auth/token plumbing, concrete
// ChatBackend, and search pipeline into one Runtime ready for tool
// registration.
//
// Grounded on original_source's engine/provider_loader.py, translated from
// dynamic importlib.import_module(f"providers.{name}") into an explicit Go
// switch over config.ProviderRecord.Backend — the idiomatic substitute for
// Python's runtime module discovery (see DESIGN.md).
package provider

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rakunlabs/chatgate/internal/chatbackend"
	"github.com/rakunlabs/chatgate/internal/chatbackend/discord"
	googlechatbackend "github.com/rakunlabs/chatgate/internal/chatbackend/googlechat"
	"github.com/rakunlabs/chatgate/internal/chatbackend/telegram"
	"github.com/rakunlabs/chatgate/internal/config"
	"github.com/rakunlabs/chatgate/internal/embedding"
	"github.com/rakunlabs/chatgate/internal/embedding/vectorstore"
	"github.com/rakunlabs/chatgate/internal/errs"
	"github.com/rakunlabs/chatgate/internal/fetcher"
	"github.com/rakunlabs/chatgate/internal/search"
	"github.com/rakunlabs/chatgate/internal/searchsvc"
	"github.com/rakunlabs/chatgate/internal/token"
)

// Runtime is everything a loaded provider needs to serve tools: its
// resolved configuration, the concrete backend, the token store backing
// it (nil for bot-token backends that never refresh), and the assembled
// search pipeline.
type Runtime struct {
	Name        string
	Config      config.ProviderRecord
	Backend     chatbackend.Backend
	Tokens      *token.Store
	OAuthConfig *oauth2.Config
	Fetcher     *fetcher.Fetcher
	Search      *searchsvc.Service
}

// oauthRefresher adapts an *oauth2.Config into token.Refresher via its
// TokenSource, the Go analogue of auth.py's refresh_token exchange.
type oauthRefresher struct{ cfg *oauth2.Config }

func (r oauthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ts := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return ts.Token()
}

// Load resolves provider name into a Runtime. When toolServing is true,
// it asserts the token file exists before proceeding — spec.md §4.9 step
// 4's "directive to authenticate" exit.
func Load(ctx context.Context, cfgStore *config.Store, name string, toolServing bool) (*Runtime, error) {
	rec, err := cfgStore.GetProviderConfig(name)
	if err != nil {
		return nil, err
	}

	backendKind := rec.Backend
	if backendKind == "" {
		backendKind = "googlechat"
	}

	rt := &Runtime{Name: name, Config: rec}

	switch backendKind {
	case "googlechat":
		if err := rt.loadGoogleChat(ctx, rec, toolServing); err != nil {
			return nil, err
		}
	case "discord":
		if toolServing && rec.ClientSecret == "" {
			return nil, errs.New(errs.KindAuthMissing, "no discord bot token configured; set client_secret")
		}
		backend, err := discord.New(rec.ClientSecret, rec.GuildID)
		if err != nil {
			return nil, err
		}
		rt.Backend = backend
	case "telegram":
		if toolServing && rec.ClientSecret == "" {
			return nil, errs.New(errs.KindAuthMissing, "no telegram bot token configured; set client_secret")
		}
		backend, err := telegram.New(rec.ClientSecret)
		if err != nil {
			return nil, err
		}
		rt.Backend = backend
	default:
		return nil, errs.New(errs.KindConfigParseError, fmt.Sprintf("unknown backend %q for provider %q", backendKind, name))
	}

	rt.Fetcher = fetcher.New(rt.Backend)

	searchCfg, embedder, err := loadSearchPipeline(ctx, rec)
	if err != nil {
		return nil, err
	}

	var embedderIface search.Embedder
	if embedder != nil {
		embedderIface = embedder
	}

	engine := search.New(searchCfg, embedderIface)
	rt.Search = searchsvc.New(rt.Fetcher, engine, rt.Backend.Name())

	return rt, nil
}

func (rt *Runtime) loadGoogleChat(ctx context.Context, rec config.ProviderRecord, toolServing bool) error {
	oauthCfg := &oauth2.Config{
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		RedirectURL:  rec.CallbackURL,
		Scopes:       rec.Scopes,
		Endpoint:     google.Endpoint,
	}
	rt.OAuthConfig = oauthCfg
	rt.Tokens = token.New(rec.TokenPath, oauthRefresher{cfg: oauthCfg})

	if toolServing {
		if err := assertTokenPresent(rec.TokenPath); err != nil {
			return err
		}
	}

	cred, err := rt.Tokens.GetCredential(ctx)
	if err != nil {
		return err
	}

	client := http.DefaultClient
	if cred != nil {
		client = oauthCfg.Client(ctx, cred.OAuth2Token())
	}
	rt.Backend = googlechatbackend.New(client)
	return nil
}

// assertTokenPresent is spec.md §4.9 step 4: "if the tool-serving mode is
// requested, asserts token file presence and exits with a directive to
// authenticate otherwise."
func assertTokenPresent(path string) error {
	if path == "" {
		return errs.New(errs.KindAuthMissing, "no token_path configured for provider")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errs.New(errs.KindAuthMissing, fmt.Sprintf("no token file at %s; run with -local-auth to authenticate first", path))
		}
		return fmt.Errorf("stat token file %s: %w", path, err)
	}
	return nil
}

// loadSearchPipeline parses the provider's search configuration (if any)
// and, when semantic mode is enabled there, builds the Embedding Provider
// against langchaingo's OpenAI embedder — the teacher's declared-but-never-
// imported tmc/langchaingo dependency, given a home here. When the mode
// also names a vector_store, the Embedding Provider fronts a Milvus-backed
// Store instead of relying on its in-memory cache alone.
func loadSearchPipeline(ctx context.Context, rec config.ProviderRecord) (*search.Config, *embedding.Provider, error) {
	if rec.SearchConfigPath == "" {
		return &search.Config{}, nil, nil
	}

	cfg, err := search.LoadConfig(rec.SearchConfigPath)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindConfigParseError, "load search configuration", err)
	}

	mode, ok := cfg.Mode("semantic")
	if !ok || !mode.Enabled {
		return cfg, nil, nil
	}

	loader := openaiModelLoader(mode.Options.Model)

	vs := mode.Options.VectorStore
	if vs == nil || vs.MilvusAddr == "" {
		return cfg, embedding.New(loader, mode.Options.CacheMaxSize), nil
	}

	store, err := vectorstore.Connect(ctx, vs.MilvusAddr, vs.Collection, vs.Dimension)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindBackendError, "connect to embedding vector store", err)
	}
	return cfg, embedding.NewWithStore(loader, mode.Options.CacheMaxSize, store), nil
}

// openaiModelLoader defers client construction to the Embedding Provider's
// own lazy-load call, so an unset/invalid OPENAI_API_KEY surfaces as the
// provider's permanent-unavailable latch rather than failing Load itself —
// the original's sentence-transformers model name becomes an OpenAI
// embedding model name here, per SPEC_FULL.md §3.
func openaiModelLoader(model string) func() (embedding.Model, error) {
	return func() (embedding.Model, error) {
		opts := []openai.Option{openai.WithToken(os.Getenv("OPENAI_API_KEY"))}
		if model != "" {
			opts = append(opts, openai.WithEmbeddingModel(model))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai embedding client: %w", err)
		}
		return embedding.OpenAILoader(llm)()
	}
}
