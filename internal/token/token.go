// Package token implements the process-wide OAuth credential cache (C2):
// a single credential slot per provider, backed by an atomically-written
// JSON file, that never hands back an expired credential.
//
// Grounded on original_source's api/auth.py (module-singleton in-memory
// cache, memory-first/file-fallback reads, explicit (bool, reason) refresh
// return). The token file is written to a temp file and then renamed into
// place.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rakunlabs/chatgate/internal/errs"
	"github.com/worldline-go/types"
	"golang.org/x/oauth2"
)

// Credential is the opaque token bundle persisted to the token file.
type Credential struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	Expiry       types.Time `json:"expiry"`
	Scopes       []string   `json:"scopes,omitempty"`
}

// Valid reports whether the credential is non-empty and not yet expired.
func (c Credential) Valid() bool {
	return c.AccessToken != "" && time.Time(c.Expiry).After(time.Now())
}

// OAuth2Token renders the credential as an *oauth2.Token, the shape
// oauth2.Config.Client needs to build an authenticated http.Client.
func (c Credential) OAuth2Token() *oauth2.Token {
	return c.toOAuth2()
}

func (c Credential) toOAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       time.Time(c.Expiry),
	}
}

// NewCredential builds a Credential from an exchanged *oauth2.Token, the
// shape the Auth Server persists immediately after a successful
// authorization-code exchange.
func NewCredential(t *oauth2.Token, scopes []string) Credential {
	return fromOAuth2(t, scopes)
}

func fromOAuth2(t *oauth2.Token, scopes []string) Credential {
	return Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       types.Time(t.Expiry),
		Scopes:       scopes,
	}
}

// Refresher exchanges a refresh token for a fresh access token. For the
// googlechat backend it is internal/provider's adapter over an
// *oauth2.Config's TokenSource; discord and telegram runtimes have no token
// store.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Store is the single-credential-per-process cache described by C2.
type Store struct {
	mu          sync.Mutex
	path        string
	cred        *Credential
	lastRefresh time.Time
	refresher   Refresher
}

// New creates a Store backed by the JSON file at path. The file is read
// lazily on first GetCredential call, matching the original's
// memory-first/file-fallback ordering.
func New(path string, refresher Refresher) *Store {
	return &Store{path: path, refresher: refresher}
}

// GetCredential returns a currently-valid credential, refreshing
// transparently if the in-memory credential is expired and carries a
// refresh token. Returns nil, nil if no credential is available anywhere.
// If refresh fails, the stale credential is discarded and nil is returned.
func (s *Store) GetCredential(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred == nil {
		if err := s.loadLocked(); err != nil {
			return nil, err
		}
	}
	if s.cred == nil {
		return nil, nil
	}

	if s.cred.Valid() {
		c := *s.cred
		return &c, nil
	}

	if s.cred.RefreshToken == "" {
		s.cred = nil
		return nil, nil
	}

	if err := s.refreshLocked(ctx); err != nil {
		s.cred = nil
		return nil, nil
	}

	c := *s.cred
	return &c, nil
}

// SaveCredential atomically writes c to the token path, then updates the
// in-memory slot and last-refresh timestamp.
func (s *Store) SaveCredential(c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.path, c); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.cred = &c
	s.lastRefresh = time.Now()
	return nil
}

// Refresh forces a refresh, returning (false, reason) when no refresh
// token is present or the exchange itself fails.
func (s *Store) Refresh(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred == nil {
		if err := s.loadLocked(); err != nil {
			return false, err
		}
	}
	if s.cred == nil || s.cred.RefreshToken == "" {
		return false, errs.New(errs.KindAuthRefreshFailed, "no refresh token present")
	}

	if err := s.refreshLocked(ctx); err != nil {
		return false, errs.Wrap(errs.KindAuthRefreshFailed, "refresh exchange failed", err)
	}
	return true, nil
}

// LastRefresh reports when SaveCredential (directly, or via a successful
// Refresh) last ran, or the zero time if never.
func (s *Store) LastRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefresh
}

func (s *Store) refreshLocked(ctx context.Context) error {
	if s.refresher == nil {
		return errs.New(errs.KindAuthRefreshFailed, "no refresher configured")
	}
	tok, err := s.refresher.Refresh(ctx, s.cred.RefreshToken)
	if err != nil {
		return err
	}
	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = s.cred.RefreshToken // providers may omit it on refresh responses
	}
	next := fromOAuth2(tok, s.cred.Scopes)
	next.RefreshToken = refreshToken
	if err := writeAtomic(s.path, next); err != nil {
		return err
	}
	s.cred = &next
	s.lastRefresh = time.Now()
	return nil
}

func (s *Store) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read token file: %w", err)
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parse token file %s: %w", s.path, err)
	}
	s.cred = &c
	return nil
}

func writeAtomic(path string, c Credential) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename token file into place: %w", err)
	}
	return nil
}
