// Package authserver implements the Auth Server (C3): a long-running local
// HTTP service driving the OAuth authorization-code flow described in
// spec.md §4.3, backed by the Token Store (C2).
//
// Grounded on internal/server/auth_device.go's pending-flow state machine
// (single-use, map-keyed, background-driven) translated from GitHub's
// device-code polling shape into the authorization-code redirect/callback
// shape spec.md §4.3 specifies, and on internal/server/server.go's ada mux
// composition for the HTTP surface itself.
package authserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/oauth2"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/rakunlabs/chatgate/internal/config"
	"github.com/rakunlabs/chatgate/internal/errs"
	"github.com/rakunlabs/chatgate/internal/token"
)

// pendingFlow is a single-use, state-keyed authorization-code flow in
// flight between GET /auth and GET /auth/callback. oauthConfig is a
// per-flow copy of the server's base config with RedirectURL overridden to
// the caller-supplied callback_url (when given), so the redirect_uri
// AuthCodeURL embedded in the authorization request matches the one
// Exchange presents on callback — providers reject a mismatch.
type pendingFlow struct {
	oauthConfig *oauth2.Config
	createdAt   time.Time
}

// Server is the Auth Server: one oauth2.Config, one Token Store, one set
// of in-flight pending flows.
type Server struct {
	oauthConfig *oauth2.Config
	tokens      *token.Store

	mu      sync.Mutex
	pending map[string]pendingFlow

	httpServer *http.Server
}

// New builds a Server bound to oauthConfig (the provider's client
// id/secret/scopes/redirect URL) and the process's Token Store.
func New(oauthConfig *oauth2.Config, tokens *token.Store, addr string) *Server {
	s := &Server{
		oauthConfig: oauthConfig,
		tokens:      tokens,
		pending:     make(map[string]pendingFlow),
	}

	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mrequestid.Middleware(),
		mcors.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)
	mux.GET("/auth", s.handleAuth)
	mux.GET("/auth/callback", s.handleCallback)
	mux.GET("/status", s.handleStatus)
	mux.POST("/auth/refresh", s.handleRefresh)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run serves until ctx is cancelled, then drains in-flight requests via a
// graceful shutdown — spec.md §5: "honors OS interrupt and termination
// signals via a graceful shutdown that stops accepting new connections and
// drains in-flight requests." Signal delivery itself is the caller's
// responsibility (into.Init at the C11 layer).
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("auth server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("auth server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if cred, err := s.tokens.GetCredential(ctx); err == nil && cred != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "already_authenticated"})
		return
	}

	flowConfig := *s.oauthConfig
	if callbackURL := r.URL.Query().Get("callback_url"); callbackURL != "" {
		flowConfig.RedirectURL = callbackURL
	}

	state := ulid.Make().String()
	s.mu.Lock()
	s.pending[state] = pendingFlow{oauthConfig: &flowConfig, createdAt: time.Now()}
	s.mu.Unlock()

	authURL := flowConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		writeError(w, http.StatusBadRequest, errs.New(errs.KindAuthStateInvalid, "authorization denied: "+errParam))
		return
	}

	state := q.Get("state")
	flow, ok := s.takeState(state)
	if !ok {
		writeError(w, http.StatusBadRequest, errs.New(errs.KindAuthStateInvalid, "unknown or already-used state"))
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, errs.New(errs.KindInvalidArgument, "missing code parameter"))
		return
	}

	tok, err := flow.oauthConfig.Exchange(ctx, code)
	if err != nil {
		writeError(w, http.StatusBadGateway, errs.Wrap(errs.KindBackendError, "code exchange failed", err))
		return
	}

	if tok.RefreshToken == "" {
		writeError(w, http.StatusBadGateway, errs.New(errs.KindAuthRefreshFailed, "provider did not issue a refresh token; re-authorize with consent forced"))
		return
	}

	cred := token.NewCredential(tok, flow.oauthConfig.Scopes)
	if err := s.tokens.SaveCredential(cred); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "authenticated"})
}

// takeState atomically looks up and deletes a pending flow, making state
// single-use.
func (s *Server) takeState(state string) (pendingFlow, bool) {
	if state == "" {
		return pendingFlow{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.pending[state]
	if ok {
		delete(s.pending, state)
	}
	return flow, ok
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cred, err := s.tokens.GetCredential(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": err.Error()})
		return
	}
	if cred == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "not_authenticated"})
		return
	}

	status := "authenticated"
	if !cred.Valid() {
		status = "expired"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"expiry":            cred.Expiry,
		"has_refresh_token": cred.RefreshToken != "",
		"scopes":            cred.Scopes,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ok, err := s.tokens.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refreshed": ok})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("auth server: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	kind := "error"
	var e *errs.Error
	if errors.As(err, &e) {
		kind = string(e.Kind)
	}
	writeJSON(w, status, map[string]any{"status": "error", "error_type": kind, "message": err.Error()})
}
