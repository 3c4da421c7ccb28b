package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	dbpkg "github.com/onnwee/clip-tender/db"
	"github.com/onnwee/clip-tender/oauth"
	"github.com/onnwee/clip-tender/twitchapi"
)

func (h *Handlers) twitchOAuthConfig() *oauth2.Config {
	return twitchapi.UserOAuthConfig(h.cfg.TwitchClientID, h.cfg.TwitchClientSecret, h.cfg.TwitchRedirectURI, h.cfg.TwitchScopes)
}

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg.TwitchClientID == "" || h.cfg.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, h.now().Add(oauthStateTTL)) {
		http.Error(w, "too many pending logins", http.StatusServiceUnavailable)
		return
	}
	authURL, err := twitchapi.BuildAuthorizeURL(h.twitchOAuthConfig(), st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and stores the token for the refresher.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	if h.deps.DB == nil {
		http.Error(w, "token storage requires the postgres backend", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	tok, err := twitchapi.ExchangeAuthCode(ctx, h.twitchOAuthConfig(), code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	scope := twitchapi.TokenScope(tok)
	if err := dbpkg.UpsertOAuthToken(ctx, h.deps.DB, oauth.ProviderTwitch, tok.AccessToken, tok.RefreshToken, tok.Expiry, scope); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("twitch oauth token stored", slog.String("scope", scope), slog.Time("expiry", tok.Expiry))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scope": scope, "expiry": tok.Expiry})
}

// HandleTwitchOAuthRevoke forgets the stored user token.
func (h *Handlers) HandleTwitchOAuthRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.DB == nil {
		http.Error(w, "token storage requires the postgres backend", http.StatusServiceUnavailable)
		return
	}
	if err := dbpkg.DeleteOAuthToken(r.Context(), h.deps.DB, oauth.ProviderTwitch); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
