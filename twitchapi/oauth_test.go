package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestBuildAuthorizeURL(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *oauth2.Config
		state      string
		wantErr    bool
		wantScope  string
		wantParams map[string]string
	}{
		{
			name:      "comma separated scopes",
			cfg:       UserOAuthConfig("cid", "secret", "https://app.example/callback", "user:read:email,clips:edit"),
			state:     "xyz",
			wantScope: "user:read:email clips:edit",
			wantParams: map[string]string{
				"client_id":     "cid",
				"redirect_uri":  "https://app.example/callback",
				"response_type": "code",
				"state":         "xyz",
			},
		},
		{
			name:    "missing client id",
			cfg:     UserOAuthConfig("", "secret", "https://app.example/callback", ""),
			wantErr: true,
		},
		{
			name:    "missing redirect",
			cfg:     UserOAuthConfig("cid", "secret", "", ""),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildAuthorizeURL(tt.cfg, tt.state)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildAuthorizeURL() error = %v", err)
			}
			u, err := url.Parse(got)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(got, "https://id.twitch.tv/oauth2/authorize?") {
				t.Errorf("url = %s", got)
			}
			q := u.Query()
			for k, v := range tt.wantParams {
				if q.Get(k) != v {
					t.Errorf("%s = %q, want %q", k, q.Get(k), v)
				}
			}
			if q.Get("scope") != tt.wantScope {
				t.Errorf("scope = %q, want %q", q.Get("scope"), tt.wantScope)
			}
		})
	}
}

func oauthServer(t *testing.T, wantGrant string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != wantGrant {
			t.Errorf("grant_type = %q, want %q", r.Form.Get("grant_type"), wantGrant)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "user-access",
			"refresh_token": "user-refresh-2",
			"expires_in":    14400,
			"scope":         []string{"user:read:email", "clips:edit"},
			"token_type":    "bearer",
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestExchangeAuthCode(t *testing.T) {
	server := oauthServer(t, "authorization_code")
	cfg := UserOAuthConfig("cid", "secret", "https://app.example/callback", "")
	cfg.Endpoint.TokenURL = server.URL

	tok, err := ExchangeAuthCode(context.Background(), cfg, "the-code")
	if err != nil {
		t.Fatalf("ExchangeAuthCode() error = %v", err)
	}
	if tok.AccessToken != "user-access" || tok.RefreshToken != "user-refresh-2" {
		t.Errorf("token = %+v", tok)
	}
	if time.Until(tok.Expiry) < 3*time.Hour {
		t.Errorf("expiry = %v, want ~4h ahead", tok.Expiry)
	}
	if got := TokenScope(tok); got != "user:read:email clips:edit" {
		t.Errorf("TokenScope() = %q", got)
	}
	if _, err := ExchangeAuthCode(context.Background(), cfg, ""); err == nil {
		t.Error("expected error for empty code")
	}
}

func TestRefreshToken(t *testing.T) {
	server := oauthServer(t, "refresh_token")
	cfg := UserOAuthConfig("cid", "secret", "https://app.example/callback", "")
	cfg.Endpoint.TokenURL = server.URL

	tok, err := RefreshToken(context.Background(), cfg, "user-refresh-1")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if tok.AccessToken != "user-access" || tok.RefreshToken != "user-refresh-2" {
		t.Errorf("token = %+v", tok)
	}
	if _, err := RefreshToken(context.Background(), cfg, ""); err == nil {
		t.Error("expected error for empty refresh token")
	}
}

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{"positive", 3600, time.Hour},
		{"zero defaults to an hour", 0, 60 * time.Minute},
		{"negative defaults to an hour", -5, 60 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := time.Until(ComputeExpiry(tt.seconds))
			if got < tt.want-time.Second || got > tt.want+time.Second {
				t.Errorf("ComputeExpiry(%d) in %v, want ~%v", tt.seconds, got, tt.want)
			}
		})
	}
}
