// Package oauth keeps the stored Twitch user token fresh. It performs jittered checks and
// refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/clip-tender/db"
	"github.com/onnwee/clip-tender/twitchapi"
)

// ProviderTwitch is the oauth_tokens key of the Twitch user token.
const ProviderTwitch = "twitch"

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// TokenStore persists one token row per provider.
type TokenStore interface {
	GetToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	SaveToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// DBTokenStore stores tokens in the oauth_tokens table, encrypted when ENCRYPTION_KEY is set.
type DBTokenStore struct {
	DB *sql.DB
}

func (s DBTokenStore) GetToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	return db.GetOAuthToken(ctx, s.DB, provider)
}

func (s DBTokenStore) SaveToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	return db.UpsertOAuthToken(ctx, s.DB, provider, access, refresh, expiry, scope)
}

// TwitchRefreshFunc refreshes through the Twitch token endpoint described by cfg.
func TwitchRefreshFunc(cfg *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		tok, err := twitchapi.RefreshToken(ctx, cfg, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		expiry := tok.Expiry
		if expiry.IsZero() {
			expiry = twitchapi.ComputeExpiry(0)
		}
		return tok.AccessToken, tok.RefreshToken, expiry, twitchapi.TokenScope(tok), nil
	}
}

// ErrNoToken is returned when no refreshable token is stored.
var ErrNoToken = errors.New("no refresh token stored")

// RefreshOnce refreshes the provider token if it expires within window and reports whether
// a refresh happened.
func RefreshOnce(ctx context.Context, store TokenStore, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	_, rt, exp, scope, err := store.GetToken(ctx, provider)
	if err != nil {
		return false, err
	}
	if rt == "" {
		return false, ErrNoToken
	}
	if time.Until(exp) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		return false, err
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := store.SaveToken(ctx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		return false, err
	}
	return true, nil
}

// StartRefresher launches a goroutine that periodically checks a stored token and refreshes it.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// spread instances out
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			refreshed, err := RefreshOnce(ctx, store, provider, window, fn)
			switch {
			case err == nil && refreshed:
				slog.Info("token refreshed", slog.String("provider", provider))
			case errors.Is(err, ErrNoToken):
			case err != nil:
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
			}

			// ±20% jitter per iteration
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			nextSleep := interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}
