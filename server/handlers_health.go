package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	dbpkg "github.com/onnwee/clip-tender/db"
	"github.com/onnwee/clip-tender/oauth"
)

// HandleHealthz is the liveness probe; it never touches dependencies.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz checks the capture store and, with postgres, the schema state and the stored
// Twitch token.
// A missing token is reported but does not fail readiness since captures still work.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := []struct {
		name string
		fn   func() error
	}{
		{"store", func() error {
			switch {
			case h.deps.DB != nil:
				return h.deps.DB.PingContext(ctx)
			case h.deps.Ping != nil:
				return h.deps.Ping(ctx)
			case h.deps.Service != nil:
				_, err := h.deps.Service.List(ctx)
				return err
			}
			return errors.New("no capture store configured")
		}},
		{"schema", func() error {
			if h.deps.DB == nil {
				return nil
			}
			if v, dirty, err := dbpkg.SchemaVersion(h.deps.DB); err == nil && dirty {
				return fmt.Errorf("schema dirty at version %d", v)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	resp := map[string]string{"status": "ready"}
	if h.deps.DB != nil {
		access, _, _, _, err := dbpkg.GetOAuthToken(ctx, h.deps.DB, oauth.ProviderTwitch)
		if err != nil || access == "" {
			resp["twitch_user_token"] = "missing"
		} else {
			resp["twitch_user_token"] = "present"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
