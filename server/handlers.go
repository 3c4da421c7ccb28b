// Package server exposes the HTTP API: the tagged RPC endpoint, capture reads, admin
// triggers, the Twitch OAuth flow and health probes.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/clip-tender/capture"
	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/events"
	"github.com/onnwee/clip-tender/reconcile"
	"github.com/onnwee/clip-tender/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// StreamLookup reports the live broadcast of a streamer, nil when offline.
type StreamLookup interface {
	GetStream(ctx context.Context, login string) (*twitchapi.StreamInfo, error)
}

// EventSink publishes VOD-available notifications.
type EventSink interface {
	Publish(ctx context.Context, m events.VODAvailable) error
}

// Deps are the collaborators wired into the HTTP layer. Only Service is required.
type Deps struct {
	Config    *config.Config
	Service   *reconcile.Service
	Scheduler *reconcile.Scheduler
	Provider  reconcile.Provider
	Streams   StreamLookup
	Events    EventSink
	Policy    reconcile.Policy
	// DB is set for the postgres backend; it stores OAuth tokens and backs readiness.
	DB *sql.DB
	// Ping checks the capture store when DB is nil.
	Ping func(ctx context.Context) error
	// Redis backs the shared admin rate limiter when RATE_LIMIT_BACKEND=redis.
	Redis redis.UniversalClient
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
	cfg  *config.Config
	now  func() time.Time

	stateStore map[string]time.Time
	stateMu    sync.Mutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handlers{
		deps:       deps,
		cfg:        cfg,
		now:        time.Now,
		stateStore: make(map[string]time.Time),
	}
}

// addOAuthState records state until it expires. Once the store is full new states are
// refused, which fails that login attempt instead of growing memory without bound.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		now := h.now()
		for st, exp := range h.stateStore {
			if now.After(exp) {
				delete(h.stateStore, st)
			}
		}
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState validates and removes state in one step so it cannot be replayed.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return !h.now().After(exp)
}

// dispatcher routes VOD events when no Kafka publisher is configured.
func (h *Handlers) dispatcher() *events.Dispatcher {
	var n events.Notifier = noopNotifier{}
	if h.deps.Scheduler != nil {
		n = h.deps.Scheduler
	}
	return &events.Dispatcher{Service: h.deps.Service, Scheduler: n}
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// HandleCaptures lists captures, optionally filtered by ?streamer=.
func (h *Handlers) HandleCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var (
		cs  []capture.Capture
		err error
	)
	if streamer := r.URL.Query().Get("streamer"); streamer != "" {
		cs, err = h.deps.Service.ListByStreamer(r.Context(), streamer)
	} else {
		cs, err = h.deps.Service.List(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// HandleCaptureByID serves /captures/{id} and /captures/{id}/clip.
func (h *Handlers) HandleCaptureByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, sub := splitPath(r.URL.Path, "/captures/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	c, err := h.deps.Service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	switch sub {
	case "":
		writeJSON(w, http.StatusOK, c)
	case "clip":
		http.Redirect(w, r, capture.ClipURL(c), http.StatusFound)
	default:
		http.NotFound(w, r)
	}
}

// HandleStreamerStream serves /streamers/{login}/stream with the current broadcast id, which
// the acquisition path stores on live captures for precise matching.
func (h *Handlers) HandleStreamerStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	login, sub := splitPath(r.URL.Path, "/streamers/")
	if login == "" || sub != "stream" {
		http.NotFound(w, r)
		return
	}
	if h.deps.Streams == nil {
		http.Error(w, "twitch not configured", http.StatusServiceUnavailable)
		return
	}
	info, err := h.deps.Streams.GetStream(r.Context(), capture.CanonicalStreamer(login))
	if err != nil {
		if twitchapi.IsRetryableError(err) {
			err = capture.Transient("get stream", err)
		}
		writeError(w, err)
		return
	}
	if info == nil {
		writeJSON(w, http.StatusOK, map[string]any{"live": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"live":        true,
		"broadcastId": info.ID,
		"startedAt":   info.StartedAt,
	})
}
