package server

import (
	"errors"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/onnwee/clip-tender/capture"
	dbpkg "github.com/onnwee/clip-tender/db"
	"github.com/onnwee/clip-tender/events"
	"github.com/onnwee/clip-tender/reconcile"
	"github.com/onnwee/clip-tender/telemetry"
)

const kvLastAdminPrune = "admin_prune_last"

// HandleAdminPrune runs one retention pass. ?dry_run=1 lists what would be removed and
// ?days= overrides the configured threshold.
func (h *Handlers) HandleAdminPrune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	days := parseIntQuery(r, "days", h.deps.Policy.RetentionDays)
	dryRun := h.deps.Policy.DryRun
	if v := r.URL.Query().Get("dry_run"); v != "" {
		dryRun = v == "1" || v == "true"
	}
	now := h.now()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "admin_prune"))

	if dryRun {
		expired, err := h.deps.Service.Expired(ctx, now, days)
		if err != nil {
			writeError(w, err)
			return
		}
		ids := make([]string, 0, len(expired))
		for _, c := range expired {
			ids = append(ids, c.ID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "dry_run": true, "days": days, "would_prune": ids})
		return
	}

	n, err := h.deps.Service.Prune(ctx, now, days)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("admin prune complete", slog.Int("deleted", n), slog.Int("days", days))
	if h.deps.DB != nil {
		if err := dbpkg.SetKV(ctx, h.deps.DB, kvLastAdminPrune, now.UTC().Format(time.RFC3339)); err != nil {
			logger.Warn("failed to record prune time", slog.Any("err", err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "dry_run": false, "days": days, "deleted": n})
}

// HandleAdminReconcile runs a provider-backed attempt for ?streamer=. A busy streamer or
// reconcile slot answers 409 with code busy; no VOD yet is a normal 200 with linked 0.
func (h *Handlers) HandleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	streamer := capture.CanonicalStreamer(r.URL.Query().Get("streamer"))
	if streamer == "" {
		http.Error(w, "streamer required", http.StatusBadRequest)
		return
	}
	if h.deps.Scheduler == nil {
		http.Error(w, "vod provider not configured", http.StatusServiceUnavailable)
		return
	}
	n, err := h.deps.Scheduler.Attempt(r.Context(), streamer)
	if err != nil && !errors.Is(err, capture.ErrNotAvailable) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"streamer": streamer,
		"linked":   n,
		"state":    h.deps.Scheduler.State(streamer).String(),
	})
}

// HandleAdminVODAvailable accepts a VOD-available notification. With Kafka configured it is
// published to the topic; otherwise it is dispatched in-process.
func (h *Handlers) HandleAdminVODAvailable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	m, err := events.Decode(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.deps.Events != nil {
		if err := h.deps.Events.Publish(r.Context(), m); err != nil {
			writeError(w, capture.Transient("publish vod event", err))
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "streamer": m.StreamerID})
		return
	}
	h.dispatcher().Handle(r.Context(), m)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "streamer": m.StreamerID})
}

// HandleAdminMonitor summarizes pending captures per streamer with their attempt state.
func (h *Handlers) HandleAdminMonitor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	pending, err := h.deps.Service.Pending(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	counts := map[string]int{}
	for _, c := range pending {
		counts[c.StreamerID]++
	}
	streamers := make([]string, 0, len(counts))
	for s := range counts {
		streamers = append(streamers, s)
	}
	sort.Strings(streamers)

	type streamerStatus struct {
		StreamerID string `json:"streamer_id"`
		Pending    int    `json:"pending"`
		State      string `json:"state"`
	}
	out := make([]streamerStatus, 0, len(streamers))
	for _, s := range streamers {
		state := reconcile.StateIdle
		if h.deps.Scheduler != nil {
			state = h.deps.Scheduler.State(s)
		}
		out = append(out, streamerStatus{StreamerID: s, Pending: counts[s], State: state.String()})
	}
	stats := map[string]any{
		"pending_total":  len(pending),
		"streamers":      out,
		"retention_days": h.deps.Policy.RetentionDays,
		"dry_run":        h.deps.Policy.DryRun,
	}
	if h.deps.DB != nil {
		last, err := dbpkg.GetKV(ctx, h.deps.DB, kvLastAdminPrune)
		if err != nil {
			slog.Warn("failed to read prune time", slog.Any("err", err))
		}
		if last != "" {
			stats[kvLastAdminPrune] = last
		}
	}
	writeJSON(w, http.StatusOK, stats)
}
