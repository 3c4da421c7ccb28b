package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/clip-tender/capture"
	"github.com/onnwee/clip-tender/telemetry"
)

// AttemptState tracks where a streamer is in its reconcile cycle.
type AttemptState int

const (
	// StateIdle: pending captures may exist and no attempt is running.
	StateIdle AttemptState = iota
	// StateAttempting: a reconcile attempt for the streamer is in flight.
	StateAttempting
	// StateSettled: the last attempt left no pending captures.
	StateSettled
)

func (s AttemptState) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateSettled:
		return "settled"
	default:
		return "idle"
	}
}

// Scheduler drives reconciliation from notifications and a periodic sweep.
type Scheduler struct {
	svc      *Service
	provider Provider
	policy   Policy

	notify chan string

	mu     sync.Mutex
	states map[string]AttemptState
}

// NewScheduler wires svc to provider. A nil provider limits the scheduler to tracking pending
// counts; reconciliation then only happens through explicit Reconcile calls.
func NewScheduler(svc *Service, provider Provider, policy Policy) *Scheduler {
	sc := &Scheduler{
		svc:      svc,
		provider: provider,
		policy:   policy,
		notify:   make(chan string, 128),
		states:   make(map[string]AttemptState),
	}
	svc.OnPending(sc.Notify)
	return sc
}

// Notify asks for streamerID to be reconciled soon. It never blocks; when the queue is full
// the next sweep picks the streamer up.
func (sc *Scheduler) Notify(streamerID string) {
	streamerID = capture.CanonicalStreamer(streamerID)
	sc.mu.Lock()
	if sc.states[streamerID] == StateSettled {
		sc.states[streamerID] = StateIdle
	}
	sc.mu.Unlock()
	select {
	case sc.notify <- streamerID:
	default:
		slog.Debug("reconcile notification dropped, queue full", slog.String("streamer", streamerID))
	}
}

// State reports the attempt state of a streamer.
func (sc *Scheduler) State(streamerID string) AttemptState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.states[capture.CanonicalStreamer(streamerID)]
}

// Run sweeps on start, then on every notification and every ReconcileInterval until ctx ends.
func (sc *Scheduler) Run(ctx context.Context) {
	slog.Info("reconcile job starting",
		slog.Duration("interval", sc.policy.ReconcileInterval),
		slog.Bool("provider", sc.provider != nil))
	sc.Sweep(ctx)

	ticker := time.NewTicker(sc.policy.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconcile job stopped")
			return
		case streamer := <-sc.notify:
			_, _ = sc.Attempt(ctx, streamer)
		case <-ticker.C:
			sc.Sweep(ctx)
		}
	}
}

// Sweep attempts every streamer that still has pending captures.
func (sc *Scheduler) Sweep(ctx context.Context) {
	pending, err := sc.svc.Pending(ctx)
	if err != nil {
		slog.Warn("reconcile sweep: listing pending captures failed", slog.Any("err", err))
		return
	}
	telemetry.SetPending(len(pending))

	seen := make(map[string]bool)
	var streamers []string
	for _, c := range pending {
		if !seen[c.StreamerID] {
			seen[c.StreamerID] = true
			streamers = append(streamers, c.StreamerID)
		}
	}
	sort.Strings(streamers)
	for _, s := range streamers {
		if ctx.Err() != nil {
			return
		}
		_, _ = sc.Attempt(ctx, s)
	}
}

// Attempt reconciles one streamer through the provider unless an attempt is already running.
// It returns the number of captures linked and the pass error; ErrInProgress means the
// streamer or the reconcile slot was busy.
func (sc *Scheduler) Attempt(ctx context.Context, streamerID string) (int, error) {
	if sc.provider == nil {
		return 0, nil
	}
	streamerID = capture.CanonicalStreamer(streamerID)
	sc.mu.Lock()
	if sc.states[streamerID] == StateAttempting {
		sc.mu.Unlock()
		return 0, ErrInProgress
	}
	sc.states[streamerID] = StateAttempting
	sc.mu.Unlock()

	logger := slog.Default().With(slog.String("component", "reconcile_job"), slog.String("streamer", streamerID))
	n, err := sc.svc.ReconcileFromProvider(ctx, sc.provider, streamerID)
	next := StateIdle
	switch {
	case err == nil:
		if remaining, lerr := sc.pendingFor(ctx, streamerID); lerr == nil && remaining == 0 {
			next = StateSettled
		}
	case errors.Is(err, capture.ErrNotAvailable):
		logger.Debug("no vod available yet")
	case errors.Is(err, ErrInProgress):
		logger.Debug("reconcile busy, deferring")
	case capture.IsTransient(err):
		logger.Warn("vod lookup deferred to next pass", slog.Any("err", err))
	default:
		logger.Error("reconcile attempt failed", slog.Any("err", err))
	}

	sc.mu.Lock()
	sc.states[streamerID] = next
	sc.mu.Unlock()
	return n, err
}

func (sc *Scheduler) pendingFor(ctx context.Context, streamerID string) (int, error) {
	cs, err := sc.svc.ListByStreamer(ctx, streamerID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range cs {
		if c.Pending() {
			n++
		}
	}
	return n, nil
}

// StartPruneJob prunes on start and then every PruneInterval until ctx ends.
func StartPruneJob(ctx context.Context, svc *Service, policy Policy) {
	if policy.RetentionDays <= 0 {
		slog.Info("prune job disabled (RETENTION_DAYS=0)")
		return
	}
	slog.Info("prune job starting",
		slog.Int("retention_days", policy.RetentionDays),
		slog.Bool("dry_run", policy.DryRun),
		slog.Duration("interval", policy.PruneInterval))

	RunPrune(ctx, svc, policy)

	ticker := time.NewTicker(policy.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("prune job stopped")
			return
		case <-ticker.C:
			RunPrune(ctx, svc, policy)
		}
	}
}

// RunPrune performs one prune pass honoring DryRun and returns the captures it removed
// (or would remove).
func RunPrune(ctx context.Context, svc *Service, policy Policy) int {
	now := svc.now()
	if policy.DryRun {
		expired, err := svc.Expired(ctx, now, policy.RetentionDays)
		if err != nil {
			slog.Warn("prune dry run failed", slog.Any("err", err))
			return 0
		}
		for _, c := range expired {
			slog.Info("[DRY RUN] would prune capture",
				slog.String("id", c.ID),
				slog.String("streamer", c.StreamerID),
				slog.Time("recorded_at", c.RecordedAt))
		}
		return len(expired)
	}
	n, err := svc.Prune(ctx, now, policy.RetentionDays)
	if err != nil {
		if errors.Is(err, ErrInProgress) {
			slog.Debug("prune already running, skipping tick")
		} else {
			slog.Warn("prune failed", slog.Any("err", err))
		}
	}
	return n
}
