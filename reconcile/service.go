// Package reconcile owns every mutation of stored captures: linking pending live captures to
// their VOD, pruning aged captures, and the user-facing create/update/cancel paths. Each write
// is a compare-and-set against the store; a lost race is retried once with a fresh read and
// then skipped so one capture never aborts a whole pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/clip-tender/capture"
	"github.com/onnwee/clip-tender/telemetry"
)

// ErrInProgress is returned when a reconcile or prune pass is already running.
var ErrInProgress = errors.New("operation already in progress")

// errStale marks a capture that no longer needs the write after a fresh read.
var errStale = errors.New("capture no longer eligible")

// Store is the capture persistence contract. Put inserts when Version is 0 and otherwise
// writes only if the stored version equals c.Version, returning the stored copy. Delete with
// a non-zero version is conditional the same way.
type Store interface {
	List(ctx context.Context) ([]capture.Capture, error)
	Get(ctx context.Context, id string) (capture.Capture, error)
	Put(ctx context.Context, c capture.Capture) (capture.Capture, error)
	Delete(ctx context.Context, id string, version int64) error
}

// Provider looks up the most recent VOD for a streamer. It returns capture.ErrNotAvailable
// when none exists yet and a capture.TransientError when the lookup could not be made.
type Provider interface {
	LookupVOD(ctx context.Context, streamerID string) (capture.VOD, error)
}

// CatalogProvider additionally lists recent VODs for multi-VOD reconciliation.
type CatalogProvider interface {
	Provider
	ListVODs(ctx context.Context, streamerID string) ([]capture.VOD, error)
}

// Service coordinates the store with the pure capture rules.
type Service struct {
	store Store
	now   func() time.Time
	newID func() string

	reconcileSlot chan struct{}
	pruneSlot     chan struct{}

	onPending func(streamerID string)
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs overrides capture id generation.
func WithIDs(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService returns a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		now:           time.Now,
		newID:         uuid.NewString,
		reconcileSlot: make(chan struct{}, 1),
		pruneSlot:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnPending registers fn to be told when a streamer gains a pending live capture.
func (s *Service) OnPending(fn func(streamerID string)) { s.onPending = fn }

func tryAcquire(slot chan struct{}) bool {
	select {
	case slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func release(slot chan struct{}) {
	select {
	case <-slot:
	default:
		slog.Warn("in-flight slot released without acquire", slog.String("component", "reconcile"))
	}
}

// List returns every stored capture.
func (s *Service) List(ctx context.Context) ([]capture.Capture, error) {
	return s.store.List(ctx)
}

// ListByStreamer returns the captures of one streamer.
func (s *Service) ListByStreamer(ctx context.Context, streamerID string) ([]capture.Capture, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	id := capture.CanonicalStreamer(streamerID)
	out := make([]capture.Capture, 0)
	for _, c := range all {
		if c.StreamerID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

// Get returns one capture.
func (s *Service) Get(ctx context.Context, id string) (capture.Capture, error) {
	return s.store.Get(ctx, id)
}

// Pending returns the live captures still awaiting a VOD, across all streamers.
func (s *Service) Pending(ctx context.Context) ([]capture.Capture, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]capture.Capture, 0)
	for _, c := range all {
		if c.Pending() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Create validates n and stores it as a new capture.
func (s *Service) Create(ctx context.Context, n capture.NewCapture) (capture.Capture, error) {
	c, err := n.Build(s.newID(), s.now())
	if err != nil {
		return capture.Capture{}, err
	}
	stored, err := s.store.Put(ctx, c)
	if err != nil {
		return capture.Capture{}, err
	}
	telemetry.AddCounter(telemetry.CapturesCreated, 1)
	telemetry.LoggerWithCorr(ctx).Info("capture created",
		slog.String("component", "reconcile"),
		slog.String("id", stored.ID),
		slog.String("streamer", stored.StreamerID),
		slog.String("source", string(stored.SourceType)))
	if stored.Pending() && s.onPending != nil {
		s.onPending(stored.StreamerID)
	}
	return stored, nil
}

// Reconcile links every pending live capture of streamerID that matches vod and returns how
// many were linked. Captures already linked are never touched, so a repeat call links zero.
func (s *Service) Reconcile(ctx context.Context, streamerID string, vod capture.VOD) (int, error) {
	streamerID = capture.CanonicalStreamer(streamerID)
	if vod.StreamerID == "" {
		vod.StreamerID = streamerID
	}
	vod.StreamerID = capture.CanonicalStreamer(vod.StreamerID)
	return s.reconcile(ctx, streamerID, attribute.String("vod_id", vod.ID), func(cs []capture.Capture) []capture.Link {
		return capture.LinkAll(cs, vod)
	})
}

// ReconcileCatalog links pending captures against the best of several VODs.
func (s *Service) ReconcileCatalog(ctx context.Context, streamerID string, vods []capture.VOD) (int, error) {
	streamerID = capture.CanonicalStreamer(streamerID)
	normalized := make([]capture.VOD, len(vods))
	for i, v := range vods {
		if v.StreamerID == "" {
			v.StreamerID = streamerID
		}
		v.StreamerID = capture.CanonicalStreamer(v.StreamerID)
		normalized[i] = v
	}
	return s.reconcile(ctx, streamerID, attribute.Int("vod_count", len(vods)), func(cs []capture.Capture) []capture.Link {
		return capture.LinkCatalog(cs, normalized)
	})
}

func (s *Service) reconcile(ctx context.Context, streamerID string, attr attribute.KeyValue, link func([]capture.Capture) []capture.Link) (linked int, err error) {
	if !tryAcquire(s.reconcileSlot) {
		telemetry.IncVec(telemetry.ReconcilePasses, "busy")
		return 0, ErrInProgress
	}
	defer release(s.reconcileSlot)

	ctx, span := telemetry.StartSpan(ctx, "reconcile", attribute.String("streamer", streamerID), attr)
	defer func() {
		span.SetAttributes(attribute.Int("linked", linked))
		telemetry.EndSpan(span, err)
	}()
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "reconcile"),
		slog.String("streamer", streamerID))

	start := time.Now()
	defer func() {
		if telemetry.ReconcileDuration != nil {
			telemetry.ReconcileDuration.Observe(time.Since(start).Seconds())
		}
	}()

	all, err := s.store.List(ctx)
	if err != nil {
		telemetry.IncVec(telemetry.ReconcilePasses, "error")
		return 0, fmt.Errorf("reconcile %s: %w", streamerID, err)
	}
	pending := make([]capture.Capture, 0)
	for _, c := range all {
		if c.StreamerID == streamerID && c.Pending() {
			pending = append(pending, c)
		}
	}

	skipped := 0
	for _, l := range link(pending) {
		if ctx.Err() != nil {
			telemetry.IncVec(telemetry.ReconcilePasses, "canceled")
			return linked, ctx.Err()
		}
		switch err := s.applyLink(ctx, l, link); {
		case err == nil:
			linked++
		case errors.Is(err, errStale), errors.Is(err, capture.ErrNotFound):
			logger.Debug("capture changed before link, skipping", slog.String("id", l.Capture.ID), slog.Any("err", err))
		default:
			skipped++
			telemetry.IncVec(telemetry.CapturesSkipped, "reconcile")
			logger.Warn("capture link skipped until next pass", slog.String("id", l.Capture.ID), slog.Any("err", err))
		}
	}

	telemetry.AddCounter(telemetry.CapturesLinked, linked)
	telemetry.IncVec(telemetry.ReconcilePasses, "ok")
	logger.Info("reconcile pass complete",
		slog.Int("pending", len(pending)),
		slog.Int("linked", linked),
		slog.Int("skipped", skipped))
	return linked, nil
}

// applyLink writes one link, retrying once against a fresh read when the write loses a race.
func (s *Service) applyLink(ctx context.Context, l capture.Link, link func([]capture.Capture) []capture.Link) error {
	_, err := s.store.Put(ctx, l.Capture.WithLink(l.VODID, l.Offset))
	if !errors.Is(err, capture.ErrConflict) {
		return err
	}
	telemetry.IncVec(telemetry.CaptureConflicts, "reconcile")

	fresh, err := s.store.Get(ctx, l.Capture.ID)
	if err != nil {
		return err
	}
	if !fresh.Pending() {
		return errStale
	}
	relinked := link([]capture.Capture{fresh})
	if len(relinked) == 0 {
		return errStale
	}
	_, err = s.store.Put(ctx, fresh.WithLink(relinked[0].VODID, relinked[0].Offset))
	return err
}

// Prune deletes every capture older than thresholdDays at now and returns the count deleted.
func (s *Service) Prune(ctx context.Context, now time.Time, thresholdDays int) (deleted int, err error) {
	if !tryAcquire(s.pruneSlot) {
		telemetry.IncVec(telemetry.PrunePasses, "busy")
		return 0, ErrInProgress
	}
	defer release(s.pruneSlot)

	ctx, span := telemetry.StartSpan(ctx, "prune", attribute.Int("threshold_days", thresholdDays))
	defer func() {
		span.SetAttributes(attribute.Int("deleted", deleted))
		telemetry.EndSpan(span, err)
	}()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "prune"))

	start := time.Now()
	defer func() {
		if telemetry.PruneDuration != nil {
			telemetry.PruneDuration.Observe(time.Since(start).Seconds())
		}
	}()

	expired, err := s.Expired(ctx, now, thresholdDays)
	if err != nil {
		telemetry.IncVec(telemetry.PrunePasses, "error")
		return 0, fmt.Errorf("prune: %w", err)
	}

	skipped := 0
	for _, c := range expired {
		if ctx.Err() != nil {
			telemetry.IncVec(telemetry.PrunePasses, "canceled")
			return deleted, ctx.Err()
		}
		switch err := s.purge(ctx, c, now, thresholdDays); {
		case err == nil:
			deleted++
		case errors.Is(err, capture.ErrNotFound), errors.Is(err, errStale):
		default:
			skipped++
			telemetry.IncVec(telemetry.CapturesSkipped, "prune")
			logger.Warn("capture purge skipped until next pass", slog.String("id", c.ID), slog.Any("err", err))
		}
	}

	telemetry.AddCounter(telemetry.CapturesPruned, deleted)
	telemetry.IncVec(telemetry.PrunePasses, "ok")
	logger.Info("prune pass complete",
		slog.Int("expired", len(expired)),
		slog.Int("deleted", deleted),
		slog.Int("skipped", skipped))
	return deleted, nil
}

// Expired lists the captures Prune would delete, without deleting anything.
func (s *Service) Expired(ctx context.Context, now time.Time, thresholdDays int) ([]capture.Capture, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]capture.Capture, 0)
	for _, c := range all {
		if capture.ShouldPurge(c, now, thresholdDays) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) purge(ctx context.Context, c capture.Capture, now time.Time, thresholdDays int) error {
	err := s.store.Delete(ctx, c.ID, c.Version)
	if !errors.Is(err, capture.ErrConflict) {
		return err
	}
	telemetry.IncVec(telemetry.CaptureConflicts, "prune")

	fresh, err := s.store.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	if !capture.ShouldPurge(fresh, now, thresholdDays) {
		return errStale
	}
	return s.store.Delete(ctx, fresh.ID, fresh.Version)
}

// CancelPending deletes a capture that has not been linked yet. It fails with
// capture.ErrNotFound for an unknown id and capture.ErrAlreadyLinked for a linked capture.
func (s *Service) CancelPending(ctx context.Context, id string) error {
	for attempt := 0; ; attempt++ {
		c, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if c.Linked() {
			return capture.ErrAlreadyLinked
		}
		err = s.store.Delete(ctx, id, c.Version)
		if err == nil {
			telemetry.AddCounter(telemetry.CapturesCanceled, 1)
			return nil
		}
		if !errors.Is(err, capture.ErrConflict) || attempt > 0 {
			return err
		}
		telemetry.IncVec(telemetry.CaptureConflicts, "cancel")
	}
}

// Delete removes a capture in any state.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id, 0)
}

// UpdateMemo replaces the memo of a capture.
func (s *Service) UpdateMemo(ctx context.Context, id, memo string) (capture.Capture, error) {
	return s.update(ctx, "memo", id, func(c *capture.Capture) {
		c.Memo = memo
	})
}

// MarkCompleted sets or clears the completion time of a capture.
func (s *Service) MarkCompleted(ctx context.Context, id string, done bool) (capture.Capture, error) {
	return s.update(ctx, "complete", id, func(c *capture.Capture) {
		if !done {
			c.CompletedAt = nil
			return
		}
		if c.CompletedAt == nil {
			t := s.now().UTC()
			c.CompletedAt = &t
		}
	})
}

func (s *Service) update(ctx context.Context, op, id string, mutate func(*capture.Capture)) (capture.Capture, error) {
	for attempt := 0; ; attempt++ {
		c, err := s.store.Get(ctx, id)
		if err != nil {
			return capture.Capture{}, err
		}
		next := c.Clone()
		mutate(&next)
		stored, err := s.store.Put(ctx, next)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, capture.ErrConflict) || attempt > 0 {
			return capture.Capture{}, err
		}
		telemetry.IncVec(telemetry.CaptureConflicts, op)
	}
}

// ReconcileFromProvider looks up the latest VOD for streamerID and reconciles against it.
// With a CatalogProvider all recent VODs are considered.
func (s *Service) ReconcileFromProvider(ctx context.Context, p Provider, streamerID string) (int, error) {
	if cp, ok := p.(CatalogProvider); ok {
		vods, err := cp.ListVODs(ctx, streamerID)
		if err != nil {
			return 0, err
		}
		if len(vods) == 0 {
			return 0, capture.ErrNotAvailable
		}
		return s.ReconcileCatalog(ctx, streamerID, vods)
	}
	vod, err := p.LookupVOD(ctx, streamerID)
	if err != nil {
		return 0, err
	}
	return s.Reconcile(ctx, streamerID, vod)
}
