package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "policyhub/internal/errors"
	"policyhub/internal/infrastructure"
)

var (
	// ErrUnknownApplication rejects registration for an application absent from the registry.
	ErrUnknownApplication = errors.New("unknown application")
	// ErrInvalidDispatch signals malformed targeting parameters. It is a
	// programming error and is never retried.
	ErrInvalidDispatch = errors.New("invalid dispatch")
	// ErrHubClosed is returned by Register after Close.
	ErrHubClosed = errors.New("hub closed")
)

// ApplicationSet reports whether an application id is known.
type ApplicationSet interface {
	Contains(id uuid.UUID) bool
}

// SubscriberInfo describes one registered worker.
type SubscriberInfo struct {
	ID            string           `json:"id"`
	ApplicationID uuid.UUID        `json:"application_id"`
	Kind          SubscriptionKind `json:"-"`
	KindName      string           `json:"subscription_type"`
	State         string           `json:"state"`
	Pending       int              `json:"pending"`
}

// HubConfig configures a Hub.
type HubConfig struct {
	Backoff time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
}

// Hub owns every delivery worker. Register, Unregister, Dispatch and
// EvictDead serialize on one mutex.
type Hub struct {
	apps    ApplicationSet
	backoff time.Duration
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	workers []*Worker
	closed  bool
}

// NewHub creates a hub accepting subscribers for the applications in apps.
func NewHub(apps ApplicationSet, cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	return &Hub{
		apps:    apps,
		backoff: backoff,
		logger:  logger.With(slog.String("component", "notify.hub")),
		metrics: cfg.Metrics,
	}
}

// Register starts a worker for cb unless one already wraps the same callback.
// It returns ErrUnknownApplication when appID is not registered.
func (h *Hub) Register(ctx context.Context, appID uuid.UUID, kind SubscriptionKind, cb Callback) error {
	if cb == nil {
		return apperrors.NewInternalAppError("register", fmt.Errorf("%w: nil callback", ErrInvalidDispatch))
	}
	if !h.apps.Contains(appID) {
		return fmt.Errorf("%w: %s", ErrUnknownApplication, appID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	for _, w := range h.workers {
		if w.IsCurrentCallback(cb) {
			h.logger.DebugContext(ctx, "subscriber already registered",
				slog.String("subscriber", cb.ID()))
			return nil
		}
	}

	w := NewWorker(appID, kind, cb, WorkerConfig{
		Backoff: h.backoff,
		Logger:  h.logger,
		Metrics: h.metrics,
		OnFatal: h.reportFatal,
	})
	w.Start()
	h.workers = append(h.workers, w)
	h.metrics.recordWorkers(ctx, 1)

	h.logger.InfoContext(ctx, "subscriber registered",
		slog.String("subscriber", cb.ID()),
		slog.String("application_id", appID.String()),
		slog.String("subscription", kind.String()),
		slog.Int("subscribers", len(h.workers)))

	return nil
}

// Unregister stops and removes the worker wrapping cb. It reports whether one was found.
func (h *Hub) Unregister(ctx context.Context, cb Callback) bool {
	if cb == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, w := range h.workers {
		if !w.IsCurrentCallback(cb) {
			continue
		}
		w.Stop()
		h.workers = append(h.workers[:i], h.workers[i+1:]...)
		h.metrics.recordWorkers(ctx, -1)

		h.logger.InfoContext(ctx, "subscriber unregistered",
			slog.String("subscriber", cb.ID()),
			slog.Int("subscribers", len(h.workers)))
		return true
	}
	return false
}

// EvictDead stops and removes every Dead worker and returns how many were removed.
func (h *Hub) EvictDead(ctx context.Context) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evictDeadLocked(ctx)
}

func (h *Hub) evictDeadLocked(ctx context.Context) int {
	kept := h.workers[:0]
	evicted := 0

	for _, w := range h.workers {
		if w.State() != Dead {
			kept = append(kept, w)
			continue
		}
		w.Stop()
		evicted++

		attrs := []any{
			slog.String("subscriber", w.SubscriberID()),
			slog.String("application_id", w.ApplicationID().String()),
		}
		if err := w.Err(); err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		h.logger.InfoContext(ctx, "evicted dead subscriber", attrs...)
	}

	for i := len(kept); i < len(h.workers); i++ {
		h.workers[i] = nil
	}
	h.workers = kept

	if evicted > 0 {
		h.metrics.recordWorkers(ctx, -int64(evicted))
		h.metrics.recordEvictions(ctx, evicted)
	}
	return evicted
}

// Dispatch evicts dead workers, then enqueues n on every matching worker:
// PolicyChanged goes to NotifyOnlyChanges subscribers, PolicyContentsChanged
// to ProvideChangesContents subscribers of its application. It returns the
// number of workers targeted. A malformed notification aborts the call with
// an internal error wrapping ErrInvalidDispatch.
func (h *Hub) Dispatch(ctx context.Context, n Notification) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.evictDeadLocked(ctx)

	var match func(*Worker) bool
	switch n := n.(type) {
	case PolicyChanged:
		match = func(w *Worker) bool { return w.Kind() == NotifyOnlyChanges }
	case PolicyContentsChanged:
		if n.ApplicationID == uuid.Nil || n.Payload == nil {
			return 0, apperrors.NewInternalAppError("dispatch policy contents",
				fmt.Errorf("%w: application %s, payload nil=%t", ErrInvalidDispatch, n.ApplicationID, n.Payload == nil))
		}
		match = func(w *Worker) bool {
			return w.Kind() == ProvideChangesContents && w.ApplicationID() == n.ApplicationID
		}
	default:
		return 0, apperrors.NewInternalAppError("dispatch",
			fmt.Errorf("%w: unsupported notification %T", ErrInvalidDispatch, n))
	}

	targets := 0
	for _, w := range h.workers {
		if match(w) {
			w.Enqueue(n)
			targets++
		}
	}

	h.metrics.recordDispatch(ctx, n, targets)
	h.logger.DebugContext(ctx, "notification dispatched",
		slog.String("notification", n.Name()),
		slog.Int("targets", targets))

	return targets, nil
}

// Len returns the number of registered workers, dead ones included.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.workers)
}

// Snapshot describes every registered worker.
func (h *Hub) Snapshot() []SubscriberInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]SubscriberInfo, 0, len(h.workers))
	for _, w := range h.workers {
		out = append(out, SubscriberInfo{
			ID:            w.SubscriberID(),
			ApplicationID: w.ApplicationID(),
			Kind:          w.Kind(),
			KindName:      w.Kind().String(),
			State:         w.State().String(),
			Pending:       w.Pending(),
		})
	}
	return out
}

// Close stops every worker concurrently and rejects later registrations.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	workers := h.workers
	h.workers = nil
	h.closed = true
	h.mu.Unlock()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			w.Stop()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.metrics.recordWorkers(ctx, -int64(len(workers)))
		h.logger.InfoContext(ctx, "hub closed", slog.Int("stopped", len(workers)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) reportFatal(w *Worker, err error) {
	h.logger.Error("subscriber failed permanently, pending eviction",
		slog.String("subscriber", w.SubscriberID()),
		slog.String("error", err.Error()))
}
