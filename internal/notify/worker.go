package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "policyhub/internal/errors"
)

// DefaultBackoff is the pause between a first transient failure and the retry.
const DefaultBackoff = 5 * time.Second

// ErrUnsupportedNotification is returned for a Notification the worker
// cannot deliver.
var ErrUnsupportedNotification = errors.New("unsupported notification")

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Backoff time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
	// OnFatal is called from the worker goroutine after a non-transient
	// delivery error ended the worker.
	OnFatal func(w *Worker, err error)
}

// Worker drains the private FIFO queue of one subscriber on its own goroutine.
//
// A transient failure moves an Alive worker to Disconnected and retries the
// same notification after the backoff. A second consecutive transient
// failure moves it to Dead and abandons the queue. Any other failure is fatal:
// the worker ends Dead and keeps the error.
type Worker struct {
	appID   uuid.UUID
	kind    SubscriptionKind
	cb      Callback
	backoff time.Duration
	logger  *slog.Logger
	metrics *Metrics
	onFatal func(*Worker, error)

	mu    sync.Mutex
	queue []Notification
	err   error

	state     atomic.Int32
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

// NewWorker creates a worker for cb. Call Start to begin delivering.
func NewWorker(appID uuid.UUID, kind SubscriptionKind, cb Callback, cfg WorkerConfig) *Worker {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Worker{
		appID:   appID,
		kind:    kind,
		cb:      cb,
		backoff: cfg.Backoff,
		logger: cfg.Logger.With(
			slog.String("subscriber", cb.ID()),
			slog.String("application_id", appID.String()),
			slog.String("subscription", kind.String()),
		),
		metrics: cfg.Metrics,
		onFatal: cfg.OnFatal,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ApplicationID returns the application the subscriber registered for.
func (w *Worker) ApplicationID() uuid.UUID { return w.appID }

// Kind returns the subscription kind.
func (w *Worker) Kind() SubscriptionKind { return w.kind }

// SubscriberID returns the transport connection id of the callback.
func (w *Worker) SubscriberID() string { return w.cb.ID() }

// State returns the current connection state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Err returns the fatal delivery error that ended the worker, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Pending returns the number of queued notifications.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// IsCurrentCallback reports whether cb is the callback this worker wraps.
func (w *Worker) IsCurrentCallback(cb Callback) bool {
	return cb != nil && cb.ID() == w.cb.ID()
}

// Start launches the worker goroutine. Subsequent calls do nothing.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run()
	})
}

// Enqueue appends n and wakes the worker. It never blocks. Items enqueued
// after the worker died are kept but never delivered.
func (w *Worker) Enqueue(n Notification) {
	w.mu.Lock()
	w.queue = append(w.queue, n)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop marks the worker Dead, interrupts any wait or backoff, and blocks until
// the goroutine has exited. It is safe to call more than once.
func (w *Worker) Stop() {
	w.state.Store(int32(Dead))
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) peek() (Notification, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil, false
	}
	return w.queue[0], true
}

func (w *Worker) pop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue[0] = nil
	w.queue = w.queue[1:]
}

func (w *Worker) transition(ctx context.Context, from, to State) bool {
	if !w.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	w.metrics.recordTransition(ctx, to)
	return true
}

func (w *Worker) run() {
	defer close(w.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		n, ok := w.peek()
		if !ok {
			select {
			case <-w.stop:
				return
			case <-w.wake:
				continue
			}
		}

		if w.State() == Dead {
			return
		}

		start := time.Now()
		err := w.deliver(ctx, n)

		switch {
		case err == nil:
			w.metrics.recordDelivery(ctx, n, "delivered", time.Since(start))
			w.pop()
			if w.transition(ctx, Disconnected, Alive) {
				w.logger.Info("subscriber reachable again")
			}

		case w.stopping():
			return

		case IsTransient(err):
			w.metrics.recordDelivery(ctx, n, "transient", time.Since(start))
			if !w.transition(ctx, Alive, Disconnected) {
				w.transition(ctx, Disconnected, Dead)
				w.logger.Warn("subscriber unreachable after retry, abandoning queue",
					slog.String("notification", n.Name()),
					slog.Int("dropped", w.Pending()),
					slog.String("error", err.Error()))
				return
			}

			w.logger.Warn("subscriber unreachable, retrying after backoff",
				slog.String("notification", n.Name()),
				slog.Duration("backoff", w.backoff),
				slog.String("error", err.Error()))

			timer := time.NewTimer(w.backoff)
			select {
			case <-w.stop:
				timer.Stop()
				return
			case <-timer.C:
			}

		default:
			w.metrics.recordDelivery(ctx, n, "fatal", time.Since(start))
			w.fail(ctx, n, err)
			return
		}
	}
}

func (w *Worker) fail(ctx context.Context, n Notification, err error) {
	err = apperrors.NewDeliveryError(fmt.Sprintf("deliver %s to %s", n.Name(), w.cb.ID()), err)

	w.mu.Lock()
	w.err = err
	w.mu.Unlock()

	prev := w.State()
	w.state.Store(int32(Dead))
	if prev != Dead {
		w.metrics.recordTransition(ctx, Dead)
	}

	w.logger.Error("fatal delivery error, worker stopped",
		slog.String("notification", n.Name()),
		slog.String("error", err.Error()))

	if w.onFatal != nil {
		w.onFatal(w, err)
	}
}

func (w *Worker) deliver(ctx context.Context, n Notification) error {
	switch n := n.(type) {
	case PolicyChanged:
		return w.cb.OnPolicyChanged(ctx)
	case PolicyContentsChanged:
		return w.cb.OnPolicyContentsChanged(ctx, n.Payload)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedNotification, n)
	}
}
