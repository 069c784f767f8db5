package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	apperrors "policyhub/internal/errors"
	"policyhub/internal/infrastructure"
	"policyhub/internal/notify"
	"policyhub/internal/policy"
)

// Load sources.
const (
	SourceUpload = "upload"
	SourceDisk   = "disk"
)

// Decrypter opens an encrypted license blob.
type Decrypter interface {
	Decrypt(blob []byte) ([]byte, error)
}

// Notifier is the subscriber side the service dispatches to.
type Notifier interface {
	Register(ctx context.Context, appID uuid.UUID, kind notify.SubscriptionKind, cb notify.Callback) error
	Unregister(ctx context.Context, cb notify.Callback) bool
	Dispatch(ctx context.Context, n notify.Notification) (int, error)
}

// Config wires a Service.
type Config struct {
	Namespace string
	Brand     string
	Registry  *policy.Registry
	Decrypter Decrypter
	Store     Store
	Notifier  Notifier
	Audit     *AuditLog
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Status describes the held policy document.
type Status struct {
	Loaded    bool      `json:"loaded"`
	Fragments int       `json:"fragments"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Service holds the current security policy and turns license loads into
// subscriber notifications.
type Service struct {
	namespace string
	brand     string
	registry  *policy.Registry
	decrypter Decrypter
	store     Store
	notifier  Notifier
	audit     *AuditLog
	metrics   *Metrics
	logger    *slog.Logger

	// current is written only while loadMu is held.
	current   atomic.Pointer[policy.Document]
	updatedAt atomic.Int64
	loadMu    sync.Mutex
	reload    singleflight.Group
}

// NewService validates cfg and creates a service with no document held.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("license service: registry is required")
	case cfg.Decrypter == nil:
		return nil, errors.New("license service: decrypter is required")
	case cfg.Store == nil:
		return nil, errors.New("license service: store is required")
	case cfg.Notifier == nil:
		return nil, errors.New("license service: notifier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	return &Service{
		namespace: cfg.Namespace,
		brand:     cfg.Brand,
		registry:  cfg.Registry,
		decrypter: cfg.Decrypter,
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    infrastructure.WithComponent(logger, "license.service"),
	}, nil
}

// LoadLicenseFile validates blob and, when it is a genuine license, persists
// it, notifies subscribers of the differences and makes it current.
//
// An invalid blob returns false with a nil error and changes nothing. A
// non-nil error means the license was valid but could not be persisted or
// dispatched.
func (s *Service) LoadLicenseFile(ctx context.Context, blob []byte) (bool, error) {
	return traceLoad(ctx, SourceUpload, func(ctx context.Context) (bool, error) {
		s.loadMu.Lock()
		defer s.loadMu.Unlock()

		start := time.Now()
		s.loadStored(ctx)
		prev := s.current.Load()

		next, err := s.open(blob)
		if err != nil {
			s.reject(ctx, SourceUpload, err)
			s.metrics.recordLoad(ctx, SourceUpload, resultRejected, time.Since(start))
			return false, nil
		}

		if err := s.store.Save(ctx, blob); err != nil {
			s.metrics.recordLoad(ctx, SourceUpload, resultFailed, time.Since(start))
			s.logger.ErrorContext(ctx, "failed to persist license", slog.String("error", err.Error()))
			return false, apperrors.NewStorageError("persist license", err)
		}

		if err := s.apply(ctx, SourceUpload, prev, next); err != nil {
			s.metrics.recordLoad(ctx, SourceUpload, resultFailed, time.Since(start))
			return false, err
		}

		s.metrics.recordLoad(ctx, SourceUpload, resultAccepted, time.Since(start))
		return true, nil
	})
}

// ApplyStored validates the stored license file and applies it like an
// upload, without writing it back. It is used when the file was replaced
// on disk. It reports whether the file was applied.
func (s *Service) ApplyStored(ctx context.Context) (bool, error) {
	return traceLoad(ctx, SourceDisk, func(ctx context.Context) (bool, error) {
		s.loadMu.Lock()
		defer s.loadMu.Unlock()

		start := time.Now()
		blob, err := s.store.Load(ctx)
		if errors.Is(err, ErrNoStoredLicense) {
			return false, nil
		}
		if err != nil {
			s.metrics.recordLoad(ctx, SourceDisk, resultFailed, time.Since(start))
			return false, apperrors.NewStorageError("read stored license", err)
		}

		next, err := s.open(blob)
		if err != nil {
			s.reject(ctx, SourceDisk, err)
			s.metrics.recordLoad(ctx, SourceDisk, resultRejected, time.Since(start))
			return false, nil
		}

		if err := s.apply(ctx, SourceDisk, s.current.Load(), next); err != nil {
			s.metrics.recordLoad(ctx, SourceDisk, resultFailed, time.Since(start))
			return false, err
		}

		s.metrics.recordLoad(ctx, SourceDisk, resultAccepted, time.Since(start))
		return true, nil
	})
}

// GetSecurityPolicy returns the serialized fragments of the current document
// for the policy types of appID, in registry order. Absent fragments are
// skipped; an unknown application or no held document yields an empty list.
func (s *Service) GetSecurityPolicy(ctx context.Context, appID uuid.UUID) []string {
	s.ensureLoaded(ctx)

	policies := []string{}

	doc := s.current.Load()
	if doc == nil {
		return policies
	}

	types, ok := s.registry.Lookup(appID)
	if !ok {
		s.logger.DebugContext(ctx, "policy requested for unknown application",
			slog.String("application_id", appID.String()))
		return policies
	}

	for _, t := range types {
		frag, ok := doc.Lookup(t)
		if !ok || strings.TrimSpace(frag.String()) == "" {
			continue
		}
		policies = append(policies, frag.String())
	}
	return policies
}

// RegisterListener subscribes cb to changes of appID. It returns false when
// the application is unknown or registration failed.
func (s *Service) RegisterListener(ctx context.Context, appID uuid.UUID, kind notify.SubscriptionKind, cb notify.Callback) bool {
	err := s.notifier.Register(ctx, appID, kind, cb)
	switch {
	case err == nil:
		return true
	case errors.Is(err, notify.ErrUnknownApplication):
		s.logger.WarnContext(ctx, "registration for unknown application rejected",
			slog.String("application_id", appID.String()))
	default:
		s.logger.ErrorContext(ctx, "listener registration failed",
			slog.String("application_id", appID.String()),
			slog.String("error", err.Error()))
	}
	return false
}

// UnregisterListener removes cb. Unknown callbacks are ignored.
func (s *Service) UnregisterListener(ctx context.Context, cb notify.Callback) {
	if cb == nil {
		return
	}
	if !s.notifier.Unregister(ctx, cb) {
		s.logger.DebugContext(ctx, "unregister for unknown listener", slog.String("subscriber", cb.ID()))
	}
}

// Status reports whether a document is held.
func (s *Service) Status() Status {
	doc := s.current.Load()
	if doc == nil {
		return Status{}
	}
	st := Status{Loaded: true, Fragments: doc.Len()}
	if ts := s.updatedAt.Load(); ts != 0 {
		st.UpdatedAt = time.Unix(0, ts).UTC()
	}
	return st
}

// open decrypts, parses and brand-checks blob.
func (s *Service) open(blob []byte) (*policy.Document, error) {
	plain, err := s.decrypter.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	doc, err := policy.Parse(plain, s.namespace)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(s.brand); err != nil {
		return nil, err
	}
	return doc, nil
}

// ensureLoaded picks up a license that was placed on disk while no document
// was held. Concurrent callers share one read. While a load or apply is in
// progress the reader sees the held document as is; the load installs its
// own result.
func (s *Service) ensureLoaded(ctx context.Context) {
	if s.current.Load() != nil {
		return
	}

	_, _, _ = s.reload.Do("stored", func() (any, error) {
		if !s.loadMu.TryLock() {
			return nil, nil
		}
		defer s.loadMu.Unlock()
		s.loadStored(ctx)
		return nil, nil
	})
}

// loadStored installs the stored license when no document is held. Failures
// leave the service without a document. The caller holds loadMu.
func (s *Service) loadStored(ctx context.Context) {
	if s.current.Load() != nil {
		return
	}

	blob, err := s.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoStoredLicense) {
			s.logger.WarnContext(ctx, "stored license unreadable", slog.String("error", err.Error()))
		}
		return
	}

	plain, err := s.decrypter.Decrypt(blob)
	if err != nil {
		s.logger.WarnContext(ctx, "stored license could not be decrypted", slog.String("error", err.Error()))
		return
	}

	doc, err := policy.Parse(plain, s.namespace)
	if err != nil {
		s.logger.WarnContext(ctx, "stored license is not a valid document", slog.String("error", err.Error()))
		return
	}

	s.current.Store(doc)
	s.updatedAt.Store(time.Now().UnixNano())
	s.logger.InfoContext(ctx, "stored license loaded", slog.Int("fragments", doc.Len()))
}

// apply dispatches the differences between prev and next, then makes next
// current. prev is the document held when the caller took loadMu. The
// PolicyChanged broadcast follows the swap and is sent only when some
// application received contents.
func (s *Service) apply(ctx context.Context, source string, prev, next *policy.Document) error {
	changes := policy.Diff(prev, next)
	payloads := changes.Payloads(s.registry, prev)

	targets := 0
	apps := make([]string, 0, len(payloads))
	for _, p := range payloads {
		n, err := s.notifier.Dispatch(ctx, notify.PolicyContentsChanged{
			ApplicationID: p.ApplicationID,
			Payload:       p.Fragments,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "content dispatch failed",
				slog.String("application_id", p.ApplicationID.String()),
				slog.String("error", err.Error()))
			return err
		}
		targets += n
		apps = append(apps, p.ApplicationID.String())
	}

	s.current.Store(next)
	s.updatedAt.Store(time.Now().UnixNano())

	if len(payloads) > 0 {
		n, err := s.notifier.Dispatch(ctx, notify.PolicyChanged{})
		if err != nil {
			return err
		}
		targets += n
	}

	s.metrics.recordApplied(ctx, next, len(payloads))
	s.logger.InfoContext(ctx, "license applied",
		slog.String("source", source),
		slog.Int("added", len(changes.Added)),
		slog.Int("updated", len(changes.Updated)),
		slog.Int("removed", len(changes.Removed)),
		slog.Int("payloads", len(payloads)),
		slog.Int("targets", targets))

	if source == SourceUpload || !changes.Empty() {
		action := AuditAccepted
		if source == SourceDisk {
			action = AuditApplied
		}
		s.recordAudit(ctx, AuditEntry{
			Action:       action,
			Added:        fragmentNames(changes.Added),
			Updated:      fragmentNames(changes.Updated),
			Removed:      fragmentNames(changes.Removed),
			Applications: apps,
		})
	}
	return nil
}

func (s *Service) reject(ctx context.Context, source string, err error) {
	reason := rejectReason(err)
	s.logger.WarnContext(ctx, "license rejected",
		slog.String("source", source),
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	s.recordAudit(ctx, AuditEntry{Action: AuditRejected, Reason: fmt.Sprintf("%s: %s", source, reason)})
}

func (s *Service) recordAudit(ctx context.Context, entry AuditEntry) {
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to write license audit", slog.String("error", err.Error()))
	}
}

func fragmentNames(frags []policy.Fragment) []string {
	if len(frags) == 0 {
		return nil
	}
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.Name().Local
	}
	return out
}
