package license

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"policyhub/internal/infrastructure"
)

// Audit actions.
const (
	AuditAccepted = "accepted"
	AuditRejected = "rejected"
	AuditApplied  = "applied_from_disk"
)

// AuditEntry is one line of the license audit trail.
type AuditEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	TraceID      string    `json:"trace_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Added        []string  `json:"added,omitempty"`
	Updated      []string  `json:"updated,omitempty"`
	Removed      []string  `json:"removed,omitempty"`
	Applications []string  `json:"applications,omitempty"`
}

// AuditLog appends AuditEntry values as JSON lines. A nil *AuditLog
// discards entries.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

// NewAuditLog creates an audit log writing to path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Record appends entry, filling in the timestamp and trace id when unset.
func (a *AuditLog) Record(ctx context.Context, entry AuditEntry) error {
	if a == nil {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.TraceID == "" {
		entry.TraceID = infrastructure.GetTraceID(ctx)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return nil
}
