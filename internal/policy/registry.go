package policy

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"policyhub/internal/config"
)

// Entry binds an application to the ordered policy types it consumes.
type Entry struct {
	ApplicationID uuid.UUID
	PolicyTypes   []string
}

// Registry maps application ids to policy types. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	entries []Entry
	index   map[uuid.UUID]int
}

// NewRegistry builds a registry preserving the order of entries.
func NewRegistry(entries []Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[uuid.UUID]int, len(entries)),
	}

	for _, e := range entries {
		if e.ApplicationID == uuid.Nil {
			return nil, fmt.Errorf("application id must not be nil")
		}
		if slices.Contains(e.PolicyTypes, "") {
			return nil, fmt.Errorf("application %s has an empty policy type", e.ApplicationID)
		}
		if _, dup := r.index[e.ApplicationID]; dup {
			return nil, fmt.Errorf("duplicate application id %s", e.ApplicationID)
		}
		r.index[e.ApplicationID] = len(r.entries)
		r.entries = append(r.entries, Entry{
			ApplicationID: e.ApplicationID,
			PolicyTypes:   slices.Clone(e.PolicyTypes),
		})
	}

	return r, nil
}

// RegistryFromConfig converts the configured application list.
func RegistryFromConfig(apps []config.ApplicationConfig) (*Registry, error) {
	entries := make([]Entry, 0, len(apps))
	for _, app := range apps {
		id, err := uuid.Parse(app.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid application id %q: %w", app.ID, err)
		}
		entries = append(entries, Entry{ApplicationID: id, PolicyTypes: app.PolicyTypes})
	}
	return NewRegistry(entries)
}

// Lookup returns the policy types of id.
func (r *Registry) Lookup(id uuid.UUID) ([]string, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(r.entries[i].PolicyTypes), true
}

// Contains reports whether id is a known application.
func (r *Registry) Contains(id uuid.UUID) bool {
	_, ok := r.index[id]
	return ok
}

// Entries returns every entry in configuration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = Entry{ApplicationID: e.ApplicationID, PolicyTypes: slices.Clone(e.PolicyTypes)}
	}
	return out
}

// Len returns the number of applications.
func (r *Registry) Len() int { return len(r.entries) }
