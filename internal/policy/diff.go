package policy

import (
	"strings"

	"github.com/google/uuid"
)

// RemovedMarker fills the slot of a policy type whose fragment was removed.
const RemovedMarker = "***Removed***"

// Action classifies a changed fragment.
type Action int

const (
	Added Action = iota
	Updated
	Removed
)

func (a Action) String() string {
	switch a {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Changes holds the fragments that differ between two documents.
type Changes struct {
	Added   []Fragment
	Updated []Fragment
	Removed []Fragment
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// byAction returns the fragments of one class.
func (c Changes) byAction(a Action) []Fragment {
	switch a {
	case Added:
		return c.Added
	case Updated:
		return c.Updated
	default:
		return c.Removed
	}
}

// Diff classifies the fragments of next against prev. Names decide identity
// and deep content decides equality. A nil prev makes every fragment added.
func Diff(prev, next *Document) Changes {
	var c Changes

	if next != nil {
		for _, f := range next.fragments {
			if prev == nil {
				c.Added = append(c.Added, f)
				continue
			}
			old, ok := prev.Get(f.name)
			switch {
			case !ok:
				c.Added = append(c.Added, f)
			case !old.Equal(f):
				c.Updated = append(c.Updated, f)
			}
		}
	}

	if prev != nil {
		for _, f := range prev.fragments {
			if next == nil {
				c.Removed = append(c.Removed, f)
				continue
			}
			if _, ok := next.Get(f.name); !ok {
				c.Removed = append(c.Removed, f)
			}
		}
	}

	return c
}

// Payload is the content notification computed for one application.
type Payload struct {
	ApplicationID uuid.UUID
	Fragments     []string
}

// Payloads expands the changes into per-application notifications, in
// registry order. Within one action class, an application whose policy types
// are only partly affected gets its unaffected slots backfilled from prev.
// Payloads of later classes are appended to earlier ones.
func (c Changes) Payloads(registry *Registry, prev *Document) []Payload {
	var (
		out   []Payload
		index = make(map[uuid.UUID]int)
	)

	for _, action := range []Action{Added, Updated, Removed} {
		changed := c.byAction(action)
		if len(changed) == 0 {
			continue
		}

		for _, entry := range registry.entries {
			slots := fillSlots(entry.PolicyTypes, changed, action, prev)
			if len(slots) == 0 {
				continue
			}

			if i, ok := index[entry.ApplicationID]; ok {
				out[i].Fragments = append(out[i].Fragments, slots...)
				continue
			}
			index[entry.ApplicationID] = len(out)
			out = append(out, Payload{ApplicationID: entry.ApplicationID, Fragments: slots})
		}
	}

	return out
}

// fillSlots returns the non-empty slots of one application for one action
// class, or nil when none of its policy types is affected.
func fillSlots(policyTypes []string, changed []Fragment, action Action, prev *Document) []string {
	slots := make([]string, len(policyTypes))
	affected := 0

	for i, policyType := range policyTypes {
		for _, f := range changed {
			if !strings.HasPrefix(f.name.Local, policyType) {
				continue
			}
			if action == Removed {
				slots[i] = RemovedMarker
			} else {
				slots[i] = f.content
			}
			affected++
			break
		}
	}

	if affected == 0 {
		return nil
	}

	if affected < len(slots) && prev != nil {
		for i, policyType := range policyTypes {
			if slots[i] != "" {
				continue
			}
			if f, ok := prev.Lookup(policyType); ok {
				slots[i] = f.content
			}
		}
	}

	out := make([]string, 0, len(slots))
	for _, s := range slots {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
