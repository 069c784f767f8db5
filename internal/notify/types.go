package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SubscriptionKind selects which notifications a subscriber receives.
type SubscriptionKind int

const (
	// NotifyOnlyChanges subscribers receive content-free PolicyChanged broadcasts.
	NotifyOnlyChanges SubscriptionKind = iota
	// ProvideChangesContents subscribers receive PolicyContentsChanged for their application.
	ProvideChangesContents
)

func (k SubscriptionKind) String() string {
	switch k {
	case NotifyOnlyChanges:
		return "NotifyOnlyChanges"
	case ProvideChangesContents:
		return "ProvideChangesContents"
	default:
		return fmt.Sprintf("SubscriptionKind(%d)", int(k))
	}
}

// ParseSubscriptionKind is the inverse of SubscriptionKind.String.
func ParseSubscriptionKind(s string) (SubscriptionKind, error) {
	switch s {
	case "NotifyOnlyChanges":
		return NotifyOnlyChanges, nil
	case "ProvideChangesContents":
		return ProvideChangesContents, nil
	default:
		return 0, fmt.Errorf("unknown subscription kind %q", s)
	}
}

// State is the connection state of a delivery worker.
type State int32

const (
	Alive State = iota
	Disconnected
	Dead
)

func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case Disconnected:
		return "disconnected"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Notification is either PolicyChanged or PolicyContentsChanged.
type Notification interface {
	Name() string
	notification()
}

// PolicyChanged tells broadcast subscribers that the policy changed.
type PolicyChanged struct{}

func (PolicyChanged) Name() string { return "policy_changed" }
func (PolicyChanged) notification() {}

// PolicyContentsChanged carries the changed fragments of one application.
type PolicyContentsChanged struct {
	ApplicationID uuid.UUID
	Payload       []string
}

func (PolicyContentsChanged) Name() string { return "policy_contents_changed" }
func (PolicyContentsChanged) notification() {}

// Callback is the subscriber side of the duplex channel. ID identifies the
// underlying transport connection; two callbacks with the same ID are the
// same subscriber.
//
// Implementations should wrap recoverable transport failures with Transient.
type Callback interface {
	ID() string
	OnPolicyChanged(ctx context.Context) error
	OnPolicyContentsChanged(ctx context.Context, payload []string) error
	CheckAvailability(ctx context.Context) error
}
