package http

import (
	"context"

	"github.com/google/uuid"

	"policyhub/internal/license"
)

// LicenseService is the part of *license.Service served over HTTP.
type LicenseService interface {
	LoadLicenseFile(ctx context.Context, blob []byte) (bool, error)
	GetSecurityPolicy(ctx context.Context, appID uuid.UUID) []string
	Status() license.Status
}

// Counter reports a current population, such as open connections or
// registered subscribers.
type Counter interface {
	Len() int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func() int

func (f CounterFunc) Len() int { return f() }
