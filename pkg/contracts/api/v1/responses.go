package api

import (
	"time"
)

// LoadLicenseResponse reports whether an uploaded license was accepted.
type LoadLicenseResponse struct {
	Accepted bool `json:"accepted"`
}

// PolicyResponse carries the serialized policy fragments of one application.
type PolicyResponse struct {
	ApplicationID string   `json:"application_id"`
	Policies      []string `json:"policies"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status      string       `json:"status"`
	Timestamp   time.Time    `json:"timestamp"`
	Policy      PolicyStatus `json:"policy"`
	Connections int          `json:"connections"`
	Subscribers int          `json:"subscribers"`
}

// PolicyStatus describes the held policy document.
type PolicyStatus struct {
	Loaded    bool       `json:"loaded"`
	Fragments int        `json:"fragments"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
