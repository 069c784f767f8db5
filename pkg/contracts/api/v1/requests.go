// Package api contains the request and response contracts of the policyhub
// API. Websocket request frames are validated against the same types.
package api

// RegisterRequest subscribes the connection to policy changes.
type RegisterRequest struct {
	ApplicationID    string `json:"application_id" validate:"required,uuid"`
	SubscriptionType string `json:"subscription_type" validate:"required,oneof=NotifyOnlyChanges ProvideChangesContents"`
}

// PolicyRequest asks for the current policy of one application.
type PolicyRequest struct {
	ApplicationID string `json:"application_id" validate:"required,uuid"`
}
