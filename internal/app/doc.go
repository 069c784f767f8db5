// Package app wires policyhub together and manages its lifecycle.
//
// NewApplication loads the configuration, initializes logging and
// OpenTelemetry, then builds the components bottom-up:
//
//	policy.Registry       application id to policy types
//	notify.Hub            per-subscriber delivery workers
//	security.Cipher       license decryption
//	license.Service       diffing and dispatch of policy changes
//	license.Watcher       reloads a license replaced on disk
//	websocket.Hub         subscriber connections
//
// Start launches the background services and the HTTP server; Stop shuts
// them down in reverse order so no subscriber registers while the delivery
// hub drains. Run blocks until SIGINT or SIGTERM.
//
// Initialization errors are returned to the caller. The package never calls
// os.Exit.
package app
