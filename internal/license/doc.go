// Package license implements the security policy service: it accepts
// encrypted license uploads, keeps the current policy document, and turns
// each accepted license into per-application change notifications.
//
// # Load flow
//
//	1. Pick up a license placed on disk if no document is held yet
//	2. Decrypt, parse and check the brand marker; reject otherwise
//	3. Persist the raw blob (FileStore, atomic replace)
//	4. Diff against the held document and dispatch PolicyContentsChanged
//	   to every affected application
//	5. Swap the held document
//	6. Broadcast PolicyChanged when any application received contents
//
// Loads are serialized. Readers never block: the held document is swapped
// atomically and is immutable.
//
// # Disk changes
//
// A Watcher observes the license directory and calls Service.ApplyStored
// when the license file is replaced, running steps 2, 4, 5 and 6 without
// writing the file back.
//
// # Audit
//
// Accepted and rejected licenses are appended to a JSON-lines AuditLog.
package license
