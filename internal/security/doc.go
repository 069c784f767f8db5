// Package security provides the passphrase-based cipher for license blobs
// (scrypt key derivation, AES-256-GCM, integrity hash over the envelope).
package security
