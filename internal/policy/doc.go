// Package policy models the security policy carried by a license and computes
// which parts of it changed between two loads.
//
// A Document is parsed from decrypted license XML. Every element whose local
// name ends in "Parameters" is a Fragment; fragments are identified by their
// namespace-qualified name and compared by deep content. Documents are never
// mutated after Parse.
//
// A Registry maps application ids to the ordered policy-type prefixes each
// application consumes. Diff classifies fragments as added, updated or
// removed, and Changes.Payloads expands that classification into one content
// payload per affected application:
//
//	changes := policy.Diff(previous, next)
//	for _, p := range changes.Payloads(registry, previous) {
//		// deliver p.Fragments to subscribers of p.ApplicationID
//	}
package policy
