// Package shared holds helpers used by more than one package.
//
// The testutil subpackage provides a capturing slog handler and license
// document fixtures for tests. It must not be imported by production code.
package shared
