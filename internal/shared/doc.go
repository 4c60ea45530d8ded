// Package shared holds helpers used by more than one package. The testutil
// subpackage captures slog output so tests can assert on what was logged,
// and in particular on what was not: license tokens and secrets.
package shared
