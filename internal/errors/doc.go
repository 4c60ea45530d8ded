// Package errors renders failures as RFC 7807 problem documents and maps
// license rejections onto stable, machine-readable problem types.
package errors
