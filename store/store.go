// Package store holds the persistence ports of the delivery service: the
// durable grant ledger (source of truth), the blob store, and the small KV
// used for the advisory access cache and preview records. Each port has a
// production implementation and an in-memory one for tests.
package store

import "errors"

var (
	// ErrNotFound means the addressed record does not exist (never created
	// or already removed).
	ErrNotFound = errors.New("store: not found")
	// ErrNoQuota means a conditional consume found the download cap already
	// reached.
	ErrNoQuota = errors.New("store: download quota exhausted")
	// ErrConflict means a conditional status update did not match the
	// expected current state.
	ErrConflict = errors.New("store: state conflict")
)
