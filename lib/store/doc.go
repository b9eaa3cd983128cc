// Package store defines the data store a cache server operates on: a cache
// (ICache) made of named regions (IRegion) plus the transaction manager that
// request transactions are bound to.
//
// The package focuses on:
//   - A small interface that commands call without knowing the storage engine
//   - Unified error reporting through the Error type and its return codes
//
// Key Components:
//
//   - ICache: resolves regions by name and exposes the txn.IManager.
//
//   - IRegion: keyed operations (get, put, put-if-absent, delta, remove,
//     containsKey, size). Values are opaque encoded objects, the region only
//     decodes them to apply a delta.
//
//   - Error System: typed return codes (RetCode) so that callers can map store
//     failures onto protocol error codes without string matching.
//
// Implementations:
//
//	- Local Store (lstore): an in-memory, single-node implementation built on
//	  lock-free maps. Available in the "github.com/ValentinKolb/dGrid/lib/store/lstore" package.
//
// A conformance suite for implementations lives in
// "github.com/ValentinKolb/dGrid/lib/store/testing".
package store
