// Package lstore implements a local, in-memory, single-node cache based on
// the store.ICache and store.IRegion interfaces. Data is stored entirely in
// memory and is not persisted between process restarts.
//
// Key Features:
//   - Named regions, each backed by a lock-free xsync.MapOf
//   - Atomic read-modify-write for put, put-if-absent and delta application
//   - Pluggable delta merge function (DefaultDelta merges maps, concatenates
//     strings and lists, adds numbers)
//   - Synchronous listeners that observe every change together with the
//     callback argument and the transaction it was made in
//
// Implementation Details:
//
//   - Keys: string and integer keys are canonicalized into a comparable
//     struct, so 1 (int), int32(1) and int64(1) address the same entry while
//     "1" addresses another one.
//
//   - Values: values are opaque encoded objects and are copied on write and
//     on read. Only ApplyDelta decodes them (see objcodec).
//
//   - Transactions: the cache owns a txn.Manager by default. Region methods
//     read the bound transaction from the context and attach it to the
//     emitted events.
//
// Usage Example:
//
//	cache := lstore.NewCache()
//	region, _ := cache.CreateRegion("customers")
//
//	old, err := region.Put(ctx, "id-1", encodedValue, nil)
//	value, found, err := region.Get(ctx, "id-1", nil)
package lstore
