package lstore

import (
	"bytes"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/lib/txn"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Cache
// --------------------------------------------------------------------------

// Cache is a local, in-memory implementation of store.ICache
type Cache struct {
	regions   *xsync.MapOf[string, *regionImpl]
	txManager txn.IManager
	delta     DeltaFunc

	mu        sync.RWMutex
	listeners []Listener
}

// Option configures a Cache
type Option func(*Cache)

// WithTxManager replaces the default transaction manager
func WithTxManager(m txn.IManager) Option {
	return func(c *Cache) { c.txManager = m }
}

// WithDelta replaces the function used to apply deltas
func WithDelta(fn DeltaFunc) Option {
	return func(c *Cache) { c.delta = fn }
}

// WithListener registers a listener that receives the events of all regions
func WithListener(l Listener) Option {
	return func(c *Cache) { c.listeners = append(c.listeners, l) }
}

// NewCache creates a new local cache without regions.
// This store implementation is not distributed and only works on a single node.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		regions:   xsync.NewMapOf[string, *regionImpl](),
		txManager: txn.NewManager(),
		delta:     DefaultDelta,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRegion creates a new, empty region
func (c *Cache) CreateRegion(name string) (store.IRegion, error) {
	if name == "" {
		return nil, store.NewError(store.RetCInvalidOperation, "region name must not be empty")
	}
	r := &regionImpl{
		name:    name,
		cache:   c,
		entries: xsync.NewMapOf[entryKey, []byte](),
	}
	if _, loaded := c.regions.LoadOrStore(name, r); loaded {
		return nil, store.NewError(store.RetCInvalidOperation, "region %q already exists", name)
	}
	Logger.Infof("created region %q", name)
	return r, nil
}

// DestroyRegion removes a region and all its entries. It returns whether the region existed.
func (c *Cache) DestroyRegion(name string) bool {
	_, ok := c.regions.LoadAndDelete(name)
	if ok {
		Logger.Infof("destroyed region %q", name)
	}
	return ok
}

// RegionNames returns the names of all regions in sorted order
func (c *Cache) RegionNames() []string {
	names := make([]string, 0, c.regions.Size())
	c.regions.Range(func(name string, _ *regionImpl) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// AddListener registers a listener for the events of all regions
func (c *Cache) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Cache) notify(ev Event) {
	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (c *Cache) Region(name string) (store.IRegion, bool) {
	r, ok := c.regions.Load(name)
	if !ok {
		return nil, false
	}
	return r, true
}

func (c *Cache) TxManager() txn.IManager {
	return c.txManager
}

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

// entryKey is the canonical form of a string or integer key
type entryKey struct {
	str   string
	num   int64
	isNum bool
}

func toEntryKey(key any) (entryKey, error) {
	switch k := key.(type) {
	case string:
		return entryKey{str: k}, nil
	case int64:
		return entryKey{num: k, isNum: true}, nil
	case int:
		return entryKey{num: int64(k), isNum: true}, nil
	case int32:
		return entryKey{num: int64(k), isNum: true}, nil
	case uint64:
		if k > math.MaxInt64 {
			return entryKey{}, store.NewError(store.RetCInvalidKey, "integer key %d out of range", k)
		}
		return entryKey{num: int64(k), isNum: true}, nil
	default:
		return entryKey{}, store.NewError(store.RetCInvalidKey, "key of type %T is neither a string nor an integer", key)
	}
}

func (k entryKey) value() any {
	if k.isNum {
		return k.num
	}
	return k.str
}

// --------------------------------------------------------------------------
// Region
// --------------------------------------------------------------------------

type regionImpl struct {
	name    string
	cache   *Cache
	entries *xsync.MapOf[entryKey, []byte]
}

func (r *regionImpl) emit(ctx context.Context, op EventOp, k entryKey, oldValue, newValue, callbackArg []byte) {
	tx, _ := txn.FromContext(ctx)
	r.cache.notify(Event{
		Op:          op,
		Region:      r.name,
		Key:         k.value(),
		OldValue:    oldValue,
		NewValue:    newValue,
		CallbackArg: callbackArg,
		Tx:          tx,
	})
}

// prepare checks the context and canonicalizes the key
func prepare(ctx context.Context, key any) (entryKey, error) {
	if err := ctx.Err(); err != nil {
		return entryKey{}, store.NewError(store.RetCInternalError, "operation cancelled: %v", err)
	}
	return toEntryKey(key)
}

func (r *regionImpl) Name() string {
	return r.name
}

func (r *regionImpl) Get(ctx context.Context, key any, callbackArg []byte) ([]byte, bool, error) {
	k, err := prepare(ctx, key)
	if err != nil {
		return nil, false, err
	}
	value, found := r.entries.Load(k)
	return bytes.Clone(value), found, nil
}

func (r *regionImpl) Put(ctx context.Context, key any, value []byte, callbackArg []byte) ([]byte, error) {
	k, err := prepare(ctx, key)
	if err != nil {
		return nil, err
	}
	value = bytes.Clone(value)

	// a nil value is no value, the entry is removed
	var prev []byte
	var existed bool
	r.entries.Compute(k, func(old []byte, loaded bool) ([]byte, bool) {
		prev, existed = old, loaded
		return value, value == nil
	})

	switch {
	case value == nil && existed:
		r.emit(ctx, EventDestroy, k, prev, nil, callbackArg)
	case value == nil:
	case existed:
		r.emit(ctx, EventUpdate, k, prev, value, callbackArg)
	default:
		r.emit(ctx, EventCreate, k, nil, value, callbackArg)
	}
	return prev, nil
}

func (r *regionImpl) PutIfAbsent(ctx context.Context, key any, value []byte, callbackArg []byte) ([]byte, error) {
	k, err := prepare(ctx, key)
	if err != nil {
		return nil, err
	}
	value = bytes.Clone(value)

	var existing []byte
	var written bool
	r.entries.Compute(k, func(old []byte, loaded bool) ([]byte, bool) {
		if loaded {
			existing = old
			return old, false
		}
		written = value != nil
		return value, !written
	})

	if written {
		r.emit(ctx, EventCreate, k, nil, value, callbackArg)
	}
	return existing, nil
}

func (r *regionImpl) ApplyDelta(ctx context.Context, key any, delta []byte, callbackArg []byte) ([]byte, error) {
	k, err := prepare(ctx, key)
	if err != nil {
		return nil, err
	}

	var prev, next []byte
	var deltaErr error
	r.entries.Compute(k, func(old []byte, loaded bool) ([]byte, bool) {
		if !loaded {
			deltaErr = store.NewError(store.RetCEntryNotFound, "cannot apply delta, key %v has no value", k.value())
			return old, !loaded
		}
		merged, err := applyDelta(r.cache.delta, old, delta)
		if err != nil {
			deltaErr = err
			return old, false
		}
		prev, next = old, merged
		return merged, false
	})
	if deltaErr != nil {
		return nil, deltaErr
	}

	r.emit(ctx, EventUpdate, k, prev, next, callbackArg)
	return prev, nil
}

func (r *regionImpl) Remove(ctx context.Context, key any, callbackArg []byte) (bool, error) {
	k, err := prepare(ctx, key)
	if err != nil {
		return false, err
	}
	old, existed := r.entries.LoadAndDelete(k)
	if existed {
		r.emit(ctx, EventDestroy, k, old, nil, callbackArg)
	}
	return existed, nil
}

func (r *regionImpl) ContainsKey(ctx context.Context, key any) (bool, error) {
	k, err := prepare(ctx, key)
	if err != nil {
		return false, err
	}
	_, ok := r.entries.Load(k)
	return ok, nil
}

func (r *regionImpl) Size(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, store.NewError(store.RetCInternalError, "operation cancelled: %v", err)
	}
	return r.entries.Size(), nil
}
