// Package lock implements the per-identifier locking discipline HashStore
// needs to serialize concurrent operations on the same pid, cid, or
// pid's metadata documents (one key per pid, across all its formatIds)
// without serializing unrelated identifiers against each other.
//
// There is no cross-process coordination here: spec.md §5 mandates that a
// single store directory have exactly one writing process, so a simple
// in-process keyed mutex table is sufficient and no distributed backend
// (Redis, Postgres, ...) is wired in.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Kind identifies which of the three lock tables a key belongs to. Keys
// from different kinds never collide even if the underlying strings are
// equal, and callers only ever hold one key per kind at a time.
type Kind string

const (
	// KindPid guards a single pid's pid-refs file and its storeObject/
	// deleteObject lifecycle.
	KindPid Kind = "pid"

	// KindCid guards a single cid's cid-refs file and object file.
	KindCid Kind = "cid"

	// KindMetadata guards a pid's metadata documents; every
	// storeMetadata/deleteMetadata call for a given pid, across all its
	// formatIds, serializes on the same key.
	KindMetadata Kind = "metadata"
)

var (
	// ErrRequestInProgress is returned by TryAcquire when another goroutine
	// already holds the key.
	ErrRequestInProgress = errors.New("lock: request already in progress for this key")
)

// Registry holds one independent keyed-mutex table per Kind. The zero value
// is not usable; construct with New.
type Registry struct {
	tables map[Kind]*table
}

// New returns a Registry with an empty table for each of KindPid, KindCid,
// and KindMetadata.
func New() *Registry {
	return &Registry{
		tables: map[Kind]*table{
			KindPid:      newTable(),
			KindCid:      newTable(),
			KindMetadata: newTable(),
		},
	}
}

// Acquire blocks until the exclusive lock for (kind, key) is granted, or
// returns ctx.Err() if the context is cancelled first. The returned release
// function must be called exactly once to release the lock; it is safe to
// defer.
func (r *Registry) Acquire(ctx context.Context, kind Kind, key string) (func(), error) {
	return r.table(kind).acquire(ctx, key)
}

// TryAcquire attempts to acquire the lock without blocking. It returns
// ErrRequestInProgress if another goroutine already holds (kind, key).
func (r *Registry) TryAcquire(kind Kind, key string) (func(), error) {
	return r.table(kind).tryAcquire(key)
}

func (r *Registry) table(kind Kind) *table {
	t, ok := r.tables[kind]
	if !ok {
		panic(fmt.Sprintf("lock: unknown kind %q", kind))
	}

	return t
}

// table is a keyed mutex: one entry per key, reference-counted so idle
// keys don't leak, guarded by a single table mutex. Grounded on the
// teacher's pkg/lock/local.Locker (map[string]*keyLock + refCount).
type table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sync.Mutex
	refCount int
}

func newTable() *table {
	return &table{entries: make(map[string]*entry)}
}

func (t *table) get(key string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		e = &entry{}
		t.entries[key] = e
	}

	e.refCount++

	return e
}

func (t *table) release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return
	}

	e.refCount--
	if e.refCount == 0 {
		delete(t.entries, key)
	}
}

func (t *table) acquire(ctx context.Context, key string) (func(), error) {
	e := t.get(key)

	// Fast path: try without blocking first so a cancelled context never
	// has to wait for an uncontended lock.
	if e.TryLock() {
		return t.releaser(key, e), nil
	}

	locked := make(chan struct{})

	go func() {
		e.Lock()
		close(locked)
	}()

	select {
	case <-locked:
		return t.releaser(key, e), nil
	case <-ctx.Done():
		// The goroutine above may still be waiting on e.Lock(); once it
		// succeeds it will have acquired a lock nobody would otherwise
		// release. Ownership of this acquire's single get() reference
		// transfers to that background releaser — it alone calls
		// t.release(key), exactly once, once the lock is actually held.
		go func() {
			<-locked
			e.Unlock()
			t.release(key)
		}()

		return nil, ctx.Err()
	}
}

func (t *table) tryAcquire(key string) (func(), error) {
	e := t.get(key)

	if !e.TryLock() {
		t.release(key)

		return nil, fmt.Errorf("%w: %s", ErrRequestInProgress, key)
	}

	return t.releaser(key, e), nil
}

func (t *table) releaser(key string, e *entry) func() {
	var once sync.Once

	return func() {
		once.Do(func() {
			e.Unlock()
			t.release(key)
		})
	}
}
