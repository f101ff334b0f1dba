// Package lock provides per-key mutual exclusion, in process and across
// processes through Redis.
package lock

import (
	"context"
	"sync"
)

// Release gives up a lock obtained from a Locker.
type Release func(ctx context.Context) error

// Locker obtains a lock on a key, waiting until it is free or ctx ends.
type Locker interface {
	Obtain(ctx context.Context, key string) (Release, error)
}

// Keyed is an in-process keyed mutex. The zero value is ready to use.
// Entries are reference counted and dropped when no goroutine holds or
// waits on them.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock function.
func (k *Keyed) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
