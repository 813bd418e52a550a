package app

import "sync"

// keyedMutex hands out one mutex per room key. Entries are refcounted so
// the map does not grow with every room ever seen.
//
// The store's conditional counters are what keep the data correct; this
// lock only serializes "commit then enqueue broadcast" per room so
// presence events leave in commit order. Hub enqueue never blocks, so
// holding the lock across it cannot stall on a slow consumer.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the key's mutex is held and returns the unlock func.
func (km *keyedMutex) Lock(key string) func() {
	km.mu.Lock()
	e, ok := km.locks[key]
	if !ok {
		e = &lockEntry{}
		km.locks[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		km.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
