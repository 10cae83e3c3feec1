// Package lock provides the per-domain lease that serializes challenge
// provisioning: at most one in-flight DNS challenge per domain, and at most
// one binding update per (site, port).
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld is returned when the lease is already held by another run.
var ErrHeld = errors.New("lease already held")

// Locker acquires a named lease for at most ttl. The returned release
// function is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// MemoryLocker serializes leases within a single process. Used by the
// one-shot CLI and by tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLease
	seq   uint64
	clock func() time.Time
}

type memoryLease struct {
	token  uint64
	expiry time.Time
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryLease),
		clock: time.Now,
	}
}

// Acquire takes the lease for key, failing fast with ErrHeld if an
// unexpired lease exists. Release only frees the lease it acquired: a
// release arriving after the TTL expired must not free a lease a later
// run now holds.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if lease, ok := l.held[key]; ok && now.Before(lease.expiry) {
		return nil, ErrHeld
	}
	l.seq++
	token := l.seq
	l.held[key] = memoryLease{token: token, expiry: now.Add(ttl)}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			if lease, ok := l.held[key]; ok && lease.token == token {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
	}
	return release, nil
}
