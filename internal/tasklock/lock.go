// Package tasklock keeps two executions of the same task_id from overlapping.
package tasklock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when the key is held by another execution
var ErrLocked = errors.New("task already running")

// Lease is a held lock
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires per-key execution locks without blocking
type Locker interface {
	// TryAcquire returns ErrLocked when key is already held
	TryAcquire(ctx context.Context, key string) (Lease, error)
}

// LocalLocker is an in-process Locker
type LocalLocker struct {
	held map[string]struct{}
	mu   sync.Mutex
}

// NewLocalLocker creates a new in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryAcquire implements Locker
func (l *LocalLocker) TryAcquire(_ context.Context, key string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}
	return &localLease{locker: l, key: key}, nil
}

// Held reports whether key is currently locked
func (l *LocalLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

type localLease struct {
	locker *LocalLocker
	key    string
	once   sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.key)
		l.locker.mu.Unlock()
	})
	return nil
}

// NoopLocker never contends
type NoopLocker struct{}

// TryAcquire implements Locker
func (NoopLocker) TryAcquire(context.Context, string) (Lease, error) {
	return noopLease{}, nil
}

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }
