// Package contactlock provides per-contact serialization for conversation turns.
//
// Two concurrent turns for the same contact would race on the context
// read-modify-write, so one lock is held for the full duration of a turn.
// Locks for different contacts are independent; contacts proceed in parallel.
package contactlock

import (
	"log/slog"
	"sync"
)

// Locker hands out one mutex per contact ID. Entries are reference-counted
// and removed once uncontended so the table does not grow with the contact
// population.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewLocker creates an empty per-contact lock registry.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock acquires the lock for the given contact and returns the unlock
// function. The caller must invoke unlock on every exit path; turns for the
// same contact are applied in lock-acquisition order.
func (l *Locker) Lock(contactID string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[contactID]
	if !ok {
		e = &entry{}
		l.locks[contactID] = e
	}
	e.refs++
	if e.refs > 1 {
		slog.Debug("Locker.Lock: contact lock contended", "contactID", contactID, "waiters", e.refs-1)
	}
	l.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, contactID)
			}
			l.mu.Unlock()
		})
	}
}

// Held reports how many contacts currently have an acquired or pending lock.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
