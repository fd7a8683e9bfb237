// lockout.go - Operator lockout after repeated failed logins.
package server

import (
	"sync"
	"time"
)

type loginAttempt struct {
	count       int
	lastAttempt time.Time
	lockedUntil time.Time
}

// loginLockout locks a username after maxAttempts failures inside window.
// It only guards operator login; download passwords are not rate limited
// here.
type loginLockout struct {
	mu          sync.Mutex
	attempts    map[string]*loginAttempt
	maxAttempts int
	lockFor     time.Duration
	window      time.Duration
	now         func() time.Time
}

func newLoginLockout(maxAttempts int, lockFor, window time.Duration) *loginLockout {
	return &loginLockout{
		attempts:    make(map[string]*loginAttempt),
		maxAttempts: maxAttempts,
		lockFor:     lockFor,
		window:      window,
		now:         time.Now,
	}
}

// locked reports whether username is locked and until when.
func (l *loginLockout) locked(username string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attempts[username]
	if !ok || !l.now().Before(a.lockedUntil) {
		return false, time.Time{}
	}
	return true, a.lockedUntil
}

// fail records a failed attempt and reports whether it triggered a lock.
func (l *loginLockout) fail(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	a, ok := l.attempts[username]
	if !ok {
		a = &loginAttempt{}
		l.attempts[username] = a
	}
	if now.Sub(a.lastAttempt) > l.window {
		a.count = 0
	}
	a.count++
	a.lastAttempt = now
	if a.count >= l.maxAttempts {
		a.lockedUntil = now.Add(l.lockFor)
		a.count = 0
		return true
	}
	return false
}

func (l *loginLockout) succeed(username string) {
	l.mu.Lock()
	delete(l.attempts, username)
	l.mu.Unlock()
}

// prune drops entries that are neither locked nor recent.
func (l *loginLockout) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for user, a := range l.attempts {
		if now.After(a.lockedUntil) && now.Sub(a.lastAttempt) > 2*l.window {
			delete(l.attempts, user)
		}
	}
}
