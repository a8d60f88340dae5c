// Package throttle provides admission control, FIFO dispatch, retry with
// backoff, and deterministic fallback synthesis for calls to the
// generative provider.
package throttle

import (
	"sync"
	"time"

	"github.com/serenemind/serenemind-backend/internal/model"
)

// window is one sliding fixed-size admission window.
type window struct {
	count     int
	resetTime time.Time
}

// Limiter enforces per-user and global request windows. State is
// process-local and ephemeral; counters rebuild naturally after restart.
type Limiter struct {
	mu          sync.Mutex
	perUser     map[string]*window
	global      window
	userLimit   int
	globalLimit int
	length      time.Duration

	now func() time.Time
}

func NewLimiter(userLimit, globalLimit int, length time.Duration) *Limiter {
	return &Limiter{
		perUser:     make(map[string]*window),
		userLimit:   userLimit,
		globalLimit: globalLimit,
		length:      length,
		now:         time.Now,
	}
}

// Allow admits or rejects one request. Rejection is immediate; callers are
// never queued behind a full window.
func (l *Limiter) Allow(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if !admit(&l.global, now, l.globalLimit, l.length) {
		return model.ErrRateLimited
	}

	uw, ok := l.perUser[userID]
	if !ok {
		uw = &window{}
		l.perUser[userID] = uw
	}
	if !admit(uw, now, l.userLimit, l.length) {
		// The global slot was consumed above; give it back so one noisy
		// user cannot drain the shared window.
		l.global.count--
		return model.ErrRateLimited
	}
	return nil
}

// admit resets an elapsed window, otherwise increments within the limit.
func admit(w *window, now time.Time, limit int, length time.Duration) bool {
	if now.After(w.resetTime) {
		w.count = 1
		w.resetTime = now.Add(length)
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// RetryAfter reports how long the user should wait before retrying.
func (l *Limiter) RetryAfter(userID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	wait := l.global.resetTime.Sub(now)
	if uw, ok := l.perUser[userID]; ok {
		if d := uw.resetTime.Sub(now); d > wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}
