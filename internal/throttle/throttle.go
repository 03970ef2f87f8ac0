// Package throttle implements progressive login lockout. Attempt
// history lives in the key-value store per identifier; repeated
// failures extend the lockout window up to a capped multiple of the
// base duration. Storage failures fail open: a broken store must not
// lock everyone out.
package throttle

import (
	"time"

	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/config"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

const attemptKeyPrefix = "login_attempts_"

// AttemptStore is the slice of the key-value store the throttle needs.
type AttemptStore interface {
	Set(key string, value interface{}) bool
	Get(key string, out interface{}) bool
	Remove(key string) bool
}

type attempt struct {
	Timestamp   int64                  `json:"timestamp"`
	Success     bool                   `json:"success"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
	IP          string                 `json:"ip,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Extra is best-effort context recorded with each attempt. The IP is a
// placeholder when the caller cannot resolve one.
type Extra struct {
	Fingerprint string
	IP          string
	Metadata    map[string]interface{}
}

// Status reports whether a login may proceed.
type Status struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

type Throttle struct {
	store    AttemptStore
	security config.SecurityConfig
	now      func() time.Time
}

func New(store AttemptStore, security config.SecurityConfig) *Throttle {
	return &Throttle{
		store:    store,
		security: security,
		now:      time.Now,
	}
}

// Check reports whether the identifier may attempt a login. The lockout
// window grows with the consecutive failure streak, capped at the
// configured multiplier.
func (t *Throttle) Check(identifier string) Status {
	attempts := t.load(identifier)
	now := t.now()

	streak := failureStreak(attempts)
	remaining := t.security.MaxLoginAttempts - streak
	if remaining < 0 {
		remaining = 0
	}

	if streak < t.security.MaxLoginAttempts {
		return Status{Allowed: true, Remaining: remaining}
	}

	multiplier := streak
	if multiplier > t.security.LockoutMultiplier {
		multiplier = t.security.LockoutMultiplier
	}
	lockout := time.Duration(multiplier) * t.security.BaseLockout

	lastFailure := time.UnixMilli(attempts[len(attempts)-1].Timestamp)
	lockEnd := lastFailure.Add(lockout)
	if now.Before(lockEnd) {
		return Status{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: lockEnd.Sub(now),
		}
	}

	// Lockout served; one more chance, streak intact.
	return Status{Allowed: true, Remaining: 0}
}

// RecordFailure appends a failed attempt.
func (t *Throttle) RecordFailure(identifier string, extra Extra) {
	t.record(identifier, false, extra)
}

// RecordSuccess appends a successful attempt and drops the failures,
// resetting the streak while keeping the trail of prior successes.
func (t *Throttle) RecordSuccess(identifier string, extra Extra) {
	t.record(identifier, true, extra)
}

func (t *Throttle) record(identifier string, success bool, extra Extra) {
	attempts := t.load(identifier)
	if success {
		kept := attempts[:0]
		for _, a := range attempts {
			if a.Success {
				kept = append(kept, a)
			}
		}
		attempts = kept
	}
	if extra.IP == "" {
		extra.IP = "unknown"
	}
	attempts = append(attempts, attempt{
		Timestamp:   t.now().UnixMilli(),
		Success:     success,
		Fingerprint: extra.Fingerprint,
		IP:          extra.IP,
		Metadata:    extra.Metadata,
	})
	if !t.store.Set(attemptKeyPrefix+identifier, attempts) {
		util.Warn("Failed to persist login attempt", zap.String("identifier", identifier))
	}
}

// Reset clears the attempt history entirely.
func (t *Throttle) Reset(identifier string) {
	t.store.Remove(attemptKeyPrefix + identifier)
}

// load returns the attempt history pruned to the retention window. A
// missing or unreadable record is an empty history.
func (t *Throttle) load(identifier string) []attempt {
	var attempts []attempt
	t.store.Get(attemptKeyPrefix+identifier, &attempts)

	cutoff := t.now().Add(-t.security.AttemptRetention).UnixMilli()
	pruned := attempts[:0]
	for _, a := range attempts {
		if a.Timestamp >= cutoff {
			pruned = append(pruned, a)
		}
	}
	return pruned
}

// failureStreak counts consecutive failures since the last success.
func failureStreak(attempts []attempt) int {
	streak := 0
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Success {
			break
		}
		streak++
	}
	return streak
}

// SetClock overrides the time source, for tests.
func (t *Throttle) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}
