// Package ratelimit implements the worker-local spam guard: a simple
// cooldown-and-strike counter, not a token bucket. A worker asks Allow
// once per inbound peer message and bans the peer itself once it has
// accumulated too many messages sent inside the cooldown window.
package ratelimit

import "time"

// MessageCooldown is the minimum gap between two messages that does not
// accrue a strike.
const MessageCooldown = 300 * time.Millisecond

// MaxStrikes is the number of consecutive under-cooldown messages that
// trigger a ban.
const MaxStrikes = 5

// Limiter tracks one peer's message cadence. It is not safe for concurrent
// use; each connection worker owns exactly one, called only from its own
// read loop.
type Limiter struct {
	lastMessageAt time.Time
	strikes       uint
}

// New returns a Limiter initialized as if created at now, matching the
// spec's "initialized at worker creation" rule: a first message arriving
// less than MessageCooldown after now accrues a strike.
func New(now time.Time) *Limiter {
	return &Limiter{lastMessageAt: now}
}

// Allow records a message arriving at now and reports whether it is
// allowed; it returns false once the strike count reaches MaxStrikes,
// meaning the peer must be banned. The cooldown boundary is
// evaluated strictly: elapsed == MessageCooldown resets the strike count,
// it does not count as a violation.
func (l *Limiter) Allow(now time.Time) bool {
	elapsed := now.Sub(l.lastMessageAt)
	l.lastMessageAt = now

	if elapsed < MessageCooldown {
		l.strikes++
		return l.strikes < MaxStrikes
	}

	l.strikes = 0
	return true
}
