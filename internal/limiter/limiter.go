// Package limiter implements the per-channel AMQP prefetch limiter : a shared state tracking in-flight unacked volume against a
// prefetch cap, plus a roster of queues to notify on unblock.
package limiter

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/qbroker/core/internal/domain"
)

// QueueHandle is how the limiter calls back into a queue to notify it that flow may resume. queueactor.Actor does not implement it (its
// UnblockChannel takes a channel id), and no queue actor registers with the limiter.
type QueueHandle interface {
	Unblock()
}

type queueEntry struct {
	handle     QueueHandle
	needsNotify bool
}

// Limiter is the per-channel shared state. One Limiter per AMQP channel, shared by every consumer on that channel — a channel's prefetch limit
// applies across all its consumers.
type Limiter struct {
	log *zap.Logger

	mu            sync.Mutex
	prefetchCount int // 0 means disabled
	volume        int
	blocked       bool
	queues        map[domain.ChannelID]*queueEntry // keyed by the registering queue's id
}

// New creates a disabled (prefetchCount=0) limiter.
func New(log *zap.Logger) *Limiter {
	return &Limiter{
		log:    log,
		queues: make(map[domain.ChannelID]*queueEntry),
	}
}

// Register adds a queue (identified by an opaque id) to the notify roster.
func (l *Limiter) Register(queueID domain.ChannelID, h QueueHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queues[queueID] = &queueEntry{handle: h}
}

// Unregister drops a queue from the notify roster.
func (l *Limiter) Unregister(queueID domain.ChannelID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.queues, queueID)
}

// Enabled reports whether this limiter currently gates sends at all.
func (l *Limiter) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prefetchCount > 0 || l.blocked
}

// atCapLocked reports at_cap: volume >= prefetch_count > 0.
func (l *Limiter) atCapLocked() bool {
	return l.prefetchCount > 0 && l.volume >= l.prefetchCount
}

// CanSend implements can_send(Q, requires_ack). queueID marks which queue to flag needs_notify=true on refusal.
func (l *Limiter) CanSend(queueID domain.ChannelID, requiresAck bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.blocked || l.atCapLocked() {
		if e, ok := l.queues[queueID]; ok {
			e.needsNotify = true
		}
		return false
	}
	if requiresAck {
		l.volume++
	}
	return true
}

// transitioned reports whether the limiter just moved from (blocked || at_cap) to (!blocked && !at_cap), and if so notifies every
// queue flagged needs_notify in randomised order so none is starved.
func (l *Limiter) transitioned(wasBlockedOrAtCap bool) {
	nowOK := !l.blocked && !l.atCapLocked()
	if !(wasBlockedOrAtCap && nowOK) {
		return
	}
	var toNotify []QueueHandle
	for _, e := range l.queues {
		if e.needsNotify {
			toNotify = append(toNotify, e.handle)
			e.needsNotify = false
		}
	}
	rand.Shuffle(len(toNotify), func(i, j int) { toNotify[i], toNotify[j] = toNotify[j], toNotify[i] })
	for _, h := range toNotify {
		h.Unblock()
	}
}

// Ack implements ack(n): decrement volume (floor 0), and run the unblock-transition notify logic.
func (l *Limiter) Ack(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	was := l.blocked || l.atCapLocked()
	l.volume -= n
	if l.volume < 0 {
		l.volume = 0
	}
	l.transitioned(was)
}

// Block sets the channel-wide flow-control override.
func (l *Limiter) Block() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocked = true
}

// Unblock clears the channel-wide flow-control override and runs the transition-notify logic.
func (l *Limiter) Unblock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.blocked || l.atCapLocked()
	l.blocked = false
	l.transitioned(was)
}

// SetLimit implements set_limit(n). Returns true if the limiter is now disabled (n==0 and no longer blocked/at-cap after the transition),
// signalling callers to stop routing through it.
func (l *Limiter) SetLimit(n int) (disabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.blocked || l.atCapLocked()
	l.prefetchCount = n
	l.transitioned(was)
	return n == 0 && !l.blocked && !l.atCapLocked()
}

// GetLimit returns the current prefetch cap (0 = disabled).
func (l *Limiter) GetLimit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prefetchCount
}

// IsBlocked reports the raw channel-wide flow-control flag.
func (l *Limiter) IsBlocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked
}
