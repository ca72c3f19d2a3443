// Package creditflow implements the inter-process backpressure ledger : per-peer send/ack counters with bump messages and a blocked-set
// used to defer credit grants until this process itself is unblocked.
package creditflow

import (
	"go.uber.org/zap"
)

const (
	// MaxCredit is the credit a peer starts with and is reset to after a grant.
	MaxCredit = 200
	// MoreCreditAt is the downward-crossing threshold that triggers a grant.
	MoreCreditAt = 150
)

// PeerID identifies a ledger counterparty. Callers typically use a node or process identifier; the ledger itself treats it as opaque.
type PeerID string

type grant struct {
	peer PeerID
	n    int
}

// Ledger is process-local, single-writer state: one per queue actor (or other credit-flow participant). It is never shared across goroutines
// without external synchronization, matching "no internal shared memory" rule for actors.
type Ledger struct {
	log *zap.Logger

	creditFrom map[PeerID]int // credit peers have extended to me
	creditTo   map[PeerID]int // credit I have extended to peers
	blocked    map[PeerID]struct{}
	deferred   []grant

	// sender is how a grant actually reaches a peer; swappable for tests.
	sender func(peer PeerID, n int)
}

// New creates a Ledger. sender delivers a credit bump to a peer; pass nil to use a no-op (tests that only assert on internal state).
func New(log *zap.Logger, sender func(peer PeerID, n int)) *Ledger {
	if sender == nil {
		sender = func(PeerID, int) {}
	}
	return &Ledger{
		log:        log,
		creditFrom: make(map[PeerID]int),
		creditTo:   make(map[PeerID]int),
		blocked:    make(map[PeerID]struct{}),
		sender:     sender,
	}
}

func (l *Ledger) ensurePeer(p PeerID) {
	if _, ok := l.creditFrom[p]; !ok {
		l.creditFrom[p] = MaxCredit
	}
	if _, ok := l.creditTo[p]; !ok {
		l.creditTo[p] = MaxCredit
	}
}

// Send records an outbound send to P, consuming one unit of the credit P has extended to me. Crossing zero adds P to the blocked set.
func (l *Ledger) Send(p PeerID) {
	l.ensurePeer(p)
	l.creditFrom[p]--
	if l.creditFrom[p] <= 0 {
		l.blocked[p] = struct{}{}
	}
}

// Ack records an inbound ack from P, consuming one unit of the credit I have extended to P. Crossing MoreCreditAt downward issues a grant.
func (l *Ledger) Ack(p PeerID) {
	l.ensurePeer(p)
	before := l.creditTo[p]
	l.creditTo[p]--
	if before >= MoreCreditAt && l.creditTo[p] < MoreCreditAt {
		n := MaxCredit - MoreCreditAt
		l.creditTo[p] = MaxCredit
		l.issueGrant(p, n)
	}
}

// issueGrant either sends the grant immediately or defers it: if self is blocked non-empty, queue the grant on deferred
// instead of sending; flush deferred when blocked empties.
func (l *Ledger) issueGrant(p PeerID, n int) {
	if len(l.blocked) > 0 {
		l.deferred = append(l.deferred, grant{peer: p, n: n})
		return
	}
	l.sender(p, n)
}

// HandleBump applies an inbound credit bump from P (the other side of Send/issueGrant), restoring my outbound sending ability.
func (l *Ledger) HandleBump(p PeerID, n int) {
	l.ensurePeer(p)
	l.creditFrom[p] += n
	if l.creditFrom[p] > 0 {
		delete(l.blocked, p)
		l.flushIfUnblocked()
	}
}

func (l *Ledger) flushIfUnblocked() {
	if len(l.blocked) != 0 || len(l.deferred) == 0 {
		return
	}
	pending := l.deferred
	l.deferred = nil
	for _, g := range pending {
		l.sender(g.peer, g.n)
	}
}

// PeerDown erases all ledger state for a departed peer. Idempotent.
func (l *Ledger) PeerDown(p PeerID) {
	delete(l.creditFrom, p)
	delete(l.creditTo, p)
	delete(l.blocked, p)
}

// Blocked reports whether I am currently blocked by any peer (credit_from at or below zero for at least one peer this process sends to).
func (l *Ledger) Blocked() bool {
	return len(l.blocked) > 0
}

// IsBlockedBy reports whether a specific peer has driven me below credit.
func (l *Ledger) IsBlockedBy(p PeerID) bool {
	_, ok := l.blocked[p]
	return ok
}

// CreditFrom exposes the current inbound credit counter, for tests and the admin API's stat surface.
func (l *Ledger) CreditFrom(p PeerID) int {
	return l.creditFrom[p]
}

// CreditTo exposes the current outbound credit counter.
func (l *Ledger) CreditTo(p PeerID) int {
	return l.creditTo[p]
}
