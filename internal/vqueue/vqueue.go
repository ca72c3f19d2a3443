// Package vqueue implements the variable queue : a five-stage tiered residency pipeline (q1 alpha, q2 beta, delta, q3 beta, q4 alpha)
// that migrates messages between in-memory and on-disk form as a function of a live-estimated ingress/egress rate and a target RAM budget, while
// preserving strict FIFO order.
package vqueue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qbroker/core/internal/domain"
)

// RAMIndexBatchSize is RAM_INDEX_BATCH_SIZE.
const RAMIndexBatchSize = 64

// RateInterval is RATE_INTERVAL.
const RateInterval = 5 * time.Second

// DefaultSegmentSize is the number of seq_ids addressed by one on-disk index segment (spec GLOSSARY "segment"). Chosen to match RabbitMQ's own
// default queue index segment entry count.
const DefaultSegmentSize = 16384

// deltaRegion is the "delta: triple {start_seq, count, end_seq}".
type deltaRegion struct {
	Start domain.SeqID
	Count int
	End   domain.SeqID
}

func (d deltaRegion) Empty() bool { return d.Count == 0 }

// Config tunes the VQ's budget and segmentation. A nil TargetRAMMsgCount means "no budget" (classify always chooses msg); DurationTarget mirrors
// RabbitMQ's ha-proxy-style ∞/undefined duration target.
type Config struct {
	SegmentSize       int
	TargetRAMMsgCount *int // nil = undefined (no cap)
	DurationTarget    *time.Duration // nil = infinite
}

func (c Config) withDefaults() Config {
	if c.SegmentSize <= 0 {
		c.SegmentSize = DefaultSegmentSize
	}
	return c
}

// onSyncBatch is one accumulated batch awaiting the transactional commit fence ("on_sync triple of pending (acks, publications,
// repliers)").
type onSyncBatch struct {
	acks     []domain.AckTag
	pubs     []*domain.Message
	delivered bool
	replier  func(error)
}

// VQ is the variable queue. All exported methods lock internally; callers (the queue actor) call it from a single goroutine per , but the
// lock makes the type safe to unit test concurrently too.
type VQ struct {
	log   *zap.Logger
	store MessageStore
	index IndexStore
	cfg   Config

	mu sync.Mutex

	q1, q2, q3, q4 *list.List // of *domain.MsgStatus
	delta          deltaRegion

	length        int
	nextSeqID     domain.SeqID
	ramMsgCount   int
	ramIndexCount int

	// rate estimation state ("remeasure_rates")
	inCount, outCount         int
	prevInCount, prevOutCount int
	prevInstant               time.Time
	avgIn, avgOut             float64

	onSync []onSyncBatch

	txStage *txAccumulator

	closed bool
}

// New creates an empty VQ.
func New(log *zap.Logger, store MessageStore, index IndexStore, cfg Config) *VQ {
	cfg = cfg.withDefaults()
	return &VQ{
		log:         log,
		store:       store,
		index:       index,
		cfg:         cfg,
		q1:          list.New(),
		q2:          list.New(),
		q3:          list.New(),
		q4:          list.New(),
		prevInstant: time.Time{},
	}
}

// Len reports the total message count (conservation invariant).
func (vq *VQ) Len() int {
	vq.mu.Lock()
	defer vq.mu.Unlock()
	return vq.length
}

// IsEmpty reports whether the queue holds no messages.
func (vq *VQ) IsEmpty() bool {
	return vq.Len() == 0
}

// RAMMsgCount exposes the current in-memory body count (q1+q4).
func (vq *VQ) RAMMsgCount() int {
	vq.mu.Lock()
	defer vq.mu.Unlock()
	return vq.ramMsgCount
}

// RAMIndexCount exposes the current in-memory-only index count.
func (vq *VQ) RAMIndexCount() int {
	vq.mu.Lock()
	defer vq.mu.Unlock()
	return vq.ramIndexCount
}

// DeltaCount exposes the size of the wholly-on-disk region.
func (vq *VQ) DeltaCount() int {
	vq.mu.Lock()
	defer vq.mu.Unlock()
	return vq.delta.Count
}

// nextSegmentBoundary returns the smallest multiple of the segment size strictly greater than seq.
func nextSegmentBoundary(seq domain.SeqID, segSize int) domain.SeqID {
	s := uint64(segSize)
	return domain.SeqID((uint64(seq)/s + 1) * s)
}

// Status is the backing_queue `status` operation's payload.
type Status struct {
	Len               int
	RAMMsgCount       int
	RAMIndexCount     int
	DeltaCount        int
	Q1, Q2, Q3, Q4    int
	TargetRAMMsgCount *int
	AvgIngressRate    float64
	AvgEgressRate     float64
}

// StatusSnapshot implements backing_queue `status`.
func (vq *VQ) StatusSnapshot() Status {
	vq.mu.Lock()
	defer vq.mu.Unlock()
	var target *int
	if vq.cfg.TargetRAMMsgCount != nil {
		t := *vq.cfg.TargetRAMMsgCount
		target = &t
	}
	return Status{
		Len:               vq.length,
		RAMMsgCount:       vq.ramMsgCount,
		RAMIndexCount:     vq.ramIndexCount,
		DeltaCount:        vq.delta.Count,
		Q1:                vq.q1.Len(),
		Q2:                vq.q2.Len(),
		Q3:                vq.q3.Len(),
		Q4:                vq.q4.Len(),
		TargetRAMMsgCount: target,
		AvgIngressRate:    vq.avgIn,
		AvgEgressRate:     vq.avgOut,
	}
}

// checkInvariants validates the quantified residency invariants. Only the tests call it; no build checks it at reply boundaries.
func (vq *VQ) checkInvariants() error {
	if vq.delta.Count > 0 && vq.q1.Len() != 0 {
		return errInvariant("delta.count > 0 but q1 non-empty")
	}
	if vq.q2.Len() > 0 && vq.delta.Count == 0 {
		return errInvariant("q2 non-empty but delta.count == 0")
	}
	if vq.length > 0 && vq.q3.Len() == 0 && vq.q4.Len() == 0 {
		return errInvariant("queue non-empty but q3 and q4 both empty")
	}
	if vq.ramMsgCount != vq.q1.Len()+vq.q4.Len() {
		return errInvariant("ram_msg_count != |q1|+|q4|")
	}
	total := vq.q1.Len() + vq.q2.Len() + vq.delta.Count + vq.q3.Len() + vq.q4.Len()
	if total != vq.length {
		return errInvariant("len != |q1|+|q2|+delta.count+|q3|+|q4|")
	}
	return nil
}

func errInvariant(msg string) error {
	return &invariantError{msg: msg}
}

type invariantError struct{ msg string }

func (e *invariantError) Error() string { return "vqueue: invariant violated: " + e.msg }

// ctxOrBackground lets internal helpers accept an optional context without every call site plumbing one through; the VQ never blocks on user I/O,
// so a background context is safe for store/index calls made on the actor's own goroutine.
func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
