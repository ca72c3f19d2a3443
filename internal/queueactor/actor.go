package queueactor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qbroker/core/internal/domain"
	"github.com/qbroker/core/internal/limiter"
	"github.com/qbroker/core/internal/metrics"
	"github.com/qbroker/core/internal/vqueue"
)

// ChannelSink is the external collaborator a queue actor delivers through — the channel/connection layer is out of scope, so
// the actor only needs this narrow callback surface.
type ChannelSink interface {
	Deliver(ch domain.ChannelID, tag domain.ConsumerTag, body []byte, status *domain.MsgStatus)
	SendCredit(ch domain.ChannelID, tag domain.ConsumerTag, count uint32, credit int64, available int, drain bool)
}

// Config carries the per-queue tunables the actor enforces directly (credit-flow and file-handle budgets live in their own packages).
type Config struct {
	Name               string
	UnsentMessageLimit int // "Channel blocks" (100)
	Expires            time.Duration
	MessageTTL         time.Duration
}

func (c Config) withDefaults() Config {
	if c.UnsentMessageLimit <= 0 {
		c.UnsentMessageLimit = 100
	}
	return c
}

// Actor is the queue actor: one goroutine, one VQ, one consumer roster, reachable only through its mailbox.
type Actor struct {
	log     *zap.Logger
	cfg     Config
	vq      *vqueue.VQ
	limiter *limiter.Limiter
	sink    ChannelSink

	mbox *mailbox

	roster   *roster
	channels map[domain.ChannelID]*domain.ChannelRecord

	exclusiveHolder *domain.ConsumerTag
	lastActivity    time.Time

	stopped bool
}

// New constructs an actor. Run must be called to start its goroutine.
func New(log *zap.Logger, cfg Config, vq *vqueue.VQ, lim *limiter.Limiter, sink ChannelSink) *Actor {
	return &Actor{
		log:          log,
		cfg:          cfg.withDefaults(),
		vq:           vq,
		limiter:      lim,
		sink:         sink,
		mbox:         newMailbox(),
		roster:       newRoster(),
		channels:     make(map[domain.ChannelID]*domain.ChannelRecord),
		lastActivity: time.Time{},
	}
}

// Run is the actor's single goroutine. Cancel ctx to stop it; a job already running finishes and its caller gets the reply, but jobs still
// queued when the loop observes cancellation are never run, and their callers stay blocked.
func (a *Actor) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("queue actor panic recovered", zap.String("queue", a.cfg.Name), zap.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(vqueue.RateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.runHousekeeping(now)
		default:
		}

		j, ok := a.mbox.next(ctx)
		if !ok {
			return
		}
		a.runJob(j)
	}
}

func (a *Actor) runJob(j job) {
	start := time.Now()
	j.fn()
	metrics.DispatchDuration.WithLabelValues("mailbox").Observe(time.Since(start).Seconds())
	a.lastActivity = time.Now()
	a.deliverLoop()
}

func (a *Actor) runHousekeeping(now time.Time) {
	start := time.Now()
	_ = a.vq.RemeasureRates(context.Background(), now)
	_ = a.vq.LimitRAMIndex(context.Background())
	a.dropExpiredLocked()
	metrics.DispatchDuration.WithLabelValues("housekeeping").Observe(time.Since(start).Seconds())
	metrics.QueueLength.WithLabelValues(a.cfg.Name).Set(float64(a.vq.Len()))
	metrics.QueueRAMMsgCount.WithLabelValues(a.cfg.Name).Set(float64(a.vq.RAMMsgCount()))
	metrics.QueueDeltaCount.WithLabelValues(a.cfg.Name).Set(float64(a.vq.DeltaCount()))
	a.deliverLoop()
}

// dropExpiredLocked implements "Message-level x-message-ttl ... periodically ... dropwhile(expiry<now) at the VQ head". The VQ itself
// has no notion of wall-clock expiry, so the actor fetches-and-discards expired heads directly; TTL is an actor-level concern layered on top of
// residency, not a VQ concept.
func (a *Actor) dropExpiredLocked() {
	if a.cfg.MessageTTL <= 0 {
		return
	}
	for {
		f, ok, err := a.vq.Fetch(context.Background(), true)
		if err != nil || !ok {
			return
		}
		if f.Status.Expiry.IsZero() || f.Status.Expiry.After(time.Now()) {
			// Not expired: the ack-required fetch left its body and index entry in place, so requeueing it at the head undoes the peek.
			_ = a.vq.Requeue(context.Background(), []*domain.MsgStatus{f.Status})
			return
		}
		_ = a.vq.Ack(context.Background(), []domain.AckTag{f.Tag})
	}
}

// channelRecord returns (creating if needed) the per-channel bookkeeping record for ch.
func (a *Actor) channelRecord(ch domain.ChannelID) *domain.ChannelRecord {
	rec, ok := a.channels[ch]
	if !ok {
		rec = &domain.ChannelRecord{Channel: ch, AckTags: domain.AckTagSet{}}
		a.channels[ch] = rec
	}
	return rec
}

func (a *Actor) gcChannelIfIdle(ch domain.ChannelID) {
	if rec, ok := a.channels[ch]; ok && rec.Idle() {
		delete(a.channels, ch)
	}
}
