package queueactor

import (
	"context"
	"time"

	"github.com/qbroker/core/internal/domain"
)

// post runs fn on the actor's goroutine at the given priority lane and blocks for it to finish — the synchronous-call shape every // mailbox op uses.
func (a *Actor) post(priority int, fn func()) {
	done := make(chan struct{})
	a.mbox.send(priority, func() {
		defer close(done)
		fn()
	})
	<-done
}

// Publish implements the mailbox `publish` op (backing_queue contract), priority 0.
func (a *Actor) Publish(ctx context.Context, msg *domain.Message) (domain.SeqID, error) {
	var seq domain.SeqID
	var err error
	a.post(PriorityDefault, func() {
		seq, err = a.vq.Publish(ctx, msg)
	})
	return seq, err
}

// BasicConsume implements the basic_consume op: register a consumer, enforcing the exclusive-consumer rule, priority 7.
func (a *Actor) BasicConsume(c domain.Consumer) error {
	var result error
	a.post(PriorityConsumer, func() {
		if c.Exclusive && !a.roster.isEmpty() {
			result = domain.ErrInUse
			return
		}
		if !c.Exclusive && a.roster.hasExclusive() {
			result = domain.ErrInUse
			return
		}
		if c.Exclusive {
			tag := c.Tag
			a.exclusiveHolder = &tag
		}
		a.channelRecord(c.Channel).ConsumerCount++
		a.roster.addActive(&rosterEntry{Consumer: c})
	})
	return result
}

// BasicCancel implements `basic_cancel`, priority 7. Clears the exclusive holder if this was it.
func (a *Actor) BasicCancel(tag domain.ConsumerTag) {
	a.post(PriorityConsumer, func() {
		e := a.roster.remove(tag)
		if e == nil {
			return
		}
		if a.exclusiveHolder != nil && *a.exclusiveHolder == tag {
			a.exclusiveHolder = nil
		}
		rec := a.channelRecord(e.Consumer.Channel)
		if rec.ConsumerCount > 0 {
			rec.ConsumerCount--
		}
		a.gcChannelIfIdle(e.Consumer.Channel)
	})
}

// Ack implements `ack`, priority 7: settle the VQ side and decrement the channel's unsent count (notify_sent), potentially
// unblocking it.
func (a *Actor) Ack(ctx context.Context, ch domain.ChannelID, tags []domain.AckTag) error {
	var err error
	a.post(PriorityConsumer, func() {
		err = a.vq.Ack(ctx, tags)
		if err != nil {
			return
		}
		rec := a.channelRecord(ch)
		for _, t := range tags {
			delete(rec.AckTags, t)
		}
		for range tags {
			a.notifySentLocked(ch)
		}
		a.gcChannelIfIdle(ch)
	})
	return err
}

// Reject implements `reject`, priority 7: with requeue the statuses go back to the VQ head, otherwise it settles them like Ack; either way
// the channel's bookkeeping is updated as in Ack.
func (a *Actor) Reject(ctx context.Context, ch domain.ChannelID, tags []domain.AckTag, requeue bool, statuses []*domain.MsgStatus) error {
	var err error
	a.post(PriorityConsumer, func() {
		if requeue {
			err = a.vq.Requeue(ctx, statuses)
		} else {
			err = a.vq.Ack(ctx, tags)
		}
		if err != nil {
			return
		}
		rec := a.channelRecord(ch)
		for _, t := range tags {
			delete(rec.AckTags, t)
		}
		for range tags {
			a.notifySentLocked(ch)
		}
		a.gcChannelIfIdle(ch)
	})
	return err
}

// NotifySent implements `notify_sent`, priority 7.
func (a *Actor) NotifySent(ch domain.ChannelID) {
	a.post(PriorityConsumer, func() {
		a.notifySentLocked(ch)
	})
}

// UnblockChannel implements the limiter's `unblock` cast landing on a queue, priority 7.
func (a *Actor) UnblockChannel(ch domain.ChannelID) {
	a.post(PriorityConsumer, func() {
		a.unblockChannelLocked(ch)
	})
}

// SetCredit implements "Consumer re-enables (credit flow)", priority 7.
func (a *Actor) SetCredit(ch domain.ChannelID, tag domain.ConsumerTag, credit int64, count uint32, drain bool, echo bool) {
	a.post(PriorityConsumer, func() {
		e := a.roster.get(tag)
		if e == nil {
			return
		}
		if e.Credit == nil {
			e.Credit = &domain.CreditRecord{}
		}
		unblocked := e.Credit.SetCredit(credit, count, drain)
		if unblocked {
			a.roster.moveToActive(tag)
		}
		if echo {
			a.sink.SendCredit(ch, tag, e.Credit.Count, e.Credit.Credit, a.vq.Len(), e.Credit.Drain)
		}
	})
}

// Len implements the `len` backing_queue op, priority 9 (read-only, grouped with info/stat).
func (a *Actor) Len() int {
	var n int
	a.post(PriorityInfo, func() { n = a.vq.Len() })
	return n
}

// IsEmpty implements the `is_empty` backing_queue op, priority 9.
func (a *Actor) IsEmpty() bool {
	var empty bool
	a.post(PriorityInfo, func() { empty = a.vq.IsEmpty() })
	return empty
}

// GetLimit implements the `get_limit` mailbox op, priority 9: the
// channel-prefetch cap the actor's limiter currently enforces (0 = disabled).
func (a *Actor) GetLimit() int {
	var n int
	a.post(PriorityInfo, func() { n = a.limiter.GetLimit() })
	return n
}

// Info implements the `info` mailbox op, priority 9: a snapshot of the
// bookkeeping an operator would want beyond the raw VQ numbers Stat returns.
func (a *Actor) Info() Info {
	var info Info
	a.post(PriorityInfo, func() {
		info = Info{
			Name:           a.cfg.Name,
			ConsumerCount:  a.roster.activeLen() + a.roster.blocked.Len(),
			BlockedCount:   a.roster.blocked.Len(),
			ChannelCount:   len(a.channels),
			LimiterEnabled: a.limiter.Enabled(),
			HasExclusive:   a.exclusiveHolder != nil,
		}
	})
	return info
}

// Info is the `info` mailbox op's result shape.
type Info struct {
	Name           string
	ConsumerCount  int
	BlockedCount   int
	ChannelCount   int
	LimiterEnabled bool
	HasExclusive   bool
}

// Stat implements the `stat` mailbox op, priority 9.
func (a *Actor) Stat() (vqStatus VQStatus) {
	a.post(PriorityInfo, func() {
		vqStatus = VQStatus(a.vq.StatusSnapshot())
	})
	return vqStatus
}

// VQStatus mirrors vqueue.Status; defined locally so callers don't need to import internal/vqueue just to read a queue actor's stats.
type VQStatus struct {
	Len               int
	RAMMsgCount       int
	RAMIndexCount     int
	DeltaCount        int
	Q1, Q2, Q3, Q4    int
	TargetRAMMsgCount *int
	AvgIngressRate    float64
	AvgEgressRate     float64
}

// Purge implements the `purge` backing_queue op, priority 0.
func (a *Actor) Purge(ctx context.Context) (int, error) {
	var n int
	var err error
	a.post(PriorityDefault, func() {
		n, err = a.vq.Purge(ctx)
	})
	return n, err
}

// Delete implements `delete_immediately`, priority 8.
func (a *Actor) Delete(ctx context.Context) error {
	var err error
	a.post(PriorityControl, func() {
		err = a.vq.Delete(ctx)
		a.stopped = true
	})
	return err
}

// SetRamDurationTarget implements `set_ram_duration_target`, priority 8. A nil seconds means infinite (no cap).
func (a *Actor) SetRamDurationTarget(ctx context.Context, seconds *float64) error {
	var err error
	a.post(PriorityControl, func() {
		var d *time.Duration
		if seconds != nil {
			v := time.Duration(*seconds * float64(time.Second))
			d = &v
		}
		err = a.vq.SetDurationTarget(ctx, d)
	})
	return err
}
