package queueactor

import (
	"context"

	"github.com/qbroker/core/internal/domain"
	"github.com/qbroker/core/internal/metrics"
)

// deliverLoop implements `deliver_msgs_to_consumers` exactly. Called after every mailbox job and every housekeeping tick, since any
// of those can make new consumers or new messages available.
func (a *Actor) deliverLoop() {
	for a.roster.activeLen() > 0 {
		if a.vq.IsEmpty() {
			return
		}

		el := a.roster.active.Front()
		entry := el.Value.(*rosterEntry)
		a.roster.active.Remove(el)

		ch := entry.Consumer.Channel
		rec := a.channelRecord(ch)

		if entry.Credit.HasCredit() && a.limiter.CanSend(ch, entry.Consumer.RequiresAck) {
			f, ok, err := a.vq.Fetch(context.Background(), entry.Consumer.RequiresAck)
			if err != nil || !ok {
				// Nothing actually fetchable (race with another mailbox job); put the consumer back and stop this pass.
				a.roster.active.PushFront(entry)
				return
			}

			a.sink.Deliver(ch, entry.Consumer.Tag, f.Body, f.Status)
			metrics.MessagesDeliveredTotal.WithLabelValues(a.cfg.Name).Inc()

			if entry.Consumer.RequiresAck {
				rec.AckTags[f.Tag] = f.Status.SeqID
			}

			entry.Credit.Deliver()
			qlen := a.vq.Len()
			if echo := entry.Credit.DrainToZero(qlen); echo {
				a.sink.SendCredit(ch, entry.Consumer.Tag, entry.Credit.Count, 0, qlen, true)
			}

			rec.UnsentCount++
			if rec.UnsentCount >= a.cfg.UnsentMessageLimit {
				rec.LimiterBlocked = true
				a.roster.moveChannelToBlocked(ch)
				continue
			}

			if entry.Credit.HasCredit() {
				a.roster.pushActiveTail(entry)
			} else {
				a.roster.pushBlocked(entry)
			}
			continue
		}

		if !entry.Credit.HasCredit() {
			a.roster.pushBlocked(entry)
			continue
		}

		// Credit available but the limiter refused: "mark channel limit-active; move all of Ch's consumers to blocked".
		rec.LimiterBlocked = true
		a.roster.active.PushFront(entry) // restore before the bulk move scans active
		a.roster.moveChannelToBlocked(ch)
	}
}

// notifySentLocked implements "Channel unblocks: on notify_sent decrement". Call once a delivered-with-ack message is actually
// acknowledged downstream, shrinking the channel's unsent count.
func (a *Actor) notifySentLocked(ch domain.ChannelID) {
	rec := a.channelRecord(ch)
	if rec.UnsentCount > 0 {
		rec.UnsentCount--
	}
	if rec.LimiterBlocked && rec.UnsentCount < a.cfg.UnsentMessageLimit {
		rec.LimiterBlocked = false
		a.roster.moveChannelToActive(ch)
	}
}

// unblockChannelLocked implements "Channel unblocks: ... on unblock cast from limiter".
func (a *Actor) unblockChannelLocked(ch domain.ChannelID) {
	rec := a.channelRecord(ch)
	rec.LimiterBlocked = false
	a.roster.moveChannelToActive(ch)
}
