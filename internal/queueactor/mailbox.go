// Package queueactor implements the queue actor: a single-threaded goroutine owning one variable queue, its consumer
// roster, and a prioritised mailbox, grounded on the upstream reference's worker/internal/pool/pool.go goroutine-with-recover idiom generalized
// from "N workers sharing a job channel" to "one actor, five priority lanes".
package queueactor

import "context"

// Mailbox priority lanes, higher fires first.
const (
	PriorityInfo     = 9 // info, stat, get_limit
	PriorityControl  = 8 // delete_immediately, set_ram_duration_target, owner-DOWN, maybe_expire, drop_expired, update_ram_duration
	PriorityConsumer = 7 // basic_consume, basic_cancel, ack, reject, notify_sent, unblock, emit_stats
	PriorityTimer    = 6 // run_backing_queue, sync_timeout
	PriorityDefault  = 0 // everything else (publish, fetch-driving casts)
)

// job is one piece of mailbox work: a closure. The lane it was submitted on is not recorded in it.
type job struct {
	fn func()
}

// mailbox holds one buffered channel per priority lane. The dispatch loop always drains higher lanes to exhaustion before looking at a lower one,
// implementing strict priority rather than weighted fairness — matching this design's "higher fires first" wording exactly.
type mailbox struct {
	lanes map[int]chan job
	order []int
}

func newMailbox() *mailbox {
	order := []int{PriorityInfo, PriorityControl, PriorityConsumer, PriorityTimer, PriorityDefault}
	m := &mailbox{lanes: make(map[int]chan job, len(order)), order: order}
	for _, p := range order {
		m.lanes[p] = make(chan job, 256)
	}
	return m
}

func (m *mailbox) send(priority int, fn func()) {
	m.lanes[priority] <- job{fn: fn}
}

// next blocks until a job is available, honoring priority order. It polls non-blockingly from highest to lowest lane first (so a burst of
// low-priority work never starves a waiting high-priority call that arrived a moment later), and only blocks across all lanes once every
// lane is momentarily empty.
func (m *mailbox) next(ctx context.Context) (job, bool) {
	for {
		for _, p := range m.order {
			select {
			case j := <-m.lanes[p]:
				return j, true
			default:
			}
		}

		cases := make([]chan job, 0, len(m.order))
		for _, p := range m.order {
			cases = append(cases, m.lanes[p])
		}
		select {
		case <-ctx.Done():
			return job{}, false
		case j := <-cases[0]:
			return j, true
		case j := <-cases[1]:
			return j, true
		case j := <-cases[2]:
			return j, true
		case j := <-cases[3]:
			return j, true
		case j := <-cases[4]:
			return j, true
		}
	}
}
