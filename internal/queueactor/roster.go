package queueactor

import (
	"container/list"

	"github.com/qbroker/core/internal/domain"
)

// rosterEntry is one consumer's live state: its identity, its channel, and its current credit record (dispatch loop's `cred`). A nil
// Credit means "unlimited" — domain.CreditRecord's methods are defined on a nil-safe pointer receiver precisely so a plain basic_consume (no
// credit-flow) consumer never artificially blocks.
type rosterEntry struct {
	Consumer domain.Consumer
	Credit   *domain.CreditRecord
}

// roster holds the active and blocked consumer lists. Consumers move between them via channel-block/unblock transitions and credit
// transitions ("Transitions").
type roster struct {
	active  *list.List // of *rosterEntry
	blocked *list.List // of *rosterEntry
}

func newRoster() *roster {
	return &roster{active: list.New(), blocked: list.New()}
}

func (r *roster) addActive(e *rosterEntry) {
	r.active.PushBack(e)
}

func (r *roster) findElement(l *list.List, tag domain.ConsumerTag) *list.Element {
	for el := l.Front(); el != nil; el = el.Next() {
		if el.Value.(*rosterEntry).Consumer.Tag == tag {
			return el
		}
	}
	return nil
}

func (r *roster) remove(tag domain.ConsumerTag) *rosterEntry {
	if el := r.findElement(r.active, tag); el != nil {
		r.active.Remove(el)
		return el.Value.(*rosterEntry)
	}
	if el := r.findElement(r.blocked, tag); el != nil {
		r.blocked.Remove(el)
		return el.Value.(*rosterEntry)
	}
	return nil
}

func (r *roster) get(tag domain.ConsumerTag) *rosterEntry {
	if el := r.findElement(r.active, tag); el != nil {
		return el.Value.(*rosterEntry)
	}
	if el := r.findElement(r.blocked, tag); el != nil {
		return el.Value.(*rosterEntry)
	}
	return nil
}

// moveChannelToBlocked moves every active consumer on the given channel to the blocked roster ("Channel blocks").
func (r *roster) moveChannelToBlocked(ch domain.ChannelID) {
	for el := r.active.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*rosterEntry)
		if e.Consumer.Channel == ch {
			r.active.Remove(el)
			r.blocked.PushBack(e)
		}
		el = next
	}
}

// moveChannelToActive moves every blocked consumer on the given channel back to the active roster's tail ("Channel unblocks").
func (r *roster) moveChannelToActive(ch domain.ChannelID) {
	for el := r.blocked.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*rosterEntry)
		if e.Consumer.Channel == ch {
			r.blocked.Remove(el)
			r.active.PushBack(e)
		}
		el = next
	}
}

// moveToActive moves a single consumer's entry from blocked to active's tail ("Consumer re-enables").
func (r *roster) moveToActive(tag domain.ConsumerTag) bool {
	el := r.findElement(r.blocked, tag)
	if el == nil {
		return false
	}
	r.blocked.Remove(el)
	r.active.PushBack(el.Value)
	return true
}

// pushActiveTail re-queues a consumer at the back of active, used after a successful delivery that leaves it still eligible.
func (r *roster) pushActiveTail(e *rosterEntry) {
	r.active.PushBack(e)
}

func (r *roster) pushBlocked(e *rosterEntry) {
	r.blocked.PushBack(e)
}

func (r *roster) activeLen() int { return r.active.Len() }

func (r *roster) hasExclusive() bool {
	for _, l := range []*list.List{r.active, r.blocked} {
		for el := l.Front(); el != nil; el = el.Next() {
			if el.Value.(*rosterEntry).Consumer.Exclusive {
				return true
			}
		}
	}
	return false
}

func (r *roster) isEmpty() bool {
	return r.active.Len() == 0 && r.blocked.Len() == 0
}
