package limiter

import (
	"testing"

	"github.com/qbroker/core/internal/domain"
)

type fakeQueue struct{ unblocked int }

func (f *fakeQueue) Unblock() { f.unblocked++ }

func TestCanSendRespectsPrefetchCap(t *testing.T) {
	l := New(nil)
	l.SetLimit(2)
	q := &fakeQueue{}
	l.Register(1, q)

	if !l.CanSend(1, true) {
		t.Fatal("expected first send permitted")
	}
	if !l.CanSend(1, true) {
		t.Fatal("expected second send permitted")
	}
	if l.CanSend(1, true) {
		t.Fatal("expected third send refused at cap")
	}
}

func TestAckUnblocksAndNotifies(t *testing.T) {
	l := New(nil)
	l.SetLimit(1)
	q := &fakeQueue{}
	l.Register(1, q)

	if !l.CanSend(1, true) {
		t.Fatal("expected first send permitted")
	}
	if l.CanSend(1, true) {
		t.Fatal("expected refusal at cap")
	}
	l.Ack(1)
	if q.unblocked != 1 {
		t.Fatalf("expected queue notified once, got %d", q.unblocked)
	}
}

func TestBlockRefusesRegardlessOfCap(t *testing.T) {
	l := New(nil)
	l.Block()
	q := &fakeQueue{}
	l.Register(domain.ChannelID(1), q)
	if l.CanSend(1, false) {
		t.Fatal("expected refusal while blocked")
	}
	l.Unblock()
	if !l.CanSend(1, false) {
		t.Fatal("expected permit after unblock")
	}
}

func TestSetLimitZeroDisables(t *testing.T) {
	l := New(nil)
	l.SetLimit(5)
	disabled := l.SetLimit(0)
	if !disabled {
		t.Fatal("expected SetLimit(0) to report disabled")
	}
}

func TestTokenDisabledShortCircuits(t *testing.T) {
	tok := Disabled()
	if tok.Enabled() {
		t.Fatal("expected disabled token")
	}
	if !tok.CanSend(1, true) {
		t.Fatal("expected disabled token to always permit")
	}
}
