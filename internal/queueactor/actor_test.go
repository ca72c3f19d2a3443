package queueactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/qbroker/core/internal/domain"
	"github.com/qbroker/core/internal/limiter"
	"github.com/qbroker/core/internal/store/mock"
	"github.com/qbroker/core/internal/vqueue"
)

type fakeSink struct {
	mu        sync.Mutex
	delivered []string
	credits   int
}

func (f *fakeSink) Deliver(ch domain.ChannelID, tag domain.ConsumerTag, body []byte, status *domain.MsgStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, string(body))
}

func (f *fakeSink) SendCredit(ch domain.ChannelID, tag domain.ConsumerTag, count uint32, credit int64, available int, drain bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credits++
}

func (f *fakeSink) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func newTestActor(t *testing.T) (*Actor, *fakeSink, context.CancelFunc) {
	t.Helper()
	vq := vqueue.New(nil, mock.NewMessageStore(), mock.NewIndexStore(), vqueue.Config{SegmentSize: 16})
	lim := limiter.New(nil)
	sink := &fakeSink{}
	a := New(nil, Config{Name: "t"}, vq, lim, sink)

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	return a, sink, cancel
}

func TestPublishThenConsumeDelivers(t *testing.T) {
	a, sink, cancel := newTestActor(t)
	defer cancel()

	if err := a.BasicConsume(domain.Consumer{Channel: 1, Tag: "c1", RequiresAck: false}); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if _, err := a.Publish(context.Background(), &domain.Message{ID: uuid.New(), Body: []byte("hello")}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(time.Second)
	for sink.deliveredCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("message never delivered")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestExclusiveConsumerRejectsSecond(t *testing.T) {
	a, _, cancel := newTestActor(t)
	defer cancel()

	if err := a.BasicConsume(domain.Consumer{Channel: 1, Tag: "excl", Exclusive: true}); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := a.BasicConsume(domain.Consumer{Channel: 1, Tag: "second"}); err != domain.ErrInUse {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
}

func TestAckRequiredDeliveryDrainsVQ(t *testing.T) {
	a, sink, cancel := newTestActor(t)
	defer cancel()

	if err := a.BasicConsume(domain.Consumer{Channel: 1, Tag: "c1", RequiresAck: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Publish(context.Background(), &domain.Message{ID: uuid.New(), Body: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	for sink.deliveredCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("never delivered")
		case <-time.After(time.Millisecond):
		}
	}

	if a.Len() != 0 {
		t.Fatalf("expected vq drained after delivery, len=%d", a.Len())
	}
}
