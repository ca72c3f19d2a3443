package vqueue

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/qbroker/core/internal/domain"
)

type memStore struct {
	mu     sync.Mutex
	bodies map[domain.MsgID][]byte
}

func newMemStore() *memStore { return &memStore{bodies: map[domain.MsgID][]byte{}} }

func (s *memStore) Write(_ context.Context, id domain.MsgID, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	s.bodies[id] = cp
	return nil
}
func (s *memStore) Read(_ context.Context, id domain.MsgID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bodies[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}
func (s *memStore) Remove(_ context.Context, id domain.MsgID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bodies, id)
	return nil
}
func (s *memStore) Release(context.Context, domain.MsgID) error { return nil }
func (s *memStore) RequestSync(_ context.Context, ids []domain.MsgID, done func(error)) {
	if done != nil {
		done(nil)
	}
}

type memIndex struct {
	mu      sync.Mutex
	entries map[domain.SeqID]IndexEntry
}

func newMemIndex() *memIndex { return &memIndex{entries: map[domain.SeqID]IndexEntry{}} }

func (ix *memIndex) WriteEntries(_ context.Context, entries []IndexEntry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range entries {
		ix.entries[e.SeqID] = e
	}
	return nil
}
func (ix *memIndex) WriteDeliveredMarker(_ context.Context, seq domain.SeqID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e := ix.entries[seq]
	e.Delivered = true
	ix.entries[seq] = e
	return nil
}
func (ix *memIndex) WriteAcks(_ context.Context, seqs []domain.SeqID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, s := range seqs {
		delete(ix.entries, s)
	}
	return nil
}
func (ix *memIndex) ReadRange(_ context.Context, start domain.SeqID, count int) ([]IndexEntry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out []IndexEntry
	for i := 0; i < count; i++ {
		seq := start + domain.SeqID(i)
		if e, ok := ix.entries[seq]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}
func (ix *memIndex) Sync(context.Context, []domain.SeqID) error { return nil }
func (ix *memIndex) DeleteRange(_ context.Context, start, end domain.SeqID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for s := start; s <= end; s++ {
		delete(ix.entries, s)
	}
	return nil
}
func (ix *memIndex) Terminate(context.Context) error { return nil }

func newTestVQ(target *int) *VQ {
	return New(nil, newMemStore(), newMemIndex(), Config{SegmentSize: 4, TargetRAMMsgCount: target})
}

func mustMsg(body string) *domain.Message {
	return &domain.Message{ID: uuid.New(), Body: []byte(body)}
}

func TestPublishFetchFIFONoBudget(t *testing.T) {
	vq := newTestVQ(nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := vq.Publish(ctx, mustMsg("m")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var last domain.SeqID = ^domain.SeqID(0) // sentinel "before everything"
	first := true
	for i := 0; i < 5; i++ {
		f, ok, err := vq.Fetch(ctx, false)
		if err != nil || !ok {
			t.Fatalf("fetch %d: ok=%v err=%v", i, ok, err)
		}
		if !first && f.Status.SeqID <= last {
			t.Fatalf("fifo violated: seq %d after %d", f.Status.SeqID, last)
		}
		last = f.Status.SeqID
		first = false
	}
	if vq.Len() != 0 {
		t.Fatalf("expected empty queue, len=%d", vq.Len())
	}
}

func TestAckRemovesFromStore(t *testing.T) {
	vq := newTestVQ(nil)
	ctx := context.Background()

	msg := mustMsg("durable")
	msg.IsPersistent = true
	if _, err := vq.Publish(ctx, msg); err != nil {
		t.Fatal(err)
	}
	f, ok, err := vq.Fetch(ctx, true)
	if err != nil || !ok {
		t.Fatalf("fetch: ok=%v err=%v", ok, err)
	}
	if err := vq.Ack(ctx, []domain.AckTag{f.Tag}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, err := vq.store.Read(ctx, msg.ID); err == nil {
		t.Fatalf("expected body removed from store after ack")
	}
}

func TestRequeuePreservesBody(t *testing.T) {
	vq := newTestVQ(nil)
	ctx := context.Background()

	if _, err := vq.Publish(ctx, mustMsg("hello")); err != nil {
		t.Fatal(err)
	}
	f, ok, err := vq.Fetch(ctx, true)
	if err != nil || !ok {
		t.Fatalf("fetch: ok=%v err=%v", ok, err)
	}
	if err := vq.Requeue(ctx, []*domain.MsgStatus{f.Status}); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if vq.Len() != 1 {
		t.Fatalf("expected requeued message still counted, len=%d", vq.Len())
	}

	f2, ok, err := vq.Fetch(ctx, false)
	if err != nil || !ok {
		t.Fatalf("re-fetch: ok=%v err=%v", ok, err)
	}
	if string(f2.Body) != "hello" {
		t.Fatalf("body lost across requeue: %q", f2.Body)
	}
}

func TestBudgetZeroClassifiesToDiskEventually(t *testing.T) {
	zero := 0
	vq := newTestVQ(&zero)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := vq.Publish(ctx, mustMsg("x")); err != nil {
			t.Fatal(err)
		}
	}
	if vq.RAMMsgCount() != 0 {
		t.Fatalf("expected ram_msg_count 0 under zero budget, got %d", vq.RAMMsgCount())
	}
	if err := vq.checkInvariants(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestConservationInvariantHoldsUnderMixedLoad(t *testing.T) {
	target := 2
	vq := newTestVQ(&target)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if _, err := vq.Publish(ctx, mustMsg("x")); err != nil {
			t.Fatal(err)
		}
		if i%3 == 0 {
			if _, _, err := vq.Fetch(ctx, false); err != nil {
				t.Fatal(err)
			}
		}
		if err := vq.checkInvariants(); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
}

func TestPurgeEmptiesQueue(t *testing.T) {
	vq := newTestVQ(nil)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := vq.Publish(ctx, mustMsg("x")); err != nil {
			t.Fatal(err)
		}
	}
	n, err := vq.Purge(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("expected purge count 4, got %d", n)
	}
	if !vq.IsEmpty() {
		t.Fatalf("expected empty after purge")
	}
}

func TestTxCommitAppliesPublishesAndAcks(t *testing.T) {
	vq := newTestVQ(nil)
	ctx := context.Background()

	vq.TxPublish(mustMsg("a"))
	vq.TxPublish(mustMsg("b"))

	done := make(chan error, 1)
	if err := vq.TxCommit(ctx, func(err error) { done <- err }); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("replier error: %v", err)
	}
	if vq.Len() != 2 {
		t.Fatalf("expected 2 messages after commit, got %d", vq.Len())
	}
}

func TestTxRollbackDropsStaged(t *testing.T) {
	vq := newTestVQ(nil)
	vq.TxPublish(mustMsg("a"))
	vq.TxRollback()

	done := make(chan error, 1)
	if err := vq.TxCommit(context.Background(), func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	<-done
	if vq.Len() != 0 {
		t.Fatalf("expected rollback to drop staged publish, len=%d", vq.Len())
	}
}
