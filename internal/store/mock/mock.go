// Package mock provides in-memory test doubles for vqueue's MessageStore and IndexStore, grounded on the upstream reference's repository/mock/mock.go style
// (plain maps behind a mutex, optional Fn overrides, recorded calls).
package mock

import (
	"context"
	"sync"

	"github.com/qbroker/core/internal/domain"
	"github.com/qbroker/core/internal/vqueue"
)

var (
	_ vqueue.MessageStore = (*MessageStore)(nil)
	_ vqueue.IndexStore   = (*IndexStore)(nil)
)

// MessageStore is a test double for vqueue.MessageStore.
type MessageStore struct {
	mu sync.Mutex

	WriteFn func(ctx context.Context, id domain.MsgID, body []byte) error

	bodies      map[domain.MsgID][]byte
	WriteCalls  []domain.MsgID
	RemoveCalls []domain.MsgID
}

func NewMessageStore() *MessageStore {
	return &MessageStore{bodies: map[domain.MsgID][]byte{}}
}

func (m *MessageStore) Write(ctx context.Context, id domain.MsgID, body []byte) error {
	m.mu.Lock()
	m.WriteCalls = append(m.WriteCalls, id)
	cp := make([]byte, len(body))
	copy(cp, body)
	m.bodies[id] = cp
	m.mu.Unlock()
	if m.WriteFn != nil {
		return m.WriteFn(ctx, id, body)
	}
	return nil
}

func (m *MessageStore) Read(_ context.Context, id domain.MsgID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bodies[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (m *MessageStore) Remove(_ context.Context, id domain.MsgID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveCalls = append(m.RemoveCalls, id)
	delete(m.bodies, id)
	return nil
}

func (m *MessageStore) Release(context.Context, domain.MsgID) error { return nil }

func (m *MessageStore) RequestSync(_ context.Context, _ []domain.MsgID, done func(error)) {
	if done != nil {
		done(nil)
	}
}

// IndexStore is a test double for vqueue.IndexStore.
type IndexStore struct {
	mu      sync.Mutex
	entries map[domain.SeqID]vqueue.IndexEntry

	TerminateCalls int
}

func NewIndexStore() *IndexStore {
	return &IndexStore{entries: map[domain.SeqID]vqueue.IndexEntry{}}
}

func (ix *IndexStore) WriteEntries(_ context.Context, entries []vqueue.IndexEntry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range entries {
		ix.entries[e.SeqID] = e
	}
	return nil
}

func (ix *IndexStore) WriteDeliveredMarker(_ context.Context, seq domain.SeqID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e := ix.entries[seq]
	e.Delivered = true
	ix.entries[seq] = e
	return nil
}

func (ix *IndexStore) WriteAcks(_ context.Context, seqs []domain.SeqID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, s := range seqs {
		delete(ix.entries, s)
	}
	return nil
}

func (ix *IndexStore) ReadRange(_ context.Context, start domain.SeqID, count int) ([]vqueue.IndexEntry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out []vqueue.IndexEntry
	for i := 0; i < count; i++ {
		if e, ok := ix.entries[start+domain.SeqID(i)]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (ix *IndexStore) Sync(context.Context, []domain.SeqID) error { return nil }

func (ix *IndexStore) DeleteRange(_ context.Context, start, end domain.SeqID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for s := start; s <= end; s++ {
		delete(ix.entries, s)
	}
	return nil
}

func (ix *IndexStore) Terminate(context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.TerminateCalls++
	ix.entries = map[domain.SeqID]vqueue.IndexEntry{}
	return nil
}
