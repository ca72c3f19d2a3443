package vqueue

import (
	"context"

	"github.com/qbroker/core/internal/domain"
)

// MessageStore is the out-of-scope on-disk message body store, specified here only as the interface the VQ calls synchronously.
// Concrete implementations live in internal/store.
type MessageStore interface {
	Write(ctx context.Context, id domain.MsgID, body []byte) error
	Read(ctx context.Context, id domain.MsgID) ([]byte, error)
	Remove(ctx context.Context, id domain.MsgID) error
	// Release is the advisory hint used by requeue: "release ... bodies from the message-store cache so the cache doesn't hold now-tail
	// items hot". May be a no-op.
	Release(ctx context.Context, id domain.MsgID) error
	// RequestSync asks the store to fsync the given ids and invoke done once persisted, backing the transactional commit fence.
	RequestSync(ctx context.Context, ids []domain.MsgID, done func(error))
}

// IndexEntry is one on-disk index record.
type IndexEntry struct {
	SeqID        domain.SeqID
	MsgID        domain.MsgID
	IsPersistent bool
	Delivered    bool
}

// IndexStore is the out-of-scope on-disk queue index.
type IndexStore interface {
	WriteEntries(ctx context.Context, entries []IndexEntry) error
	WriteDeliveredMarker(ctx context.Context, seq domain.SeqID) error
	WriteAcks(ctx context.Context, seqs []domain.SeqID) error
	// ReadRange loads up to count index entries starting at start, in ascending seq_id order, for refilling q3 from a delta segment.
	ReadRange(ctx context.Context, start domain.SeqID, count int) ([]IndexEntry, error)
	Sync(ctx context.Context, seqs []domain.SeqID) error
	DeleteRange(ctx context.Context, start, end domain.SeqID) error
	Terminate(ctx context.Context) error
}
