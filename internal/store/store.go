// Package store holds the pgx-backed implementations of vqueue's MessageStore and IndexStore collaborator interfaces, plus the
// clean-shutdown recovery table. Concrete implementations are deliberately outside internal/vqueue to avoid the queue logic importing
// a database driver directly — vqueue only ever sees the interfaces.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qbroker/core/internal/domain"
	"github.com/qbroker/core/internal/vqueue"
)

var (
	_ vqueue.MessageStore = (*MessageStore)(nil)
	_ vqueue.IndexStore   = (*IndexStore)(nil)
)

// MessageStore is the pgx-backed body store, grounded on the upstream reference's postgres/job_repo.go query style (plain SQL, no ORM, tagged errors).
type MessageStore struct {
	pool *pgxpool.Pool
}

// NewMessageStore wraps an existing connection pool.
func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Write(ctx context.Context, id domain.MsgID, body []byte) error {
	const q = `
		INSERT INTO message_bodies (msg_id, body, written_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (msg_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, id, body, time.Now().UTC()); err != nil {
		return fmt.Errorf("store: write %s: %w", id, err)
	}
	return nil
}

func (s *MessageStore) Read(ctx context.Context, id domain.MsgID) ([]byte, error) {
	const q = `SELECT body FROM message_bodies WHERE msg_id = $1`
	var body []byte
	if err := s.pool.QueryRow(ctx, q, id).Scan(&body); err != nil {
		return nil, fmt.Errorf("store: read %s: %w", id, domain.ErrNotFound)
	}
	return body, nil
}

func (s *MessageStore) Remove(ctx context.Context, id domain.MsgID) error {
	const q = `DELETE FROM message_bodies WHERE msg_id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("store: remove %s: %w", id, err)
	}
	return nil
}

// Release is advisory: nothing to release for a straight table-backed store (leaves the message-store cache's internals out of
// scope). Kept as a no-op implementing the interface.
func (s *MessageStore) Release(context.Context, domain.MsgID) error { return nil }

// RequestSync fsyncs by relying on Postgres's own WAL durability: a successful Write is already durable once committed, so the callback
// fires immediately. A store backed by a raw file handle cache (see internal/handlecache) would instead batch an fsync here.
func (s *MessageStore) RequestSync(_ context.Context, _ []domain.MsgID, done func(error)) {
	if done != nil {
		done(nil)
	}
}

// IndexStore is the pgx-backed queue index, grounded on the same query-per-method style as MessageStore.
type IndexStore struct {
	pool      *pgxpool.Pool
	queueName string
}

// NewIndexStore scopes an index to one queue's rows.
func NewIndexStore(pool *pgxpool.Pool, queueName string) *IndexStore {
	return &IndexStore{pool: pool, queueName: queueName}
}

func (ix *IndexStore) WriteEntries(ctx context.Context, entries []vqueue.IndexEntry) error {
	const q = `
		INSERT INTO queue_index (queue_name, seq_id, msg_id, is_persistent, delivered)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (queue_name, seq_id) DO NOTHING`
	for _, e := range entries {
		if _, err := ix.pool.Exec(ctx, q, ix.queueName, e.SeqID, e.MsgID, e.IsPersistent, e.Delivered); err != nil {
			return fmt.Errorf("index: write entry seq=%d: %w", e.SeqID, err)
		}
	}
	return nil
}

func (ix *IndexStore) WriteDeliveredMarker(ctx context.Context, seq domain.SeqID) error {
	const q = `UPDATE queue_index SET delivered = true WHERE queue_name = $1 AND seq_id = $2`
	if _, err := ix.pool.Exec(ctx, q, ix.queueName, seq); err != nil {
		return fmt.Errorf("index: mark delivered seq=%d: %w", seq, err)
	}
	return nil
}

func (ix *IndexStore) WriteAcks(ctx context.Context, seqs []domain.SeqID) error {
	const q = `DELETE FROM queue_index WHERE queue_name = $1 AND seq_id = $2`
	for _, s := range seqs {
		if _, err := ix.pool.Exec(ctx, q, ix.queueName, s); err != nil {
			return fmt.Errorf("index: ack seq=%d: %w", s, err)
		}
	}
	return nil
}

func (ix *IndexStore) ReadRange(ctx context.Context, start domain.SeqID, count int) ([]vqueue.IndexEntry, error) {
	const q = `
		SELECT seq_id, msg_id, is_persistent, delivered
		FROM queue_index
		WHERE queue_name = $1 AND seq_id >= $2
		ORDER BY seq_id ASC
		LIMIT $3`
	rows, err := ix.pool.Query(ctx, q, ix.queueName, start, count)
	if err != nil {
		return nil, fmt.Errorf("index: read range from %d: %w", start, err)
	}
	defer rows.Close()

	var out []vqueue.IndexEntry
	for rows.Next() {
		var e vqueue.IndexEntry
		if err := rows.Scan(&e.SeqID, &e.MsgID, &e.IsPersistent, &e.Delivered); err != nil {
			return nil, fmt.Errorf("index: scan range: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (ix *IndexStore) Sync(ctx context.Context, _ []domain.SeqID) error {
	return nil // Postgres commit durability already covers this
}

func (ix *IndexStore) DeleteRange(ctx context.Context, start, end domain.SeqID) error {
	const q = `DELETE FROM queue_index WHERE queue_name = $1 AND seq_id BETWEEN $2 AND $3`
	if _, err := ix.pool.Exec(ctx, q, ix.queueName, start, end); err != nil {
		return fmt.Errorf("index: delete range [%d,%d]: %w", start, end, err)
	}
	return nil
}

func (ix *IndexStore) Terminate(ctx context.Context) error {
	const q = `DELETE FROM queue_index WHERE queue_name = $1`
	if _, err := ix.pool.Exec(ctx, q, ix.queueName); err != nil {
		return fmt.Errorf("index: terminate %s: %w", ix.queueName, err)
	}
	return nil
}
