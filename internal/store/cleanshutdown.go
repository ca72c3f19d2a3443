package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanShutdownStore persists the clean-shutdown recovery terms as an opaque blob, keyed by queue name (Insert, Lookup, Member, Delete).
// Nothing in this module writes terms on stop or reads them back at startup; cmd/brokerd only calls Sync. The blob's contents are never
// interpreted here — only DESIGN.md's "Open questions resolved" records that decision.
type CleanShutdownStore struct {
	pool *pgxpool.Pool
}

func NewCleanShutdownStore(pool *pgxpool.Pool) *CleanShutdownStore {
	return &CleanShutdownStore{pool: pool}
}

func (s *CleanShutdownStore) Insert(ctx context.Context, queueName string, term []byte) error {
	const q = `
		INSERT INTO clean_shutdown (queue_name, term)
		VALUES ($1, $2)
		ON CONFLICT (queue_name) DO UPDATE SET term = EXCLUDED.term`
	if _, err := s.pool.Exec(ctx, q, queueName, term); err != nil {
		return fmt.Errorf("cleanshutdown: insert %s: %w", queueName, err)
	}
	return nil
}

func (s *CleanShutdownStore) Lookup(ctx context.Context, queueName string) ([]byte, bool, error) {
	const q = `SELECT term FROM clean_shutdown WHERE queue_name = $1`
	var term []byte
	if err := s.pool.QueryRow(ctx, q, queueName).Scan(&term); err != nil {
		return nil, false, nil
	}
	return term, true, nil
}

func (s *CleanShutdownStore) Member(ctx context.Context, queueName string) (bool, error) {
	_, ok, err := s.Lookup(ctx, queueName)
	return ok, err
}

func (s *CleanShutdownStore) Delete(ctx context.Context, queueName string) error {
	const q = `DELETE FROM clean_shutdown WHERE queue_name = $1`
	if _, err := s.pool.Exec(ctx, q, queueName); err != nil {
		return fmt.Errorf("cleanshutdown: delete %s: %w", queueName, err)
	}
	return nil
}

// Sync is a no-op placeholder mirroring the index store's Sync, present so callers can treat clean-shutdown terms the same way across a
// uniform "persist, then sync" sequence.
func (s *CleanShutdownStore) Sync(context.Context) error { return nil }
