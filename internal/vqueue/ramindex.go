package vqueue

import (
	"container/list"
	"context"

	"github.com/qbroker/core/internal/domain"
)

// forceIndexToDiskLocked implements RAM_INDEX_BATCH_SIZE pressure valve: once ramIndexCount reaches the batch size, a fresh beta
// index entry is written to disk immediately instead of accumulating unboundedly in memory. Returns true when the caller must persist the
// entry itself.
func (vq *VQ) forceIndexToDiskLocked() bool {
	return vq.ramIndexCount >= RAMIndexBatchSize
}

// LimitRAMIndex implements `limit_ram_index`: flush the oldest beta entries' index records to disk until ramIndexCount is back under
// the batch size. Exported so the queue actor can call it on a timer, the way RabbitMQ calls it on hibernation and periodic housekeeping.
func (vq *VQ) LimitRAMIndex(ctx context.Context) error {
	ctx = ctxOrBackground(ctx)
	vq.mu.Lock()
	defer vq.mu.Unlock()
	return vq.limitRAMIndexLocked(ctx)
}

func (vq *VQ) limitRAMIndexLocked(ctx context.Context) error {
	if vq.ramIndexCount < RAMIndexBatchSize {
		return nil
	}
	target := RAMIndexBatchSize - 1

	if err := vq.flushRAMIndexIn(ctx, vq.q2, &target); err != nil {
		return err
	}
	if err := vq.flushRAMIndexIn(ctx, vq.q3, &target); err != nil {
		return err
	}
	return nil
}

// flushRAMIndexIn walks q front-to-back persisting any beta entry whose index is still RAM-only, stopping once ramIndexCount is at or below
// target.
func (vq *VQ) flushRAMIndexIn(ctx context.Context, q *list.List, target *int) error {
	var pending []IndexEntry
	var pendingStatus []*domain.MsgStatus

	for e := q.Front(); e != nil && vq.ramIndexCount > *target; e = e.Next() {
		st := e.Value.(*domain.MsgStatus)
		if st.IndexOnDisk {
			continue
		}
		pending = append(pending, vq.entryOf(st))
		pendingStatus = append(pendingStatus, st)
		vq.ramIndexCount--
	}
	if len(pending) == 0 {
		return nil
	}
	if err := vq.index.WriteEntries(ctx, pending); err != nil {
		vq.ramIndexCount += len(pending)
		return err
	}
	for _, st := range pendingStatus {
		st.IndexOnDisk = true
	}
	return nil
}
