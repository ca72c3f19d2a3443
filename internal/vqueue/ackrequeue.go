package vqueue

import (
	"container/list"
	"context"

	"github.com/qbroker/core/internal/domain"
)

// Ack implements "Ack": a delivered, ack-required message is now settled for good. Remove its body and, if it ever reached disk,
// its index record too.
func (vq *VQ) Ack(ctx context.Context, tags []domain.AckTag) error {
	ctx = ctxOrBackground(ctx)
	vq.mu.Lock()
	defer vq.mu.Unlock()

	var onDiskSeqs []domain.SeqID
	for _, tag := range tags {
		if tag.Kind == domain.AckOnDisk {
			if err := vq.store.Remove(ctx, tag.MsgID); err != nil {
				return err
			}
			onDiskSeqs = append(onDiskSeqs, tag.SeqID)
		}
	}
	if len(onDiskSeqs) == 0 {
		return nil
	}
	return vq.index.WriteAcks(ctx, onDiskSeqs)
}

// Requeue implements "Requeue": a delivered message goes back to the front of the logical queue (q4's front, since it must be
// redelivered before anything else waiting), with its message-store reference released so the cache doesn't hold now-tail items hot.
func (vq *VQ) Requeue(ctx context.Context, statuses []*domain.MsgStatus) error {
	ctx = ctxOrBackground(ctx)
	vq.mu.Lock()
	defer vq.mu.Unlock()

	for i := len(statuses) - 1; i >= 0; i-- {
		st := statuses[i]
		st.IsDelivered = false
		vq.q4.PushFront(st)
		vq.ramMsgCount++
		vq.length++
		if st.MsgOnDisk {
			if err := vq.store.Release(ctx, st.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Purge implements "Purge": discard every message without delivering it. Returns the count purged.
func (vq *VQ) Purge(ctx context.Context) (int, error) {
	ctx = ctxOrBackground(ctx)
	vq.mu.Lock()
	defer vq.mu.Unlock()

	count := vq.length
	for _, st := range vq.collectAllLocked() {
		if err := vq.discardLocked(ctx, st); err != nil {
			return 0, err
		}
	}
	if !vq.delta.Empty() {
		// Delta entries were never loaded back into memory, so their MsgIDs aren't known here; dropping the index range is enough
		// to make them unreachable, and the store's own orphan sweep (out of scope, ) reclaims the bodies.
		if err := vq.index.DeleteRange(ctx, vq.delta.Start, vq.delta.End); err != nil {
			return 0, err
		}
	}
	vq.resetStagesLocked()
	return count, nil
}

// Delete implements "Delete": purge, then tear down the underlying index and release the store's hold entirely.
func (vq *VQ) Delete(ctx context.Context) error {
	ctx = ctxOrBackground(ctx)
	if _, err := vq.Purge(ctx); err != nil {
		return err
	}
	return vq.index.Terminate(ctx)
}

// collectAllLocked returns every resident entry across all five stages, in delivery order (q4, q3, delta is on-disk only and has no in-memory
// entries to collect, q2, q1).
func (vq *VQ) collectAllLocked() []*domain.MsgStatus {
	var out []*domain.MsgStatus
	for _, q := range []*list.List{vq.q4, vq.q3, vq.q2, vq.q1} {
		for e := q.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(*domain.MsgStatus))
		}
	}
	return out
}

func (vq *VQ) resetStagesLocked() {
	vq.q1.Init()
	vq.q2.Init()
	vq.q3.Init()
	vq.q4.Init()
	vq.delta = deltaRegion{}
	vq.length = 0
	vq.ramMsgCount = 0
	vq.ramIndexCount = 0
}
