package vqueue

import (
	"container/list"
	"context"

	"github.com/qbroker/core/internal/domain"
)

// Publish implements "Publish". Delivery order in this implementation runs Q4 (head, smallest seq_id, drained first) ->
// Q3 -> delta -> Q2 -> Q1 (tail, largest seq_id). See DESIGN.md "Open questions resolved" for why this direction, rather than the literal
// prose of invariant 1, is the one this module enforces: the FIFO testable property is unambiguous and this is the only
// structure assignment consistent with it alongside "drain q4 first".
func (vq *VQ) Publish(ctx context.Context, msg *domain.Message) (domain.SeqID, error) {
	ctx = ctxOrBackground(ctx)
	vq.mu.Lock()
	defer vq.mu.Unlock()

	seqID := vq.nextSeqID
	vq.nextSeqID++
	vq.inCount++
	vq.length++

	status := &domain.MsgStatus{
		Msg:          msg,
		ID:           msg.ID,
		SeqID:        seqID,
		IsPersistent: msg.IsPersistent,
		Expiry:       msg.Expiry,
	}

	residency := vq.classifyLocked(seqID)
	if err := vq.applyResidencyLocked(ctx, status, residency); err != nil {
		return 0, err
	}
	return seqID, nil
}

func (vq *VQ) applyResidencyLocked(ctx context.Context, status *domain.MsgStatus, residency domain.Residency) error {
	switch residency {
	case domain.ResidencyMsg:
		return vq.applyMsgLocked(ctx, status)
	case domain.ResidencyIndex:
		return vq.applyIndexLocked(ctx, status)
	default:
		return vq.applyNeitherLocked(ctx, status)
	}
}

// applyMsgLocked: keep the body in RAM (alpha form).
func (vq *VQ) applyMsgLocked(ctx context.Context, status *domain.MsgStatus) error {
	if status.IsPersistent {
		if err := vq.store.Write(ctx, status.ID, status.Msg.Body); err != nil {
			return err
		}
		status.MsgOnDisk = true
	}

	pipelineBusy := vq.q2.Len() != 0 || !vq.delta.Empty() || vq.q3.Len() != 0
	if !pipelineBusy {
		vq.q4.PushBack(status)
	} else {
		vq.q1.PushBack(status)
	}
	vq.ramMsgCount++

	return vq.rebalanceAfterInsertLocked(ctx)
}

// rebalanceAfterInsertLocked implements "then try to push q1 elders to beta form": when a target is defined and ram_msg_count has drifted over
// it (an unavoidable transient bump from the insert above), spill q1's oldest entries out to beta form until back within budget or q1 drains.
func (vq *VQ) rebalanceAfterInsertLocked(ctx context.Context) error {
	target := vq.cfg.TargetRAMMsgCount
	if target == nil {
		return nil
	}
	for vq.ramMsgCount > *target && vq.q1.Len() > 0 {
		if err := vq.spillQ1FrontToBetaLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// applyIndexLocked: body on disk, index entry kept in RAM (beta form).
func (vq *VQ) applyIndexLocked(ctx context.Context, status *domain.MsgStatus) error {
	if err := vq.store.Write(ctx, status.ID, status.Msg.Body); err != nil {
		return err
	}
	status.MsgOnDisk = true
	body := status.Msg
	status.Msg = nil
	_ = body

	onDisk := vq.forceIndexToDiskLocked()
	if onDisk {
		if err := vq.index.WriteEntries(ctx, []IndexEntry{vq.entryOf(status)}); err != nil {
			return err
		}
		status.IndexOnDisk = true
	} else {
		vq.ramIndexCount++
	}

	if vq.delta.Empty() {
		vq.q3.PushBack(status)
	} else {
		vq.q2.PushBack(status)
	}
	return nil
}

// applyNeitherLocked: both body and index go straight to disk, and the message is folded directly into the delta region.
func (vq *VQ) applyNeitherLocked(ctx context.Context, status *domain.MsgStatus) error {
	if err := vq.store.Write(ctx, status.ID, status.Msg.Body); err != nil {
		return err
	}
	status.MsgOnDisk = true
	status.Msg = nil

	if err := vq.index.WriteEntries(ctx, []IndexEntry{vq.entryOf(status)}); err != nil {
		return err
	}
	status.IndexOnDisk = true

	if vq.delta.Empty() {
		vq.delta.Start = nextSegmentBoundary(status.SeqID, vq.cfg.SegmentSize) - domain.SeqID(vq.cfg.SegmentSize)
	}
	vq.delta.End = status.SeqID
	vq.delta.Count++
	return nil
}

func (vq *VQ) entryOf(status *domain.MsgStatus) IndexEntry {
	return IndexEntry{
		SeqID:        status.SeqID,
		MsgID:        status.ID,
		IsPersistent: status.IsPersistent,
		Delivered:    status.IsDelivered,
	}
}

// spillQ1FrontToBetaLocked pops q1's oldest (front) entry, persists its body if not already on disk, and appends it to the correct beta
// destination (q3 if delta empty, else q2), per memory policy step 1 ("push q1 tails onto beta").
func (vq *VQ) spillQ1FrontToBetaLocked(ctx context.Context) error {
	e := vq.q1.Front()
	if e == nil {
		return nil
	}
	status := e.Value.(*domain.MsgStatus)
	vq.q1.Remove(e)
	vq.ramMsgCount--

	if err := vq.demoteToBetaLocked(ctx, status); err != nil {
		return err
	}
	if vq.delta.Empty() {
		vq.q3.PushBack(status)
	} else {
		vq.q2.PushBack(status)
	}
	return nil
}

// spillQ4FrontToBetaLocked pops q4's head and demotes it to beta, always landing at q3's front ("push q4 heads onto beta (always to
// q3 via in_r)" — in_r is the Erlang queue "insert at front" operation; the evicted head is older than anything already resident in q3).
func (vq *VQ) spillQ4FrontToBetaLocked(ctx context.Context) error {
	e := vq.q4.Front()
	if e == nil {
		return nil
	}
	status := e.Value.(*domain.MsgStatus)
	vq.q4.Remove(e)
	vq.ramMsgCount--

	if err := vq.demoteToBetaLocked(ctx, status); err != nil {
		return err
	}
	vq.q3.PushFront(status)
	return nil
}

// demoteToBetaLocked persists an alpha entry's body (if not already persisted — transient messages never were) and drops the in-RAM body
// reference, turning the entry into beta form.
func (vq *VQ) demoteToBetaLocked(ctx context.Context, status *domain.MsgStatus) error {
	if !status.MsgOnDisk {
		if err := vq.store.Write(ctx, status.ID, status.Msg.Body); err != nil {
			return err
		}
		status.MsgOnDisk = true
	}
	status.Msg = nil
	return nil
}

// joinQ1IntoQ4Locked moves every q1 element onto q4's back, in order. Run when q3 and delta both empty out during fetch, per Fetch.
func (vq *VQ) joinQ1IntoQ4Locked() {
	for e := vq.q1.Front(); e != nil; {
		next := e.Next()
		vq.q1.Remove(e)
		vq.q4.PushBack(e.Value)
		e = next
	}
}

// maybeDeltasToBetasLocked refills q3 with one on-disk index segment's worth of entries from the front of delta, per Fetch.
func (vq *VQ) maybeDeltasToBetasLocked(ctx context.Context) error {
	if vq.delta.Empty() {
		return nil
	}
	segSize := vq.cfg.SegmentSize
	toLoad := vq.delta.Count
	if toLoad > segSize {
		toLoad = segSize
	}
	entries, err := vq.index.ReadRange(ctx, vq.delta.Start, toLoad)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		status := &domain.MsgStatus{
			ID:           ent.MsgID,
			SeqID:        ent.SeqID,
			IsPersistent: ent.IsPersistent,
			IsDelivered:  ent.Delivered,
			MsgOnDisk:    true,
			IndexOnDisk:  true,
		}
		vq.q3.PushBack(status)
	}
	loaded := domain.SeqID(len(entries))
	vq.delta.Start += loaded
	vq.delta.Count -= len(entries)
	if vq.delta.Count <= 0 {
		vq.delta = deltaRegion{}
	}
	return nil
}

var _ = list.List{} // keep container/list imported for doc clarity
