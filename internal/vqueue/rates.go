package vqueue

import (
	"context"
	"time"

	"github.com/qbroker/core/internal/domain"
)

const rateSmoothing = 0.5

// RemeasureRates implements "remeasure_rates": recompute the smoothed ingress/egress rate from the delta of in/out counters since the
// last call, then derive a fresh TargetRAMMsgCount from DurationTarget and apply any shrink it implies. The queue actor calls this on RateInterval.
func (vq *VQ) RemeasureRates(ctx context.Context, now time.Time) error {
	ctx = ctxOrBackground(ctx)
	vq.mu.Lock()
	defer vq.mu.Unlock()

	if vq.prevInstant.IsZero() {
		vq.prevInstant = now
		vq.prevInCount = vq.inCount
		vq.prevOutCount = vq.outCount
		return nil
	}

	elapsed := now.Sub(vq.prevInstant).Seconds()
	if elapsed <= 0 {
		return nil
	}
	instIn := float64(vq.inCount-vq.prevInCount) / elapsed
	instOut := float64(vq.outCount-vq.prevOutCount) / elapsed

	vq.avgIn = rateSmoothing*instIn + (1-rateSmoothing)*vq.avgIn
	vq.avgOut = rateSmoothing*instOut + (1-rateSmoothing)*vq.avgOut

	vq.prevInstant = now
	vq.prevInCount = vq.inCount
	vq.prevOutCount = vq.outCount

	return vq.applyDurationTargetLocked(ctx)
}

// SetDurationTarget implements `set_ram_duration_target`: nil means infinite (no cap at all); any other value derives a new
// TargetRAMMsgCount from the current egress rate and shrinks towards it.
func (vq *VQ) SetDurationTarget(ctx context.Context, target *time.Duration) error {
	ctx = ctxOrBackground(ctx)
	vq.mu.Lock()
	defer vq.mu.Unlock()
	vq.cfg.DurationTarget = target
	return vq.applyDurationTargetLocked(ctx)
}

func (vq *VQ) applyDurationTargetLocked(ctx context.Context) error {
	if vq.cfg.DurationTarget == nil {
		vq.cfg.TargetRAMMsgCount = nil
		return nil
	}
	rate := vq.avgOut
	if rate <= 0 {
		rate = vq.avgIn
	}
	newTarget := int(rate * vq.cfg.DurationTarget.Seconds())
	if newTarget < 0 {
		newTarget = 0
	}
	old := vq.cfg.TargetRAMMsgCount
	vq.cfg.TargetRAMMsgCount = &newTarget
	if old != nil && *old <= newTarget {
		return nil // growing, or unchanged: no eager migration (see fetch-driven reload)
	}
	return vq.shrinkToTargetLocked(ctx, newTarget)
}

// shrinkToTargetLocked implements memory policy steps 1-3: push q1 tails to beta, then q4 heads to beta, then (if the budget has
// collapsed to zero) push betas into delta outright.
func (vq *VQ) shrinkToTargetLocked(ctx context.Context, target int) error {
	for vq.ramMsgCount > target && vq.q1.Len() > 0 {
		if err := vq.spillQ1FrontToBetaLocked(ctx); err != nil {
			return err
		}
	}
	for vq.ramMsgCount > target && vq.q4.Len() > 0 {
		if err := vq.spillQ4FrontToBetaLocked(ctx); err != nil {
			return err
		}
	}
	if target == 0 {
		return vq.pushBetasToDeltaLocked(ctx)
	}
	return nil
}

// pushBetasToDeltaLocked folds every resident beta entry into the wholly-on-disk delta region: q2 (closest to delta's tail side) forward,
// then q3 (closest to delta's head side) backward, per memory policy step 3.
func (vq *VQ) pushBetasToDeltaLocked(ctx context.Context) error {
	for e := vq.q2.Front(); e != nil; {
		next := e.Next()
		st := e.Value.(*domain.MsgStatus)
		vq.q2.Remove(e)
		if err := vq.foldIntoDeltaEndLocked(ctx, st); err != nil {
			return err
		}
		e = next
	}

	for e := vq.q3.Back(); e != nil; {
		prev := e.Prev()
		st := e.Value.(*domain.MsgStatus)
		vq.q3.Remove(e)
		if err := vq.foldIntoDeltaStartLocked(ctx, st); err != nil {
			return err
		}
		e = prev
	}
	return nil
}

func (vq *VQ) foldIntoDeltaEndLocked(ctx context.Context, st *domain.MsgStatus) error {
	if !st.IndexOnDisk {
		if err := vq.index.WriteEntries(ctx, []IndexEntry{vq.entryOf(st)}); err != nil {
			return err
		}
		st.IndexOnDisk = true
		vq.ramIndexCount--
	}
	if vq.delta.Empty() {
		vq.delta.Start = nextSegmentBoundary(st.SeqID, vq.cfg.SegmentSize) - domain.SeqID(vq.cfg.SegmentSize)
	}
	vq.delta.End = st.SeqID
	vq.delta.Count++
	return nil
}

func (vq *VQ) foldIntoDeltaStartLocked(ctx context.Context, st *domain.MsgStatus) error {
	if !st.IndexOnDisk {
		if err := vq.index.WriteEntries(ctx, []IndexEntry{vq.entryOf(st)}); err != nil {
			return err
		}
		st.IndexOnDisk = true
		vq.ramIndexCount--
	}
	if vq.delta.Empty() {
		vq.delta.End = nextSegmentBoundary(st.SeqID, vq.cfg.SegmentSize) - 1
	}
	vq.delta.Start = st.SeqID
	vq.delta.Count++
	return nil
}
