package vqueue

import "github.com/qbroker/core/internal/domain"

// classify implements residency decision function. Caller holds vq.mu.
func (vq *VQ) classifyLocked(seqID domain.SeqID) domain.Residency {
	target := vq.cfg.TargetRAMMsgCount

	// 1. undefined budget -> always keep the body in memory.
	if target == nil {
		return domain.ResidencyMsg
	}

	// 2. zero budget -> index, or neither once past the next segment boundary measured from q3's head.
	if *target == 0 {
		if vq.q3.Len() == 0 {
			return domain.ResidencyIndex
		}
		s0 := vq.q3.Front().Value.(*domain.MsgStatus).SeqID
		if seqID >= nextSegmentBoundary(s0, vq.cfg.SegmentSize) {
			return domain.ResidencyNeither
		}
		return domain.ResidencyIndex
	}

	// 3. room under budget -> keep in memory.
	if *target > vq.ramMsgCount {
		return domain.ResidencyMsg
	}

	// 4. at or over budget: an empty q1 puts this one straight to index; otherwise keep it as an alpha and let q1 elders spill later.
	if vq.q1.Len() == 0 {
		return domain.ResidencyIndex
	}
	return domain.ResidencyMsg
}
