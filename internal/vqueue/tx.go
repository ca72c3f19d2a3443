package vqueue

import (
	"context"

	"github.com/qbroker/core/internal/domain"
)

type txAccumulator struct {
	pubs []*domain.Message
	acks []domain.AckTag
}

// TxPublish implements "tx_publish": stage a publication inside a channel transaction without making it visible to consumers yet.
func (vq *VQ) TxPublish(msg *domain.Message) {
	vq.mu.Lock()
	defer vq.mu.Unlock()
	vq.ensureTxLocked().pubs = append(vq.ensureTxLocked().pubs, msg)
}

// TxAck stages an ack inside the same transaction (groups acks into the transaction alongside publications).
func (vq *VQ) TxAck(tag domain.AckTag) {
	vq.mu.Lock()
	defer vq.mu.Unlock()
	vq.ensureTxLocked().acks = append(vq.ensureTxLocked().acks, tag)
}

func (vq *VQ) ensureTxLocked() *txAccumulator {
	if vq.txStage == nil {
		vq.txStage = &txAccumulator{}
	}
	return vq.txStage
}

// TxCommit implements "tx_commit": publish every staged message in order, then run the staged acks, and invoke replier once the commit
// is durable on disk for any publication that demanded it. Mirrors the on_sync fence: with persistent publications the replier fires from
// RequestSync's callback, so a reply can never outrun its own durability; with none (or on an error) it is called inline.
func (vq *VQ) TxCommit(ctx context.Context, replier func(error)) error {
	ctx = ctxOrBackground(ctx)

	vq.mu.Lock()
	tx := vq.txStage
	vq.txStage = nil
	vq.mu.Unlock()
	if tx == nil {
		tx = &txAccumulator{}
	}

	var durableIDs []domain.MsgID
	for _, m := range tx.pubs {
		if _, err := vq.Publish(ctx, m); err != nil {
			if replier != nil {
				replier(err)
			}
			return err
		}
		if m.IsPersistent {
			durableIDs = append(durableIDs, m.ID)
		}
	}
	if len(tx.acks) > 0 {
		if err := vq.Ack(ctx, tx.acks); err != nil {
			if replier != nil {
				replier(err)
			}
			return err
		}
	}

	if replier == nil {
		return nil
	}
	if len(durableIDs) == 0 {
		replier(nil)
		return nil
	}
	vq.store.RequestSync(ctx, durableIDs, replier)
	return nil
}

// TxCommitFromVQ implements "tx_commit_from_vq": a commit whose publications originated from this same VQ (e.g. replayed after a
// crash), skipping re-validation the caller already performed and inserting the already-built statuses directly at q4's back.
func (vq *VQ) TxCommitFromVQ(ctx context.Context, statuses []*domain.MsgStatus, replier func(error)) error {
	_ = ctx
	vq.mu.Lock()
	for _, st := range statuses {
		vq.q4.PushBack(st)
		vq.ramMsgCount++
		vq.length++
	}
	vq.mu.Unlock()

	if replier != nil {
		replier(nil)
	}
	return nil
}

// TxRollback implements "tx_rollback": discard staged work without applying any of it. TxPublish/TxAck only ever mutate the
// caller-held accumulator, never VQ state, so rollback is simply dropping that accumulator.
func (vq *VQ) TxRollback() {
	vq.mu.Lock()
	defer vq.mu.Unlock()
	vq.txStage = nil
}
