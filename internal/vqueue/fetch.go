package vqueue

import (
	"context"

	"github.com/qbroker/core/internal/domain"
)

// Fetched is one message handed back by Fetch, paired with the ack tag the caller must hold onto to later Ack or Requeue it.
type Fetched struct {
	Status *domain.MsgStatus
	Body   []byte
	Tag    domain.AckTag
}

// Fetch implements "Fetch": drain q4 first; when q4 is empty, pull one entry off q3 (the head-adjacent beta buffer), loading its body
// from the store; when q3 then empties, either join q1 onto q4 (if delta is also empty) or refill q3 from the next on-disk delta segment.
func (vq *VQ) Fetch(ctx context.Context, ackRequired bool) (*Fetched, bool, error) {
	ctx = ctxOrBackground(ctx)
	vq.mu.Lock()
	defer vq.mu.Unlock()

	if vq.q4.Len() == 0 {
		if err := vq.refillQ4Locked(ctx); err != nil {
			return nil, false, err
		}
	}
	if vq.q4.Len() == 0 {
		return nil, false, nil
	}

	e := vq.q4.Front()
	vq.q4.Remove(e)
	status := e.Value.(*domain.MsgStatus)
	vq.ramMsgCount--
	vq.length--
	vq.outCount++

	body, err := vq.bodyOfLocked(ctx, status)
	if err != nil {
		return nil, false, err
	}

	kind := domain.AckNotOnDisk
	if status.MsgOnDisk {
		kind = domain.AckOnDisk
	}
	tag := domain.AckTag{Kind: kind, MsgID: status.ID, SeqID: status.SeqID}

	if ackRequired {
		status.IsDelivered = true
		if status.IndexOnDisk {
			if err := vq.index.WriteDeliveredMarker(ctx, status.SeqID); err != nil {
				return nil, false, err
			}
		}
	} else {
		if err := vq.discardLocked(ctx, status); err != nil {
			return nil, false, err
		}
	}

	return &Fetched{Status: status, Body: body, Tag: tag}, true, nil
}

// refillQ4Locked pulls entries forward until q4 has something or the queue is provably empty.
func (vq *VQ) refillQ4Locked(ctx context.Context) error {
	if vq.q3.Len() == 0 {
		if !vq.delta.Empty() {
			if err := vq.maybeDeltasToBetasLocked(ctx); err != nil {
				return err
			}
		}
		if vq.q3.Len() == 0 {
			if vq.delta.Empty() {
				vq.joinQ1IntoQ4Locked()
			}
			return nil
		}
	}

	e := vq.q3.Front()
	vq.q3.Remove(e)
	status := e.Value.(*domain.MsgStatus)
	vq.q4.PushBack(status)
	vq.ramMsgCount++

	if vq.q3.Len() == 0 {
		if vq.delta.Empty() {
			vq.joinQ1IntoQ4Locked()
		} else if err := vq.maybeDeltasToBetasLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// bodyOfLocked loads the message body, reading through to the store for beta/delta entries whose body isn't held in RAM.
func (vq *VQ) bodyOfLocked(ctx context.Context, status *domain.MsgStatus) ([]byte, error) {
	if status.Msg != nil {
		return status.Msg.Body, nil
	}
	return vq.store.Read(ctx, status.ID)
}

// discardLocked drops a message with no ack required: release its store reference and, if its index ever hit disk, record the ack there too.
func (vq *VQ) discardLocked(ctx context.Context, status *domain.MsgStatus) error {
	if status.MsgOnDisk {
		if err := vq.store.Remove(ctx, status.ID); err != nil {
			return err
		}
	}
	if status.IndexOnDisk {
		return vq.index.WriteAcks(ctx, []domain.SeqID{status.SeqID})
	}
	return nil
}
