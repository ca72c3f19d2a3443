// Package domain holds the data model shared by every queue subsystem: messages, their on-disk/in-memory residency envelope, consumers, credit
// records, and the channel-side bookkeeping a queue keeps per subscriber.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by queue operations. Callers match on these with errors.Is; none of them carry retry semantics beyond what's documented.
var (
	ErrNotFound    = errors.New("not found")
	ErrInUse       = errors.New("in use")
	ErrChannelExit = errors.New("channel exit")
	ErrClosed      = errors.New("queue closed")
)

// MsgID uniquely identifies a message body in the message store.
type MsgID = uuid.UUID

// SeqID is the monotone per-queue counter assigned at publish.
type SeqID uint64

// Message is the immutable payload a publisher hands to a queue.
type Message struct {
	ID           MsgID
	Body         []byte
	IsPersistent bool
	Expiry       time.Time // zero value means no x-message-ttl
	ContentType  string
}

// Equal compares messages by identity, per this design's "identity is the identifier" rule.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.ID == o.ID
}

// Residency is the VQ's decision of where a freshly published message's body and index entry should live.
type Residency int

const (
	ResidencyMsg Residency = iota
	ResidencyIndex
	ResidencyNeither
)

func (r Residency) String() string {
	switch r {
	case ResidencyMsg:
		return "msg"
	case ResidencyIndex:
		return "index"
	case ResidencyNeither:
		return "neither"
	default:
		return "unknown"
	}
}

// MsgStatus is the VQ's envelope around a message: the alpha/beta/delta residency bookkeeping.
type MsgStatus struct {
	Msg         *Message // nil once the body has migrated out of memory
	ID          MsgID
	SeqID       SeqID
	IsPersistent bool
	IsDelivered bool
	MsgOnDisk   bool
	IndexOnDisk bool
	Expiry      time.Time
}

// Invariant checks the per-message invariant index_on_disk => msg_on_disk. Nothing in this module calls it automatically.
func (s *MsgStatus) Invariant() error {
	if s.IndexOnDisk && !s.MsgOnDisk {
		return errors.New("invariant violated: index_on_disk implies msg_on_disk")
	}
	return nil
}

// AckTagKind distinguishes the two ack-tag shapes.
type AckTagKind int

const (
	AckNotOnDisk AckTagKind = iota
	AckOnDisk
)

// AckTag is the opaque receipt handed back to a consumer on delivery.
type AckTag struct {
	Kind  AckTagKind
	MsgID MsgID
	SeqID SeqID
}

// ConfirmClass classifies a publication's confirm obligation.
type ConfirmClass int

const (
	ConfirmNever ConfirmClass = iota
	ConfirmImmediately
	ConfirmEventually
)

// ClassifyConfirm implements "Confirms": eventually only applies to persistent messages landing in a durable queue.
func ClassifyConfirm(hasMsgSeqNo, isPersistent, durableQueue bool) ConfirmClass {
	if !hasMsgSeqNo {
		return ConfirmNever
	}
	if isPersistent && durableQueue {
		return ConfirmEventually
	}
	return ConfirmImmediately
}
