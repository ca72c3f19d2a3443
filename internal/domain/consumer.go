package domain

// ChannelID identifies the channel a consumer is attached through. Channels and connections are external collaborators; we only need an
// opaque comparable identifier for bookkeeping.
type ChannelID uint64

// ConsumerTag uniquely identifies a consumer within one queue.
type ConsumerTag string

// Consumer is the "Consumer" record.
type Consumer struct {
	Channel       ChannelID
	Tag           ConsumerTag
	RequiresAck   bool
	Exclusive     bool
}

// CreditRecord is the per-consumer AMQP 1.0-style link-credit record ("Credit record"). Count is a wrap-tolerant serial number; use
// SerialGTE/SerialDiff (serial.go) rather than plain comparison on it.
type CreditRecord struct {
	Credit int64
	Count  uint32
	Drain  bool
}

// Unlimited reports whether this consumer has no link-credit constraint at all (the queue actor treats a missing CreditRecord the same way).
func (c *CreditRecord) Unlimited() bool {
	return c == nil
}

// HasCredit reports whether at least one more message may be sent.
func (c *CreditRecord) HasCredit() bool {
	if c.Unlimited() {
		return true
	}
	return c.Credit > 0
}

// Deliver consumes one unit of credit and advances Count by one, the normal (non-drain) accounting path.
func (c *CreditRecord) Deliver() {
	if c == nil {
		return
	}
	if c.Credit > 0 {
		c.Credit--
	}
	c.Count++
}

// DrainToZero implements "magic reduction to 0": when Drain is set and the queue has fewer messages left than credit, advance Count by the
// full remaining credit and zero it out, signalling the caller to echo a send_credit(credit=0) back to the channel.
func (c *CreditRecord) DrainToZero(queueLenAfterDeliver int) (shouldEcho bool) {
	if c == nil || !c.Drain {
		return false
	}
	if queueLenAfterDeliver > 0 {
		return false
	}
	if c.Credit <= 0 {
		return false
	}
	c.Count += uint32(c.Credit)
	c.Credit = 0
	return true
}

// SetCredit rebases a consumer's credit record per "Consumer re-enables (credit flow)". unblocked reports whether the consumer moved
// from 0 credit to having credit, the signal to move it blocked->active.
func (c *CreditRecord) SetCredit(credit int64, count uint32, drain bool) (unblocked bool) {
	hadCredit := c.HasCredit()
	c.Credit = credit
	c.Count = count
	c.Drain = drain
	return !hadCredit && c.HasCredit()
}

// AckTagSet tracks outstanding ack-tags for a channel — used by ChannelRecord to know when it is safe to garbage-collect.
type AckTagSet map[AckTag]SeqID

// ChannelRecord is the per-channel side-state a queue keeps. LimiterBlocked is the channel's limit-active flag.
type ChannelRecord struct {
	Channel        ChannelID
	ConsumerCount  int
	AckTags        AckTagSet
	LimiterBlocked bool
	UnsentCount    int
}

// Idle reports whether the channel record can be garbage collected, per "destroyed when consumer count, ack set, and unsent count all
// reach zero".
func (r *ChannelRecord) Idle() bool {
	return r.ConsumerCount == 0 && len(r.AckTags) == 0 && r.UnsentCount == 0
}
