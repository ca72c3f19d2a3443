package config

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueArguments is the parsed form of a queue's declare-time argument table. amqp091-go's amqp.Table is reused here purely as the wire
// type for AMQP argument tables (spec GLOSSARY "x-arguments") — this module never opens an AMQP connection with it.
type QueueArguments struct {
	MessageTTL     time.Duration
	HasMessageTTL  bool
	MaxLength      int
	HasMaxLength   bool
	Durable        bool
	DeliverLimit   int
	HasDeliverLimit bool
}

// ParseQueueArguments reads the handful of x-arguments this broker understands out of a raw AMQP table, ignoring keys it doesn't.
func ParseQueueArguments(table amqp.Table) QueueArguments {
	var qa QueueArguments

	if v, ok := table["x-message-ttl"]; ok {
		if ms, ok := toInt64(v); ok {
			qa.MessageTTL = time.Duration(ms) * time.Millisecond
			qa.HasMessageTTL = true
		}
	}
	if v, ok := table["x-max-length"]; ok {
		if n, ok := toInt64(v); ok {
			qa.MaxLength = int(n)
			qa.HasMaxLength = true
		}
	}
	if v, ok := table["x-delivery-limit"]; ok {
		if n, ok := toInt64(v); ok {
			qa.DeliverLimit = int(n)
			qa.HasDeliverLimit = true
		}
	}
	return qa
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int16:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
