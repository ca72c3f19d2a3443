package limiter

import "github.com/qbroker/core/internal/domain"

// Token is the small handle a consumer holds, carrying the limiter and enough state to short-circuit to "permitted" when flow control is off.
// When enabled is false, all methods short-circuit as permitted.
type Token struct {
	limiter *Limiter
	enabled bool
}

// Enable returns a token bound to l. If l is nil the token is permanently disabled, matching the "no limiter configured" case.
func Enable(l *Limiter) Token {
	return Token{limiter: l, enabled: l != nil}
}

// Disabled returns a token that always permits.
func Disabled() Token {
	return Token{enabled: false}
}

// Enabled reports whether this token actually gates anything.
func (t Token) Enabled() bool {
	return t.enabled
}

// CanSend delegates to the limiter, or permits unconditionally when disabled.
func (t Token) CanSend(queueID domain.ChannelID, requiresAck bool) bool {
	if !t.enabled {
		return true
	}
	return t.limiter.CanSend(queueID, requiresAck)
}

// Ack delegates to the limiter, a no-op when disabled.
func (t Token) Ack(n int) {
	if !t.enabled {
		return
	}
	t.limiter.Ack(n)
}

// IsBlocked delegates to the limiter; a disabled token is never blocked.
func (t Token) IsBlocked() bool {
	if !t.enabled {
		return false
	}
	return t.limiter.IsBlocked()
}
