package creditflow

import "testing"

func TestSendBlocksAtZero(t *testing.T) {
	l := New(nil, nil)
	for i := 0; i < MaxCredit; i++ {
		l.Send("downstream")
	}
	if !l.IsBlockedBy("downstream") {
		t.Fatalf("expected blocked after exhausting credit")
	}
	if l.CreditFrom("downstream") != 0 {
		t.Fatalf("expected credit_from=0, got %d", l.CreditFrom("downstream"))
	}
}

func TestHandleBumpUnblocks(t *testing.T) {
	l := New(nil, nil)
	for i := 0; i < MaxCredit; i++ {
		l.Send("downstream")
	}
	l.HandleBump("downstream", MaxCredit-MoreCreditAt)
	if l.IsBlockedBy("downstream") {
		t.Fatalf("expected unblocked after bump")
	}
}

func TestAckIssuesGrantAtThreshold(t *testing.T) {
	var gotPeer PeerID
	var gotN int
	l := New(nil, func(p PeerID, n int) { gotPeer, gotN = p, n })

	for i := 0; i < MaxCredit-MoreCreditAt+1; i++ {
		l.Ack("upstream")
	}
	if gotPeer != "upstream" {
		t.Fatalf("expected grant sent to upstream, got %q", gotPeer)
	}
	if gotN != MaxCredit-MoreCreditAt {
		t.Fatalf("expected grant of %d, got %d", MaxCredit-MoreCreditAt, gotN)
	}
	if l.CreditTo("upstream") != MaxCredit {
		t.Fatalf("expected credit_to reset to MaxCredit, got %d", l.CreditTo("upstream"))
	}
}

func TestGrantDeferredWhileBlocked(t *testing.T) {
	sent := 0
	l := New(nil, func(PeerID, int) { sent++ })

	// Block ourselves against some other peer first.
	for i := 0; i < MaxCredit; i++ {
		l.Send("other")
	}

	for i := 0; i < MaxCredit-MoreCreditAt+1; i++ {
		l.Ack("upstream")
	}
	if sent != 0 {
		t.Fatalf("expected grant deferred while blocked, got %d sends", sent)
	}

	l.HandleBump("other", MaxCredit)
	if sent != 1 {
		t.Fatalf("expected deferred grant flushed after unblock, got %d sends", sent)
	}
}

func TestPeerDownIsIdempotent(t *testing.T) {
	l := New(nil, nil)
	l.Send("p")
	l.PeerDown("p")
	l.PeerDown("p")
	if l.CreditFrom("p") != 0 {
		t.Fatalf("expected zero-value state after peer_down")
	}
}
