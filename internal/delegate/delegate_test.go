package delegate

import (
	"context"
	"errors"
	"testing"
)

type testPID struct {
	node NodeID
	name string
}

func (p testPID) Node() NodeID  { return p.node }
func (p testPID) String() string { return string(p.node) + "/" + p.name }

func TestCallLocalSingleNode(t *testing.T) {
	d := New(nil, "local", 4, nil)
	targets := []PID{testPID{"local", "q1"}, testPID{"local", "q2"}}

	results := d.Call(context.Background(), targets, "stat", func(p PID) (any, error) {
		return p.String(), nil
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != StatusOK {
			t.Fatalf("expected ok, got %v (%v)", r.Status, r.Err)
		}
	}
}

func TestCallIndividualFailureDoesNotAbortOthers(t *testing.T) {
	d := New(nil, "local", 4, nil)
	targets := []PID{testPID{"local", "ok"}, testPID{"local", "bad"}}

	results := d.Call(context.Background(), targets, "op", func(p PID) (any, error) {
		if p.String() == "local/bad" {
			return nil, errors.New("boom")
		}
		return "fine", nil
	})

	var okCount, errCount int
	for _, r := range results {
		if r.Status == StatusOK {
			okCount++
		} else {
			errCount++
		}
	}
	if okCount != 1 || errCount != 1 {
		t.Fatalf("expected 1 ok and 1 error, got ok=%d err=%d", okCount, errCount)
	}
}

func TestCallRecoversPanic(t *testing.T) {
	d := New(nil, "local", 4, nil)
	targets := []PID{testPID{"local", "panicky"}}

	results := d.Call(context.Background(), targets, "op", func(p PID) (any, error) {
		panic("kaboom")
	})
	if len(results) != 1 || results[0].Status != StatusError {
		t.Fatalf("expected a single error result from panic recovery, got %+v", results)
	}
}

type fakeTransport struct {
	calls int
}

func (f *fakeTransport) Call(ctx context.Context, node NodeID, peerIndex int, targets []PID, op string) ([]Result, error) {
	f.calls++
	out := make([]Result, len(targets))
	for i, t := range targets {
		out[i] = Result{Status: StatusOK, Target: t}
	}
	return out, nil
}

func (f *fakeTransport) Cast(node NodeID, peerIndex int, targets []PID, op string) {
	f.calls++
}

func TestCallGroupsRemoteTargetsByNode(t *testing.T) {
	ft := &fakeTransport{}
	d := New(nil, "local", 4, ft)

	targets := []PID{
		testPID{"remote-a", "q1"},
		testPID{"remote-a", "q2"},
		testPID{"remote-b", "q3"},
	}
	results := d.Call(context.Background(), targets, "stat", func(p PID) (any, error) { return nil, nil })

	if ft.calls != 2 {
		t.Fatalf("expected one batched call per remote node, got %d", ft.calls)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
}
