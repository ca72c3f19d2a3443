// Package delegate implements the cross-node fan-out helper : dispatch one operation to N target processes, grouped by owning node,
// with result gathering. A target set that is entirely local is invoked inline per single-node optimisation.
package delegate

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// NodeID identifies an owning node. The local node is compared by value against Delegate.localNode.
type NodeID string

// PID is an opaque target process identifier; Node() reports which node owns it.
type PID interface {
	Node() NodeID
	String() string
}

// Status is the outcome of one target's call.
type Status int

const (
	StatusOK Status = iota
	StatusError
)

// Result is one target's outcome, never aborting the others' calls.
type Result struct {
	Status Status
	Value  any
	Err    error
	Target PID
}

// Transport delivers a batched request to a remote node's hashed peer and waits for the batched reply. Production wiring uses natstransport
// (NewNATSTransport); tests use a local in-process fake.
type Transport interface {
	Call(ctx context.Context, node NodeID, peerIndex int, targets []PID, op string) ([]Result, error)
	Cast(node NodeID, peerIndex int, targets []PID, op string)
}

// Delegate groups targets by node: it invokes f on each local target and sends one Transport request per remote node.
type Delegate struct {
	log       *zap.Logger
	localNode NodeID
	peerCount int
	transport Transport

	mu         sync.Mutex
	peerOfNode map[NodeID]int // memoised hashed peer index per caller->node
}

// New creates a Delegate. peerCount defaults to a small multiple of GOMAXPROCS when <= 0, per "small multiple of CPU count".
func New(log *zap.Logger, localNode NodeID, peerCount int, transport Transport) *Delegate {
	if peerCount <= 0 {
		peerCount = runtime.GOMAXPROCS(0) * 2
		if peerCount < 1 {
			peerCount = 1
		}
	}
	return &Delegate{
		log:        log,
		localNode:  localNode,
		peerCount:  peerCount,
		transport:  transport,
		peerOfNode: make(map[NodeID]int),
	}
}

func (d *Delegate) peerFor(node NodeID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peerOfNode[node]; ok {
		return p
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(node))
	p := int(h.Sum32()) % d.peerCount
	if p < 0 {
		p += d.peerCount
	}
	d.peerOfNode[node] = p
	return p
}

func groupByNode(targets []PID) map[NodeID][]PID {
	grouped := make(map[NodeID][]PID)
	for _, t := range targets {
		grouped[t.Node()] = append(grouped[t.Node()], t)
	}
	return grouped
}

// Call invokes f(pid) for every target, grouped by owning node: one after another for this node's targets, and via one batched Transport.Call per
// remote node; the node groups run concurrently. Individual failures never abort peers' calls and surface as Result{Status: StatusError}.
func (d *Delegate) Call(ctx context.Context, targets []PID, op string, f func(PID) (any, error)) []Result {
	grouped := groupByNode(targets)

	var wg sync.WaitGroup
	results := make([][]Result, 0, len(grouped))
	var mu sync.Mutex

	for node, group := range grouped {
		node, group := node, group
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out []Result
			if node == d.localNode || d.transport == nil {
				out = d.callLocal(group, f)
			} else {
				var err error
				out, err = d.transport.Call(ctx, node, d.peerFor(node), group, op)
				if err != nil {
					out = errorResults(group, err)
				}
			}
			mu.Lock()
			results = append(results, out)
			mu.Unlock()
		}()
	}
	wg.Wait()

	flat := make([]Result, 0, len(targets))
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat
}

// callLocal runs f inline for every target on this node, recovering from panics into StatusError results so one bad target can't crash the batch.
func (d *Delegate) callLocal(targets []PID, f func(PID) (any, error)) []Result {
	out := make([]Result, len(targets))
	for i, t := range targets {
		out[i] = d.safeCall(t, f)
	}
	return out
}

func (d *Delegate) safeCall(t PID, f func(PID) (any, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Status: StatusError, Err: fmt.Errorf("panic: %v", r), Target: t}
			if d.log != nil {
				d.log.Error("delegate: target call panicked", zap.String("target", t.String()), zap.Any("panic", r))
			}
		}
	}()
	v, err := f(t)
	if err != nil {
		return Result{Status: StatusError, Err: err, Target: t}
	}
	return Result{Status: StatusOK, Value: v, Target: t}
}

func errorResults(targets []PID, err error) []Result {
	out := make([]Result, len(targets))
	for i, t := range targets {
		out[i] = Result{Status: StatusError, Err: err, Target: t}
	}
	return out
}

// Cast is the fire-and-forget variant: same grouping, no replies awaited.
func (d *Delegate) Cast(targets []PID, op string, f func(PID)) {
	grouped := groupByNode(targets)
	for node, group := range grouped {
		if node == d.localNode || d.transport == nil {
			for _, t := range group {
				func(t PID) {
					defer func() { recover() }()
					f(t)
				}(t)
			}
			continue
		}
		d.transport.Cast(node, d.peerFor(node), group, op)
	}
}
