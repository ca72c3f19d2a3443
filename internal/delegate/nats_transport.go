package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// simplePID is a PID implementation good enough for wire transport: every remote target is addressed purely by node+name, the delegate never needs
// to dereference it locally.
type simplePID struct {
	node NodeID
	name string
}

func NewPID(node NodeID, name string) PID { return simplePID{node: node, name: name} }

func (p simplePID) Node() NodeID { return p.node }
func (p simplePID) String() string {
	return fmt.Sprintf("%s/%s", p.node, p.name)
}

type wireRequest struct {
	Op      string   `json:"op"`
	Targets []string `json:"targets"`
}

type wireResult struct {
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Err    string `json:"err,omitempty"`
}

// NATSTransport implements Transport over a NATS request/reply subject per (node, peer-index), the realisation of "one batched request
// per remote node to a hashed peer worker on that node".
type NATSTransport struct {
	conn    *nats.Conn
	log     *zap.Logger
	timeout time.Duration
	// handleLocal executes a batch of targets that this transport's own subscriber receives (i.e. this process is itself a remote peer for
	// some other caller) and reports per-target success.
	handleLocal func(targets []string) []wireResult
}

// NewNATSTransport connects to url and subscribes this node's peer subjects so other nodes can fan in to it. handleLocal executes target names this
// process owns.
func NewNATSTransport(log *zap.Logger, url string, node NodeID, peerCount int, handleLocal func(targets []string) []wireResult) (*NATSTransport, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("delegate: nats connect: %w", err)
	}
	t := &NATSTransport{conn: conn, log: log, timeout: 5 * time.Second, handleLocal: handleLocal}

	for i := 0; i < peerCount; i++ {
		subject := peerSubject(node, i)
		if _, err := conn.Subscribe(subject, t.onRequest); err != nil {
			conn.Close()
			return nil, fmt.Errorf("delegate: subscribe %s: %w", subject, err)
		}
	}
	return t, nil
}

func peerSubject(node NodeID, peerIndex int) string {
	return fmt.Sprintf("qbroker.delegate.%s.%d", node, peerIndex)
}

func (t *NATSTransport) onRequest(msg *nats.Msg) {
	var req wireRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return
	}
	var results []wireResult
	if t.handleLocal != nil {
		results = t.handleLocal(req.Targets)
	}
	body, _ := json.Marshal(results)
	_ = msg.Respond(body)
}

// Call sends one batched request to the node's hashed peer subject.
func (t *NATSTransport) Call(ctx context.Context, node NodeID, peerIndex int, targets []PID, op string) ([]Result, error) {
	names := make([]string, len(targets))
	byName := make(map[string]PID, len(targets))
	for i, tg := range targets {
		names[i] = tg.String()
		byName[tg.String()] = tg
	}
	req := wireRequest{Op: op, Targets: names}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reply, err := t.conn.RequestWithContext(ctx, peerSubject(node, peerIndex), body)
	if err != nil {
		return nil, fmt.Errorf("delegate: nats request to %s: %w", node, err)
	}
	var wireResults []wireResult
	if err := json.Unmarshal(reply.Data, &wireResults); err != nil {
		return nil, err
	}
	out := make([]Result, len(wireResults))
	for i, wr := range wireResults {
		pid := byName[wr.Target]
		if wr.OK {
			out[i] = Result{Status: StatusOK, Target: pid}
		} else {
			out[i] = Result{Status: StatusError, Err: fmt.Errorf("%s", wr.Err), Target: pid}
		}
	}
	return out, nil
}

// Cast publishes the batch without waiting for a reply.
func (t *NATSTransport) Cast(node NodeID, peerIndex int, targets []PID, op string) {
	names := make([]string, len(targets))
	for i, tg := range targets {
		names[i] = tg.String()
	}
	body, err := json.Marshal(wireRequest{Op: op, Targets: names})
	if err != nil {
		return
	}
	if err := t.conn.Publish(peerSubject(node, peerIndex), body); err != nil && t.log != nil {
		t.log.Warn("delegate: nats cast failed", zap.String("node", string(node)), zap.Error(err))
	}
}

// Close closes the underlying NATS connection without draining it.
func (t *NATSTransport) Close() {
	t.conn.Close()
}
