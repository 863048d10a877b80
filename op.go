package homa

import (
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of an Op.
type State uint32

const (
	// StateNotStarted means the op has not yet sent or received anything.
	StateNotStarted = State(0)
	// StateInProgress means the op has traffic in flight.
	StateInProgress = State(1)
	// StateCompleted means the op finished successfully.
	StateCompleted = State(2)
	// StateFailed is reserved for upper layers to mark an op failed.
	StateFailed = State(3)
)

var stateNames = map[State]string{
	StateNotStarted: "NOT_STARTED",
	StateInProgress: "IN_PROGRESS",
	StateCompleted:  "COMPLETED",
	StateFailed:     "FAILED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "INVALID"
}

// Op is a single remote operation: an inbound message paired with an
// outbound message progressing through a lifecycle. Ops are allocated by
// a Transport and must not be used concurrently by multiple application
// goroutines.
type Op struct {
	mu         sync.Mutex
	t          *Transport
	server     bool
	state      atomic.Uint32
	retained   atomic.Bool
	destroy    bool          // guarded by mu
	inMessage  *InboundMessage // guarded by mu
	outMessage OutboundMessage
	outHeader  MessageHeader
}

// State returns the current lifecycle state.
func (op *Op) State() State { return State(op.state.Load()) }

// setState records a state change and asks the transport to reconsider
// the op on the next tick. Callers hold op.mu.
func (op *Op) setState(s State) {
	op.state.Store(uint32(s))
	op.t.hintUpdate(op)
}

// Append adds application payload bytes to the outbound message.
func (op *Op) Append(data []byte) error {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.destroy || op.outMessage.message == nil {
		return ErrOpReleased{}
	}
	return op.outMessage.message.Append(data)
}

// Payload returns the application payload of the received message, or
// nil if no complete message has arrived.
func (op *Op) Payload() []byte {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.inMessage == nil || !op.inMessage.Ready() {
		return nil
	}
	return op.inMessage.Message().Bytes(MessageHeaderSize)
}

// hintUpdate asks the transport to re-run processUpdates on this op.
func (op *Op) hintUpdate() {
	op.t.hintUpdate(op)
}

// processUpdates drives the op's state machine one step. Callers hold
// op.mu; the transport mutex must not be held.
func (op *Op) processUpdates() {
	if op.destroy {
		return
	}
	if op.server {
		switch op.State() {
		case StateNotStarted:
			if op.inMessage != nil && op.inMessage.Ready() {
				op.setState(StateInProgress)
				op.t.queuePendingServerOp(op)
			}
		case StateInProgress:
			if op.outMessage.IsDone() {
				op.setState(StateCompleted)
				if op.inMessage != nil && op.inMessage.Id().Tag != InitialRequestTag {
					op.t.sendDone(op.inMessage.Id(), op.inMessage.Source())
				}
			}
		case StateCompleted, StateFailed:
			if !op.retained.Load() {
				op.drop()
			}
		}
		return
	}
	if !op.retained.Load() {
		op.drop()
		return
	}
	if op.State() == StateInProgress {
		if op.inMessage != nil && op.inMessage.Ready() {
			op.setState(StateCompleted)
		}
	}
}

// drop marks the op for reclamation and queues it for cleanup. Callers
// hold op.mu. Dropping twice is a no-op.
func (op *Op) drop() {
	if !op.destroy {
		op.destroy = true
		op.t.queueUnusedOp(op)
	}
}
