package homa

import (
	"context"
	"log"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// Transport layers a request/reply operation abstraction over a packet
// driver. One or more goroutines call Poll (or Run) to make progress;
// application goroutines use the operation API concurrently on distinct
// Ops.
type Transport struct {
	id        uint64
	driver    Driver
	scheduler Scheduler
	sender    *Sender
	receiver  *Receiver
	hints     *updateHints
	sequence  atomix.Uint32

	pendingServerOps opQueue
	unusedOps        opQueue

	mu        sync.Mutex // protects activeOps
	activeOps map[*Op]struct{}
	opPool    *opPool
}

// NewTransport creates a Transport on the given driver with the default
// grant-in-full scheduler. The transport id must be unique among all
// peers on the network.
func NewTransport(driver Driver, transportId uint64) *Transport {
	return NewTransportScheduler(driver, transportId, NewGrantingScheduler(driver))
}

// NewTransportScheduler creates a Transport using the given Scheduler to
// drive grant emission.
func NewTransportScheduler(driver Driver, transportId uint64, scheduler Scheduler) *Transport {
	t := &Transport{
		id:        transportId,
		driver:    driver,
		scheduler: scheduler,
		hints:     newUpdateHints(),
		activeOps: make(map[*Op]struct{}),
		opPool:    newOpPool(),
	}
	t.sender = newSender(driver, t.hints)
	t.receiver = newReceiver(scheduler)
	return t
}

// AllocOp allocates a client op in state NOT_STARTED with an empty
// outbound message ready for Append.
func (t *Transport) AllocOp() *Op {
	op := t.allocOp(false)
	op.retained.Store(true)
	op.mu.Lock()
	t.prepareOutbound(op)
	op.mu.Unlock()
	return op
}

// ReceiveOp pops the next inbound server op, or returns nil if none are
// pending. The returned op's request payload is complete and a reply may
// be built with Append and sent with SendReply.
func (t *Transport) ReceiveOp() *Op {
	op := t.pendingServerOps.pop()
	if op == nil {
		return nil
	}
	op.retained.Store(true)
	op.mu.Lock()
	t.prepareOutbound(op)
	op.mu.Unlock()
	return op
}

// ReleaseOp gives up the application's handle on an op. The transport
// reclaims a server op once it reaches a terminal state, and a client op
// on its next update whatever its state.
func (t *Transport) ReleaseOp(op *Op) {
	op.retained.Store(false)
	t.hints.add(op)
}

// SendRequest transmits the op's outbound message as a request. For a
// client op a fresh operation id is allocated and the op is registered
// to receive the reply. For a server op the request is chained onto the
// inbound operation with the next tag value and completion requires a
// DONE from the destination.
func (t *Transport) SendRequest(op *Op, destination Address) error {
	op.mu.Lock()
	if op.destroy || op.outMessage.message == nil {
		op.mu.Unlock()
		return ErrOpReleased{}
	}
	im := op.inMessage
	op.mu.Unlock()

	if op.server {
		inId := im.Id()
		// the ultimate response must reach the original requester, so
		// the chained request carries the inbound reply address onward
		hdr := MessageHeader(im.Message().Header(MessageHeaderSize))
		op.outHeader.SetReplyAddress(hdr.ReplyAddress())
		id := MessageId{TransportId: inId.TransportId, Sequence: inId.Sequence, Tag: inId.Tag + 1}
		t.sender.SendMessage(id, destination, op, true)
	} else {
		seq := uint64(t.sequence.Add(1))
		op.outHeader.SetReplyAddress(t.driver.LocalAddress().ToRaw())
		t.receiver.RegisterOp(MessageId{TransportId: t.id, Sequence: seq, Tag: UltimateResponseTag}, op)
		t.sender.SendMessage(MessageId{TransportId: t.id, Sequence: seq, Tag: InitialRequestTag}, destination, op, false)
	}
	op.mu.Lock()
	op.setState(StateInProgress)
	op.mu.Unlock()
	return nil
}

// SendReply transmits the op's outbound message as the final reply of a
// server op, addressed to the reply address carried in the request
// header.
func (t *Transport) SendReply(op *Op) error {
	op.mu.Lock()
	if op.destroy || op.outMessage.message == nil || op.inMessage == nil {
		op.mu.Unlock()
		return ErrOpReleased{}
	}
	im := op.inMessage
	op.mu.Unlock()

	hdr := MessageHeader(im.Message().Header(MessageHeaderSize))
	destination, err := t.driver.GetAddressRaw(hdr.ReplyAddress())
	if err != nil {
		return err
	}
	inId := im.Id()
	op.outHeader.SetReplyAddress(t.driver.LocalAddress().ToRaw())
	t.sender.SendMessage(MessageId{TransportId: inId.TransportId, Sequence: inId.Sequence, Tag: UltimateResponseTag}, destination, op, false)
	op.mu.Lock()
	op.setState(StateInProgress)
	op.mu.Unlock()
	return nil
}

// Poll performs one tick of transport progress and reports whether any
// work was done.
func (t *Transport) Poll() bool {
	n := t.processPackets()
	n += t.processInboundMessages()
	n += t.checkForUpdates()
	n += t.cleanupOps()
	return n > 0
}

// Run polls until the context is done, backing off adaptively while the
// transport is idle.
func (t *Transport) Run(ctx context.Context) error {
	var bo iox.Backoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if t.Poll() {
			bo.Reset()
		} else {
			bo.Wait()
		}
	}
}

// processPackets drains a batch of packets from the driver, dispatches
// each by opcode, and lets the sender and receiver make progress.
func (t *Transport) processPackets() int {
	buf := make([]*Packet, ReceiveBatchSize)
	count := t.driver.ReceivePackets(buf)
	for _, p := range buf[:count] {
		t.dispatch(p)
	}
	count += t.sender.Poll()
	t.receiver.Poll()
	return count
}

func (t *Transport) dispatch(p *Packet) {
	if len(p.Payload) < CommonHeaderSize {
		log.Printf("homa: %v", ErrPacketTooSmall{Length: len(p.Payload)})
		t.driver.ReleasePackets([]*Packet{p})
		return
	}
	switch opcode := CommonHeader(p.Payload).Opcode(); opcode {
	case OpcodeData:
		if len(p.Payload) < DataHeaderSize {
			log.Printf("homa: %v", ErrPacketTooSmall{Length: len(p.Payload)})
			t.driver.ReleasePackets([]*Packet{p})
			return
		}
		if op := t.receiver.HandleDataPacket(p, t.driver); op != nil {
			t.hints.add(op)
		}
	case OpcodeGrant:
		t.sender.HandleGrantPacket(p, t.driver)
	case OpcodeDone:
		t.sender.HandleDonePacket(p, t.driver)
	default:
		log.Printf("homa: %v", ErrUnknownOpcode{Opcode: opcode})
		t.driver.ReleasePackets([]*Packet{p})
	}
}

// processInboundMessages adopts unclaimed request messages as server ops
// and drops unclaimed responses.
func (t *Transport) processInboundMessages() int {
	count := 0
	for {
		im := t.receiver.ReceiveMessage()
		if im == nil {
			break
		}
		count++
		if im.Id().IsRequest() {
			op := t.allocOp(true)
			t.receiver.RegisterOp(im.Id(), op)
			t.hints.add(op)
		} else {
			log.Printf("homa: dropping unclaimed response %v", im.Id())
			t.receiver.DropMessage(im)
		}
	}
	return count
}

// checkForUpdates drains the hint queue, running each hinted op's state
// machine under its own mutex. Ops that are no longer active are stale
// hints and are skipped.
func (t *Transport) checkForUpdates() int {
	count := 0
	for {
		op := t.hints.next()
		if op == nil {
			break
		}
		t.mu.Lock()
		if _, ok := t.activeOps[op]; !ok {
			t.mu.Unlock()
			continue
		}
		op.mu.Lock()
		t.mu.Unlock()
		op.processUpdates()
		op.mu.Unlock()
		count++
	}
	return count
}

// cleanupOps destroys every op queued for reclamation.
func (t *Transport) cleanupOps() int {
	count := 0
	for {
		op := t.unusedOps.pop()
		if op == nil {
			break
		}
		t.mu.Lock()
		delete(t.activeOps, op)
		t.mu.Unlock()
		t.destroyOp(op)
		count++
	}
	return count
}

// allocOp takes an op from the pool, resets it for the given role, and
// makes it active.
func (t *Transport) allocOp(server bool) *Op {
	t.mu.Lock()
	op := t.opPool.get()
	t.activeOps[op] = struct{}{}
	t.mu.Unlock()
	op.mu.Lock()
	op.t = t
	op.server = server
	op.state.Store(uint32(StateNotStarted))
	op.retained.Store(false)
	op.destroy = false
	op.inMessage = nil
	om := &op.outMessage
	om.id = MessageId{}
	om.destination = nil
	om.message = nil
	om.grantIndex = 0
	om.sentIndex = 0
	om.acknowledged = false
	om.sent.Store(false)
	om.done.Store(false)
	op.outHeader = nil
	op.mu.Unlock()
	return op
}

// prepareOutbound constructs the op's outbound message with its header
// region reserved. Callers hold op.mu.
func (t *Transport) prepareOutbound(op *Op) {
	om := &op.outMessage
	om.message = newMessage(t.driver)
	op.outHeader = om.message.DefineHeader(MessageHeaderSize)
}

// destroyOp severs the op from the receiver and sender, releases its
// buffers, and returns it to the pool.
func (t *Transport) destroyOp(op *Op) {
	t.receiver.DropOp(op)
	op.mu.Lock()
	if om := &op.outMessage; om.message != nil {
		t.sender.remove(om.id)
		om.message.Release()
		om.message = nil
	}
	op.outHeader = nil
	op.mu.Unlock()
	t.opPool.put(op)
}

// hintUpdate asks the transport to re-run the op's state machine on the
// next tick.
func (t *Transport) hintUpdate(op *Op) {
	t.hints.add(op)
}

func (t *Transport) queuePendingServerOp(op *Op) {
	t.pendingServerOps.push(op)
}

func (t *Transport) queueUnusedOp(op *Op) {
	t.unusedOps.push(op)
}

// sendDone synthesizes and transmits a DONE packet for the given message
// id toward its source.
func (t *Transport) sendDone(id MessageId, source Address) {
	if source == nil {
		return
	}
	p := t.driver.AllocPacket()
	p.Payload = p.Payload[:DoneHeaderSize]
	dh := DoneHeader(p.Payload)
	dh.Common().SetOpcode(OpcodeDone)
	dh.Common().SetMessageId(id)
	p.Address = source
	t.driver.SendPackets([]*Packet{p})
	t.driver.ReleasePackets([]*Packet{p})
}
