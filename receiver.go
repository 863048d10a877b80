package homa

import "sync"

// registration ties a MessageId to the op awaiting it and the inbound
// message collecting its packets.
type registration struct {
	op *Op
	im *InboundMessage
}

// Receiver owns the inbound half of a transport. It reassembles DATA
// packets into messages, informs the scheduler of arrivals, and queues
// messages nobody has claimed yet.
type Receiver struct {
	scheduler Scheduler
	pool      *messagePool
	mu        sync.Mutex
	registeredOps        map[MessageId]registration
	unregisteredMessages map[MessageId]*InboundMessage
	receivedMessages     []*InboundMessage
}

func newReceiver(scheduler Scheduler) *Receiver {
	return &Receiver{
		scheduler:            scheduler,
		pool:                 newMessagePool(),
		registeredOps:        make(map[MessageId]registration),
		unregisteredMessages: make(map[MessageId]*InboundMessage),
	}
}

// HandleDataPacket processes an incoming DATA packet. It returns the op
// awaiting the message if and only if this packet completed the message
// and the message was registered; otherwise it returns nil. Duplicate
// packets are released back to the driver.
func (r *Receiver) HandleDataPacket(p *Packet, d Driver) *Op {
	dh := DataHeader(p.Payload)
	id := dh.Common().MessageId()

	r.mu.Lock()
	var im *InboundMessage
	var op *Op
	if reg, ok := r.registeredOps[id]; ok {
		im, op = reg.im, reg.op
	} else if m, ok := r.unregisteredMessages[id]; ok {
		im = m
	} else {
		im = r.pool.get()
		im.id = id
		r.unregisteredMessages[id] = im
		r.receivedMessages = append(r.receivedMessages, im)
	}
	// take the message lock before giving up the receiver lock so the
	// message cannot be dropped between lookup and use
	im.mu.Lock()
	defer im.mu.Unlock()
	r.mu.Unlock()

	if im.message == nil {
		im.message = newMessage(d)
		im.message.setRawLength(int(dh.TotalLength()))
		if p.Address != nil {
			if src, err := d.GetAddressRaw(p.Address.ToRaw()); err == nil {
				im.source = src
			}
		}
	}
	if im.fullMessageReceived {
		d.ReleasePackets([]*Packet{p})
		return nil
	}
	if !im.message.SetPacket(dh.Index(), p) {
		d.ReleasePackets([]*Packet{p})
		return nil
	}
	received := im.message.NumPackets() * im.message.PacketData()
	r.scheduler.PacketReceived(id, im.source, uint32(im.message.RawLength()), uint32(received))
	if received >= im.message.RawLength() {
		im.fullMessageReceived = true
		return op
	}
	return nil
}

// ReceiveMessage pops the next unclaimed inbound message, which may be
// only partially received, or returns nil if none are queued.
func (r *Receiver) ReceiveMessage() (im *InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.receivedMessages) > 0 {
		im = r.receivedMessages[0]
		r.receivedMessages = r.receivedMessages[1:]
	}
	return
}

// DropMessage discards an unclaimed inbound message and reclaims it.
func (r *Receiver) DropMessage(im *InboundMessage) {
	r.mu.Lock()
	delete(r.unregisteredMessages, im.id)
	r.mu.Unlock()
	r.pool.put(im)
}

// RegisterOp associates the op with the given message id. If an
// unclaimed inbound message already exists for that id its ownership
// transfers to the op; otherwise a fresh empty message is attached.
func (r *Receiver) RegisterOp(id MessageId, op *Op) {
	r.mu.Lock()
	im, ok := r.unregisteredMessages[id]
	if ok {
		delete(r.unregisteredMessages, id)
		for i, m := range r.receivedMessages {
			if m == im {
				r.receivedMessages = append(r.receivedMessages[:i], r.receivedMessages[i+1:]...)
				break
			}
		}
	} else {
		im = r.pool.get()
		im.id = id
	}
	r.registeredOps[id] = registration{op: op, im: im}
	r.mu.Unlock()

	op.mu.Lock()
	op.inMessage = im
	op.mu.Unlock()
}

// DropOp severs the op from its inbound message and reclaims the
// message.
func (r *Receiver) DropOp(op *Op) {
	op.mu.Lock()
	im := op.inMessage
	op.inMessage = nil
	op.mu.Unlock()
	if im == nil {
		return
	}
	r.mu.Lock()
	delete(r.registeredOps, im.id)
	r.mu.Unlock()
	r.pool.put(im)
}

// Poll is reserved for future incremental background work.
func (r *Receiver) Poll() {}
