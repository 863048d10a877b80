package homa

import "sync"

// Sender owns the outbound half of a transport. It transmits DATA
// packets for outbound messages in ascending index order, never past the
// grant watermark, and retires messages on DONE or on full transmission.
type Sender struct {
	driver   Driver
	hints    *updateHints
	mu       sync.Mutex
	messages map[MessageId]*Op
}

func newSender(d Driver, hints *updateHints) *Sender {
	return &Sender{driver: d, hints: hints, messages: make(map[MessageId]*Op)}
}

// SendMessage enqueues the op's outbound message for transmission under
// the given id. When expectAck is true the message completes only when a
// matching DONE packet arrives; otherwise it completes when the last
// byte has been pushed to the driver.
func (s *Sender) SendMessage(id MessageId, destination Address, op *Op, expectAck bool) {
	om := &op.outMessage
	m := om.message
	om.id = id
	om.destination = destination
	om.acknowledged = expectAck
	om.sent.Store(false)
	om.done.Store(false)
	total := uint32(m.RawLength())
	numPackets := m.expectedPackets()
	for i := uint16(0); i < numPackets; i++ {
		p := m.GetPacket(i)
		dh := DataHeader(p.Payload)
		dh.Common().SetOpcode(OpcodeData)
		dh.Common().SetMessageId(id)
		dh.SetIndex(i)
		dh.SetTotalLength(total)
		p.Address = destination
	}
	s.mu.Lock()
	om.sentIndex = 0
	om.grantIndex = 0
	om.raiseGrant(UnscheduledPacketLimit)
	s.messages[id] = op
	s.mu.Unlock()
}

// HandleGrantPacket advances the grant watermark for the addressed
// message and transmits up to the new watermark. Grants for unknown ids
// and watermarks that do not move forward are ignored.
func (s *Sender) HandleGrantPacket(p *Packet, d Driver) {
	if len(p.Payload) >= GrantHeaderSize {
		gh := GrantHeader(p.Payload)
		id := gh.Common().MessageId()
		s.mu.Lock()
		if op, ok := s.messages[id]; ok {
			op.outMessage.raiseGrant(gh.IndexLimit())
			s.trySend(op)
		}
		s.mu.Unlock()
	}
	d.ReleasePackets([]*Packet{p})
}

// HandleDonePacket marks the addressed message done and retires it.
// DONEs for unknown ids, including duplicates, are silently dropped.
func (s *Sender) HandleDonePacket(p *Packet, d Driver) {
	if len(p.Payload) >= DoneHeaderSize {
		id := DoneHeader(p.Payload).Common().MessageId()
		s.mu.Lock()
		if op, ok := s.messages[id]; ok {
			delete(s.messages, id)
			op.outMessage.done.Store(true)
			s.hints.add(op)
		}
		s.mu.Unlock()
	}
	d.ReleasePackets([]*Packet{p})
}

// Poll transmits any packets below the grant watermark for every pending
// message and returns the number of packets pushed to the driver.
func (s *Sender) Poll() (count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.messages {
		count += s.trySend(op)
	}
	return
}

// remove forgets the outbound message with the given id, if any.
func (s *Sender) remove(id MessageId) {
	s.mu.Lock()
	delete(s.messages, id)
	s.mu.Unlock()
}

// trySend transmits packets in ascending index order from the sent
// watermark up to the grant watermark. Callers hold s.mu.
func (s *Sender) trySend(op *Op) int {
	om := &op.outMessage
	m := om.message
	var batch []*Packet
	for om.sentIndex < om.grantIndex {
		p := m.takePacket(om.sentIndex)
		if p == nil {
			break
		}
		batch = append(batch, p)
		om.sentIndex++
	}
	if len(batch) > 0 {
		s.driver.SendPackets(batch)
		s.driver.ReleasePackets(batch)
	}
	if !om.sent.Load() && om.sentIndex >= m.expectedPackets() {
		om.sent.Store(true)
		s.hints.add(op)
		if !om.acknowledged {
			delete(s.messages, om.id)
		}
	}
	return len(batch)
}
