package homa

import "sync"

// Scheduler decides when to emit GRANT packets back toward the sources
// of inbound messages. It is informed once per accepted DATA packet.
// totalReceivedBytes is an over-count: the number of occupied packet
// slots times the full per-packet data length.
type Scheduler interface {
	PacketReceived(id MessageId, source Address, messageLength uint32, totalReceivedBytes uint32)
}

// GrantingScheduler is the default policy: it grants a message in full
// the first time it is seen. Duplicate grants are harmless since senders
// ignore watermarks that do not move forward.
type GrantingScheduler struct {
	driver  Driver
	mu      sync.Mutex
	granted map[MessageId]struct{}
}

// NewGrantingScheduler returns a Scheduler that grants every message in
// full on its first packet, emitting GRANT packets through the driver.
// A message complete on its first packet gets no grant.
func NewGrantingScheduler(d Driver) *GrantingScheduler {
	return &GrantingScheduler{driver: d, granted: make(map[MessageId]struct{})}
}

func (gs *GrantingScheduler) PacketReceived(id MessageId, source Address, messageLength uint32, totalReceivedBytes uint32) {
	if totalReceivedBytes >= messageLength {
		gs.mu.Lock()
		delete(gs.granted, id)
		gs.mu.Unlock()
		return
	}
	gs.mu.Lock()
	_, seen := gs.granted[id]
	if !seen {
		gs.granted[id] = struct{}{}
	}
	gs.mu.Unlock()
	if seen || source == nil {
		return
	}
	packetData := uint32(PacketDataLength(gs.driver))
	limit := (messageLength + packetData - 1) / packetData
	p := gs.driver.AllocPacket()
	p.Payload = p.Payload[:GrantHeaderSize]
	gh := GrantHeader(p.Payload)
	gh.Common().SetOpcode(OpcodeGrant)
	gh.Common().SetMessageId(id)
	gh.SetIndexLimit(uint16(limit))
	p.Address = source
	gs.driver.SendPackets([]*Packet{p})
	gs.driver.ReleasePackets([]*Packet{p})
}
