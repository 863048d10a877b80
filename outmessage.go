package homa

import "sync/atomic"

// OutboundMessage tracks the transmission of a message to the network.
// The grant watermark limits how far ascending-index transmission may
// proceed; it only ever moves forward.
type OutboundMessage struct {
	id           MessageId
	destination  Address
	message      *Message
	grantIndex   uint16 // packets below this index may be transmitted
	sentIndex    uint16 // next packet index to transmit
	acknowledged bool   // completion requires a DONE from the receiver
	sent         atomic.Bool
	done         atomic.Bool
}

// Id returns the message identity.
func (om *OutboundMessage) Id() MessageId { return om.id }

// Sent reports whether every packet has been handed to the driver.
func (om *OutboundMessage) Sent() bool { return om.sent.Load() }

// IsDone reports whether the sender is finished with the message: either
// the receiver acknowledged it, or it was fully transmitted and needs no
// acknowledgement.
func (om *OutboundMessage) IsDone() bool {
	if om.done.Load() {
		return true
	}
	return !om.acknowledged && om.sent.Load()
}

// raiseGrant moves the grant watermark forward. Stale grants are ignored.
func (om *OutboundMessage) raiseGrant(limit uint16) {
	if limit > om.grantIndex {
		if max := om.message.expectedPackets(); limit > max {
			limit = max
		}
		om.grantIndex = limit
	}
}
