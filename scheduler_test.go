package homa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_GrantingScheduler_GrantsOnFirstSight(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	gs := NewGrantingScheduler(d)
	src := d.addr("remote-location")

	gs.PacketReceived(testId, src, 1420, 1000)
	assert.Len(t, d.sent, 1)
	gh := GrantHeader(d.sent[0].Payload)
	assert.Equal(t, OpcodeGrant, gh.Common().Opcode())
	assert.Equal(t, testId, gh.Common().MessageId())
	assert.Equal(t, uint16(2), gh.IndexLimit())
	assert.Equal(t, src, d.sent[0].Address)
	// the grant buffer went back to the driver after transmission
	assert.Len(t, d.released, 1)
}

func Test_GrantingScheduler_GrantsOncePerMessage(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	gs := NewGrantingScheduler(d)
	src := d.addr("remote-location")

	big := MessageId{TransportId: 1, Sequence: 2, Tag: 1}
	gs.PacketReceived(big, src, 5000, 1000)
	gs.PacketReceived(big, src, 5000, 2000)
	gs.PacketReceived(big, src, 5000, 3000)
	assert.Len(t, d.sent, 1)
}

func Test_GrantingScheduler_CompletionPrunes(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	gs := NewGrantingScheduler(d)
	src := d.addr("remote-location")

	gs.PacketReceived(testId, src, 1420, 1000)
	gs.PacketReceived(testId, src, 1420, 2000)
	assert.Len(t, d.sent, 1)
	gs.mu.Lock()
	tracked := len(gs.granted)
	gs.mu.Unlock()
	assert.Equal(t, 0, tracked)
}

func Test_GrantingScheduler_SinglePacketMessageNeedsNoGrant(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	gs := NewGrantingScheduler(d)
	gs.PacketReceived(testId, d.addr("remote-location"), 900, 1000)
	assert.Empty(t, d.sent)
}

func Test_GrantingScheduler_DistinctMessages(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	gs := NewGrantingScheduler(d)
	src := d.addr("remote-location")
	gs.PacketReceived(MessageId{1, 1, 1}, src, 3000, 1000)
	gs.PacketReceived(MessageId{1, 2, 1}, src, 3000, 1000)
	assert.Len(t, d.sent, 2)
}
