package homa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// newOutboundOp builds an op with an outbound message of the given
// payload size, bypassing the transport.
func newOutboundOp(d *mockDriver, size int) *Op {
	op := &Op{}
	op.outMessage.message = newMessage(d)
	op.outHeader = op.outMessage.message.DefineHeader(MessageHeaderSize)
	if err := op.outMessage.message.Append(make([]byte, size)); err != nil {
		panic(err)
	}
	return op
}

func grantPacket(id MessageId, limit uint16) *Packet {
	payload := make([]byte, GrantHeaderSize)
	gh := GrantHeader(payload)
	gh.Common().SetOpcode(OpcodeGrant)
	gh.Common().SetMessageId(id)
	gh.SetIndexLimit(limit)
	return &Packet{Payload: payload}
}

func donePacket(id MessageId) *Packet {
	payload := make([]byte, DoneHeaderSize)
	dh := DoneHeader(payload)
	dh.Common().SetOpcode(OpcodeDone)
	dh.Common().SetMessageId(id)
	return &Packet{Payload: payload}
}

func Test_Sender_UnscheduledThenGranted(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	hints := newUpdateHints()
	s := newSender(d, hints)
	op := newOutboundOp(d, 2500-MessageHeaderSize)
	dest := d.addr("dest")

	s.SendMessage(testId, dest, op, false)
	assert.Equal(t, 0, len(d.sent))
	assert.Equal(t, 1, s.Poll())
	assert.Len(t, d.sent, 1)
	first := DataHeader(d.sent[0].Payload)
	assert.Equal(t, OpcodeData, first.Common().Opcode())
	assert.Equal(t, testId, first.Common().MessageId())
	assert.Equal(t, uint16(0), first.Index())
	assert.Equal(t, uint32(2500), first.TotalLength())
	assert.Equal(t, dest, d.sent[0].Address)
	assert.False(t, op.outMessage.Sent())

	s.HandleGrantPacket(grantPacket(testId, 3), d)
	assert.Len(t, d.sent, 3)
	assert.Equal(t, uint16(1), DataHeader(d.sent[1].Payload).Index())
	assert.Equal(t, uint16(2), DataHeader(d.sent[2].Payload).Index())
	assert.True(t, op.outMessage.Sent())
	assert.True(t, op.outMessage.IsDone())
	assert.Equal(t, 0, len(s.messages))
}

func Test_Sender_StaleGrantIgnored(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	s := newSender(d, newUpdateHints())
	op := newOutboundOp(d, 2500-MessageHeaderSize)
	s.SendMessage(testId, d.addr("dest"), op, true)
	s.Poll()
	assert.Len(t, d.sent, 1)

	s.HandleGrantPacket(grantPacket(testId, 0), d)
	assert.Len(t, d.sent, 1)
	assert.Equal(t, uint16(1), op.outMessage.grantIndex)
}

func Test_Sender_GrantClampedToMessage(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	s := newSender(d, newUpdateHints())
	op := newOutboundOp(d, 2500-MessageHeaderSize)
	s.SendMessage(testId, d.addr("dest"), op, true)

	s.HandleGrantPacket(grantPacket(testId, 100), d)
	assert.Equal(t, uint16(3), op.outMessage.grantIndex)
	assert.Len(t, d.sent, 3)
	assert.True(t, op.outMessage.Sent())
	// acknowledged sends stay pending until a DONE arrives
	assert.False(t, op.outMessage.IsDone())
	assert.Equal(t, 1, len(s.messages))
}

func Test_Sender_UnknownIdsIgnored(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	s := newSender(d, newUpdateHints())

	gp := grantPacket(testId, 3)
	s.HandleGrantPacket(gp, d)
	assert.Contains(t, d.released, gp)
	dp := donePacket(testId)
	s.HandleDonePacket(dp, d)
	assert.Contains(t, d.released, dp)
	assert.Empty(t, d.sent)
}

func Test_Sender_DoneCompletesAcknowledgedSend(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	hints := newUpdateHints()
	s := newSender(d, hints)
	op := newOutboundOp(d, 100)
	s.SendMessage(testId, d.addr("dest"), op, true)
	s.Poll()
	assert.True(t, op.outMessage.Sent())
	assert.False(t, op.outMessage.IsDone())

	// sent hint was recorded; a DONE retires the message and re-hints
	s.HandleDonePacket(donePacket(testId), d)
	assert.True(t, op.outMessage.IsDone())
	assert.Equal(t, 0, len(s.messages))

	// a duplicate DONE is silently dropped
	dup := donePacket(testId)
	s.HandleDonePacket(dup, d)
	assert.Contains(t, d.released, dup)
}

func Test_Sender_AscendingOrderAcrossPolls(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	s := newSender(d, newUpdateHints())
	op := newOutboundOp(d, 4500-MessageHeaderSize)
	s.SendMessage(testId, d.addr("dest"), op, false)

	s.Poll()
	s.HandleGrantPacket(grantPacket(testId, 2), d)
	s.HandleGrantPacket(grantPacket(testId, 5), d)
	assert.Len(t, d.sent, 5)
	for i, p := range d.sent {
		assert.Equal(t, uint16(i), DataHeader(p.Payload).Index())
	}
}

func Test_Sender_SentPacketsReleased(t *testing.T) {
	d := newMockDriver(testPayloadSize)
	s := newSender(d, newUpdateHints())
	op := newOutboundOp(d, 100)
	s.SendMessage(testId, d.addr("dest"), op, false)
	s.Poll()
	// the buffer was handed back to the driver after transmission and
	// the slot emptied so message teardown cannot double-release
	assert.Len(t, d.released, 1)
	assert.Equal(t, 0, op.outMessage.message.NumPackets())
}
