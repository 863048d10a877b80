package homa

import (
	"encoding/binary"
	"fmt"
)

// CommonHeader provides access to the fields present in every packet,
// expressed as a slice of the packet's payload bytes.
//
// Layout, big-endian:
//
//	[0]     opcode
//	[1:9]   transport id
//	[9:17]  sequence
//	[17:21] tag
type CommonHeader []byte

func (ch CommonHeader) Opcode() Opcode     { return Opcode(ch[0]) }
func (ch CommonHeader) SetOpcode(o Opcode) { ch[0] = byte(o) }

func (ch CommonHeader) MessageId() MessageId {
	return MessageId{
		TransportId: binary.BigEndian.Uint64(ch[1:9]),
		Sequence:    binary.BigEndian.Uint64(ch[9:17]),
		Tag:         binary.BigEndian.Uint32(ch[17:21]),
	}
}

func (ch CommonHeader) SetMessageId(id MessageId) {
	binary.BigEndian.PutUint64(ch[1:9], id.TransportId)
	binary.BigEndian.PutUint64(ch[9:17], id.Sequence)
	binary.BigEndian.PutUint32(ch[17:21], id.Tag)
}

func (ch CommonHeader) String() string {
	id := ch.MessageId()
	return fmt.Sprintf("[%s %d:%d:%d]", ch.Opcode(), id.TransportId, id.Sequence, id.Tag)
}

// DataHeader is the header of a DATA packet: the common fields followed by
// the packet's index within the message and the total message length.
type DataHeader []byte

func (dh DataHeader) Common() CommonHeader { return CommonHeader(dh) }

func (dh DataHeader) Index() uint16 {
	return binary.BigEndian.Uint16(dh[CommonHeaderSize : CommonHeaderSize+2])
}

func (dh DataHeader) SetIndex(index uint16) {
	binary.BigEndian.PutUint16(dh[CommonHeaderSize:CommonHeaderSize+2], index)
}

func (dh DataHeader) TotalLength() uint32 {
	return binary.BigEndian.Uint32(dh[CommonHeaderSize+2 : CommonHeaderSize+6])
}

func (dh DataHeader) SetTotalLength(n uint32) {
	binary.BigEndian.PutUint32(dh[CommonHeaderSize+2:CommonHeaderSize+6], n)
}

// Payload returns the message bytes carried after the DATA header.
func (dh DataHeader) Payload() []byte { return dh[DataHeaderSize:] }

// GrantHeader is the header of a GRANT packet: the common fields followed
// by the new transmission watermark.
type GrantHeader []byte

func (gh GrantHeader) Common() CommonHeader { return CommonHeader(gh) }

// IndexLimit is the packet index below which the sender may transmit.
func (gh GrantHeader) IndexLimit() uint16 {
	return binary.BigEndian.Uint16(gh[CommonHeaderSize : CommonHeaderSize+2])
}

func (gh GrantHeader) SetIndexLimit(limit uint16) {
	binary.BigEndian.PutUint16(gh[CommonHeaderSize:CommonHeaderSize+2], limit)
}

// DoneHeader is the header of a DONE packet. It carries only the common fields.
type DoneHeader []byte

func (dh DoneHeader) Common() CommonHeader { return CommonHeader(dh) }

// MessageHeaderSize is the number of bytes reserved at the front of every
// request and reply message for the application-level message header.
const MessageHeaderSize = AddressRawSize

// MessageHeader is the application header at the start of each message,
// holding the raw address replies should be sent to.
type MessageHeader []byte

func (mh MessageHeader) ReplyAddress() (raw AddressRaw) {
	copy(raw[:], mh[:AddressRawSize])
	return
}

func (mh MessageHeader) SetReplyAddress(raw AddressRaw) {
	copy(mh[:AddressRawSize], raw[:])
}
