package homa

// PacketDataLength returns the number of message bytes carried per full
// DATA packet on the given driver.
func PacketDataLength(d Driver) int {
	return d.MaxPayloadSize() - DataHeaderSize
}

// Message is a buffer for a multi-packet message. Each packet slot holds
// at most packetData message bytes, stored after the DATA header region
// of the packet payload. Slots fill at most once.
type Message struct {
	driver     Driver
	packetData int // message bytes per full packet
	rawLength  int // total message bytes, including the header region
	headerSize int // bytes reserved by DefineHeader
	numPackets int // count of occupied slots
	packets    [MaxMessagePackets]*Packet
}

func newMessage(d Driver) *Message {
	return &Message{driver: d, packetData: PacketDataLength(d)}
}

// RawLength returns the total message length in bytes, header included.
func (m *Message) RawLength() int { return m.rawLength }

// NumPackets returns the number of occupied packet slots.
func (m *Message) NumPackets() int { return m.numPackets }

// PacketData returns the number of message bytes a full packet carries.
func (m *Message) PacketData() int { return m.packetData }

// setRawLength records the total length learned from an incoming packet.
func (m *Message) setRawLength(n int) { m.rawLength = n }

// SetPacket fills a packet slot. It returns false and leaves the slot
// unchanged if the slot is already occupied or the index is out of range.
func (m *Message) SetPacket(index uint16, p *Packet) bool {
	if int(index) >= len(m.packets) || m.packets[index] != nil {
		return false
	}
	m.packets[index] = p
	m.numPackets++
	return true
}

// GetPacket returns the packet in a slot, or nil if the slot is empty.
func (m *Message) GetPacket(index uint16) *Packet {
	if int(index) >= len(m.packets) {
		return nil
	}
	return m.packets[index]
}

// expectedPackets returns the number of packets a complete message of the
// current raw length spans.
func (m *Message) expectedPackets() uint16 {
	if m.rawLength == 0 {
		return 1
	}
	return uint16((m.rawLength + m.packetData - 1) / m.packetData)
}

// DefineHeader reserves n bytes at the front of an outbound message and
// returns them for writing. It must be called before Append.
func (m *Message) DefineHeader(n int) MessageHeader {
	m.headerSize = n
	if err := m.Append(make([]byte, n)); err != nil {
		panic(err)
	}
	return MessageHeader(m.packets[0].Payload[DataHeaderSize : DataHeaderSize+n])
}

// Header returns the first n message bytes of a received message.
func (m *Message) Header(n int) []byte {
	return m.packets[0].Payload[DataHeaderSize : DataHeaderSize+n]
}

// Append adds data to the end of an outbound message, allocating packet
// buffers from the driver as needed.
func (m *Message) Append(data []byte) error {
	for len(data) > 0 {
		index := m.rawLength / m.packetData
		if index >= len(m.packets) {
			return ErrMessageTooLong{Length: m.rawLength + len(data)}
		}
		offset := m.rawLength % m.packetData
		p := m.packets[index]
		if p == nil {
			p = m.driver.AllocPacket()
			p.Payload = p.Payload[:DataHeaderSize]
			m.packets[index] = p
			m.numPackets++
		}
		n := m.packetData - offset
		if n > len(data) {
			n = len(data)
		}
		end := DataHeaderSize + offset + n
		p.Payload = p.Payload[:end]
		copy(p.Payload[DataHeaderSize+offset:end], data[:n])
		data = data[n:]
		m.rawLength += n
	}
	return nil
}

// Bytes assembles and returns the message contents starting at the given
// byte offset.
func (m *Message) Bytes(from int) []byte {
	if from >= m.rawLength {
		return nil
	}
	out := make([]byte, 0, m.rawLength-from)
	for b := from; b < m.rawLength; {
		index := b / m.packetData
		offset := b % m.packetData
		end := m.rawLength - index*m.packetData
		if end > m.packetData {
			end = m.packetData
		}
		p := m.packets[index]
		out = append(out, p.Payload[DataHeaderSize+offset:DataHeaderSize+end]...)
		b = (index + 1) * m.packetData
	}
	return out
}

// takePacket removes and returns the packet in a slot, transferring
// ownership to the caller.
func (m *Message) takePacket(index uint16) (p *Packet) {
	if int(index) < len(m.packets) {
		if p = m.packets[index]; p != nil {
			m.packets[index] = nil
			m.numPackets--
		}
	}
	return
}

// ReleaseFrom returns every occupied packet slot at or above index to the
// driver. Slots below index are assumed to have changed ownership already.
func (m *Message) ReleaseFrom(index uint16) {
	var release []*Packet
	for i := int(index); i < len(m.packets); i++ {
		if p := m.packets[i]; p != nil {
			release = append(release, p)
			m.packets[i] = nil
			m.numPackets--
		}
	}
	if len(release) > 0 && m.driver != nil {
		m.driver.ReleasePackets(release)
	}
}

// Release returns all packet buffers to the driver.
func (m *Message) Release() {
	m.ReleaseFrom(0)
}
