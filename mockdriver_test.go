package homa

import "sync"

// mockAddress is a printable test address whose raw form is the name
// padded with zero bytes.
type mockAddress struct {
	name string
}

func (a *mockAddress) ToRaw() (raw AddressRaw) {
	copy(raw[:], a.name)
	return
}

func (a *mockAddress) String() string { return a.name }

// mockDriver records every send and release so tests can assert on
// exactly what reached the network. Inbound packets are queued with
// enqueue and handed out by ReceivePackets.
type mockDriver struct {
	mu         sync.Mutex
	maxPayload int
	local      *mockAddress
	addresses  map[AddressRaw]*mockAddress
	inbound    []*Packet
	sent       []*Packet // copies taken at send time
	released   []*Packet
	allocated  int
}

var _ Driver = &mockDriver{}

func newMockDriver(maxPayload int) *mockDriver {
	d := &mockDriver{
		maxPayload: maxPayload,
		addresses:  make(map[AddressRaw]*mockAddress),
	}
	d.local = d.addr("mock-local")
	return d
}

// addr interns a printable address, like GetAddress but infallible.
func (d *mockDriver) addr(name string) *mockAddress {
	a := &mockAddress{name: name}
	raw := a.ToRaw()
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.addresses[raw]; ok {
		return existing
	}
	d.addresses[raw] = a
	return a
}

// enqueue queues a packet for the next ReceivePackets call.
func (d *mockDriver) enqueue(p *Packet) {
	d.mu.Lock()
	d.inbound = append(d.inbound, p)
	d.mu.Unlock()
}

// sentOpcodes lists the opcode of every packet sent so far.
func (d *mockDriver) sentOpcodes() (opcodes []Opcode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.sent {
		opcodes = append(opcodes, CommonHeader(p.Payload).Opcode())
	}
	return
}

func (d *mockDriver) AllocPacket() *Packet {
	d.mu.Lock()
	d.allocated++
	d.mu.Unlock()
	return &Packet{Payload: make([]byte, 0, d.maxPayload)}
}

func (d *mockDriver) ReceivePackets(buf []*Packet) (count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for count < len(buf) && len(d.inbound) > 0 {
		buf[count] = d.inbound[0]
		d.inbound = d.inbound[1:]
		count++
	}
	return
}

func (d *mockDriver) SendPackets(packets []*Packet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range packets {
		payload := make([]byte, len(p.Payload))
		copy(payload, p.Payload)
		d.sent = append(d.sent, &Packet{Payload: payload, Address: p.Address, Priority: p.Priority})
	}
}

func (d *mockDriver) ReleasePackets(packets []*Packet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = append(d.released, packets...)
}

func (d *mockDriver) GetAddress(addr string) (Address, error) {
	return d.addr(addr), nil
}

func (d *mockDriver) GetAddressRaw(raw AddressRaw) (Address, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.addresses[raw]
	if !ok {
		a = &mockAddress{name: rawName(raw)}
		d.addresses[raw] = a
	}
	return a, nil
}

func (d *mockDriver) MaxPayloadSize() int { return d.maxPayload }

func (d *mockDriver) Bandwidth() int { return 10000 }

func (d *mockDriver) LocalAddress() Address { return d.local }

func rawName(raw AddressRaw) string {
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

// recordingScheduler records every PacketReceived call.
type schedulerCall struct {
	id                 MessageId
	source             Address
	messageLength      uint32
	totalReceivedBytes uint32
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []schedulerCall
}

func (rs *recordingScheduler) PacketReceived(id MessageId, source Address, messageLength uint32, totalReceivedBytes uint32) {
	rs.mu.Lock()
	rs.calls = append(rs.calls, schedulerCall{id, source, messageLength, totalReceivedBytes})
	rs.mu.Unlock()
}

// dataPacket builds a DATA packet with the given payload length filled
// with a repeating byte pattern.
func dataPacket(id MessageId, index uint16, totalLength uint32, payloadLen int, from Address) *Packet {
	payload := make([]byte, DataHeaderSize+payloadLen)
	dh := DataHeader(payload)
	dh.Common().SetOpcode(OpcodeData)
	dh.Common().SetMessageId(id)
	dh.SetIndex(index)
	dh.SetTotalLength(totalLength)
	for i := 0; i < payloadLen; i++ {
		payload[DataHeaderSize+i] = byte(int(index) + i)
	}
	return &Packet{Payload: payload, Address: from}
}
