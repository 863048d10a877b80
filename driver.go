package homa

// AddressRawSize is the number of bytes in the driver-opaque raw form
// of a network address.
const AddressRawSize = 20

// AddressRaw is a fixed-size serialized network address, suitable for
// embedding in message headers. Its contents are meaningful only to the
// driver that produced it.
type AddressRaw [AddressRawSize]byte

// Address identifies a network endpoint. Implementations are provided by
// drivers. Pointers returned by a driver are stable for the life of the
// driver, so they may be compared and used as map keys.
type Address interface {
	// ToRaw serializes the address for transmission inside a message.
	ToRaw() AddressRaw
	String() string
}

// Packet is a network packet buffer owned by a driver.
type Packet struct {
	Payload  []byte  // packet contents; len is the wire length
	Address  Address // source on receive, destination on send
	Priority uint8   // network priority, zero is lowest
}

// Driver sends and receives packets on behalf of a transport. All methods
// must be safe for concurrent use.
type Driver interface {
	// AllocPacket returns a packet buffer with capacity for MaxPayloadSize
	// bytes. The caller owns the packet until it releases it.
	AllocPacket() *Packet
	// ReceivePackets fills buf with received packets and returns the count.
	// It never blocks; zero means no packets were waiting.
	ReceivePackets(buf []*Packet) int
	// SendPackets transmits the packets. The caller still owns the
	// buffers when the call returns and releases them when done.
	SendPackets(packets []*Packet)
	// ReleasePackets returns packet buffers to the driver.
	ReleasePackets(packets []*Packet)
	// GetAddress interns a printable address and returns a stable pointer.
	GetAddress(addr string) (Address, error)
	// GetAddressRaw interns a raw address and returns a stable pointer.
	GetAddressRaw(raw AddressRaw) (Address, error)
	// MaxPayloadSize returns the largest packet payload the network carries.
	MaxPayloadSize() int
	// Bandwidth returns the link speed in Mbit/s, or zero if unknown.
	Bandwidth() int
	// LocalAddress returns the address other hosts use to reach this driver.
	LocalAddress() Address
}

// StatsCollector is the interface used to collect driver I/O statistics.
type StatsCollector interface {
	AddBytesWritten(int64)
	AddBytesRead(int64)
}
