// Package fake provides an in-process packet driver for testing and
// demos. Drivers attach to a shared Network which copies packets
// between them, with optional loss injection.
package fake

import (
	"encoding/binary"

	"code.hybscloud.com/lfq"
	"github.com/linkdata/homa"
)

const (
	// PacketPayloadSize is the largest packet the fake network carries.
	PacketPayloadSize = 1500
	// NumPriorities is the number of distinct packet priority levels.
	NumPriorities = 8
	// LinkBandwidth is the pretend link speed in Mbit/s.
	LinkBandwidth = 10000
)

var (
	// RingCapacity is the size of each driver's receive ring.
	RingCapacity = 1024
	// PacketPoolCapacity is the number of recycled packet buffers each
	// driver retains.
	PacketPoolCapacity = 4096
)

// Driver is a fake network interface. The receive ring is a bounded
// lock-free queue written only by the network's delivery goroutine and
// read only by the polling goroutine.
type Driver struct {
	network *Network
	address *Address
	ring    lfq.SPSC[*homa.Packet]
	pool    chan *homa.Packet
	stats   homa.StatsCollector
}

var _ homa.Driver = &Driver{}

// NewDriver attaches a new interface to the network and returns its
// driver.
func NewDriver(n *Network) *Driver {
	d := &Driver{
		network: n,
		pool:    make(chan *homa.Packet, PacketPoolCapacity),
	}
	d.ring.Init(RingCapacity)
	d.address = n.register(d)
	return d
}

// SetStatsCollector directs I/O statistics to sc. Call it before the
// driver carries traffic.
func (d *Driver) SetStatsCollector(sc homa.StatsCollector) {
	d.stats = sc
}

// Close detaches the driver from the network. Packets already queued
// for it are dropped.
func (d *Driver) Close() {
	d.network.deregister(d)
}

func (d *Driver) AllocPacket() (p *homa.Packet) {
	select {
	case p = <-d.pool:
		p.Payload = p.Payload[:0]
		p.Address = nil
		p.Priority = 0
	default:
		p = &homa.Packet{Payload: make([]byte, 0, PacketPayloadSize)}
	}
	return
}

func (d *Driver) ReceivePackets(buf []*homa.Packet) (count int) {
	for count < len(buf) {
		p, err := d.ring.Dequeue()
		if err != nil {
			// iox.ErrWouldBlock when the ring is empty
			break
		}
		if d.stats != nil {
			d.stats.AddBytesRead(int64(len(p.Payload)))
		}
		buf[count] = p
		count++
	}
	return
}

func (d *Driver) SendPackets(packets []*homa.Packet) {
	for _, p := range packets {
		if p.Address == nil {
			continue
		}
		raw := p.Address.ToRaw()
		dst := binary.BigEndian.Uint64(raw[:8])
		priority := p.Priority
		if priority >= NumPriorities {
			priority = NumPriorities - 1
		}
		payload := make([]byte, len(p.Payload))
		copy(payload, p.Payload)
		_ = d.network.send(dst, d.address, payload, priority)
		if d.stats != nil {
			d.stats.AddBytesWritten(int64(len(p.Payload)))
		}
	}
}

func (d *Driver) ReleasePackets(packets []*homa.Packet) {
	for _, p := range packets {
		if p == nil {
			continue
		}
		select {
		case d.pool <- p:
		default:
		}
	}
}

func (d *Driver) GetAddress(addr string) (homa.Address, error) {
	id, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}
	return d.network.getAddress(id), nil
}

func (d *Driver) GetAddressRaw(raw homa.AddressRaw) (homa.Address, error) {
	return d.network.getAddress(binary.BigEndian.Uint64(raw[:8])), nil
}

func (d *Driver) MaxPayloadSize() int { return PacketPayloadSize }

func (d *Driver) Bandwidth() int { return LinkBandwidth }

func (d *Driver) LocalAddress() homa.Address { return d.address }
