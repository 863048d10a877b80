// Package udp provides a packet driver over a UDP socket.
package udp

import (
	"net"
	"sync"
	"time"

	"github.com/linkdata/homa"
	"github.com/pkg/errors"
)

const (
	// PacketPayloadSize is the largest datagram the driver sends,
	// chosen to fit an ethernet frame without IP fragmentation.
	PacketPayloadSize = 1472
)

var (
	// PacketPoolCapacity is the number of recycled packet buffers the
	// driver retains.
	PacketPoolCapacity = 4096
)

// Driver sends and receives packets as UDP datagrams, one datagram per
// packet. Receives never block; the socket read deadline is set to the
// current time so a poll drains only what has already arrived.
type Driver struct {
	conn  *net.UDPConn
	local *Address
	pool  chan *homa.Packet
	stats homa.StatsCollector

	mu        sync.Mutex
	addresses map[homa.AddressRaw]*Address
}

var _ homa.Driver = &Driver{}

// NewDriver opens a UDP socket bound to the given address, for example
// "127.0.0.1:10101". Bind a concrete interface address rather than the
// wildcard so peers can reply to LocalAddress.
func NewDriver(listen string) (*Driver, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, errors.Wrapf(err, "udp: resolve %q", listen)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	d := &Driver{
		conn:      conn,
		pool:      make(chan *homa.Packet, PacketPoolCapacity),
		addresses: make(map[homa.AddressRaw]*Address),
	}
	d.local = d.intern(*conn.LocalAddr().(*net.UDPAddr))
	return d, nil
}

// Close closes the socket.
func (d *Driver) Close() error {
	return d.conn.Close()
}

// SetStatsCollector directs I/O statistics to sc. Call it before the
// driver carries traffic.
func (d *Driver) SetStatsCollector(sc homa.StatsCollector) {
	d.stats = sc
}

// intern returns the stable Address pointer for a UDP endpoint.
func (d *Driver) intern(ua net.UDPAddr) *Address {
	a := &Address{udp: ua}
	raw := a.ToRaw()
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.addresses[raw]; ok {
		return existing
	}
	d.addresses[raw] = a
	return a
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
	_ = d.conn.SetReadDeadline(time.Now())
	for count < len(buf) {
		p := d.AllocPacket()
		n, addr, err := d.conn.ReadFromUDP(p.Payload[:cap(p.Payload)])
		if err != nil {
			d.ReleasePackets([]*homa.Packet{p})
			break
		}
		p.Payload = p.Payload[:n]
		p.Address = d.intern(*addr)
		if d.stats != nil {
			d.stats.AddBytesRead(int64(n))
		}
		buf[count] = p
		count++
	}
	return
}

func (d *Driver) SendPackets(packets []*homa.Packet) {
	for _, p := range packets {
		a, ok := p.Address.(*Address)
		if !ok {
			continue
		}
		ua := a.UDPAddr()
		if n, err := d.conn.WriteToUDP(p.Payload, &ua); err == nil {
			if d.stats != nil {
				d.stats.AddBytesWritten(int64(n))
			}
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
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "udp: resolve %q", addr)
	}
	return d.intern(*ua), nil
}

func (d *Driver) GetAddressRaw(raw homa.AddressRaw) (homa.Address, error) {
	return d.intern(rawToUDPAddr(raw)), nil
}

func (d *Driver) MaxPayloadSize() int { return PacketPayloadSize }

func (d *Driver) Bandwidth() int { return 0 }

func (d *Driver) LocalAddress() homa.Address { return d.local }
