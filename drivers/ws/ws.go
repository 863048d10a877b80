// Package ws provides a packet driver that tunnels packets through a
// WebSocket connection, one binary message per packet. It is meant for
// point-to-point links in environments where UDP is blocked.
package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/linkdata/homa"
	"github.com/pkg/errors"
)

const (
	// PacketPayloadSize is the largest packet carried per message.
	PacketPayloadSize = 1500
)

var (
	// ReceiveQueueCapacity is the number of received packets buffered
	// between the reader goroutine and the poller.
	ReceiveQueueCapacity = 1024
	// PacketPoolCapacity is the number of recycled packet buffers the
	// driver retains.
	PacketPoolCapacity = 4096
	// Upgrader is used by Upgrade to accept incoming connections.
	Upgrader = websocket.Upgrader{
		ReadBufferSize:  PacketPayloadSize,
		WriteBufferSize: PacketPayloadSize,
	}
)

// Address identifies one end of the tunnel. The link is point-to-point,
// so every raw or printable address resolves to the single peer.
type Address struct {
	name string
}

func (a *Address) ToRaw() (raw homa.AddressRaw) {
	copy(raw[:], a.name)
	return
}

func (a *Address) String() string { return a.name }

// Driver tunnels packets through one WebSocket connection. A reader
// goroutine moves incoming messages onto a buffered queue drained by
// ReceivePackets; overflow is dropped, as a lossy network would.
type Driver struct {
	conn    *websocket.Conn
	local   *Address
	peer    *Address
	recv    chan *homa.Packet
	pool    chan *homa.Packet
	stats   homa.StatsCollector
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

var _ homa.Driver = &Driver{}

// Dial connects to a WebSocket endpoint, for example
// "ws://127.0.0.1:8080/homa", and returns the client-side driver.
func Dial(url string) (*Driver, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "ws: dial %q", url)
	}
	return NewDriver(conn), nil
}

// Upgrade accepts an incoming WebSocket request and returns the
// server-side driver.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Driver, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewDriver(conn), nil
}

// NewDriver wraps an established WebSocket connection in a driver and
// starts its reader goroutine.
func NewDriver(conn *websocket.Conn) *Driver {
	d := &Driver{
		conn:  conn,
		local: &Address{name: "ws:" + conn.LocalAddr().String()},
		peer:  &Address{name: "ws:" + conn.RemoteAddr().String()},
		recv:  make(chan *homa.Packet, ReceiveQueueCapacity),
		pool:  make(chan *homa.Packet, PacketPoolCapacity),
		done:  make(chan struct{}),
	}
	go d.reader()
	return d
}

// Close closes the connection and stops the reader goroutine.
func (d *Driver) Close() error {
	err := d.conn.Close()
	<-d.done
	return err
}

// SetStatsCollector directs I/O statistics to sc. Call it before the
// driver carries traffic.
func (d *Driver) SetStatsCollector(sc homa.StatsCollector) {
	d.stats = sc
}

func (d *Driver) reader() {
	defer close(d.done)
	for {
		kind, data, err := d.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage || len(data) > PacketPayloadSize {
			continue
		}
		p := d.AllocPacket()
		p.Payload = p.Payload[:len(data)]
		copy(p.Payload, data)
		p.Address = d.peer
		if d.stats != nil {
			d.stats.AddBytesRead(int64(len(data)))
		}
		select {
		case d.recv <- p:
		default:
			d.ReleasePackets([]*homa.Packet{p})
		}
	}
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
		select {
		case p := <-d.recv:
			buf[count] = p
			count++
		default:
			return
		}
	}
	return
}

func (d *Driver) SendPackets(packets []*homa.Packet) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	for _, p := range packets {
		if err := d.conn.WriteMessage(websocket.BinaryMessage, p.Payload); err != nil {
			return
		}
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
	return d.peer, nil
}

func (d *Driver) GetAddressRaw(raw homa.AddressRaw) (homa.Address, error) {
	return d.peer, nil
}

func (d *Driver) MaxPayloadSize() int { return PacketPayloadSize }

func (d *Driver) Bandwidth() int { return 0 }

func (d *Driver) LocalAddress() homa.Address { return d.local }
