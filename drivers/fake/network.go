package fake

import (
	"math/rand"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/linkdata/homa"
	"github.com/pkg/errors"
)

// DeliveryQueueCapacity is the number of in-flight packets the network
// buffers before it starts dropping.
var DeliveryQueueCapacity = 1024

// delivery is one packet in flight between two drivers. The payload is
// a private copy; the sender keeps ownership of its own buffer.
type delivery struct {
	destination uint64
	source      *Address
	payload     []byte
	priority    uint8
}

// Network is an in-process packet network connecting Drivers. A single
// delivery goroutine moves packets from senders onto each destination
// driver's receive ring, so ring producers are never concurrent.
type Network struct {
	mu         sync.Mutex
	drivers    map[uint64]*Driver
	addresses  map[uint64]*Address
	deliveries chan delivery
	done       chan struct{}
	nextId     atomix.Uint32
	lossRate   float64 // guarded by mu
	rng        *rand.Rand
	dropped    atomix.Uint32
}

// NewNetwork creates an empty fake network and starts its delivery
// goroutine. Call Close when done with it.
func NewNetwork() *Network {
	n := &Network{
		drivers:    make(map[uint64]*Driver),
		addresses:  make(map[uint64]*Address),
		deliveries: make(chan delivery, DeliveryQueueCapacity),
		done:       make(chan struct{}),
		rng:        rand.New(rand.NewSource(1)),
	}
	go n.run()
	return n
}

// Close stops the delivery goroutine once it has delivered the packets
// already queued.
func (n *Network) Close() {
	close(n.deliveries)
	<-n.done
}

// SetPacketLossRate makes the network drop roughly the given fraction
// of delivered packets. Zero disables loss.
func (n *Network) SetPacketLossRate(rate float64) {
	n.mu.Lock()
	n.lossRate = rate
	n.mu.Unlock()
}

// Dropped returns the number of packets the network has dropped, from
// loss injection, a full delivery queue, unknown destinations and
// overflowing receive rings.
func (n *Network) Dropped() uint32 {
	return n.dropped.Add(0)
}

// getAddress interns the address for an interface number.
func (n *Network) getAddress(id uint64) *Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.addresses[id]
	if !ok {
		a = &Address{id: id}
		n.addresses[id] = a
	}
	return a
}

// register attaches a driver to the network under a fresh address.
func (n *Network) register(d *Driver) *Address {
	id := uint64(n.nextId.Add(1))
	a := n.getAddress(id)
	n.mu.Lock()
	n.drivers[id] = d
	n.mu.Unlock()
	return a
}

// deregister detaches a driver. In-flight packets for it are dropped.
func (n *Network) deregister(d *Driver) {
	n.mu.Lock()
	delete(n.drivers, d.address.id)
	n.mu.Unlock()
}

// send queues one packet for delivery. The payload must be a copy the
// network may keep. Never blocks; drops when the queue is full.
func (n *Network) send(dst uint64, src *Address, payload []byte, priority uint8) error {
	d := delivery{destination: dst, source: src, payload: payload, priority: priority}
	select {
	case n.deliveries <- d:
		return nil
	case <-n.done:
		return errors.New("fake: network closed")
	default:
		n.dropped.Add(1)
		return nil
	}
}

// run is the delivery goroutine: it pops in-flight packets, applies
// loss injection, and pushes survivors onto the destination ring.
func (n *Network) run() {
	defer close(n.done)
	for d := range n.deliveries {
		n.mu.Lock()
		drv := n.drivers[d.destination]
		loss := n.lossRate
		n.mu.Unlock()
		if drv == nil {
			n.dropped.Add(1)
			continue
		}
		if loss > 0 && n.rng.Float64() < loss {
			n.dropped.Add(1)
			continue
		}
		p := drv.AllocPacket()
		p.Payload = p.Payload[:len(d.payload)]
		copy(p.Payload, d.payload)
		p.Address = d.source
		p.Priority = d.priority
		if err := drv.ring.Enqueue(&p); err != nil {
			if iox.IsWouldBlock(err) {
				n.dropped.Add(1)
				drv.ReleasePackets([]*homa.Packet{p})
			}
		}
	}
}
