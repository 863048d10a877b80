package udp

import (
	"encoding/binary"
	"net"

	"github.com/linkdata/homa"
)

// Address wraps a UDP endpoint. Pointers are interned per Driver and
// stable for its lifetime.
type Address struct {
	udp net.UDPAddr
}

// UDPAddr returns a copy of the wrapped endpoint.
func (a *Address) UDPAddr() net.UDPAddr { return a.udp }

func (a *Address) ToRaw() (raw homa.AddressRaw) {
	copy(raw[:16], a.udp.IP.To16())
	binary.BigEndian.PutUint16(raw[16:18], uint16(a.udp.Port))
	return
}

func (a *Address) String() string {
	return a.udp.String()
}

func rawToUDPAddr(raw homa.AddressRaw) net.UDPAddr {
	ip := make(net.IP, 16)
	copy(ip, raw[:16])
	return net.UDPAddr{IP: ip, Port: int(binary.BigEndian.Uint16(raw[16:18]))}
}
