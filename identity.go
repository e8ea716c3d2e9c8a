package compressor

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Identity is the resolved network attachment point. It is built
// once per run and not modified afterwards.
type Identity struct {
	Name         string
	Index        int
	HardwareAddr net.HardwareAddr
	// MACWords holds the hardware address as three 16-bit words in
	// network byte order, the form the dataplane rewrites Ethernet
	// headers with.
	MACWords [3]uint16
}

// NewIdentity builds an Identity from an ifindex and a six octet
// hardware address.
func NewIdentity(name string, index int, hwaddr net.HardwareAddr) (*Identity, error) {
	if len(hwaddr) != 6 {
		return nil, fmt.Errorf("hardware address for %s has %d octets, want 6", name, len(hwaddr))
	}
	addr := make(net.HardwareAddr, 6)
	copy(addr, hwaddr)

	id := &Identity{
		Name:         name,
		Index:        index,
		HardwareAddr: addr,
	}
	for i := range id.MACWords {
		id.MACWords[i] = binary.BigEndian.Uint16(addr[2*i:])
	}
	return id, nil
}

// String returns a human readable form of the identity.
func (id *Identity) String() string {
	return fmt.Sprintf("%s (ifindex %d, hwaddr %s)", id.Name, id.Index, id.HardwareAddr)
}
