package dataplane

import (
	"encoding/binary"

	"github.com/frobware/go-compressor"
)

// Map names the XDP object must define.
const (
	ServicesMap = "services"
	RulesMap    = "fwd_rules"
	ConfigMap   = "cfg"
)

// Encoded sizes of the map keys and values. Ports and addresses are
// in network byte order; counters and indexes in host order.
const (
	ServiceKeySize   = 4
	ServiceValueSize = 4
	RuleKeySize      = 4
	RuleValueSize    = 8
	ConfigKeySize    = 4
	ConfigValueSize  = 20
)

// ServiceKey is the key of the services hash map.
//
//	struct { __be16 port; __u8 proto; __u8 pad; }
type ServiceKey struct {
	Port     uint16
	Protocol compressor.Protocol
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (k ServiceKey) MarshalBinary() ([]byte, error) {
	b := make([]byte, ServiceKeySize)
	binary.BigEndian.PutUint16(b[0:2], k.Port)
	b[2] = uint8(k.Protocol)
	return b, nil
}

// ServiceValue is the value of the services hash map: the entry's
// position in the configured list.
type ServiceValue struct {
	Index uint32
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (v ServiceValue) MarshalBinary() ([]byte, error) {
	b := make([]byte, ServiceValueSize)
	binary.NativeEndian.PutUint32(b, v.Index)
	return b, nil
}

// RuleValue is an element of the fwd_rules array.
//
//	struct { __be16 match_port; __be16 dest_port; __be32 dest_addr; }
type RuleValue struct {
	MatchPort uint16
	DestPort  uint16
	DestAddr  [4]byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (v RuleValue) MarshalBinary() ([]byte, error) {
	b := make([]byte, RuleValueSize)
	binary.BigEndian.PutUint16(b[0:2], v.MatchPort)
	binary.BigEndian.PutUint16(b[2:4], v.DestPort)
	copy(b[4:8], v.DestAddr[:])
	return b, nil
}

// ConfigValue is the single element of the cfg array.
//
//	struct {
//		__u32 ifindex;
//		__be16 hw[3];
//		__u16 pad;
//		__u32 num_services;
//		__u32 num_rules;
//	}
type ConfigValue struct {
	Ifindex     uint32
	MACWords    [3]uint16
	NumServices uint32
	NumRules    uint32
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (v ConfigValue) MarshalBinary() ([]byte, error) {
	b := make([]byte, ConfigValueSize)
	binary.NativeEndian.PutUint32(b[0:4], v.Ifindex)
	for i, w := range v.MACWords {
		binary.BigEndian.PutUint16(b[4+2*i:6+2*i], w)
	}
	binary.NativeEndian.PutUint32(b[12:16], v.NumServices)
	binary.NativeEndian.PutUint32(b[16:20], v.NumRules)
	return b, nil
}

// NewServiceKey returns the map key for s.
func NewServiceKey(s *compressor.ServiceDefinition) ServiceKey {
	return ServiceKey{Port: s.Port, Protocol: s.Protocol}
}

// NewRuleValue returns the array element for r.
func NewRuleValue(r *compressor.ForwardingRule) RuleValue {
	return RuleValue{
		MatchPort: r.MatchPort,
		DestPort:  r.Destination.Port(),
		DestAddr:  r.Destination.Addr().As4(),
	}
}

// NewConfigValue returns the cfg element describing the attached
// interface and the number of populated entries.
func NewConfigValue(id *compressor.Identity, numServices, numRules int) ConfigValue {
	return ConfigValue{
		Ifindex:     uint32(id.Index),
		MACWords:    id.MACWords,
		NumServices: uint32(numServices),
		NumRules:    uint32(numRules),
	}
}
