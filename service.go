// Package compressor holds the domain types shared by the control
// plane: the rule descriptors handed to the XDP dataplane, the
// identity snapshot of the attached interface, and the tagged error
// returned by the bootstrap pipeline.
package compressor

import "fmt"

// Protocol is the transport a service is matched on.
type Protocol uint8

// Values match the IP protocol numbers the dataplane compares against.
const (
	ProtocolUnspecified Protocol = 0
	ProtocolTCP         Protocol = 6
	ProtocolUDP         Protocol = 17
)

// String returns the string representation of the protocol.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return "unspecified"
	}
}

// MarshalText implements encoding.TextMarshaler so Protocol
// serialises as its name in JSON.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, ok := ParseProtocol(string(text))
	if !ok {
		return fmt.Errorf("invalid protocol: %q", string(text))
	}
	*p = parsed
	return nil
}

// ParseProtocol parses "tcp" or "udp".
func ParseProtocol(s string) (Protocol, bool) {
	switch s {
	case "tcp":
		return ProtocolTCP, true
	case "udp":
		return ProtocolUDP, true
	default:
		return ProtocolUnspecified, false
	}
}

// ServiceDefinition is one hosted game service the dataplane must
// recognise in traffic.
type ServiceDefinition struct {
	// Name is the label from the configuration, e.g. "tf2", or the
	// transport name when the entry was written as "udp/27015".
	Name     string   `json:"name"`
	Protocol Protocol `json:"protocol"`
	Port     uint16   `json:"port"`
}

// String returns the definition in its configuration form.
func (s ServiceDefinition) String() string {
	return fmt.Sprintf("%s/%d", s.Name, s.Port)
}
