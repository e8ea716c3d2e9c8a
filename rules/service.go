// Package rules turns configuration entries into the descriptors the
// dataplane consumes.
//
// Both parsers are pure and total: an entry that is not a
// recognisable service or forwarding rule yields nil, never an error,
// so one bad entry cannot stop the rest of the configuration from
// loading.
package rules

import (
	"strconv"
	"strings"

	"github.com/frobware/go-compressor"
)

// Capacity limits for the two rule sets. They match the sizes of the
// dataplane's services and fwd_rules maps.
const (
	MaxServices        = 2*65535 - 1
	MaxForwardingRules = 254
)

// ParseService parses "<name>/<port>".
//
// name is a lowercase token. "tcp" and "udp" select that transport;
// any other name labels a game service and implies UDP. port is a
// decimal in 1..65535. Returns nil if spec is not of that form.
func ParseService(spec string) *compressor.ServiceDefinition {
	name, portStr, ok := strings.Cut(strings.TrimSpace(spec), "/")
	if !ok || !validName(name) {
		return nil
	}

	port, ok := parsePort(portStr)
	if !ok {
		return nil
	}

	proto, ok := compressor.ParseProtocol(name)
	if !ok {
		proto = compressor.ProtocolUDP
	}

	return &compressor.ServiceDefinition{
		Name:     name,
		Protocol: proto,
		Port:     port,
	}
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case (c == '-' || c == '_') && i > 0:
		default:
			return false
		}
	}
	return true
}

// parsePort accepts a plain decimal port number in 1..65535.
func parsePort(s string) (uint16, bool) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint16(n), true
}
