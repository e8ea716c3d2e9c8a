package rules

import (
	"net/netip"

	"github.com/frobware/go-compressor"
)

// Keys of a forwarding group.
const (
	KeyMatch = "match"
	KeyDest  = "dest"
)

// ParseForwardingRule parses one forwarding group:
//
//	{ match = "27015", dest = "127.0.0.1:27016" }
//
// match is a port, written as a decimal string or an integer. dest is
// an IPv4 address and non-zero port. Returns nil when either key is
// missing or malformed. Other keys are ignored.
func ParseForwardingRule(group map[string]any) *compressor.ForwardingRule {
	if group == nil {
		return nil
	}

	match, ok := portValue(group[KeyMatch])
	if !ok {
		return nil
	}

	destStr, ok := group[KeyDest].(string)
	if !ok {
		return nil
	}
	dest, err := netip.ParseAddrPort(destStr)
	if err != nil || !dest.Addr().Is4() || dest.Port() == 0 {
		return nil
	}

	return &compressor.ForwardingRule{
		MatchPort:   match,
		Destination: dest,
	}
}

func portValue(v any) (uint16, bool) {
	switch v := v.(type) {
	case string:
		return parsePort(v)
	case int64:
		if v < 1 || v > 65535 {
			return 0, false
		}
		return uint16(v), true
	case int:
		if v < 1 || v > 65535 {
			return 0, false
		}
		return uint16(v), true
	default:
		return 0, false
	}
}
