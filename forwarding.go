package compressor

import (
	"fmt"
	"net/netip"
)

// ForwardingRule routes traffic arriving on MatchPort to a local
// game-server process.
type ForwardingRule struct {
	MatchPort   uint16         `json:"match_port"`
	Destination netip.AddrPort `json:"destination"`
}

// String returns a human readable form of the rule.
func (r ForwardingRule) String() string {
	return fmt.Sprintf("%d -> %s", r.MatchPort, r.Destination)
}
