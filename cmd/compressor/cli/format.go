package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frobware/go-compressor"
	"github.com/frobware/go-compressor/bootstrap"
)

// OutputFlags provides output formatting flags.
type OutputFlags struct {
	Output string `short:"o" help:"Output format: table or json." enum:"table,json" default:"table"`
}

// ruleReport is the check command's view of the translated config.
type ruleReport struct {
	Config          string                         `json:"config"`
	Interface       string                         `json:"interface"`
	Services        []*compressor.ServiceDefinition `json:"services"`
	ForwardingRules []*compressor.ForwardingRule    `json:"forwarding_rules"`
	Skipped         int                            `json:"skipped"`
	Undecoded       []string                       `json:"undecoded_keys,omitempty"`
}

func newRuleReport(path string, rs *bootstrap.Rules, undecoded []string) ruleReport {
	return ruleReport{
		Config:          path,
		Interface:       rs.Interface,
		Services:        rs.Services.Slice(),
		ForwardingRules: rs.Forwarding.Slice(),
		Skipped:         rs.Skipped,
		Undecoded:       undecoded,
	}
}

func formatJSON(v any) (string, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(output) + "\n", nil
}

func formatRuleReportTable(r ruleReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "config:     %s\n", r.Config)
	fmt.Fprintf(&b, "interface:  %s\n", r.Interface)

	fmt.Fprintf(&b, "services:   %d\n", len(r.Services))
	for i, s := range r.Services {
		fmt.Fprintf(&b, "  %-4d %-24s %s\n", i, s, s.Protocol)
	}

	fmt.Fprintf(&b, "forwarding: %d\n", len(r.ForwardingRules))
	for i, f := range r.ForwardingRules {
		fmt.Fprintf(&b, "  %-4d %s\n", i, f)
	}

	if r.Skipped > 0 {
		fmt.Fprintf(&b, "skipped:    %d\n", r.Skipped)
	}
	for _, key := range r.Undecoded {
		fmt.Fprintf(&b, "unknown key: %s\n", key)
	}
	return b.String()
}

// identityView renders the hardware address as text rather than
// base64.
type identityView struct {
	Name         string    `json:"name"`
	Index        int       `json:"ifindex"`
	HardwareAddr string    `json:"hwaddr"`
	MACWords     [3]uint16 `json:"mac_words"`
}

func newIdentityView(id *compressor.Identity) identityView {
	return identityView{
		Name:         id.Name,
		Index:        id.Index,
		HardwareAddr: id.HardwareAddr.String(),
		MACWords:     id.MACWords,
	}
}

func formatIdentityTable(id *compressor.Identity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "name:       %s\n", id.Name)
	fmt.Fprintf(&b, "ifindex:    %d\n", id.Index)
	fmt.Fprintf(&b, "hwaddr:     %s\n", id.HardwareAddr)
	fmt.Fprintf(&b, "mac words:  0x%04x 0x%04x 0x%04x\n", id.MACWords[0], id.MACWords[1], id.MACWords[2])
	return b.String()
}
