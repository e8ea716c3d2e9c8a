package cli

import (
	"fmt"

	"github.com/frobware/go-compressor/netiface"
)

// IdentityCmd resolves an interface the way run does and prints the
// result.
type IdentityCmd struct {
	OutputFlags
	Interface string `arg:"" name:"interface" help:"Interface name (e.g. eth0)."`

	// SysfsRoot overrides /sys/class/net.
	SysfsRoot string `name:"sysfs-root" help:"Directory holding per-interface attributes." default:"${default_sysfs_root}" hidden:""`
}

// Run executes the identity command.
func (c *IdentityCmd) Run(cli *CLI) error {
	logger, err := cli.Logger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	r := netiface.New(
		netiface.WithLogger(logger),
		netiface.WithSysfsRoot(c.SysfsRoot),
	)
	id, err := r.Resolve(c.Interface)
	if err != nil {
		return err
	}

	var output string
	switch c.Output {
	case "json":
		output, err = formatJSON(newIdentityView(id))
		if err != nil {
			return err
		}
	default:
		output = formatIdentityTable(id)
	}

	_, err = fmt.Fprint(cli.out(), output)
	return err
}
