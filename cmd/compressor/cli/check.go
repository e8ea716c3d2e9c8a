package cli

import (
	"fmt"

	"github.com/frobware/go-compressor/bootstrap"
	"github.com/frobware/go-compressor/logging"
)

// CheckCmd loads the config and prints the rule sets the dataplane
// would receive. It neither touches resource limits nor attaches.
type CheckCmd struct {
	OutputFlags
}

// Run executes the check command.
func (c *CheckCmd) Run(cli *CLI) error {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := cli.LoggerFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	rs, err := bootstrap.BuildRules(cfg, logging.Component(logger, "bootstrap"))
	if err != nil {
		return err
	}
	defer rs.Release()

	report := newRuleReport(cfg.Path, rs, cfg.Undecoded)

	var output string
	switch c.Output {
	case "json":
		output, err = formatJSON(report)
		if err != nil {
			return err
		}
	default:
		output = formatRuleReportTable(report)
	}

	_, err = fmt.Fprint(cli.out(), output)
	return err
}
