package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-compressor/config"
	"github.com/frobware/go-compressor/lock"
	"github.com/frobware/go-compressor/logging"
	"github.com/frobware/go-compressor/netiface"
)

// CLI is the root command structure for compressor.
type CLI struct {
	Config string `name:"config" short:"c" help:"Config file path." default:"${default_config_path}" type:"path"`
	Log    string `name:"log" help:"Log spec (e.g., 'info,bootstrap=debug'). Overrides ${log_env} and the config file."`

	Run      RunCmd      `cmd:"" default:"1" help:"Attach the dataplane and run until signalled (default)."`
	Check    CheckCmd    `cmd:"" help:"Load the config and print the rule sets without attaching."`
	Identity IdentityCmd `cmd:"" help:"Resolve and print an interface's identity."`

	// Stdout receives command output. Nil means os.Stdout.
	Stdout io.Writer `kong:"-"`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("compressor"),
		kong.Description("XDP game-server packet dataplane bootstrap."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
			"default_sysfs_root":  netiface.DefaultSysfsRoot,
			"default_lock_path":   lock.DefaultPath,
			"log_env":             logging.EnvVar,
		},
	}
}

// LoadConfig loads the configuration from the config file path.
func (c *CLI) LoadConfig() (*config.Config, error) {
	return config.Load(c.Config)
}

// LogOptions returns the logging options given on the command line
// and in the environment. The config spec and format are filled in
// once the file is read.
func (c *CLI) LogOptions() logging.Options {
	return logging.Options{
		CLISpec: c.Log,
		EnvSpec: os.Getenv(logging.EnvVar),
		Output:  os.Stderr,
	}
}

// Logger creates a logger from the command line alone.
func (c *CLI) Logger() (*slog.Logger, error) {
	return logging.New(c.LogOptions())
}

// LoggerFromConfig creates a logger using config file settings, with
// --log taking precedence.
func (c *CLI) LoggerFromConfig(cfg *config.Config) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	opts := c.LogOptions()
	opts.ConfigSpec = cfg.Logging.ToSpec()
	opts.Format = format
	return logging.New(opts)
}

func (c *CLI) out() io.Writer {
	if c.Stdout == nil {
		return os.Stdout
	}
	return c.Stdout
}
