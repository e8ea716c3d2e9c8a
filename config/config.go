// Package config loads the compressor configuration file.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded via go:embed from default.toml)
//  2. Overlay with the values in the config file
//  3. CLI flags and environment variables override at runtime (handled by CLI layer)
//
// Unlike the logging and dataplane sections, the file itself is not
// optional: the interface name and the rule lists only exist there, so
// a missing file is an error.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/frobware/go-compressor"
)

//go:embed default.toml
var defaultConfigTOML string

const (
	// DefaultConfigPath is the well-known path of the config file.
	DefaultConfigPath = "/etc/compressor/compressor.toml"

	// KeyInterface names the mandatory interface key.
	KeyInterface = "interface"
)

// Config is the top-level compressor configuration.
type Config struct {
	// Interface is the network interface the dataplane attaches to.
	Interface string `toml:"interface"`

	// Services holds the raw service entries. Entries are kept
	// untyped so a single bad entry is skipped by the rule parser
	// instead of failing the whole decode.
	Services []any `toml:"services"`

	// Forwarding holds the raw forwarding groups, normally written
	// as [[forwarding]] tables.
	Forwarding []any `toml:"forwarding"`

	Logging   LoggingConfig   `toml:"logging"`
	Dataplane DataplaneConfig `toml:"dataplane"`

	// Path is the file the configuration was read from.
	Path string `toml:"-"`

	// Undecoded lists keys present in the file that no field
	// consumed, typically typos.
	Undecoded []string `toml:"-"`

	interfaceDefined bool
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is the log spec (e.g., "info" or "info,bootstrap=debug").
	Level string `toml:"level" validate:"omitempty,log_spec"`
	// Format is the output format: "text" or "json".
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
	// Components provides an alternative way to specify per-component levels.
	Components map[string]string `toml:"components"`
}

// ToSpec converts the LoggingConfig to a log spec string.
// If Level is set, it takes precedence. Otherwise, Components are used.
func (c *LoggingConfig) ToSpec() string {
	if c.Level != "" {
		return c.Level
	}

	if len(c.Components) == 0 {
		return ""
	}

	parts := make([]string, 0, len(c.Components)+1)
	parts = append(parts, "info")
	for component, level := range c.Components {
		parts = append(parts, component+"="+level)
	}
	return strings.Join(parts, ",")
}

// DataplaneConfig locates the XDP object and controls how it is
// attached.
type DataplaneConfig struct {
	// Object is the compiled BPF ELF file.
	Object string `toml:"object" validate:"required,abs_path"`
	// Program is the XDP program's name inside Object.
	Program string `toml:"program" validate:"required"`
	// Mode selects the XDP attach mode. Empty lets the kernel choose.
	Mode string `toml:"mode" validate:"omitempty,oneof=generic driver offload"`
	// PinMaps, if set, is a bpffs directory the rule maps are pinned
	// under for inspection while the dataplane runs.
	PinMaps string `toml:"pin_maps" validate:"omitempty,abs_path"`
}

// DefaultConfig returns the default configuration from the embedded
// default.toml.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		// default.toml is embedded at build time; fall back to a
		// minimal config rather than panic.
		return Config{
			Logging: LoggingConfig{Level: "info", Format: "text"},
			Dataplane: DataplaneConfig{
				Object:  "/usr/lib/compressor/compressor_filter.o",
				Program: "xdp_compressor",
			},
		}
	}
	return cfg
}

// Load reads and validates the configuration at path. An empty path
// means DefaultConfigPath.
//
// Errors are *compressor.Error values: KindConfigUnavailable when the
// file cannot be read and KindConfigMalformed when it does not parse or
// a section fails validation. The interface key is checked separately
// by Interface so callers can report it as its own failure.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, compressor.Errorf(compressor.KindConfigUnavailable, "read config file: %w", err)
	}

	return Parse(path, string(data))
}

// Parse decodes data, read from path, over the defaults.
func Parse(path, data string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Path = path

	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, compressor.Errorf(compressor.KindConfigMalformed, "parse config file %s: %w", path, err)
	}

	cfg.interfaceDefined = md.IsDefined(KeyInterface)
	for _, key := range md.Undecoded() {
		cfg.Undecoded = append(cfg.Undecoded, key.String())
	}

	if err := cfg.Validate(); err != nil {
		return nil, compressor.Errorf(compressor.KindConfigMalformed, "invalid config file %s: %w", path, err)
	}

	return &cfg, nil
}

// InterfaceName returns the configured interface name, or a
// KindInterfaceKeyMissing error when the key is absent or empty.
func (c *Config) InterfaceName() (string, error) {
	name := strings.TrimSpace(c.Interface)
	if !c.interfaceDefined || name == "" {
		return "", compressor.Errorf(compressor.KindInterfaceKeyMissing, "no %q key defined in configuration file %s", KeyInterface, c.Path)
	}
	return name, nil
}

// String summarises the config for logging.
func (c *Config) String() string {
	return fmt.Sprintf("path=%s interface=%q services=%d forwarding=%d", c.Path, c.Interface, len(c.Services), len(c.Forwarding))
}
