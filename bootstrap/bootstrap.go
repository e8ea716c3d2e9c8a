// Package bootstrap runs the compressor startup sequence: prepare
// resources, load configuration, build the rule sets, resolve the
// interface and attach the dataplane.
//
// Every step either advances the state or aborts the whole sequence
// with a single *compressor.Error. Only the caller decides how to exit.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cilium/ebpf/rlimit"

	"github.com/frobware/go-compressor"
	"github.com/frobware/go-compressor/config"
	"github.com/frobware/go-compressor/dataplane"
	"github.com/frobware/go-compressor/logging"
	"github.com/frobware/go-compressor/netiface"
	"github.com/frobware/go-compressor/ruleset"
)

// Resolver resolves an interface name to its identity.
type Resolver interface {
	Resolve(name string) (*compressor.Identity, error)
}

// Attacher hands the rule sets and identity to the dataplane. The sets
// are lent for the duration of the call. The returned io.Closer
// detaches the dataplane.
type Attacher interface {
	Attach(ctx context.Context, services *ruleset.Set[*compressor.ServiceDefinition], rules *ruleset.Set[*compressor.ForwardingRule], id *compressor.Identity) (io.Closer, error)
}

// AttacherFunc adapts a function to Attacher.
type AttacherFunc func(ctx context.Context, services *ruleset.Set[*compressor.ServiceDefinition], rules *ruleset.Set[*compressor.ForwardingRule], id *compressor.Identity) (io.Closer, error)

// Attach calls f.
func (f AttacherFunc) Attach(ctx context.Context, services *ruleset.Set[*compressor.ServiceDefinition], rules *ruleset.Set[*compressor.ForwardingRule], id *compressor.Identity) (io.Closer, error) {
	return f(ctx, services, rules, id)
}

// DataplaneAttacher returns an Attacher backed by a dataplane.Loader
// configured from cfg.
func DataplaneAttacher(cfg config.DataplaneConfig, logger *slog.Logger) (Attacher, error) {
	mode, err := dataplane.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	loader := dataplane.New(
		dataplane.WithLogger(logger),
		dataplane.WithObject(cfg.Object, cfg.Program),
		dataplane.WithMode(mode),
		dataplane.WithPinDir(cfg.PinMaps),
	)
	return AttacherFunc(func(ctx context.Context, services *ruleset.Set[*compressor.ServiceDefinition], rules *ruleset.Set[*compressor.ForwardingRule], id *compressor.Identity) (io.Closer, error) {
		h, err := loader.Attach(ctx, services, rules, id)
		if err != nil {
			// Returning h here would give a non-nil io.Closer
			// holding a nil *Handle.
			return nil, err
		}
		return h, nil
	}), nil
}

// Bootstrapper runs the startup sequence once.
type Bootstrapper struct {
	logger        *slog.Logger
	configPath    string
	removeMemlock func() error
	resolver      Resolver
	attacher      Attacher
	logOpts       *logging.Options
	state         State
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithLogger sets the logger used until the configuration is loaded,
// and afterwards too unless WithConfigLogging is given.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bootstrapper) {
		b.logger = logger
	}
}

// WithConfigLogging rebuilds the logger from opts once the
// configuration is loaded, with the [logging] section supplying the
// config spec and the format.
func WithConfigLogging(opts logging.Options) Option {
	return func(b *Bootstrapper) {
		b.logOpts = &opts
	}
}

// WithConfigPath sets the configuration file path.
func WithConfigPath(path string) Option {
	return func(b *Bootstrapper) {
		b.configPath = path
	}
}

// WithMemlock replaces rlimit.RemoveMemlock.
func WithMemlock(fn func() error) Option {
	return func(b *Bootstrapper) {
		b.removeMemlock = fn
	}
}

// WithResolver replaces the netlink/sysfs interface resolver.
func WithResolver(r Resolver) Option {
	return func(b *Bootstrapper) {
		b.resolver = r
	}
}

// WithAttacher replaces the dataplane loader built from the
// [dataplane] section.
func WithAttacher(a Attacher) Option {
	return func(b *Bootstrapper) {
		b.attacher = a
	}
}

// New creates a Bootstrapper in StateStart.
func New(opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		logger:        logging.Discard(),
		configPath:    config.DefaultConfigPath,
		removeMemlock: rlimit.RemoveMemlock,
		state:         StateStart,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state.
func (b *Bootstrapper) State() State {
	return b.state
}

func (b *Bootstrapper) log() *slog.Logger {
	return logging.Component(b.logger, "bootstrap")
}

func (b *Bootstrapper) enter(s State) {
	b.log().Debug("state transition", "from", b.state.String(), "to", s.String())
	b.state = s
}

// Start runs the sequence from StateStart to StateRunning. On success
// the returned Session owns the attachment. On failure the state is
// StateAborted and err is a *compressor.Error.
func (b *Bootstrapper) Start(ctx context.Context) (_ *Session, err error) {
	switch {
	case b.state.Terminal():
		return nil, fmt.Errorf("bootstrap already run (state %s)", b.state)
	case b.state != StateStart:
		return nil, fmt.Errorf("bootstrap in progress (state %s)", b.state)
	}

	defer func() {
		if err != nil {
			b.log().Debug("bootstrap aborted", "state", b.state.String(), "error", err)
			b.state = StateAborted
		}
	}()

	if err := b.removeMemlock(); err != nil {
		return nil, &compressor.Error{Kind: compressor.KindResourceLimitDenied, Err: fmt.Errorf("remove memlock limit: %w", err)}
	}
	b.enter(StateResourcesPrepared)

	cfg, err := config.Load(b.configPath)
	if err != nil {
		return nil, tag(compressor.KindConfigUnavailable, err)
	}
	if b.logOpts != nil {
		if err := b.reconfigureLogger(cfg.Logging); err != nil {
			return nil, err
		}
	}
	for _, key := range cfg.Undecoded {
		b.log().Warn("ignoring unknown configuration key", "key", key, "file", cfg.Path)
	}
	b.enter(StateConfigLoaded)

	rs, err := BuildRules(cfg, b.log())
	if err != nil {
		return nil, tag(compressor.KindConfigMalformed, err)
	}
	defer rs.Release()
	b.log().Info("built rule sets",
		"interface", rs.Interface,
		"services", rs.Services.Len(),
		"forwarding_rules", rs.Forwarding.Len(),
		"skipped", rs.Skipped)
	b.enter(StateRulesBuilt)

	resolver := b.resolver
	if resolver == nil {
		resolver = netiface.New(netiface.WithLogger(b.logger))
	}
	id, err := resolver.Resolve(rs.Interface)
	if err != nil {
		return nil, tag(compressor.KindInterfaceNotFound, err)
	}
	b.log().Info("resolved interface", "interface", id.Name, "ifindex", id.Index, "hwaddr", id.HardwareAddr.String())
	b.enter(StateIdentityResolved)

	attacher := b.attacher
	if attacher == nil {
		attacher, err = DataplaneAttacher(cfg.Dataplane, b.logger)
		if err != nil {
			return nil, &compressor.Error{Kind: compressor.KindConfigMalformed, Err: err}
		}
	}
	closer, err := attacher.Attach(ctx, rs.Services, rs.Forwarding, id)
	if err != nil {
		return nil, &compressor.Error{
			Kind:   compressor.KindAttachmentFailed,
			Status: dataplane.Status(err),
			Err:    err,
		}
	}
	b.enter(StateAttached)

	numServices, numRules := rs.Release()
	b.log().Debug("released rule sets", "services", numServices, "forwarding_rules", numRules)
	b.enter(StateRunning)

	return &Session{
		Identity:        id,
		Services:        numServices,
		ForwardingRules: numRules,
		logger:          b.log(),
		closer:          closer,
	}, nil
}

func (b *Bootstrapper) reconfigureLogger(lc config.LoggingConfig) error {
	opts := *b.logOpts
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return &compressor.Error{Kind: compressor.KindConfigMalformed, Err: err}
	}
	opts.ConfigSpec = lc.ToSpec()
	opts.Format = format

	logger, err := logging.New(opts)
	if err != nil {
		return &compressor.Error{Kind: compressor.KindConfigMalformed, Err: err}
	}
	b.logger = logger
	return nil
}

// tag returns err unchanged if it already carries a kind, otherwise
// wraps it as kind.
func tag(kind compressor.Kind, err error) error {
	var e *compressor.Error
	if errors.As(err, &e) {
		return err
	}
	return &compressor.Error{Kind: kind, Err: err}
}

// Session is a running dataplane attachment.
type Session struct {
	Identity        *compressor.Identity
	Services        int
	ForwardingRules int

	logger *slog.Logger
	closer io.Closer
	closed bool
}

// Wait blocks until ctx is done, then detaches the dataplane. The
// dataplane does all packet work; nothing here polls.
func (s *Session) Wait(ctx context.Context) error {
	s.logger.Info("dataplane running", "interface", s.Identity.Name,
		"services", s.Services, "forwarding_rules", s.ForwardingRules)
	<-ctx.Done()
	s.logger.Info("shutting down", "reason", context.Cause(ctx))
	return s.Close()
}

// Close detaches the dataplane. Later calls do nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("detach dataplane: %w", err)
	}
	return nil
}
